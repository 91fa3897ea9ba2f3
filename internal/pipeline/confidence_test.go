package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"prepbrain/internal/models"
)

func TestEstimateDraftConfidence(t *testing.T) {
	// Bare text gets only the base score.
	assert.InDelta(t, 0.35, EstimateDraftConfidence("some notes about nothing"), 0.0001)

	// Ingredient and method keywords each add a bump.
	withKeywords := "Ingredients: tomatoes.\nMethod: simmer."
	assert.InDelta(t, 0.75, EstimateDraftConfidence(withKeywords), 0.0001)

	// Quantity mentions add another bump.
	withQuantities := "Ingredients: 500 g tomatoes.\nMethod: simmer slowly."
	assert.InDelta(t, 0.9, EstimateDraftConfidence(withQuantities), 0.0001)

	// Long documents cap at 0.9, never above.
	long := withQuantities + strings.Repeat(" filler", 300)
	assert.InDelta(t, 0.9, EstimateDraftConfidence(long), 0.0001)
}

func TestStructuredConfidence(t *testing.T) {
	// Floor lifts a weak pre-enrichment score to 0.45.
	assert.InDelta(t, 0.45, StructuredConfidence(0.2, 1, false, false), 0.0001)

	// Two ingredients, method, and yield stack up.
	assert.InDelta(t, 0.95, StructuredConfidence(0.6, 5, true, true), 0.0001)

	assert.InDelta(t, 0.8, StructuredConfidence(0.45, 2, true, false), 0.0001)
}

func TestSanitizeAllergens(t *testing.T) {
	raw := []interface{}{"milk", "EGGS", "tree nuts", "Milk", "  ", "saffron"}
	got := sanitizeAllergens(raw)
	assert.Equal(t, []string{"Milk", "Eggs", "Tree Nuts", "saffron"}, got)
}

func TestSanitizeIngredientsSkipsAndTruncates(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"item_name_text": "  San Marzano   tomatoes ", "quantity": 2.5, "unit": "kg"},
		map[string]interface{}{"item_name_text": "", "quantity": 1.0},
		map[string]interface{}{"item_name_text": strings.Repeat("x", 300)},
		"not an object",
	}
	got := sanitizeIngredients(raw)
	assert.Len(t, got, 2)
	assert.Equal(t, "San Marzano tomatoes", got[0].ItemNameText)
	assert.Equal(t, "kg", got[0].Unit)
	assert.NotNil(t, got[0].Quantity)
	assert.InDelta(t, 2.5, *got[0].Quantity, 0.0001)
	assert.Len(t, got[1].ItemNameText, 200)
}

func TestSanitizeIngredientsStringQuantity(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"item_name_text": "flour", "quantity": "2.5"},
		map[string]interface{}{"item_name_text": "salt", "quantity": "a pinch"},
	}
	got := sanitizeIngredients(raw)
	assert.Len(t, got, 2)
	assert.NotNil(t, got[0].Quantity)
	assert.InDelta(t, 2.5, *got[0].Quantity, 0.0001)
	assert.Nil(t, got[1].Quantity)
}

func TestMissingRequiredFields(t *testing.T) {
	ingredients := []models.DraftIngredient{{ItemNameText: "flour"}}
	assert.Empty(t, missingRequiredFields("Bread", "Mix and bake.", ingredients))
	assert.Equal(t, []string{"name", "method", "ingredients"}, missingRequiredFields(" ", "", nil))
	assert.Equal(t, []string{"method"}, missingRequiredFields("Bread", "  ", ingredients))
}

func TestNormalizeItemKey(t *testing.T) {
	assert.Equal(t, "tomato", normalizeItemKey("Tomatoes"))
	assert.Equal(t, "san marzano tomato", normalizeItemKey("San-Marzano Tomatoes!"))
	assert.Equal(t, "glass", normalizeItemKey("glasses"))
	assert.Equal(t, "gas", normalizeItemKey("gas"))
}

func TestBestInventoryMatch(t *testing.T) {
	exact := map[string]uint{"whole milk": 1}
	normalized := map[string][]uint{
		"whole milk":  {1},
		"roma tomato": {2},
		"heavy cream": {3, 4},
	}

	// Exact lowered-name hit wins.
	got := bestInventoryMatch("Whole Milk", exact, normalized)
	assert.NotNil(t, got)
	assert.Equal(t, uint(1), *got)

	// Singularized key match.
	got = bestInventoryMatch("roma tomatoes", exact, normalized)
	assert.NotNil(t, got)
	assert.Equal(t, uint(2), *got)

	// Substring overlap with a unique candidate.
	got = bestInventoryMatch("tomato", exact, normalized)
	assert.NotNil(t, got)
	assert.Equal(t, uint(2), *got)

	// Ambiguous normalized key yields no link.
	assert.Nil(t, bestInventoryMatch("heavy cream", exact, normalized))
	assert.Nil(t, bestInventoryMatch("", exact, normalized))
}
