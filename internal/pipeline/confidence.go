package pipeline

import (
	"regexp"
	"strconv"
	"strings"

	"prepbrain/internal/models"
)

// allergenAliases maps free-form allergen mentions to the canonical catalog
// names used by the allergens table.
var allergenAliases = map[string]string{
	"milk":      "Milk",
	"egg":       "Eggs",
	"eggs":      "Eggs",
	"fish":      "Fish",
	"shellfish": "Shellfish",
	"tree nut":  "Tree Nuts",
	"tree nuts": "Tree Nuts",
	"nut":       "Tree Nuts",
	"nuts":      "Tree Nuts",
	"peanut":    "Peanuts",
	"peanuts":   "Peanuts",
	"wheat":     "Wheat",
	"soy":       "Soybeans",
	"soybean":   "Soybeans",
	"soybeans":  "Soybeans",
	"sesame":    "Sesame",
}

var quantityMentionRe = regexp.MustCompile(`\b\d+(?:\.\d+)?\s?(g|kg|oz|lb|ml|l|cup|cups|tbsp|tsp|qt|gal)\b`)

var ingredientKeywords = []string{"ingredient", "ingredients", "mise", "prep"}
var methodKeywords = []string{"method", "procedure", "steps", "instructions"}

// EstimateDraftConfidence scores raw source text on cheap structural
// signals before any model call. The result is a starting point only;
// enrichment replaces it with a structured score.
func EstimateDraftConfidence(text string) float64 {
	base := 0.35
	lowered := strings.ToLower(text)

	if containsAnyToken(lowered, ingredientKeywords) {
		base += 0.2
	}
	if containsAnyToken(lowered, methodKeywords) {
		base += 0.2
	}
	if quantityMentionRe.MatchString(lowered) {
		base += 0.15
	}
	if len(text) >= 1200 {
		base += 0.1
	}

	return clamp(base, 0.05, 0.9)
}

// StructuredConfidence rescores a draft after enrichment produced a
// structured payload. It never drops below the pre-enrichment score.
func StructuredConfidence(before float64, ingredientCount int, hasMethod, hasYield bool) float64 {
	score := before
	if score < 0.45 {
		score = 0.45
	}
	if ingredientCount >= 2 {
		score += 0.2
	}
	if ingredientCount >= 5 {
		score += 0.1
	}
	if hasMethod {
		score += 0.15
	}
	if hasYield {
		score += 0.1
	}
	return clamp(score, 0.05, 0.95)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func containsAnyToken(haystack string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(haystack, token) {
			return true
		}
	}
	return false
}

// safeFloat coerces a loosely typed JSON value to a float pointer. Model
// responses mix numbers, numeric strings, and null freely.
func safeFloat(v interface{}) *float64 {
	switch value := v.(type) {
	case float64:
		return &value
	case float32:
		f := float64(value)
		return &f
	case int:
		f := float64(value)
		return &f
	case int64:
		f := float64(value)
		return &f
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func safeString(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case nil:
		return ""
	}
	return ""
}

func sanitizeIngredients(raw []interface{}) []models.DraftIngredient {
	cleaned := make([]models.DraftIngredient, 0, len(raw))
	for _, entry := range raw {
		fields, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		itemName := collapseSpaces(safeString(fields["item_name_text"]))
		if itemName == "" {
			continue
		}
		cleaned = append(cleaned, models.DraftIngredient{
			ItemNameText: truncate(itemName, 200),
			Quantity:     safeFloat(fields["quantity"]),
			Unit:         truncate(collapseSpaces(safeString(fields["unit"])), 50),
			Notes:        truncate(collapseSpaces(safeString(fields["notes"])), 500),
		})
	}
	return cleaned
}

func sanitizeAllergens(raw []interface{}) []string {
	normalized := make([]string, 0, len(raw))
	seen := map[string]bool{}
	for _, entry := range raw {
		original := safeString(entry)
		key := collapseSpaces(strings.ToLower(strings.TrimSpace(original)))
		if key == "" {
			continue
		}
		resolved, ok := allergenAliases[key]
		if !ok {
			resolved = collapseSpaces(original)
		}
		if resolved == "" {
			continue
		}
		dedupeKey := strings.ToLower(resolved)
		if seen[dedupeKey] {
			continue
		}
		seen[dedupeKey] = true
		normalized = append(normalized, resolved)
	}
	return normalized
}

func missingRequiredFields(name, method string, ingredients []models.DraftIngredient) []string {
	var missing []string
	if strings.TrimSpace(name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(method) == "" {
		missing = append(missing, "method")
	}
	if len(ingredients) < 1 {
		missing = append(missing, "ingredients")
	}
	return missing
}
