package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/models"
)

var itemKeyCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeItemKey reduces an item name to a loose matching key: lowercase,
// alphanumeric tokens, crude singularization.
func normalizeItemKey(value string) string {
	lowered := strings.ToLower(value)
	cleaned := strings.TrimSpace(itemKeyCleanRe.ReplaceAllString(lowered, " "))
	tokens := strings.Fields(cleaned)
	singularized := make([]string, 0, len(tokens))
	for _, token := range tokens {
		switch {
		case len(token) > 4 && strings.HasSuffix(token, "es"):
			singularized = append(singularized, token[:len(token)-2])
		case len(token) > 3 && strings.HasSuffix(token, "s"):
			singularized = append(singularized, token[:len(token)-1])
		default:
			singularized = append(singularized, token)
		}
	}
	return strings.Join(singularized, " ")
}

// bestInventoryMatch picks an inventory item for an ingredient name. It
// requires an unambiguous winner; a tie means no link.
func bestInventoryMatch(ingredientName string, exactMap map[string]uint, normalizedMap map[string][]uint) *uint {
	lowered := collapseSpaces(strings.ToLower(strings.TrimSpace(ingredientName)))
	if lowered == "" {
		return nil
	}

	if id, ok := exactMap[lowered]; ok {
		return &id
	}

	normalized := normalizeItemKey(lowered)
	if ids, ok := normalizedMap[normalized]; ok && len(ids) == 1 {
		id := ids[0]
		return &id
	}

	if normalized != "" {
		candidates := map[uint]bool{}
		for key, ids := range normalizedMap {
			if key == normalized || strings.Contains(key, normalized) || strings.Contains(normalized, key) {
				for _, id := range ids {
					candidates[id] = true
				}
			}
		}
		if len(candidates) == 1 {
			for id := range candidates {
				match := id
				return &match
			}
		}
	}

	return nil
}

// ReconcileInventory links unlinked ingredient lines to inventory items,
// refreshes recipe ingredient costs, and fills cost gaps with
// non-authoritative web estimates when research is enabled.
func (p *Pipeline) ReconcileInventory(ctx context.Context) {
	var inventory []models.InventoryItem
	if err := p.db.Select("id, name").Find(&inventory).Error; err != nil {
		p.logger.Error("inventory reconciliation failed", zap.Error(err))
		return
	}

	exactMap := map[string]uint{}
	normalizedMap := map[string][]uint{}
	for _, item := range inventory {
		lowered := collapseSpaces(strings.ToLower(strings.TrimSpace(item.Name)))
		if lowered == "" {
			continue
		}
		exactMap[lowered] = item.ID
		if key := normalizeItemKey(lowered); key != "" {
			normalizedMap[key] = append(normalizedMap[key], item.ID)
		}
	}

	var unlinked []models.RecipeIngredient
	err := p.db.Where("inventory_item_id IS NULL AND item_name_text <> ''").Find(&unlinked).Error
	if err != nil {
		p.logger.Error("inventory reconciliation failed", zap.Error(err))
		return
	}

	linked := 0
	for _, line := range unlinked {
		match := bestInventoryMatch(line.ItemNameText, exactMap, normalizedMap)
		if match == nil {
			continue
		}
		err := database.WithRetry(func() error {
			return p.db.Model(&models.RecipeIngredient{}).
				Where("id = ?", line.ID).
				Update("inventory_item_id", *match).Error
		})
		if err != nil {
			p.logger.Warn("ingredient link failed", zap.Uint("ingredient_id", line.ID), zap.Error(err))
			continue
		}
		linked++
		p.LogAction("reconcile_inventory_link", "recipe_ingredient", targetIDFor(line.ID),
			fmt.Sprintf("Linked '%s' -> inventory item %d", line.ItemNameText, *match), 0, 0)
	}

	var activeRecipeIDs []uint
	rows, err := p.db.Model(&models.Recipe{}).Where("is_active = ?", true).Select("id").Rows()
	if err == nil {
		for rows.Next() {
			var id uint
			if err := rows.Scan(&id); err == nil {
				activeRecipeIDs = append(activeRecipeIDs, id)
			}
		}
		rows.Close()
	}

	estimated := p.webEstimateMissingCosts(ctx)

	for _, recipeID := range activeRecipeIDs {
		if err := p.refreshIngredientCosts(recipeID); err != nil {
			p.logger.Warn("cost refresh failed", zap.Uint("recipe_id", recipeID), zap.Error(err))
		}
	}

	p.LogAction("reconcile_inventory_summary", "", "",
		fmt.Sprintf("Linked %d ingredient(s); refreshed costs for %d active recipe(s); saved %d web price estimate(s).",
			linked, len(activeRecipeIDs), estimated), 0, 0)
}

// refreshIngredientCosts recomputes line costs from linked inventory items.
// Unlinked lines keep whatever cost they already carry.
func (p *Pipeline) refreshIngredientCosts(recipeID uint) error {
	var lines []models.RecipeIngredient
	if err := p.db.Where("recipe_id = ?", recipeID).Find(&lines).Error; err != nil {
		return err
	}
	for _, line := range lines {
		if line.InventoryItemID == nil || line.Quantity == nil {
			continue
		}
		var item models.InventoryItem
		if err := p.db.Where("id = ?", *line.InventoryItemID).First(&item).Error; err != nil {
			continue
		}
		if item.Cost == nil {
			continue
		}
		cost := *line.Quantity * *item.Cost
		err := database.WithRetry(func() error {
			return p.db.Model(&models.RecipeIngredient{}).
				Where("id = ?", line.ID).
				Update("cost", cost).Error
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) hasRecentPriceEstimate(itemName string, window time.Duration) bool {
	var count int
	err := p.db.Model(&models.PriceEstimate{}).
		Where("LOWER(item_name) = LOWER(?) AND retrieved_at >= ?", itemName, time.Now().Add(-window)).
		Count(&count).Error
	return err == nil && count > 0
}

// hasAuthoritativeCost reports whether a real cost exists for the item.
// Authoritative costs always beat web estimates.
func (p *Pipeline) hasAuthoritativeCost(itemName string, inventoryCost *float64) bool {
	if inventoryCost != nil && *inventoryCost > 0 {
		return true
	}
	var item models.InventoryItem
	err := p.db.Where("LOWER(name) = LOWER(?)", itemName).
		Order("updated_at desc").
		First(&item).Error
	if err == nil && item.Cost != nil && *item.Cost > 0 {
		return true
	}
	return false
}

// webEstimateMissingCosts researches prices for ingredients without an
// authoritative cost. Estimates land in price_estimates only.
func (p *Pipeline) webEstimateMissingCosts(ctx context.Context) int {
	if !p.research.Enabled() {
		return 0
	}

	type costRow struct {
		ItemNameText  string
		Unit          string
		InventoryName string
		InventoryCost *float64
	}
	var rowsData []costRow
	err := p.db.Table("recipe_ingredients").
		Select("recipe_ingredients.item_name_text, recipe_ingredients.unit, inventory_items.name AS inventory_name, inventory_items.cost AS inventory_cost").
		Joins("LEFT JOIN inventory_items ON recipe_ingredients.inventory_item_id = inventory_items.id").
		Where("recipe_ingredients.deleted_at IS NULL").
		Scan(&rowsData).Error
	if err != nil {
		p.logger.Warn("cost gap scan failed", zap.Error(err))
		return 0
	}

	estimated := 0
	seen := map[string]bool{}
	for _, row := range rowsData {
		name := strings.TrimSpace(row.InventoryName)
		if name == "" {
			name = strings.TrimSpace(row.ItemNameText)
		}
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		if p.hasAuthoritativeCost(name, row.InventoryCost) {
			continue
		}
		if p.hasRecentPriceEstimate(name, 24*time.Hour) {
			continue
		}

		unit := strings.TrimSpace(row.Unit)
		if unit == "" {
			unit = "unit"
		}
		estimate, err := p.research.ResearchPriceEstimate(ctx, name, unit)
		if err != nil {
			p.LogAction("web_price_estimate_error", "ingredient_name", name,
				fmt.Sprintf("Web research error for '%s': %v", name, err), 0, 0)
			continue
		}
		if estimate == nil {
			p.LogAction("web_price_estimate_skipped", "ingredient_name", name,
				fmt.Sprintf("No conservative price estimate found for '%s'.", name), 0, 0)
			continue
		}

		record := models.PriceEstimate{
			ItemName:      name,
			LowPrice:      estimate.LowPrice,
			HighPrice:     estimate.HighPrice,
			Unit:          estimate.Unit,
			SourceURLs:    models.StringSlice(estimate.SourceURLs),
			KnowledgeTier: models.WebEstimateTier,
			RetrievedAt:   time.Now(),
		}
		err = database.WithRetry(func() error {
			return p.db.Create(&record).Error
		})
		if err != nil {
			p.logger.Warn("could not save price estimate", zap.String("item", name), zap.Error(err))
			continue
		}
		estimated++
		p.LogAction("web_price_estimate_created", "ingredient_name", name,
			fmt.Sprintf("Saved web estimate for '%s': %.2f-%.2f per %s",
				name, estimate.LowPrice, estimate.HighPrice, estimate.Unit), 0, 0)
	}
	return estimated
}
