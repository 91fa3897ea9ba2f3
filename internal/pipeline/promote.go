package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/metrics"
	"prepbrain/internal/models"
	"prepbrain/internal/units"
)

// PromoteDrafts turns enriched drafts at or above the promotion threshold
// into permanent recipes. Only recipe-ops drafts ever promote.
func (p *Pipeline) PromoteDrafts(ctx context.Context) (promoted, rejected int) {
	sourceIndex := p.buildSourceIndex()

	var drafts []models.Draft
	err := p.db.Where("status = ? AND confidence >= ?",
		string(models.DraftStatusEnriched), p.cfg.AutoPromoteThreshold).
		Order("confidence desc, id asc").
		Limit(p.cfg.DraftScanLimit).
		Find(&drafts).Error
	if err != nil {
		p.logger.Error("draft promotion failed", zap.Error(err))
		return 0, 0
	}

	for i := range drafts {
		draft := &drafts[i]
		tier := p.resolveDraftTier(draft, sourceIndex)
		if tier != knowledge.TierRecipeOps {
			reason := "Knowledge boundary enforced: general knowledge drafts never promote."
			p.rejectDraft(draft, tier, reason, "promote_draft_rejected", draft.Confidence)
			rejected++
			continue
		}

		ingredients, err := draft.GetIngredients()
		if err != nil || len(ingredients) == 0 {
			reason := "Promotion blocked: invalid ingredient payload."
			if err != nil {
				reason = truncate(fmt.Sprintf("Promotion blocked: invalid ingredient payload (%v)", err), maxRejectionReasonChars)
			}
			p.rejectDraft(draft, tier, reason, "promote_draft_rejected", draft.Confidence)
			rejected++
			p.AlertIfRequired(ctx, fmt.Sprintf("critical_promotion_payload_%d", draft.ID),
				fmt.Sprintf("*Review Needed*\nDraft *%s* has an invalid ingredient payload.", draftDisplayName(draft)),
				24*time.Hour)
			continue
		}

		if missing := missingRequiredFields(draft.Name, draft.Method, ingredients); len(missing) > 0 {
			reason := fmt.Sprintf("Promotion blocked: missing required field(s): %s", strings.Join(missing, ", "))
			p.rejectDraft(draft, tier, reason, "promote_draft_rejected", draft.Confidence)
			rejected++
			p.AlertIfRequired(ctx, fmt.Sprintf("critical_missing_fields_%d", draft.ID),
				fmt.Sprintf("*Review Needed*\nDraft *%s* cannot be promoted.\nMissing: %s",
					draftDisplayName(draft), strings.Join(missing, ", ")),
				24*time.Hour)
			continue
		}

		recipe, err := p.createRecipeFromDraft(draft, ingredients)
		if err != nil {
			reason := truncate(fmt.Sprintf("Auto-promotion failed: %v", err), maxRejectionReasonChars)
			p.rejectDraft(draft, tier, reason, "promote_draft_rejected", draft.Confidence)
			rejected++
			continue
		}

		p.setRecipeAllergens(recipe.ID, draft)
		now := time.Now()
		p.setStatus(map[string]interface{}{
			"last_action":               "promote",
			"last_promoted_recipe_id":   recipe.ID,
			"last_promoted_recipe_name": draft.Name,
			"last_promoted_at":          &now,
		})

		p.updateDraft(draft.ID, map[string]interface{}{
			"status":           string(models.DraftStatusPromoted),
			"knowledge_tier":   tier,
			"rejection_reason": "",
		})
		promoted++
		metrics.DraftsPromoted.Inc()
		p.LogAction("promote_draft", "recipe_draft", targetIDFor(draft.ID),
			fmt.Sprintf("Auto-promoted draft '%s'", draft.Name), draft.Confidence, draft.Confidence)
	}

	metrics.DraftsRejected.WithLabelValues("promote").Add(float64(rejected))
	p.logger.Info("draft promotion complete",
		zap.Int("promoted", promoted),
		zap.Int("rejected", rejected),
		zap.Float64("threshold", p.cfg.AutoPromoteThreshold))
	return promoted, rejected
}

func draftDisplayName(draft *models.Draft) string {
	if strings.TrimSpace(draft.Name) == "" {
		return "Unnamed"
	}
	return draft.Name
}

// createRecipeFromDraft inserts the recipe and its ingredient lines in one
// transaction. Ingredient quantities are unit-normalized where possible.
func (p *Pipeline) createRecipeFromDraft(draft *models.Draft, ingredients []models.DraftIngredient) (*models.Recipe, error) {
	normalizer := units.NewNormalizer(nil)
	recipe := models.Recipe{
		Name:        draft.Name,
		YieldAmount: draft.YieldAmount,
		YieldUnit:   draft.YieldUnit,
		Station:     draft.Station,
		Category:    draft.Category,
		Method:      draft.Method,
		IsActive:    true,
	}

	err := database.WithRetry(func() error {
		tx := p.db.Begin()
		if tx.Error != nil {
			return tx.Error
		}
		if err := tx.Create(&recipe).Error; err != nil {
			tx.Rollback()
			return err
		}
		for _, line := range ingredients {
			rec := models.RecipeIngredient{
				RecipeID:        recipe.ID,
				InventoryItemID: line.InventoryItemID,
				ItemNameText:    line.ItemNameText,
				Quantity:        line.Quantity,
				Unit:            line.Unit,
				Notes:           line.Notes,
			}
			if line.Quantity != nil && line.Unit != "" {
				if normalized, err := normalizer.Normalize(*line.Quantity, line.Unit, "", ""); err == nil {
					rec.CanonicalValue = &normalized.CanonicalValue
					rec.CanonicalUnit = normalized.CanonicalUnit
					rec.DisplayOriginal = normalized.DisplayOriginal
					rec.DisplayPretty = normalized.DisplayPretty
				}
			}
			if err := tx.Create(&rec).Error; err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit().Error
	})
	if err != nil {
		return nil, err
	}
	return &recipe, nil
}

// setRecipeAllergens links the promoted recipe to known catalog allergens.
// Unknown allergen names are dropped silently.
func (p *Pipeline) setRecipeAllergens(recipeID uint, draft *models.Draft) {
	names, err := draft.GetAllergens()
	if err != nil || len(names) == 0 {
		return
	}

	var catalog []models.Allergen
	if err := p.db.Find(&catalog).Error; err != nil {
		p.logger.Warn("allergen catalog lookup failed", zap.Error(err))
		return
	}
	idByName := make(map[string]uint, len(catalog))
	for _, allergen := range catalog {
		idByName[strings.ToLower(strings.TrimSpace(allergen.Name))] = allergen.ID
	}

	var links []models.RecipeAllergen
	for _, name := range names {
		if id, ok := idByName[strings.ToLower(name)]; ok {
			links = append(links, models.RecipeAllergen{RecipeID: recipeID, AllergenID: id})
		}
	}
	if len(links) == 0 {
		return
	}

	err = database.WithRetry(func() error {
		if err := p.db.Where("recipe_id = ?", recipeID).Delete(&models.RecipeAllergen{}).Error; err != nil {
			return err
		}
		for i := range links {
			if err := p.db.Create(&links[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("could not set recipe allergens", zap.Uint("recipe_id", recipeID), zap.Error(err))
	}
}
