package pipeline

import (
	"fmt"
	"strings"
	"time"

	"prepbrain/internal/knowledge"
	"prepbrain/internal/models"
)

// ListDrafts returns drafts filtered by status. An empty status lists all.
func (p *Pipeline) ListDrafts(status string, limit int) ([]models.Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	query := p.db.Order("id desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var drafts []models.Draft
	err := query.Find(&drafts).Error
	return drafts, err
}

// GetDraft looks a draft up by id.
func (p *Pipeline) GetDraft(id uint) (*models.Draft, error) {
	var draft models.Draft
	if err := p.db.Where("id = ?", id).First(&draft).Error; err != nil {
		return nil, err
	}
	return &draft, nil
}

// ApproveDraft promotes a draft by operator decision, bypassing the
// confidence threshold. The tier boundary and required fields still apply:
// general knowledge never promotes, and incomplete drafts stay put.
func (p *Pipeline) ApproveDraft(id uint) (*models.Recipe, error) {
	draft, err := p.GetDraft(id)
	if err != nil {
		return nil, err
	}

	tier := knowledge.NormalizeTier(draft.KnowledgeTier)
	if tier != knowledge.TierRecipeOps {
		return nil, fmt.Errorf("general knowledge drafts never promote")
	}

	ingredients, err := draft.GetIngredients()
	if err != nil {
		return nil, fmt.Errorf("invalid ingredients payload: %w", err)
	}
	if missing := missingRequiredFields(draft.Name, draft.Method, ingredients); len(missing) > 0 {
		return nil, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	recipe, err := p.createRecipeFromDraft(draft, ingredients)
	if err != nil {
		return nil, err
	}
	p.setRecipeAllergens(recipe.ID, draft)

	if err := p.updateDraft(draft.ID, map[string]interface{}{
		"status":           string(models.DraftStatusPromoted),
		"rejection_reason": "",
	}); err != nil {
		return nil, err
	}

	now := time.Now()
	p.setStatus(map[string]interface{}{
		"last_action":               "promote",
		"last_promoted_recipe_id":   recipe.ID,
		"last_promoted_recipe_name": draft.Name,
		"last_promoted_at":          &now,
	})
	p.LogAction("approve_draft", "recipe_draft", targetIDFor(draft.ID),
		fmt.Sprintf("Operator approved draft '%s'", draft.Name), draft.Confidence, draft.Confidence)
	return recipe, nil
}

// HoldDraft parks a draft back in pending with a hold note so the next
// cycle re-evaluates it.
func (p *Pipeline) HoldDraft(id uint, reason string) error {
	if _, err := p.GetDraft(id); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "On hold"
	}
	return p.updateDraft(id, map[string]interface{}{
		"status":           string(models.DraftStatusPending),
		"rejection_reason": truncate("hold: "+reason, maxRejectionReasonChars),
	})
}

// DraftEdit carries operator field edits. Nil fields are left untouched.
type DraftEdit struct {
	Name        *string  `json:"name"`
	YieldAmount *float64 `json:"yield_amount"`
	YieldUnit   *string  `json:"yield_unit"`
	Station     *string  `json:"station"`
	Category    *string  `json:"category"`
	Method      *string  `json:"method"`
}

// EditDraft applies operator field edits to a draft that has not promoted.
func (p *Pipeline) EditDraft(id uint, edit DraftEdit) (*models.Draft, error) {
	draft, err := p.GetDraft(id)
	if err != nil {
		return nil, err
	}
	if draft.Status == string(models.DraftStatusPromoted) {
		return nil, fmt.Errorf("promoted drafts are read-only")
	}

	updates := map[string]interface{}{}
	if edit.Name != nil {
		name := collapseSpaces(*edit.Name)
		if name == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		updates["name"] = name
	}
	if edit.YieldAmount != nil {
		updates["yield_amount"] = edit.YieldAmount
	}
	if edit.YieldUnit != nil {
		updates["yield_unit"] = truncate(collapseSpaces(*edit.YieldUnit), 50)
	}
	if edit.Station != nil {
		updates["station"] = truncate(collapseSpaces(*edit.Station), 100)
	}
	if edit.Category != nil {
		updates["category"] = truncate(collapseSpaces(*edit.Category), 100)
	}
	if edit.Method != nil {
		updates["method"] = strings.TrimSpace(*edit.Method)
	}
	if len(updates) == 0 {
		return draft, nil
	}

	if err := p.updateDraft(id, updates); err != nil {
		return nil, err
	}
	p.LogAction("edit_draft", "recipe_draft", targetIDFor(id),
		fmt.Sprintf("Operator edited draft '%s'", draft.Name), draft.Confidence, draft.Confidence)
	return p.GetDraft(id)
}

// AddDraftIngredient appends one ingredient line to a draft.
func (p *Pipeline) AddDraftIngredient(id uint, line models.DraftIngredient) (*models.Draft, error) {
	draft, err := p.GetDraft(id)
	if err != nil {
		return nil, err
	}
	if draft.Status == string(models.DraftStatusPromoted) {
		return nil, fmt.Errorf("promoted drafts are read-only")
	}
	line.ItemNameText = truncate(collapseSpaces(line.ItemNameText), 200)
	if line.ItemNameText == "" {
		return nil, fmt.Errorf("ingredient name is required")
	}
	line.Unit = truncate(collapseSpaces(line.Unit), 50)
	line.Notes = truncate(strings.TrimSpace(line.Notes), 500)

	ingredients, err := draft.GetIngredients()
	if err != nil {
		return nil, fmt.Errorf("invalid ingredients payload: %w", err)
	}
	ingredients = append(ingredients, line)
	if err := draft.SetIngredients(ingredients); err != nil {
		return nil, err
	}

	if err := p.updateDraft(id, map[string]interface{}{"ingredients_json": draft.IngredientsJSON}); err != nil {
		return nil, err
	}
	p.LogAction("edit_draft", "recipe_draft", targetIDFor(id),
		fmt.Sprintf("Operator added ingredient '%s'", line.ItemNameText), draft.Confidence, draft.Confidence)
	return p.GetDraft(id)
}

// RemoveDraftIngredient drops the ingredient line at index.
func (p *Pipeline) RemoveDraftIngredient(id uint, index int) (*models.Draft, error) {
	draft, err := p.GetDraft(id)
	if err != nil {
		return nil, err
	}
	if draft.Status == string(models.DraftStatusPromoted) {
		return nil, fmt.Errorf("promoted drafts are read-only")
	}
	ingredients, err := draft.GetIngredients()
	if err != nil {
		return nil, fmt.Errorf("invalid ingredients payload: %w", err)
	}
	if index < 0 || index >= len(ingredients) {
		return nil, fmt.Errorf("ingredient index %d out of range", index)
	}
	removed := ingredients[index]
	ingredients = append(ingredients[:index], ingredients[index+1:]...)
	if err := draft.SetIngredients(ingredients); err != nil {
		return nil, err
	}

	if err := p.updateDraft(id, map[string]interface{}{"ingredients_json": draft.IngredientsJSON}); err != nil {
		return nil, err
	}
	p.LogAction("edit_draft", "recipe_draft", targetIDFor(id),
		fmt.Sprintf("Operator removed ingredient '%s'", removed.ItemNameText), draft.Confidence, draft.Confidence)
	return p.GetDraft(id)
}

// RejectDraft rejects a draft by operator decision.
func (p *Pipeline) RejectDraft(id uint, reason string) error {
	if _, err := p.GetDraft(id); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "Rejected"
	}
	return p.updateDraft(id, map[string]interface{}{
		"status":           string(models.DraftStatusRejected),
		"rejection_reason": truncate(reason, maxRejectionReasonChars),
	})
}
