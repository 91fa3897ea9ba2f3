package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/llm"
	"prepbrain/internal/metrics"
	"prepbrain/internal/models"
)

const enrichPromptTemplate = `Extract structured recipe data from the source text.

Rules:
- Return JSON only (no markdown).
- Do not invent missing values; use null or [] when unknown.
- Keep ingredient names exactly as written when possible.
- Never invent quantities or method steps that are not explicit in the text.

SOURCE TEXT:
%s

JSON schema:
{
  "name": "string",
  "yield_amount": "number|null",
  "yield_unit": "string|null",
  "station": "string|null",
  "category": "string|null",
  "method": "string|null",
  "ingredients": [{"item_name_text":"string","quantity":"number|null","unit":"string|null","notes":"string|null"}],
  "allergens": ["string"]
}`

type enrichedPayload struct {
	Name        interface{}   `json:"name"`
	YieldAmount interface{}   `json:"yield_amount"`
	YieldUnit   interface{}   `json:"yield_unit"`
	Station     interface{}   `json:"station"`
	Category    interface{}   `json:"category"`
	Method      interface{}   `json:"method"`
	Ingredients []interface{} `json:"ingredients"`
	Allergens   []interface{} `json:"allergens"`
}

// EnrichDrafts turns pending recipe-ops drafts into structured payloads via
// the language model. Drafts outside the recipe-ops tier, below the minimum
// confidence, or with empty text are rejected instead.
func (p *Pipeline) EnrichDrafts(ctx context.Context) (enriched, rejected int) {
	sourceIndex := p.buildSourceIndex()

	var drafts []models.Draft
	err := p.db.Where("status = ?", string(models.DraftStatusPending)).
		Order("id asc").
		Limit(p.cfg.DraftScanLimit).
		Find(&drafts).Error
	if err != nil {
		p.logger.Error("draft enrichment failed", zap.Error(err))
		return 0, 0
	}

	for i := range drafts {
		draft := &drafts[i]
		tier := p.resolveDraftTier(draft, sourceIndex)

		confidenceBefore := draft.Confidence
		if confidenceBefore > p.cfg.EnrichAttemptBandMax {
			confidenceBefore = p.cfg.EnrichAttemptBandMax
			p.updateDraft(draft.ID, map[string]interface{}{"confidence": confidenceBefore})
		}

		if tier != knowledge.TierRecipeOps {
			reason := "Knowledge boundary enforced: only restaurant recipe sources are auto-enriched."
			p.rejectDraft(draft, tier, reason, "enrich_draft_rejected", draft.Confidence)
			rejected++
			continue
		}
		if confidenceBefore < p.cfg.EnrichMinConfidence {
			reason := fmt.Sprintf("Draft confidence %.2f is below minimum %.2f; human intervention required.",
				confidenceBefore, p.cfg.EnrichMinConfidence)
			p.rejectDraft(draft, tier, reason, "enrich_draft_rejected", confidenceBefore)
			rejected++
			continue
		}
		if strings.TrimSpace(draft.RawText) == "" {
			p.rejectDraft(draft, tier, "Draft has no raw text payload to enrich.", "enrich_draft_rejected", confidenceBefore)
			rejected++
			continue
		}

		confidenceAfter, err := p.enrichDraft(ctx, draft, tier, confidenceBefore)
		if err != nil {
			reason := truncate(fmt.Sprintf("Enrichment failed: %v", err), maxRejectionReasonChars)
			p.rejectDraft(draft, tier, reason, "enrich_draft_rejected", confidenceBefore)
			rejected++
			continue
		}
		enriched++
		metrics.DraftsEnriched.Inc()
		p.LogAction("enrich_draft", "recipe_draft", targetIDFor(draft.ID),
			fmt.Sprintf("Enriched draft '%s'", draft.Name), confidenceBefore, confidenceAfter)
	}

	metrics.DraftsRejected.WithLabelValues("enrich").Add(float64(rejected))
	p.logger.Info("draft enrichment complete",
		zap.Int("enriched", enriched), zap.Int("rejected", rejected))
	return enriched, rejected
}

func (p *Pipeline) enrichDraft(ctx context.Context, draft *models.Draft, tier string, confidenceBefore float64) (float64, error) {
	if p.model == nil {
		return 0, llm.ErrNotConfigured
	}

	response, err := p.model.Complete(ctx, fmt.Sprintf(enrichPromptTemplate, draft.RawText))
	if err != nil {
		return 0, err
	}

	payloadText, ok := llm.ExtractJSON(response)
	if !ok {
		return 0, fmt.Errorf("could not parse JSON object from model response")
	}
	var payload enrichedPayload
	if err := json.Unmarshal([]byte(payloadText), &payload); err != nil {
		return 0, fmt.Errorf("invalid model payload: %w", err)
	}

	ingredients := sanitizeIngredients(payload.Ingredients)
	allergens := sanitizeAllergens(payload.Allergens)
	name := collapseSpaces(safeString(payload.Name))
	if name == "" {
		name = draft.Name
	}
	method := strings.TrimSpace(safeString(payload.Method))

	if missing := missingRequiredFields(name, method, ingredients); len(missing) > 0 {
		return 0, fmt.Errorf("missing required field(s): %s", strings.Join(missing, ", "))
	}

	yieldAmount := safeFloat(payload.YieldAmount)
	hasYield := yieldAmount != nil && *yieldAmount != 0
	confidenceAfter := StructuredConfidence(confidenceBefore, len(ingredients), method != "", hasYield)
	if confidenceAfter < p.cfg.EnrichMinConfidence {
		return 0, fmt.Errorf("post-enrichment confidence %.2f below minimum %.2f",
			confidenceAfter, p.cfg.EnrichMinConfidence)
	}

	ingredientsJSON, err := json.Marshal(ingredients)
	if err != nil {
		return 0, err
	}
	allergensJSON, err := json.Marshal(allergens)
	if err != nil {
		return 0, err
	}

	updates := map[string]interface{}{
		"name":             name,
		"yield_amount":     yieldAmount,
		"yield_unit":       truncate(collapseSpaces(safeString(payload.YieldUnit)), 50),
		"station":          truncate(collapseSpaces(safeString(payload.Station)), 100),
		"category":         truncate(collapseSpaces(safeString(payload.Category)), 100),
		"method":           method,
		"ingredients_json": string(ingredientsJSON),
		"allergens_json":   string(allergensJSON),
		"confidence":       confidenceAfter,
		"knowledge_tier":   tier,
		"status":           string(models.DraftStatusEnriched),
		"rejection_reason": "",
	}
	if err := p.updateDraft(draft.ID, updates); err != nil {
		return 0, err
	}
	draft.Name = name
	draft.Confidence = confidenceAfter
	return confidenceAfter, nil
}

func (p *Pipeline) updateDraft(id uint, updates map[string]interface{}) error {
	err := database.WithRetry(func() error {
		return p.db.Model(&models.Draft{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		p.logger.Error("draft update failed", zap.Uint("draft_id", id), zap.Error(err))
	}
	return err
}

func (p *Pipeline) rejectDraft(draft *models.Draft, tier, reason, logAction string, confidence float64) {
	p.updateDraft(draft.ID, map[string]interface{}{
		"status":           string(models.DraftStatusRejected),
		"rejection_reason": truncate(reason, maxRejectionReasonChars),
		"knowledge_tier":   tier,
	})
	p.LogAction(logAction, "recipe_draft", targetIDFor(draft.ID), reason, confidence, confidence)
}
