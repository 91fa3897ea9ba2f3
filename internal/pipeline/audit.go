package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"prepbrain/internal/knowledge"
	"prepbrain/internal/models"
)

const auditLogWindow = 6 * time.Hour

// AuditSystem logs critical data gaps on active recipes: no ingredients, no
// yield, no method. Each finding is throttled per recipe.
func (p *Pipeline) AuditSystem() {
	type gap struct {
		query  string
		detail string
	}
	gaps := []gap{
		{
			query: `SELECT recipes.id, recipes.name FROM recipes
				LEFT JOIN recipe_ingredients ON recipes.id = recipe_ingredients.recipe_id AND recipe_ingredients.deleted_at IS NULL
				WHERE recipe_ingredients.id IS NULL AND recipes.is_active = 1 AND recipes.deleted_at IS NULL`,
			detail: "Recipe '%s' has no ingredients.",
		},
		{
			query: `SELECT id, name FROM recipes
				WHERE (yield_amount IS NULL OR yield_amount = 0) AND is_active = 1 AND deleted_at IS NULL`,
			detail: "Recipe '%s' is missing yield data.",
		},
		{
			query: `SELECT id, name FROM recipes
				WHERE (method IS NULL OR TRIM(method) = '') AND is_active = 1 AND deleted_at IS NULL`,
			detail: "Recipe '%s' is missing method data.",
		},
	}

	for _, g := range gaps {
		rows, err := p.db.Raw(g.query).Rows()
		if err != nil {
			p.logger.Error("safety audit failed", zap.Error(err))
			return
		}
		type finding struct {
			id   uint
			name string
		}
		var findings []finding
		for rows.Next() {
			var f finding
			if err := rows.Scan(&f.id, &f.name); err == nil {
				findings = append(findings, f)
			}
		}
		rows.Close()

		for _, f := range findings {
			target := targetIDFor(f.id)
			if p.HasRecentLog("safety_audit", "recipe", target, auditLogWindow) {
				continue
			}
			p.LogAction("safety_audit", "recipe", target, fmt.Sprintf(g.detail, f.name), 0, 0)
		}
	}
}

// MaintainTiers re-resolves the tier of live drafts against their source
// metadata so stale or blank tiers never leak into promotion decisions.
func (p *Pipeline) MaintainTiers() int {
	sourceIndex := p.buildSourceIndex()

	var drafts []models.Draft
	err := p.db.Where(
		"status IN (?) OR knowledge_tier IS NULL OR TRIM(knowledge_tier) = ''",
		[]string{string(models.DraftStatusPending), string(models.DraftStatusEnriched)},
	).Find(&drafts).Error
	if err != nil {
		p.logger.Error("tier hygiene failed", zap.Error(err))
		return 0
	}

	updated := 0
	for i := range drafts {
		draft := &drafts[i]
		current := knowledge.NormalizeTier(draft.KnowledgeTier)
		target := p.resolveDraftTier(draft, sourceIndex)
		if current == target {
			continue
		}
		if err := p.updateDraft(draft.ID, map[string]interface{}{"knowledge_tier": target}); err != nil {
			continue
		}
		updated++
	}

	p.LogAction("rag_hygiene", "", "",
		fmt.Sprintf("Tier hygiene completed. Draft tier updates=%d.", updated), 0, 0)
	return updated
}
