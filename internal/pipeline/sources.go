package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"prepbrain/internal/knowledge"
	"prepbrain/internal/models"
)

// buildSourceIndex maps ingest id to source row for tier resolution.
func (p *Pipeline) buildSourceIndex() map[string]models.DocSource {
	index := map[string]models.DocSource{}
	sources, err := p.index.ListSources()
	if err != nil {
		p.logger.Warn("could not build source index", zap.Error(err))
		return index
	}
	for _, source := range sources {
		if source.IngestID != "" {
			index[source.IngestID] = source
		}
	}
	return index
}

// resolveDraftTier picks the effective tier for a draft: its stored tier,
// then its source's tier, then inference from the draft itself.
func (p *Pipeline) resolveDraftTier(draft *models.Draft, sourceIndex map[string]models.DocSource) string {
	if stored := knowledge.NormalizeTier(draft.KnowledgeTier); stored != "" {
		return stored
	}

	if source, ok := sourceIndex[draft.SourceID]; ok {
		tier := knowledge.NormalizeTier(source.KnowledgeTier)
		if tier == "" {
			tier = knowledge.InferTier(source.SourceType, source.Title, source.SourceName, source.Summary)
		}
		if tier != "" {
			return tier
		}
	}

	summary := draft.RawText
	if len(summary) > 300 {
		summary = summary[:300]
	}
	return knowledge.InferTier("recipe_draft", draft.Name, draft.SourceID, summary)
}

func sourceTier(source models.DocSource) string {
	if tier := knowledge.NormalizeTier(source.KnowledgeTier); tier != "" {
		return tier
	}
	return knowledge.InferTier(source.SourceType, source.Title, source.SourceName, source.Summary)
}

// isRecipeCandidateSource filters out vendor lists, reference books, and
// anything else that should never feed draft creation.
func isRecipeCandidateSource(source models.DocSource) bool {
	sourceType := strings.ToLower(strings.TrimSpace(source.SourceType))
	haystack := strings.ToLower(strings.Join([]string{
		sourceType,
		strings.TrimSpace(source.Title),
		strings.TrimSpace(source.Summary),
		strings.TrimSpace(source.SourceName),
	}, " "))

	switch sourceType {
	case "reference_book", "unknown", "sop", "vendor_list":
		return false
	case "house_recipe_book", "house_recipe_document", "house_recipe":
		return true
	}

	if containsAnyToken(haystack, []string{"vendor", "invoice", "price list", "catalog", "order guide"}) {
		return false
	}
	if containsAnyToken(haystack, []string{"reference", "theory", "mcgee", "flavor bible"}) {
		return false
	}
	return containsAnyToken(haystack, []string{"recipe", "dish", "prep recipe", "line recipe", "yield", "method"})
}
