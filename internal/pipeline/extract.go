package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/metrics"
	"prepbrain/internal/models"
)

// EvaluateDocuments creates pending drafts from indexed recipe-ops sources
// that have no draft yet. It returns the number of drafts created.
func (p *Pipeline) EvaluateDocuments() int {
	sources, err := p.index.ListSources()
	if err != nil {
		p.logger.Error("document evaluation failed", zap.Error(err))
		return 0
	}

	created := 0
	for _, source := range sources {
		if source.Status != "indexed" {
			continue
		}
		if source.IngestID == "" || source.SourceName == "" {
			continue
		}
		tier := sourceTier(source)
		if tier != knowledge.TierRecipeOps {
			continue
		}
		if !isRecipeCandidateSource(source) {
			continue
		}

		var existing int
		if err := p.db.Model(&models.Draft{}).Where("source_id = ?", source.IngestID).Count(&existing).Error; err != nil || existing > 0 {
			continue
		}

		chunks, err := p.index.SourceChunks(source.SourceName, p.cfg.MaxSourceChunksPerDraft)
		if err != nil {
			p.logger.Warn("could not read source chunks",
				zap.String("source", source.SourceName), zap.Error(err))
			continue
		}
		rawText := joinChunks(chunks)
		if len(rawText) < p.cfg.MinSourceCharsForDraft {
			continue
		}

		draftName := collapseSpaces(source.Title)
		if draftName == "" {
			base := filepath.Base(source.SourceName)
			draftName = collapseSpaces(strings.TrimSuffix(base, filepath.Ext(base)))
		}
		if draftName == "" {
			draftName = "Untitled Draft"
		}

		confidence := EstimateDraftConfidence(rawText)
		if confidence > p.cfg.EnrichAttemptBandMax {
			confidence = p.cfg.EnrichAttemptBandMax
		}

		draft := models.Draft{
			SourceID:      source.IngestID,
			Name:          draftName,
			RawText:       rawText,
			Confidence:    confidence,
			Status:        string(models.DraftStatusPending),
			KnowledgeTier: tier,
		}
		err = database.WithRetry(func() error {
			return p.db.Create(&draft).Error
		})
		if err != nil {
			p.logger.Error("could not create draft",
				zap.String("source", source.SourceName), zap.Error(err))
			continue
		}
		created++
		metrics.DraftsCreated.Inc()
		p.LogAction("evaluate_document", "source", source.IngestID,
			fmt.Sprintf("Created draft '%s' from source '%s'", draftName, source.SourceName),
			0, confidence)
	}

	if created > 0 {
		p.logger.Info("created drafts from recipe-ops sources", zap.Int("count", created))
	}
	return created
}

func joinChunks(chunks []models.DocChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
