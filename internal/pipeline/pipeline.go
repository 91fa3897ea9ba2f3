// Package pipeline implements the autonomous knowledge-to-recipe promotion
// pipeline: document evaluation, draft enrichment and promotion, inventory
// reconciliation, auditing, and the background worker that drives them.
package pipeline

import (
	"strings"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"prepbrain/internal/config"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/llm"
	"prepbrain/internal/notify"
	"prepbrain/internal/research"
)

const (
	maxErrorChars           = 400
	maxDetailChars          = 4000
	maxRejectionReasonChars = 800
)

// Pipeline holds the shared dependencies of every promotion stage. All
// methods are safe to call individually; the Worker sequences them.
type Pipeline struct {
	db       *gorm.DB
	index    knowledge.Index
	model    llm.ChatModel
	research *research.Client
	notifier notify.Notifier
	logger   *zap.Logger
	cfg      config.AutonomyConfig
}

// New builds a pipeline. model, research, and notifier may be nil; the
// stages that need them degrade to skipping their optional work.
func New(db *gorm.DB, index knowledge.Index, model llm.ChatModel, researchClient *research.Client, notifier notify.Notifier, logger *zap.Logger, cfg config.AutonomyConfig) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		db:       db,
		index:    index,
		model:    model,
		research: researchClient,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}

func sanitizeErrorText(s string) string {
	return truncate(notify.Scrub(collapseSpaces(s)), maxErrorChars)
}
