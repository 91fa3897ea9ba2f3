package pipeline

import (
	"time"

	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/metrics"
	"prepbrain/internal/models"
)

// setStatus updates fields on the singleton status row, creating it if it
// does not exist yet. The last_error value is scrubbed and truncated.
func (p *Pipeline) setStatus(fields map[string]interface{}) {
	if len(fields) == 0 {
		return
	}
	if raw, ok := fields["last_error"]; ok {
		if text, isString := raw.(string); isString && text != "" {
			fields["last_error"] = sanitizeErrorText(text)
		}
	}
	err := database.WithRetry(func() error {
		var status models.AutonomyStatus
		if err := p.db.FirstOrCreate(&status, models.AutonomyStatus{ID: 1}).Error; err != nil {
			return err
		}
		return p.db.Model(&models.AutonomyStatus{}).Where("id = ?", 1).Updates(fields).Error
	})
	if err != nil {
		p.logger.Error("failed to update autonomy status", zap.Error(err))
	}
}

func (p *Pipeline) setLastAction(action string) {
	p.setStatus(map[string]interface{}{"last_action": action})
}

func (p *Pipeline) setLastError(action, errText string) {
	now := time.Now()
	p.setStatus(map[string]interface{}{
		"last_action":   action,
		"last_error":    errText,
		"last_error_at": &now,
	})
}

// queueDepths returns the pending draft and active ingest counts.
func (p *Pipeline) queueDepths() (int, int, error) {
	var pendingDrafts int
	err := p.db.Model(&models.Draft{}).
		Where("status IN (?)", []string{string(models.DraftStatusPending), string(models.DraftStatusEnriched)}).
		Count(&pendingDrafts).Error
	if err != nil {
		return 0, 0, err
	}
	var pendingIngests int
	err = p.db.Model(&models.IngestJob{}).
		Where("status IN (?)", models.ActiveIngestStatuses).
		Count(&pendingIngests).Error
	if err != nil {
		return 0, 0, err
	}
	return pendingDrafts, pendingIngests, nil
}

// refreshStatusQueues stamps the tick time and queue depths, optionally
// with a new last_action.
func (p *Pipeline) refreshStatusQueues(action string) {
	pendingDrafts, pendingIngests, err := p.queueDepths()
	if err != nil {
		p.logger.Warn("queue depth lookup failed", zap.Error(err))
		return
	}
	metrics.QueuePendingDrafts.Set(float64(pendingDrafts))
	metrics.QueuePendingIngests.Set(float64(pendingIngests))
	now := time.Now()
	fields := map[string]interface{}{
		"last_tick_at":          &now,
		"queue_pending_drafts":  pendingDrafts,
		"queue_pending_ingests": pendingIngests,
	}
	if action != "" {
		fields["last_action"] = action
	}
	p.setStatus(fields)
}

// Snapshot returns the current status row for external monitors.
func (p *Pipeline) Snapshot() (*models.AutonomyStatus, error) {
	var status models.AutonomyStatus
	if err := p.db.Where("id = ?", 1).First(&status).Error; err != nil {
		return nil, err
	}
	return &status, nil
}
