package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/models"
	"prepbrain/internal/notify"
)

// LogAction records one pipeline action. Failures are logged and swallowed;
// the pipeline never stops because the audit trail is unavailable.
func (p *Pipeline) LogAction(action, targetType, targetID, detail string, confBefore, confAfter float64) {
	entry := models.ActionLog{
		Action:           action,
		TargetType:       targetType,
		TargetID:         targetID,
		Detail:           truncate(notify.Scrub(detail), maxDetailChars),
		ConfidenceBefore: confBefore,
		ConfidenceAfter:  confAfter,
	}
	err := database.WithRetry(func() error {
		return p.db.Create(&entry).Error
	})
	if err != nil {
		p.logger.Error("failed to log pipeline action", zap.String("action", action), zap.Error(err))
	}
}

// HasRecentLog reports whether a matching action was logged inside the
// window. Empty targetType or targetID match any value.
func (p *Pipeline) HasRecentLog(action, targetType, targetID string, window time.Duration) bool {
	cutoff := time.Now().Add(-window)
	query := p.db.Model(&models.ActionLog{}).
		Where("action = ? AND created_at >= ?", action, cutoff)
	if targetType != "" {
		query = query.Where("target_type = ?", targetType)
	}
	if targetID != "" {
		query = query.Where("target_id = ?", targetID)
	}
	var count int
	if err := query.Count(&count).Error; err != nil {
		p.logger.Warn("recent log lookup failed", zap.String("action", action), zap.Error(err))
		return false
	}
	return count > 0
}

// AlertIfRequired sends an alert unless the same alert key fired inside the
// throttle window. A zero throttle falls back to the configured cooldown.
func (p *Pipeline) AlertIfRequired(ctx context.Context, alertKey, message string, throttle time.Duration) {
	if !p.cfg.Alerts || p.notifier == nil {
		return
	}
	cooldown := throttle
	if cooldown <= 0 {
		cooldown = p.cfg.AlertCooldown
	}
	if p.HasRecentLog("alert_sent", "autonomy_alert", alertKey, cooldown) {
		return
	}

	action := "alert_sent"
	if err := p.notifier.Send(ctx, message); err != nil {
		action = "alert_failed"
		p.logger.Warn("alert delivery failed", zap.String("alert_key", alertKey), zap.Error(err))
	}
	p.LogAction(action, "autonomy_alert", alertKey, message, 0, 0)
}

func targetIDFor(id uint) string {
	return fmt.Sprintf("%d", id)
}
