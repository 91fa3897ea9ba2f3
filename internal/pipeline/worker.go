package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"prepbrain/internal/metrics"
	"prepbrain/internal/ordering"
)

// Worker drives the pipeline on a polling schedule. Every poll runs a light
// tick: job processing, a fast draft pass, and prep-list housekeeping. The
// full maintenance cycle runs on the configured cycle interval.
type Worker struct {
	*Pipeline

	lock     *singletonLock
	stopCh   chan struct{}
	stopOnce sync.Once

	mu            sync.Mutex
	tickRunning   bool
	lastCycleAt   time.Time
	workerRunning bool

	reminderOffsets []int
	reminderQuiet   *ordering.QuietHours
}

// NewWorker wraps a pipeline in a scheduled worker.
func NewWorker(p *Pipeline) *Worker {
	return &Worker{
		Pipeline: p,
		lock:     newSingletonLock(p.cfg.LockPath),
		stopCh:   make(chan struct{}),
	}
}

// SetReminderSchedule enables vendor cutoff reminders on the tick. An empty
// offset list disables them.
func (w *Worker) SetReminderSchedule(offsetsMinutes []int, quiet *ordering.QuietHours) {
	w.reminderOffsets = offsetsMinutes
	w.reminderQuiet = quiet
}

// dispatchCutoffReminders notifies operators about vendor order cutoffs that
// are coming up. A reminder is marked sent only after delivery succeeds, so
// a failed send retries on the next tick.
func (w *Worker) dispatchCutoffReminders(ctx context.Context) {
	if len(w.reminderOffsets) == 0 || w.notifier == nil {
		return
	}
	router := ordering.NewRouter(w.db)
	reminders, err := router.DueCutoffReminders(w.reminderOffsets, w.reminderQuiet, time.Now())
	if err != nil {
		w.logger.Warn("cutoff reminder lookup failed", zap.Error(err))
		return
	}
	for _, reminder := range reminders {
		message := fmt.Sprintf("Reminder: %s cutoff in %dm. Draft ready (%d items).",
			reminder.VendorName, reminder.OffsetMinutes, reminder.PendingCount)
		if err := w.notifier.Send(ctx, message); err != nil {
			w.logger.Warn("cutoff reminder send failed",
				zap.Uint("vendor_id", reminder.VendorID), zap.Error(err))
			continue
		}
		if err := router.MarkReminderSent(reminder.VendorID, reminder.ReminderDate, reminder.OffsetMinutes); err != nil {
			w.logger.Warn("could not record sent reminder",
				zap.Uint("vendor_id", reminder.VendorID), zap.Error(err))
		}
		w.LogAction("cutoff_reminder", "vendor", fmt.Sprintf("%d", reminder.VendorID),
			message, 0, 0)
	}
}

// RunCycle executes the full maintenance cycle: draft scan, enrichment,
// promotion, inventory reconciliation, audit, and tier hygiene.
func (w *Worker) RunCycle(ctx context.Context) {
	w.logger.Info("starting maintenance cycle")
	started := time.Now()
	now := time.Now()
	w.setStatus(map[string]interface{}{
		"is_running":            true,
		"last_cycle_started_at": &now,
		"last_action":           "cycle_start",
		"last_error":            "",
	})
	w.refreshStatusQueues("cycle_start")

	w.setLastAction("scan_drafts")
	w.EvaluateDocuments()
	w.setLastAction("enrich")
	w.EnrichDrafts(ctx)
	w.setLastAction("promote")
	w.PromoteDrafts(ctx)
	w.setLastAction("reconcile_inventory")
	w.ReconcileInventory(ctx)
	w.setLastAction("audit")
	w.AuditSystem()
	w.setLastAction("maintain_rag")
	w.MaintainTiers()

	w.mu.Lock()
	w.lastCycleAt = time.Now()
	w.mu.Unlock()

	finished := time.Now()
	w.setStatus(map[string]interface{}{
		"is_running":             true,
		"last_cycle_finished_at": &finished,
		"last_action":            "cycle_complete",
	})
	w.refreshStatusQueues("cycle_complete")
	metrics.CycleDuration.Observe(time.Since(started).Seconds())
	w.logger.Info("maintenance cycle completed", zap.Duration("elapsed", time.Since(started)))
}

// RunBackgroundTick is one poll iteration. It is a no-op when another tick
// is in flight or the singleton lock is held elsewhere.
func (w *Worker) RunBackgroundTick(ctx context.Context) {
	w.mu.Lock()
	if w.tickRunning {
		w.mu.Unlock()
		return
	}
	w.tickRunning = true
	w.mu.Unlock()
	defer func() {
		w.refreshStatusQueues("tick_done")
		w.mu.Lock()
		w.tickRunning = false
		w.mu.Unlock()
	}()

	if !w.lock.TryAcquire() {
		return
	}

	now := time.Now()
	w.setStatus(map[string]interface{}{
		"is_running":   true,
		"last_tick_at": &now,
		"last_action":  "tick",
	})
	w.refreshStatusQueues("tick")

	batch := w.cfg.JobBatchSize
	if batch < 1 {
		batch = 1
	}
	jobsProcessed := w.ProcessIngestJobs(ctx, batch)

	if jobsProcessed == 0 {
		pendingDrafts, _, err := w.queueDepths()
		if err == nil && pendingDrafts > 0 {
			w.setLastAction("scan_drafts")
			w.EvaluateDocuments()
			w.setLastAction("enrich")
			w.EnrichDrafts(ctx)
			w.setLastAction("promote")
			w.PromoteDrafts(ctx)
		}
	}

	w.setLastAction("prep_list_refresh")
	generated := w.AutoGeneratePrepList()
	snapshot := w.BehindServiceSnapshot()
	if snapshot.OpenItems > 0 {
		w.AlertIfRequired(ctx, "prep_list_behind_service",
			fmt.Sprintf("Prep list behind: %d open items across %d stations.",
				snapshot.OpenItems, snapshot.Stations),
			90*time.Minute)
	}
	if generated > 0 {
		w.LogAction("prep_list_autogen", "prep_list", "daily",
			fmt.Sprintf("Auto-generated %d prep item(s).", generated), 0, 0)
	}

	w.dispatchCutoffReminders(ctx)

	cycleInterval := w.cfg.CycleInterval
	if cycleInterval < time.Minute {
		cycleInterval = time.Minute
	}
	w.mu.Lock()
	due := time.Since(w.lastCycleAt) >= cycleInterval
	w.mu.Unlock()
	if due {
		w.RunCycle(ctx)
	}
}

// Start runs the polling loop until Stop is called or the context ends.
func (w *Worker) Start(ctx context.Context) {
	if !w.cfg.Enabled {
		w.logger.Info("autonomy disabled in config, worker idle")
		now := time.Now()
		w.setStatus(map[string]interface{}{
			"is_running":   false,
			"last_action":  "disabled",
			"last_tick_at": &now,
		})
		return
	}
	if !w.lock.TryAcquire() {
		w.logger.Info("worker standby: singleton lock held by another process")
		return
	}

	w.mu.Lock()
	w.workerRunning = true
	w.mu.Unlock()
	now := time.Now()
	w.setStatus(map[string]interface{}{
		"is_running":   true,
		"last_action":  "started",
		"last_tick_at": &now,
	})
	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("cycle_interval", w.cfg.CycleInterval))

	poll := w.cfg.PollInterval
	if poll < 30*time.Second {
		poll = 30 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	w.RunBackgroundTick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case <-w.stopCh:
			w.shutdown()
			return
		case <-ticker.C:
			w.RunBackgroundTick(ctx)
		}
	}
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	w.workerRunning = false
	w.mu.Unlock()
	now := time.Now()
	w.setStatus(map[string]interface{}{
		"is_running":   false,
		"last_action":  "stopped",
		"last_tick_at": &now,
	})
	w.lock.Release()
}

// Stop signals the polling loop to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.logger.Info("worker stopping")
}
