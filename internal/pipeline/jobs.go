package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/metrics"
	"prepbrain/internal/models"
)

// normalizeJobSourceType maps a declared source type onto the supported set.
func normalizeJobSourceType(sourceType string) string {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case string(models.SourceTypeRestaurantRecipes), "restaurant", "recipes", "house":
		return string(models.SourceTypeRestaurantRecipes)
	case string(models.SourceTypeGeneralKnowledge), "general", "reference":
		return string(models.SourceTypeGeneralKnowledge)
	}
	return string(models.SourceTypeUnknown)
}

// QueueIngestJob registers a document for ingestion and returns the queued
// job. The file itself is read later by the worker. An empty ingest id gets
// a fresh one; re-submitting an existing ingest id requeues that job instead
// of creating a duplicate.
func (p *Pipeline) QueueIngestJob(ingestID, sourceFilename, sourceType, restaurantTag string) (*models.IngestJob, error) {
	filename := strings.TrimSpace(sourceFilename)
	if filename == "" {
		return nil, fmt.Errorf("source filename is required")
	}

	id := strings.TrimSpace(ingestID)
	if id == "" {
		id = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	normalizedType := normalizeJobSourceType(sourceType)

	var job models.IngestJob
	err := database.WithRetry(func() error {
		err := p.db.Where("ingest_id = ?", id).First(&job).Error
		if gorm.IsRecordNotFoundError(err) {
			job = models.IngestJob{
				IngestID:       id,
				SourceFilename: filename,
				SourceType:     normalizedType,
				RestaurantTag:  strings.TrimSpace(restaurantTag),
				Status:         string(models.IngestStatusQueued),
			}
			return p.db.Create(&job).Error
		}
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"source_filename":    filename,
			"source_type":        normalizedType,
			"restaurant_tag":     strings.TrimSpace(restaurantTag),
			"status":             string(models.IngestStatusQueued),
			"progress_current":   0,
			"progress_total":     0,
			"promoted_count":     0,
			"needs_review_count": 0,
			"error":              "",
			"started_at":         nil,
			"finished_at":        nil,
		}
		if err := p.db.Model(&models.IngestJob{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
			return err
		}
		return p.db.Where("id = ?", job.ID).First(&job).Error
	})
	if err != nil {
		return nil, err
	}

	p.refreshStatusQueues("ingest_queued")
	return &job, nil
}

// ListIngestJobs returns the most recent jobs, newest first.
func (p *Pipeline) ListIngestJobs(limit int) ([]models.IngestJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var jobs []models.IngestJob
	err := p.db.Order("id desc").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// GetIngestJob looks a job up by numeric id or ingest id.
func (p *Pipeline) GetIngestJob(ref string) (*models.IngestJob, error) {
	var job models.IngestJob
	query := p.db.Where("ingest_id = ?", ref)
	if _, err := strconv.ParseUint(ref, 10, 64); err == nil {
		query = p.db.Where("id = ? OR ingest_id = ?", ref, ref)
	}
	if err := query.First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (p *Pipeline) updateIngestJob(jobID uint, updates map[string]interface{}) {
	if raw, ok := updates["error"]; ok {
		if text, isString := raw.(string); isString {
			updates["error"] = sanitizeErrorText(text)
		}
	}
	err := database.WithRetry(func() error {
		return p.db.Model(&models.IngestJob{}).Where("id = ?", jobID).Updates(updates).Error
	})
	if err != nil {
		p.logger.Error("ingest job update failed", zap.Uint("job_id", jobID), zap.Error(err))
	}
}

func (p *Pipeline) advanceIngestJob(jobID uint, status models.IngestStatus, step int) {
	p.updateIngestJob(jobID, map[string]interface{}{
		"status":           string(status),
		"progress_current": step,
		"progress_total":   6,
	})
	p.setLastAction(string(status))
}

func (p *Pipeline) failIngestJob(ctx context.Context, job *models.IngestJob, errText string) {
	now := time.Now()
	p.updateIngestJob(job.ID, map[string]interface{}{
		"status":      string(models.IngestStatusFailed),
		"error":       errText,
		"finished_at": &now,
	})
	metrics.IngestJobsFinished.WithLabelValues(string(models.IngestStatusFailed)).Inc()
	if p.cfg.IngestCompletionMessage {
		p.AlertIfRequired(ctx, fmt.Sprintf("ingest_failed_%d", job.ID),
			fmt.Sprintf("Ingest failed: %s. Check job %d.", job.SourceFilename, job.ID),
			30*time.Minute)
	}
	p.setLastError("ingest_failed", errText)
}

var textDocumentExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".tsv":      true,
	".text":     true,
	"":          true,
}

// extractDocumentText reads a plain-text document. Binary formats are
// rejected rather than half-parsed.
func extractDocumentText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !textDocumentExtensions[ext] {
		return "", fmt.Errorf("unsupported_format: %s", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("unsupported_format: file is not valid text")
	}
	return string(data), nil
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	words := strings.Fields(strings.ReplaceAll(stem, "_", " "))
	for i, word := range words {
		lowered := strings.ToLower(word)
		words[i] = strings.ToUpper(lowered[:1]) + lowered[1:]
	}
	return strings.Join(words, " ")
}

// classifyNeedsReviewReason explains why an ingest produced no promotions.
func classifyNeedsReviewReason(source *models.DocSource, sourceType string) string {
	if sourceType != string(models.SourceTypeRestaurantRecipes) {
		return "classified_as_general_knowledge"
	}
	if source == nil {
		return "validation_failed"
	}
	if source.ExtractedTextChars == 0 {
		return "extraction_empty"
	}
	if source.ChunkCount < 2 {
		return "chunk_collapse"
	}
	return "validation_failed"
}

// processIngestJob drives one job through the six-step state machine:
// extracting, chunking, indexing, extracting_recipes, enriching, promoting.
// Reference sources stop after indexing.
func (p *Pipeline) processIngestJob(ctx context.Context, job *models.IngestJob) {
	sourceType := normalizeJobSourceType(job.SourceType)
	filePath := filepath.Join(p.cfg.DocumentsDir, job.SourceFilename)

	if _, err := os.Stat(filePath); err != nil {
		p.failIngestJob(ctx, job, fmt.Sprintf("file_missing: %s", job.SourceFilename))
		return
	}

	now := time.Now()
	p.updateIngestJob(job.ID, map[string]interface{}{
		"status":           string(models.IngestStatusExtracting),
		"progress_current": 1,
		"progress_total":   6,
		"started_at":       &now,
	})
	p.setLastAction(string(models.IngestStatusExtracting))

	text, err := extractDocumentText(filePath)
	if err != nil {
		p.failIngestJob(ctx, job, fmt.Sprintf("ingest_failed: %v", err))
		return
	}

	metadataType := "reference_book"
	tier := knowledge.TierReferenceTheory
	if sourceType == string(models.SourceTypeRestaurantRecipes) {
		metadataType = "house_recipe_book"
		tier = knowledge.TierRecipeOps
	}

	p.advanceIngestJob(job.ID, models.IngestStatusChunking, 2)
	p.advanceIngestJob(job.ID, models.IngestStatusIndexing, 3)

	source, err := p.index.AddDocument(knowledge.Document{
		IngestID:      job.IngestID,
		SourceName:    job.SourceFilename,
		Title:         titleFromFilename(job.SourceFilename),
		SourceType:    metadataType,
		KnowledgeTier: tier,
		RestaurantTag: job.RestaurantTag,
		Summary:       fmt.Sprintf("Queued ingest job #%d: %s", job.ID, job.SourceFilename),
		Text:          text,
		FilePath:      filePath,
	})
	if err != nil {
		p.failIngestJob(ctx, job, fmt.Sprintf("ingest_failed: %v", err))
		return
	}

	if sourceType != string(models.SourceTypeRestaurantRecipes) {
		finished := time.Now()
		p.updateIngestJob(job.ID, map[string]interface{}{
			"status":           string(models.IngestStatusDone),
			"progress_current": 6,
			"progress_total":   6,
			"finished_at":      &finished,
		})
		metrics.IngestJobsFinished.WithLabelValues(string(models.IngestStatusDone)).Inc()
		p.setLastAction("ingest_done_reference")
		return
	}

	beforePromoted := p.countDraftsForSource(job.IngestID, string(models.DraftStatusPromoted))

	p.advanceIngestJob(job.ID, models.IngestStatusExtractingRecipes, 4)
	p.EvaluateDocuments()

	p.advanceIngestJob(job.ID, models.IngestStatusEnriching, 5)
	p.EnrichDrafts(ctx)

	p.advanceIngestJob(job.ID, models.IngestStatusPromoting, 6)
	p.PromoteDrafts(ctx)

	promotedAfter := p.countDraftsForSource(job.IngestID, string(models.DraftStatusPromoted))
	totalForSource := p.countDraftsForSource(job.IngestID, "")
	rejectedForSource := p.countDraftsForSource(job.IngestID, string(models.DraftStatusRejected))

	promotedCount := promotedAfter - beforePromoted
	if promotedCount < 0 {
		promotedCount = 0
	}
	needsReviewCount := totalForSource - promotedAfter
	if needsReviewCount < 0 {
		needsReviewCount = 0
	}

	finished := time.Now()
	if promotedCount == 0 {
		reason := classifyNeedsReviewReason(source, sourceType)
		reviewCount := needsReviewCount
		if rejectedForSource > reviewCount {
			reviewCount = rejectedForSource
		}
		p.updateIngestJob(job.ID, map[string]interface{}{
			"status":             string(models.IngestStatusNeedsReview),
			"progress_current":   6,
			"progress_total":     6,
			"error":              reason,
			"promoted_count":     promotedCount,
			"needs_review_count": reviewCount,
			"finished_at":        &finished,
		})
		metrics.IngestJobsFinished.WithLabelValues(string(models.IngestStatusNeedsReview)).Inc()
		p.AlertIfRequired(ctx, fmt.Sprintf("ingest_no_promotions_%d", job.ID),
			fmt.Sprintf("No recipes promoted: %s (reason: %s). Check job %d.",
				job.SourceFilename, reason, job.ID),
			60*time.Minute)
		return
	}

	p.updateIngestJob(job.ID, map[string]interface{}{
		"status":             string(models.IngestStatusDone),
		"progress_current":   6,
		"progress_total":     6,
		"promoted_count":     promotedCount,
		"needs_review_count": needsReviewCount,
		"finished_at":        &finished,
	})
	metrics.IngestJobsFinished.WithLabelValues(string(models.IngestStatusDone)).Inc()
	if p.cfg.IngestCompletionMessage && (promotedCount > 0 || needsReviewCount > 0) {
		p.AlertIfRequired(ctx, fmt.Sprintf("ingest_done_%d", job.ID),
			fmt.Sprintf("Ingest done: %s. +%d recipes, %d need review.",
				job.SourceFilename, promotedCount, needsReviewCount),
			30*time.Minute)
	}
}

func (p *Pipeline) countDraftsForSource(ingestID, status string) int {
	query := p.db.Model(&models.Draft{}).Where("source_id = ?", ingestID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var count int
	if err := query.Count(&count).Error; err != nil {
		return 0
	}
	return count
}

// ProcessIngestJobs processes up to limit active jobs in id order and
// returns how many were attempted.
func (p *Pipeline) ProcessIngestJobs(ctx context.Context, limit int) int {
	if limit < 1 {
		limit = 1
	}
	var jobs []models.IngestJob
	err := p.db.Where("status IN (?)", models.ActiveIngestStatuses).
		Order("id asc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		p.logger.Error("ingest job scan failed", zap.Error(err))
		return 0
	}

	processed := 0
	for i := range jobs {
		job := &jobs[i]
		processed++
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.failIngestJob(ctx, job, fmt.Sprintf("job_exception: %v", r))
				}
			}()
			p.processIngestJob(ctx, job)
		}()
	}
	return processed
}
