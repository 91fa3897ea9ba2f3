package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prepbrain/internal/config"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/llm"
	"prepbrain/internal/models"
)

type mockChatModel struct {
	mock.Mock
}

func (m *mockChatModel) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...).Error)
	t.Cleanup(func() { db.Close() })
	return db
}

func testConfig(t *testing.T) config.AutonomyConfig {
	t.Helper()
	return config.AutonomyConfig{
		Enabled:                 true,
		Mode:                    "balanced",
		PollInterval:            5 * time.Minute,
		CycleInterval:           time.Hour,
		AlertCooldown:           3 * time.Hour,
		AutoPromoteThreshold:    0.75,
		EnrichMinConfidence:     0.60,
		EnrichAttemptBandMax:    0.74,
		DraftScanLimit:          10,
		MaxSourceChunksPerDraft: 12,
		MinSourceCharsForDraft:  300,
		JobBatchSize:            2,
		DocumentsDir:            t.TempDir(),
		LockPath:                filepath.Join(t.TempDir(), "autonomy.singleton.lock"),
	}
}

func newTestPipeline(t *testing.T, model llm.ChatModel) (*Pipeline, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	index := knowledge.NewSQLIndex(db, "")
	p := New(db, index, model, nil, nil, nil, testConfig(t))
	return p, db
}

const sampleRecipeText = `MARINARA SAUCE

Yield: 4 quarts

Ingredients:
2 kg san marzano tomatoes
100 g garlic, sliced thin
200 ml olive oil
30 g basil leaves
40 g kosher salt

Method:
Sweat the garlic in olive oil over low heat until translucent.
Add the tomatoes, crushing by hand, and simmer for 45 minutes.
Finish with basil and season with salt. Hold hot for service or
cool rapidly and label for the walk-in. This batch recipe is the
base for the line and should always be tasted before service.
`

const enrichedResponse = `{
  "name": "Marinara Sauce",
  "yield_amount": 4,
  "yield_unit": "quart",
  "station": "saute",
  "category": "sauce",
  "method": "Sweat garlic in oil, add tomatoes, simmer 45 minutes, finish with basil.",
  "ingredients": [
    {"item_name_text": "san marzano tomatoes", "quantity": 2, "unit": "kg", "notes": null},
    {"item_name_text": "garlic", "quantity": 100, "unit": "g", "notes": "sliced thin"},
    {"item_name_text": "olive oil", "quantity": 200, "unit": "ml", "notes": null},
    {"item_name_text": "basil leaves", "quantity": 30, "unit": "g", "notes": null},
    {"item_name_text": "kosher salt", "quantity": 40, "unit": "g", "notes": null}
  ],
  "allergens": []
}`

func addRecipeSource(t *testing.T, p *Pipeline, ingestID, sourceName string) {
	t.Helper()
	_, err := p.index.AddDocument(knowledge.Document{
		IngestID:      ingestID,
		SourceName:    sourceName,
		Title:         "House Recipe Book",
		SourceType:    "house_recipe_book",
		KnowledgeTier: knowledge.TierRecipeOps,
		Summary:       "House recipes for the line",
		Text:          sampleRecipeText,
	})
	require.NoError(t, err)
}

func TestEvaluateDocumentsCreatesDraftOnce(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	addRecipeSource(t, p, "ingest-1", "house_recipes.txt")

	created := p.EvaluateDocuments()
	assert.Equal(t, 1, created)

	var draft models.Draft
	require.NoError(t, db.Where("source_id = ?", "ingest-1").First(&draft).Error)
	assert.Equal(t, string(models.DraftStatusPending), draft.Status)
	assert.Equal(t, knowledge.TierRecipeOps, draft.KnowledgeTier)
	assert.Equal(t, "House Recipe Book", draft.Name)
	// Structural signals are strong but the band cap still applies.
	assert.InDelta(t, 0.74, draft.Confidence, 0.0001)
	assert.Contains(t, draft.RawText, "MARINARA SAUCE")

	// Second pass must not duplicate the draft.
	assert.Equal(t, 0, p.EvaluateDocuments())
}

func TestEvaluateDocumentsSkipsReferenceSources(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	_, err := p.index.AddDocument(knowledge.Document{
		IngestID:      "ingest-ref",
		SourceName:    "mcgee_on_food.txt",
		Title:         "On Food and Cooking",
		SourceType:    "reference_book",
		KnowledgeTier: knowledge.TierReferenceTheory,
		Summary:       "Food science reference",
		Text:          sampleRecipeText,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, p.EvaluateDocuments())
	var count int
	require.NoError(t, db.Model(&models.Draft{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEnrichThenPromote(t *testing.T) {
	model := new(mockChatModel)
	model.On("Complete", mock.Anything, mock.Anything).Return(enrichedResponse, nil)
	p, db := newTestPipeline(t, model)

	require.NoError(t, db.Create(&models.Allergen{Name: "Milk"}).Error)
	addRecipeSource(t, p, "ingest-1", "house_recipes.txt")
	require.Equal(t, 1, p.EvaluateDocuments())

	enriched, rejected := p.EnrichDrafts(context.Background())
	assert.Equal(t, 1, enriched)
	assert.Zero(t, rejected)

	var draft models.Draft
	require.NoError(t, db.Where("source_id = ?", "ingest-1").First(&draft).Error)
	assert.Equal(t, string(models.DraftStatusEnriched), draft.Status)
	assert.Equal(t, "Marinara Sauce", draft.Name)
	// Five ingredients, method, and yield stack on top of the band cap.
	assert.InDelta(t, 0.95, draft.Confidence, 0.0001)
	ingredients, err := draft.GetIngredients()
	require.NoError(t, err)
	assert.Len(t, ingredients, 5)

	promoted, rejected := p.PromoteDrafts(context.Background())
	assert.Equal(t, 1, promoted)
	assert.Zero(t, rejected)

	var recipe models.Recipe
	require.NoError(t, db.Where("name = ?", "Marinara Sauce").First(&recipe).Error)
	assert.True(t, recipe.IsActive)
	require.NotNil(t, recipe.YieldAmount)
	assert.InDelta(t, 4, *recipe.YieldAmount, 0.0001)

	var lines []models.RecipeIngredient
	require.NoError(t, db.Where("recipe_id = ?", recipe.ID).Find(&lines).Error)
	assert.Len(t, lines, 5)
	// Unit-normalized canonical values ride along on promotion.
	for _, line := range lines {
		if line.ItemNameText == "san marzano tomatoes" {
			require.NotNil(t, line.CanonicalValue)
			assert.InDelta(t, 2000, *line.CanonicalValue, 0.0001)
			assert.Equal(t, "g", line.CanonicalUnit)
		}
	}

	require.NoError(t, db.Where("source_id = ?", "ingest-1").First(&draft).Error)
	assert.Equal(t, string(models.DraftStatusPromoted), draft.Status)

	status, err := p.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, status.LastPromotedRecipeID)
	assert.Equal(t, recipe.ID, *status.LastPromotedRecipeID)
	assert.Equal(t, "Marinara Sauce", status.LastPromotedRecipeName)

	model.AssertExpectations(t)
}

func TestEnrichRejectsBelowMinimumConfidence(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	draft := models.Draft{
		SourceID:      "ingest-low",
		Name:          "Weak Draft",
		RawText:       "a short note",
		Confidence:    0.35,
		Status:        string(models.DraftStatusPending),
		KnowledgeTier: knowledge.TierRecipeOps,
	}
	require.NoError(t, db.Create(&draft).Error)

	enriched, rejected := p.EnrichDrafts(context.Background())
	assert.Zero(t, enriched)
	assert.Equal(t, 1, rejected)

	require.NoError(t, db.First(&draft, draft.ID).Error)
	assert.Equal(t, string(models.DraftStatusRejected), draft.Status)
	assert.Contains(t, draft.RejectionReason, "below minimum")
}

func TestEnrichRejectsGeneralKnowledgeTier(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	draft := models.Draft{
		SourceID:      "ingest-ref",
		Name:          "Maillard Notes",
		RawText:       sampleRecipeText,
		Confidence:    0.74,
		Status:        string(models.DraftStatusPending),
		KnowledgeTier: knowledge.TierReferenceTheory,
	}
	require.NoError(t, db.Create(&draft).Error)

	enriched, rejected := p.EnrichDrafts(context.Background())
	assert.Zero(t, enriched)
	assert.Equal(t, 1, rejected)

	require.NoError(t, db.First(&draft, draft.ID).Error)
	assert.Equal(t, string(models.DraftStatusRejected), draft.Status)
	assert.Contains(t, draft.RejectionReason, "Knowledge boundary")
}

func TestPromoteSkipsBelowThreshold(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	draft := models.Draft{
		SourceID:      "ingest-mid",
		Name:          "Almost There",
		RawText:       sampleRecipeText,
		Method:        "Simmer.",
		Confidence:    0.70,
		Status:        string(models.DraftStatusEnriched),
		KnowledgeTier: knowledge.TierRecipeOps,
	}
	require.NoError(t, draft.SetIngredients([]models.DraftIngredient{{ItemNameText: "tomatoes"}}))
	require.NoError(t, db.Create(&draft).Error)

	promoted, rejected := p.PromoteDrafts(context.Background())
	assert.Zero(t, promoted)
	assert.Zero(t, rejected)

	require.NoError(t, db.First(&draft, draft.ID).Error)
	assert.Equal(t, string(models.DraftStatusEnriched), draft.Status)
}

func TestPromoteRejectsGeneralKnowledgeTier(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	draft := models.Draft{
		SourceID:      "ingest-ref",
		Name:          "Maillard Browning",
		RawText:       sampleRecipeText,
		Method:        "Brown the surface hard.",
		Confidence:    0.85,
		Status:        string(models.DraftStatusEnriched),
		KnowledgeTier: knowledge.TierReferenceTheory,
	}
	require.NoError(t, draft.SetIngredients([]models.DraftIngredient{{ItemNameText: "butter"}}))
	require.NoError(t, db.Create(&draft).Error)

	// High confidence alone never clears the knowledge boundary.
	promoted, rejected := p.PromoteDrafts(context.Background())
	assert.Zero(t, promoted)
	assert.Equal(t, 1, rejected)

	require.NoError(t, db.First(&draft, draft.ID).Error)
	assert.Equal(t, string(models.DraftStatusRejected), draft.Status)
	assert.Contains(t, draft.RejectionReason, "Knowledge boundary")

	var recipes int
	require.NoError(t, db.Model(&models.Recipe{}).Count(&recipes).Error)
	assert.Zero(t, recipes)
}

func TestReconcileInventoryLinksAndCosts(t *testing.T) {
	p, db := newTestPipeline(t, nil)

	cost := 3.5
	require.NoError(t, db.Create(&models.InventoryItem{Name: "San Marzano Tomatoes", Cost: &cost}).Error)

	recipe := models.Recipe{Name: "Marinara Sauce", IsActive: true}
	require.NoError(t, db.Create(&recipe).Error)
	qty := 2.0
	line := models.RecipeIngredient{
		RecipeID:     recipe.ID,
		ItemNameText: "san marzano tomatoes",
		Quantity:     &qty,
		Unit:         "kg",
	}
	require.NoError(t, db.Create(&line).Error)

	p.ReconcileInventory(context.Background())

	require.NoError(t, db.First(&line, line.ID).Error)
	require.NotNil(t, line.InventoryItemID)
	require.NotNil(t, line.Cost)
	assert.InDelta(t, 7.0, *line.Cost, 0.0001)

	var links int
	require.NoError(t, db.Model(&models.ActionLog{}).
		Where("action = ?", "reconcile_inventory_link").Count(&links).Error)
	assert.Equal(t, 1, links)
}

func TestAuditSystemThrottlesRepeatFindings(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	require.NoError(t, db.Create(&models.Recipe{Name: "Bare Recipe", IsActive: true}).Error)

	p.AuditSystem()
	p.AuditSystem()

	var count int
	require.NoError(t, db.Model(&models.ActionLog{}).
		Where("action = ?", "safety_audit").Count(&count).Error)
	// The throttle is per recipe, so the first gap logged suppresses the
	// rest of the findings for the window.
	assert.Equal(t, 1, count)
}

func TestMaintainTiersFixesBlankTier(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	addRecipeSource(t, p, "ingest-1", "house_recipes.txt")

	draft := models.Draft{
		SourceID: "ingest-1",
		Name:     "Marinara Sauce",
		RawText:  sampleRecipeText,
		Status:   string(models.DraftStatusPending),
	}
	require.NoError(t, db.Create(&draft).Error)

	updated := p.MaintainTiers()
	assert.Equal(t, 1, updated)

	require.NoError(t, db.First(&draft, draft.ID).Error)
	assert.Equal(t, knowledge.TierRecipeOps, draft.KnowledgeTier)
}

func TestQueueAndProcessIngestJob(t *testing.T) {
	model := new(mockChatModel)
	model.On("Complete", mock.Anything, mock.Anything).Return(enrichedResponse, nil)
	p, db := newTestPipeline(t, model)

	require.NoError(t, os.WriteFile(
		filepath.Join(p.cfg.DocumentsDir, "house_recipes.txt"), []byte(sampleRecipeText), 0o644))

	job, err := p.QueueIngestJob("", "house_recipes.txt", "restaurant_recipes", "bistro")
	require.NoError(t, err)
	assert.Equal(t, string(models.IngestStatusQueued), job.Status)
	assert.Len(t, job.IngestID, 32)

	processed := p.ProcessIngestJobs(context.Background(), 2)
	assert.Equal(t, 1, processed)

	got, err := p.GetIngestJob(job.IngestID)
	require.NoError(t, err)
	assert.Equal(t, string(models.IngestStatusDone), got.Status)
	assert.Equal(t, 6, got.ProgressCurrent)
	assert.Equal(t, 1, got.PromotedCount)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)

	var recipe models.Recipe
	require.NoError(t, db.Where("name = ?", "Marinara Sauce").First(&recipe).Error)
}

func TestProcessIngestJobReferenceShortCircuit(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	require.NoError(t, os.WriteFile(
		filepath.Join(p.cfg.DocumentsDir, "food_theory.txt"), []byte(sampleRecipeText), 0o644))

	job, err := p.QueueIngestJob("", "food_theory.txt", "general_knowledge", "")
	require.NoError(t, err)

	p.ProcessIngestJobs(context.Background(), 1)

	got, err := p.GetIngestJob(job.IngestID)
	require.NoError(t, err)
	assert.Equal(t, string(models.IngestStatusDone), got.Status)

	// Reference ingests index the knowledge but never open drafts.
	var drafts int
	require.NoError(t, db.Model(&models.Draft{}).Count(&drafts).Error)
	assert.Zero(t, drafts)
}

func TestQueueIngestJobUpsertsByIngestID(t *testing.T) {
	p, db := newTestPipeline(t, nil)

	first, err := p.QueueIngestJob("resubmit-1", "house_recipes.txt", "restaurant_recipes", "bistro")
	require.NoError(t, err)
	assert.Equal(t, "resubmit-1", first.IngestID)

	// Finish the job, then re-submit the same ingest id.
	finished := time.Now()
	require.NoError(t, db.Model(&models.IngestJob{}).Where("id = ?", first.ID).Updates(map[string]interface{}{
		"status":         string(models.IngestStatusDone),
		"promoted_count": 3,
		"finished_at":    &finished,
	}).Error)

	second, err := p.QueueIngestJob("resubmit-1", "house_recipes_v2.txt", "restaurant_recipes", "bistro")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, string(models.IngestStatusQueued), second.Status)
	assert.Equal(t, "house_recipes_v2.txt", second.SourceFilename)
	assert.Zero(t, second.PromotedCount)
	assert.Nil(t, second.FinishedAt)

	var count int
	require.NoError(t, db.Model(&models.IngestJob{}).Count(&count).Error)
	assert.Equal(t, 1, count)
}

func TestProcessIngestJobMissingFile(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	job, err := p.QueueIngestJob("", "missing.txt", "restaurant_recipes", "")
	require.NoError(t, err)

	p.ProcessIngestJobs(context.Background(), 1)

	got, err := p.GetIngestJob(job.IngestID)
	require.NoError(t, err)
	assert.Equal(t, string(models.IngestStatusFailed), got.Status)
	assert.Contains(t, got.Error, "file_missing")
}

func TestDraftOverrides(t *testing.T) {
	p, db := newTestPipeline(t, nil)

	draft := models.Draft{
		SourceID:      "ingest-1",
		Name:          "Marinara Sauce",
		RawText:       sampleRecipeText,
		Method:        "Simmer everything.",
		Confidence:    0.70,
		Status:        string(models.DraftStatusEnriched),
		KnowledgeTier: knowledge.TierRecipeOps,
	}
	require.NoError(t, draft.SetIngredients([]models.DraftIngredient{{ItemNameText: "tomatoes"}}))
	require.NoError(t, db.Create(&draft).Error)

	// Approval bypasses the confidence threshold but not the tier gate.
	recipe, err := p.ApproveDraft(draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "Marinara Sauce", recipe.Name)

	require.NoError(t, db.First(&draft, draft.ID).Error)
	assert.Equal(t, string(models.DraftStatusPromoted), draft.Status)

	reference := models.Draft{
		Name:          "Science Notes",
		Status:        string(models.DraftStatusEnriched),
		KnowledgeTier: knowledge.TierReferenceTheory,
	}
	require.NoError(t, db.Create(&reference).Error)
	_, err = p.ApproveDraft(reference.ID)
	assert.Error(t, err)

	held := models.Draft{Name: "Hold Me", Status: string(models.DraftStatusEnriched)}
	require.NoError(t, db.Create(&held).Error)
	require.NoError(t, p.HoldDraft(held.ID, "needs a second look"))
	require.NoError(t, db.First(&held, held.ID).Error)
	assert.Equal(t, string(models.DraftStatusPending), held.Status)
	assert.True(t, strings.HasPrefix(held.RejectionReason, "hold: "))

	require.NoError(t, p.RejectDraft(held.ID, "duplicate of an existing recipe"))
	require.NoError(t, db.First(&held, held.ID).Error)
	assert.Equal(t, string(models.DraftStatusRejected), held.Status)
}

func TestAutoGeneratePrepList(t *testing.T) {
	p, db := newTestPipeline(t, nil)

	par := 8.0
	require.NoError(t, db.Create(&models.Recipe{
		Name: "Marinara Sauce", IsActive: true, ParLevel: &par, YieldUnit: "quart", Station: "saute",
	}).Error)

	generated := p.AutoGeneratePrepList()
	assert.Equal(t, 1, generated)

	var task models.PrepTask
	require.NoError(t, db.First(&task).Error)
	assert.Equal(t, "autonomy", task.LastUpdateBy)
	assert.Equal(t, "ml", task.Unit)
	assert.InDelta(t, 8*946.352946, task.NeedQuantity, 0.01)

	// Open items block regeneration.
	assert.Zero(t, p.AutoGeneratePrepList())

	snapshot := p.BehindServiceSnapshot()
	assert.Equal(t, 1, snapshot.OpenItems)
	assert.Equal(t, 1, snapshot.Stations)
}

func TestWorkerSingletonLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autonomy.singleton.lock")
	first := newSingletonLock(path)
	require.True(t, first.TryAcquire())
	// Re-acquiring in the same holder is idempotent.
	require.True(t, first.TryAcquire())
	first.Release()
	second := newSingletonLock(path)
	require.True(t, second.TryAcquire())
	second.Release()
}

func TestWorkerTickRunsHousekeeping(t *testing.T) {
	p, db := newTestPipeline(t, nil)
	par := 3.0
	require.NoError(t, db.Create(&models.Recipe{
		Name: "Stock", IsActive: true, ParLevel: &par, YieldUnit: "l", Station: "prep",
		Method: "Simmer bones.",
	}).Error)

	w := NewWorker(p)
	w.RunBackgroundTick(context.Background())

	var tasks int
	require.NoError(t, db.Model(&models.PrepTask{}).Count(&tasks).Error)
	assert.Equal(t, 1, tasks)

	status, err := p.Snapshot()
	require.NoError(t, err)
	require.NotNil(t, status.LastTickAt)

	var autogenLogs int
	require.NoError(t, db.Model(&models.ActionLog{}).
		Where("action = ?", "prep_list_autogen").Count(&autogenLogs).Error)
	assert.Equal(t, 1, autogenLogs)
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Send(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

func TestAlertIfRequiredThrottlesRepeatKey(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	cfg := testConfig(t)
	cfg.Alerts = true
	p := New(db, knowledge.NewSQLIndex(db, ""), nil, nil, notifier, nil, cfg)

	p.AlertIfRequired(context.Background(), "walkin_temp", "Walk-in temp high.", 30*time.Minute)
	p.AlertIfRequired(context.Background(), "walkin_temp", "Walk-in temp high.", 30*time.Minute)
	assert.Len(t, notifier.messages, 1)

	// A different key is its own throttle bucket.
	p.AlertIfRequired(context.Background(), "lowboy_temp", "Lowboy temp high.", 30*time.Minute)
	assert.Len(t, notifier.messages, 2)

	var logged int
	require.NoError(t, db.Model(&models.ActionLog{}).
		Where("action = ? AND target_id = ?", "alert_sent", "walkin_temp").Count(&logged).Error)
	assert.Equal(t, 1, logged)
}

func TestDispatchCutoffRemindersSendsOnce(t *testing.T) {
	db := newTestDB(t)
	notifier := &recordingNotifier{}
	p := New(db, knowledge.NewSQLIndex(db, ""), nil, nil, notifier, nil, testConfig(t))

	cutoff := time.Now().Add(12 * time.Minute)
	if cutoff.Day() != time.Now().Day() {
		t.Skip("cutoff would cross midnight")
	}
	vendor := models.Vendor{Name: "Valley Produce", CutoffTime: cutoff.Format("15:04")}
	require.NoError(t, db.Create(&vendor).Error)
	require.NoError(t, db.Create(&models.PendingOrderLine{
		VendorID: &vendor.ID, ItemName: "onions", Status: string(models.OrderLineStatusPending),
	}).Error)

	w := NewWorker(p)
	w.SetReminderSchedule([]int{60, 15}, nil)

	w.dispatchCutoffReminders(context.Background())
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "Valley Produce")
	assert.Contains(t, notifier.messages[0], "15m")

	w.dispatchCutoffReminders(context.Background())
	assert.Len(t, notifier.messages, 1)

	var sent int
	require.NoError(t, db.Model(&models.VendorCutoffReminder{}).Count(&sent).Error)
	assert.Equal(t, 1, sent)
}
