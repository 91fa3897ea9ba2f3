package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prepbrain/internal/config"
	"prepbrain/internal/knowledge"
	"prepbrain/internal/lexicon"
	"prepbrain/internal/models"
	"prepbrain/internal/ordering"
	"prepbrain/internal/pipeline"
	"prepbrain/internal/units"
)

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	db, err := gorm.Open("sqlite3", filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...).Error)
	t.Cleanup(func() { db.Close() })

	index := knowledge.NewSQLIndex(db, filepath.Join(dir, "reports"))
	cfg := config.AutonomyConfig{
		Alerts:                  false,
		AutoPromoteThreshold:    0.75,
		EnrichMinConfidence:     0.60,
		EnrichAttemptBandMax:    0.74,
		DraftScanLimit:          10,
		MaxSourceChunksPerDraft: 12,
		MinSourceCharsForDraft:  300,
		JobBatchSize:            2,
		AlertCooldown:           3 * time.Hour,
		DocumentsDir:            dir,
		LockPath:                filepath.Join(dir, "worker.lock"),
	}
	pipe := pipeline.New(db, index, nil, nil, nil, zap.NewNop(), cfg)

	lex := lexicon.New()
	parser := ordering.NewParser(units.NewNormalizer(lex), lex, nil)
	server := New(db, pipe, parser, ordering.NewRouter(db), index, zap.NewNop())
	return server, db
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestQueueAndFetchIngestJob(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/ingest", gin.H{
		"source_filename": "house_recipes.md",
		"source_type":     "restaurant_recipes",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	ingestID, _ := body["IngestID"].(string)
	require.Len(t, ingestID, 32)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/ingest/jobs/"+ingestID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", decodeBody(t, rec)["Status"])

	rec = doJSON(t, server, http.MethodGet, "/api/v1/ingest/jobs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["jobs"], 1)
}

func TestQueueIngestResubmitUpserts(t *testing.T) {
	server, db := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := doJSON(t, server, http.MethodPost, "/api/v1/ingest", gin.H{
			"ingest_id":       "resubmit-1",
			"source_filename": "house_recipes.md",
			"source_type":     "restaurant_recipes",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	var count int
	require.NoError(t, db.Model(&models.IngestJob{}).Count(&count).Error)
	assert.Equal(t, 1, count)
}

func TestQueueIngestRequiresFilename(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodPost, "/api/v1/ingest", gin.H{"source_type": "restaurant_recipes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDraftOverrideEndpoints(t *testing.T) {
	server, db := newTestServer(t)

	draft := models.Draft{
		SourceID:      "src1",
		Name:          "Test Stock",
		Status:        string(models.DraftStatusEnriched),
		Confidence:    0.8,
		KnowledgeTier: knowledge.TierRecipeOps,
	}
	require.NoError(t, db.Create(&draft).Error)

	rec := doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/v1/drafts/%d", draft.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/v1/drafts/%d/hold", draft.ID), gin.H{"reason": "needs chef review"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var held models.Draft
	require.NoError(t, db.First(&held, draft.ID).Error)
	assert.Equal(t, string(models.DraftStatusPending), held.Status)
	assert.Equal(t, "hold: needs chef review", held.RejectionReason)

	rec = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/v1/drafts/%d/reject", draft.ID), gin.H{"reason": "duplicate"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodPost, "/api/v1/drafts/99999/reject", gin.H{"reason": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditDraftAndIngredients(t *testing.T) {
	server, db := newTestServer(t)

	draft := models.Draft{
		SourceID:      "src1",
		Name:          "Veloute",
		Status:        string(models.DraftStatusEnriched),
		Confidence:    0.8,
		KnowledgeTier: knowledge.TierRecipeOps,
	}
	require.NoError(t, db.Create(&draft).Error)

	rec := doJSON(t, server, http.MethodPatch, fmt.Sprintf("/api/v1/drafts/%d", draft.ID), gin.H{
		"name":    "Chicken Veloute",
		"station": "saucier",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Chicken Veloute", body["Name"])
	assert.Equal(t, "saucier", body["Station"])

	rec = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/v1/drafts/%d/ingredients", draft.ID), gin.H{
		"item_name_text": "chicken stock",
		"quantity":       2.0,
		"unit":           "l",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.Draft
	require.NoError(t, db.First(&updated, draft.ID).Error)
	ingredients, err := updated.GetIngredients()
	require.NoError(t, err)
	require.Len(t, ingredients, 1)
	assert.Equal(t, "chicken stock", ingredients[0].ItemNameText)

	rec = doJSON(t, server, http.MethodDelete, fmt.Sprintf("/api/v1/drafts/%d/ingredients/0", draft.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodDelete, fmt.Sprintf("/api/v1/drafts/%d/ingredients/5", draft.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/v1/drafts/%d/ingredients", draft.ID), gin.H{"notes": "no name"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApproveDraftMissingFieldsConflicts(t *testing.T) {
	server, db := newTestServer(t)

	draft := models.Draft{
		SourceID:      "src1",
		Name:          "Bare Draft",
		Status:        string(models.DraftStatusEnriched),
		Confidence:    0.8,
		KnowledgeTier: knowledge.TierRecipeOps,
	}
	require.NoError(t, db.Create(&draft).Error)

	rec := doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/v1/drafts/%d/approve", draft.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouteOrderEndToEnd(t *testing.T) {
	server, db := newTestServer(t)

	vendor := models.Vendor{Name: "Valley Produce", Email: "orders@valley.test"}
	require.NoError(t, db.Create(&vendor).Error)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/orders", gin.H{
		"text":            "add 50# onions",
		"conversation_id": 77,
		"added_by":        "chef",
		"vendor_id":       vendor.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])

	rec = doJSON(t, server, http.MethodGet, "/api/v1/orders/pending", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["pending"], 1)

	rec = doJSON(t, server, http.MethodGet, fmt.Sprintf("/api/v1/vendors/%d/email-draft", vendor.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	draft := decodeBody(t, rec)
	assert.Equal(t, "Valley Produce", draft["vendor_name"])
	assert.Len(t, draft["items"], 1)

	rec = doJSON(t, server, http.MethodPost, fmt.Sprintf("/api/v1/vendors/%d/ordered", vendor.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/orders/pending", nil)
	assert.Len(t, decodeBody(t, rec)["pending"], 0)
}

func TestRouteOrderNeedsVendor(t *testing.T) {
	server, db := newTestServer(t)
	require.NoError(t, db.Create(&models.Vendor{Name: "A"}).Error)
	require.NoError(t, db.Create(&models.Vendor{Name: "B"}).Error)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/orders", gin.H{
		"text":            "add 50# onions",
		"conversation_id": 12,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["needs_vendor"])
}

func TestRouteOrderUnparseable(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodPost, "/api/v1/orders", gin.H{"text": "tell me a story"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRecordPurchaseNormalizesItem(t *testing.T) {
	server, db := newTestServer(t)
	vendor := models.Vendor{Name: "Valley Produce"}
	require.NoError(t, db.Create(&vendor).Error)

	rec := doJSON(t, server, http.MethodPost, "/api/v1/orders/purchase", gin.H{
		"item_name": "Yellow Onions",
		"vendor_id": vendor.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "yellow onion", decodeBody(t, rec)["item_name"])

	var affinity models.VendorItemAffinity
	require.NoError(t, db.Where("normalized_item_name = ?", "yellow onion").First(&affinity).Error)
	assert.Equal(t, vendor.ID, affinity.VendorID)
}

func TestSearchKnowledge(t *testing.T) {
	server, db := newTestServer(t)
	index := knowledge.NewSQLIndex(db, t.TempDir())
	_, err := index.AddDocument(knowledge.Document{
		IngestID:      "abc123",
		SourceName:    "marinara.md",
		Title:         "Marinara Sauce",
		SourceType:    "restaurant_recipes",
		KnowledgeTier: knowledge.TierRecipeOps,
		Text:          "## Marinara\n\nSimmer tomatoes with garlic and basil until reduced.",
	})
	require.NoError(t, err)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/knowledge/search?q=tomatoes+garlic", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hits, _ := decodeBody(t, rec)["hits"].([]interface{})
	require.NotEmpty(t, hits)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/knowledge/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveName(t *testing.T) {
	server, db := newTestServer(t)
	require.NoError(t, db.Create(&models.Recipe{Name: "Marinara Sauce", IsActive: true}).Error)

	rec := doJSON(t, server, http.MethodGet, "/api/v1/resolve?q=marinara&type=recipe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "resolved", body["status"])

	rec = doJSON(t, server, http.MethodGet, "/api/v1/resolve?q=marinara&type=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/api/v1/resolve?type=recipe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpointEmptyDB(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeBody(t, rec)["status"])
}

func TestPrepSnapshotEmpty(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/api/v1/prep/snapshot", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["open_items"])
}
