package knowledge

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepbrain/internal/models"
)

func newTestIndex(t *testing.T) *SQLIndex {
	t.Helper()
	db, err := gorm.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...).Error)
	t.Cleanup(func() { db.Close() })
	return NewSQLIndex(db, "")
}

func TestNormalizeTier(t *testing.T) {
	assert.Equal(t, TierRecipeOps, NormalizeTier("tier1"))
	assert.Equal(t, TierRecipeOps, NormalizeTier(" Recipes "))
	assert.Equal(t, TierNotesSOPs, NormalizeTier("sops"))
	assert.Equal(t, TierReferenceTheory, NormalizeTier("book"))
	assert.Equal(t, "", NormalizeTier("whatever"))
}

func TestInferTierDefaultsToReference(t *testing.T) {
	assert.Equal(t, TierReferenceTheory, InferTier("", "Untitled Scan", "scan_004.pdf", ""))
}

func TestInferTierKeywordRouting(t *testing.T) {
	assert.Equal(t, TierReferenceTheory, InferTier("", "On Food and Cooking", "mcgee.pdf", ""))
	assert.Equal(t, TierNotesSOPs, InferTier("", "Saturday service notes", "notes.txt", ""))
	assert.Equal(t, TierRecipeOps, InferTier("", "Station prep recipes", "prep.pdf", ""))
	assert.Equal(t, TierRecipeOps, InferTier("recipes", "", "", ""))
}

func TestClassifyDocument(t *testing.T) {
	docType, tier := ClassifyDocument("Sysco order guide May", "sysco.pdf", "")
	assert.Equal(t, DocTypeVendorList, docType)
	assert.Equal(t, TierRecipeOps, tier)

	docType, tier = ClassifyDocument("", "random_upload.bin", "")
	assert.Equal(t, DocTypeUnknown, docType)
	assert.Equal(t, TierReferenceTheory, tier)
}

func TestChunkerGroupsByHeading(t *testing.T) {
	text := strings.Join([]string{
		"MARINARA SAUCE",
		"Sweat onions and garlic in olive oil until translucent and fragrant.",
		"Add crushed tomatoes, basil stems, and simmer for forty five minutes.",
		"",
		"HOLLANDAISE",
		"Reduce vinegar with shallot, whisk yolks over a bain marie until ribbon.",
		"Stream in clarified butter and season with lemon juice and cayenne.",
	}, "\n")

	chunks := NewChunker().Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "MARINARA SAUCE", chunks[0].Heading)
	assert.Contains(t, chunks[0].Text, "crushed tomatoes")
	assert.Equal(t, "HOLLANDAISE", chunks[1].Heading)
	assert.Contains(t, chunks[1].Text, "clarified butter")
}

func TestChunkerSplitsLongSections(t *testing.T) {
	var lines []string
	lines = append(lines, "BRAISED SHORT RIB")
	for i := 0; i < 60; i++ {
		lines = append(lines, "Season the short ribs generously and sear hard on every side.")
	}
	chunks := NewChunker().Split(strings.Join(lines, "\n"))
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, "BRAISED SHORT RIB", c.Heading)
	}
}

func TestIndexAddAndSearchByTier(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AddDocument(Document{
		IngestID:      "ing-1",
		SourceName:    "house_recipes",
		Title:         "House recipe book",
		KnowledgeTier: "tier1",
		Text:          "MARINARA\n2 lb tomatoes\n1 each onion\nSimmer until thick.",
	})
	require.NoError(t, err)

	_, err = ix.AddDocument(Document{
		IngestID:      "ing-2",
		SourceName:    "mcgee",
		Title:         "On Food and Cooking",
		KnowledgeTier: "tier3",
		Text:          "TOMATOES\nTomatoes contain glutamates that deepen during long cooking.",
	})
	require.NoError(t, err)

	hits, err := ix.Search("tomatoes simmer", []string{TierRecipeOps}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, "house_recipes", h.SourceName)
		assert.Equal(t, TierRecipeOps, h.KnowledgeTier)
	}

	hits, err = ix.Search("tomatoes", nil, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestIndexReAddReplacesSource(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AddDocument(Document{SourceName: "notes", KnowledgeTier: "tier2", Text: "SHIFT NOTES\nRan out of basil."})
	require.NoError(t, err)
	src, err := ix.AddDocument(Document{SourceName: "notes", KnowledgeTier: "tier2", Text: "SHIFT NOTES\nBasil restocked, lost the walk-in thermometer."})
	require.NoError(t, err)
	assert.Equal(t, 1, src.ChunkCount)

	sources, err := ix.ListSources()
	require.NoError(t, err)
	require.Len(t, sources, 1)

	hits, err := ix.Search("basil", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "restocked")
}

func TestIndexReindexSameIngestID(t *testing.T) {
	ix := newTestIndex(t)

	doc := Document{
		IngestID:      "ingest-1",
		SourceName:    "house_recipes.txt",
		KnowledgeTier: "tier1",
		Text:          "MARINARA\nSimmer tomatoes with garlic until thick.",
	}
	_, err := ix.AddDocument(doc)
	require.NoError(t, err)

	// An interrupted ingest job restarts from the top and indexes again
	// with the same ingest id.
	src, err := ix.AddDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, "ingest-1", src.IngestID)

	sources, err := ix.ListSources()
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "ingest-1", sources[0].IngestID)
}

func TestIndexAssignsIngestIDWhenAbsent(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AddDocument(Document{SourceName: "notes_a", KnowledgeTier: "tier2", Text: "NOTES\nFirst batch of notes."})
	require.NoError(t, err)
	_, err = ix.AddDocument(Document{SourceName: "notes_b", KnowledgeTier: "tier2", Text: "NOTES\nSecond batch of notes."})
	require.NoError(t, err)

	sources, err := ix.ListSources()
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.NotEmpty(t, sources[0].IngestID)
	assert.NotEmpty(t, sources[1].IngestID)
	assert.NotEqual(t, sources[0].IngestID, sources[1].IngestID)
}

func TestIndexDeleteSource(t *testing.T) {
	ix := newTestIndex(t)

	_, err := ix.AddDocument(Document{IngestID: "ing-del", SourceName: "notes", KnowledgeTier: "tier2", Text: "SHIFT NOTES\nRan out of basil."})
	require.NoError(t, err)
	require.NoError(t, ix.DeleteSource("notes"))

	sources, err := ix.ListSources()
	require.NoError(t, err)
	assert.Empty(t, sources)

	// The ingest id is free again after deletion.
	_, err = ix.AddDocument(Document{IngestID: "ing-del", SourceName: "notes", KnowledgeTier: "tier2", Text: "SHIFT NOTES\nBasil restocked."})
	require.NoError(t, err)
}
