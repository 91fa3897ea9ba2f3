package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"

	"prepbrain/internal/database"
	"prepbrain/internal/models"
)

// Document is the input to indexing: extracted text plus metadata.
type Document struct {
	IngestID      string
	SourceName    string
	Title         string
	SourceType    string
	KnowledgeTier string
	RestaurantTag string
	Summary       string
	Text          string
	FilePath      string
}

// Hit is one search result.
type Hit struct {
	SourceName    string  `json:"source_name"`
	KnowledgeTier string  `json:"knowledge_tier"`
	Heading       string  `json:"heading"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
}

// Index stores document chunks and answers tier-scoped keyword queries.
type Index interface {
	AddDocument(doc Document) (*models.DocSource, error)
	Search(query string, tiers []string, limit int) ([]Hit, error)
	SourceChunks(sourceName string, limit int) ([]models.DocChunk, error)
	ListSources() ([]models.DocSource, error)
	DeleteSource(sourceName string) error
}

// SQLIndex keeps sources and chunks in the relational store and scores
// queries by token overlap. It favors operational durability over recall:
// everything lives in the same database the rest of the system uses.
type SQLIndex struct {
	db         *gorm.DB
	chunker    *Chunker
	reportsDir string
}

func NewSQLIndex(db *gorm.DB, reportsDir string) *SQLIndex {
	return &SQLIndex{db: db, chunker: NewChunker(), reportsDir: reportsDir}
}

// AddDocument chunks and stores the document. Re-adding the same source name
// or ingest id replaces the previous copy, so re-running an interrupted
// ingest is safe.
func (ix *SQLIndex) AddDocument(doc Document) (*models.DocSource, error) {
	if strings.TrimSpace(doc.SourceName) == "" {
		return nil, fmt.Errorf("source name is required")
	}
	tier := NormalizeTier(doc.KnowledgeTier)
	if tier == "" {
		tier = InferTier(doc.SourceType, doc.Title, doc.SourceName, doc.Summary)
	}

	chunks := ix.chunker.Split(doc.Text)

	source := models.DocSource{
		IngestID:           doc.IngestID,
		SourceName:         doc.SourceName,
		Title:              doc.Title,
		SourceType:         MapSourceType(doc.SourceType, tier),
		KnowledgeTier:      tier,
		RestaurantTag:      doc.RestaurantTag,
		Summary:            doc.Summary,
		Status:             "indexed",
		FileSize:           int64(len(doc.Text)),
		ExtractedTextChars: len(doc.Text),
		ChunkCount:         len(chunks),
	}
	if doc.FilePath != "" {
		if sum, size, err := hashFile(doc.FilePath); err == nil {
			source.FileSHA256 = sum
			source.FileSize = size
		}
	}
	if source.IngestID == "" {
		source.IngestID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}

	err := database.WithRetry(func() error {
		tx := ix.db.Begin()
		if tx.Error != nil {
			return tx.Error
		}
		// Replaced rows are removed outright. A soft delete would keep the
		// unique ingest id occupied and block the insert below.
		var stale []models.DocSource
		if err := tx.Unscoped().
			Where("source_name = ? OR ingest_id = ?", doc.SourceName, source.IngestID).
			Find(&stale).Error; err != nil {
			tx.Rollback()
			return err
		}
		staleNames := []string{doc.SourceName}
		for _, s := range stale {
			if s.SourceName != doc.SourceName {
				staleNames = append(staleNames, s.SourceName)
			}
		}
		if err := tx.Unscoped().Where("source_name IN (?)", staleNames).Delete(&models.DocChunk{}).Error; err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Unscoped().
			Where("source_name = ? OR ingest_id = ?", doc.SourceName, source.IngestID).
			Delete(&models.DocSource{}).Error; err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Create(&source).Error; err != nil {
			tx.Rollback()
			return err
		}
		for i, chunk := range chunks {
			rec := models.DocChunk{
				SourceName: doc.SourceName,
				ChunkID:    i,
				Heading:    chunk.Heading,
				Text:       chunk.Text,
			}
			if err := tx.Create(&rec).Error; err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit().Error
	})
	if err != nil {
		return nil, err
	}

	ix.writeIngestReport(&source, len(chunks))
	return &source, nil
}

// Search returns the best-scoring chunks whose source tier is in tiers. An
// empty tier list searches everything.
func (ix *SQLIndex) Search(query string, tiers []string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 5
	}
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	q := ix.db.Model(&models.DocSource{})
	if len(tiers) > 0 {
		normalized := make([]string, 0, len(tiers))
		for _, t := range tiers {
			if nt := NormalizeTier(t); nt != "" {
				normalized = append(normalized, nt)
			}
		}
		if len(normalized) == 0 {
			return nil, nil
		}
		q = q.Where("knowledge_tier in (?)", normalized)
	}
	var sources []models.DocSource
	if err := q.Find(&sources).Error; err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, nil
	}

	tierBySource := map[string]string{}
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		tierBySource[s.SourceName] = s.KnowledgeTier
		names = append(names, s.SourceName)
	}

	var chunks []models.DocChunk
	if err := ix.db.Where("source_name in (?)", names).Find(&chunks).Error; err != nil {
		return nil, err
	}

	var hits []Hit
	for _, chunk := range chunks {
		score := scoreChunk(tokens, chunk.Heading+" "+chunk.Text)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{
			SourceName:    chunk.SourceName,
			KnowledgeTier: tierBySource[chunk.SourceName],
			Heading:       chunk.Heading,
			Text:          chunk.Text,
			Score:         score,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SourceChunks returns up to limit chunks for one source, in index order.
func (ix *SQLIndex) SourceChunks(sourceName string, limit int) ([]models.DocChunk, error) {
	var chunks []models.DocChunk
	q := ix.db.Where("source_name = ?", sourceName).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (ix *SQLIndex) ListSources() ([]models.DocSource, error) {
	var sources []models.DocSource
	if err := ix.db.Order("source_name asc").Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

func (ix *SQLIndex) DeleteSource(sourceName string) error {
	return database.WithRetry(func() error {
		if err := ix.db.Unscoped().Where("source_name = ?", sourceName).Delete(&models.DocChunk{}).Error; err != nil {
			return err
		}
		return ix.db.Unscoped().Where("source_name = ?", sourceName).Delete(&models.DocSource{}).Error
	})
}

func scoreChunk(tokens []string, text string) float64 {
	lowered := strings.ToLower(text)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(lowered, tok) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

func queryTokens(query string) []string {
	var tokens []string
	for _, tok := range strings.Fields(strings.ToLower(query)) {
		tok = strings.Trim(tok, ".,;:!?'\"()")
		if len(tok) >= 3 {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

type ingestReport struct {
	SourceName    string    `json:"source_name"`
	IngestID      string    `json:"ingest_id"`
	KnowledgeTier string    `json:"knowledge_tier"`
	SourceType    string    `json:"source_type"`
	TextChars     int       `json:"text_chars"`
	ChunkCount    int       `json:"chunk_count"`
	IndexedAt     time.Time `json:"indexed_at"`
}

func (ix *SQLIndex) writeIngestReport(source *models.DocSource, chunkCount int) {
	if ix.reportsDir == "" {
		return
	}
	if err := os.MkdirAll(ix.reportsDir, 0o755); err != nil {
		return
	}
	report := ingestReport{
		SourceName:    source.SourceName,
		IngestID:      source.IngestID,
		KnowledgeTier: source.KnowledgeTier,
		SourceType:    source.SourceType,
		TextChars:     source.ExtractedTextChars,
		ChunkCount:    chunkCount,
		IndexedAt:     time.Now(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	name := fmt.Sprintf("%s_%s.json", sanitizeFilename(source.SourceName), time.Now().Format("20060102T150405"))
	_ = os.WriteFile(filepath.Join(ix.reportsDir, name), data, 0o644)
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
