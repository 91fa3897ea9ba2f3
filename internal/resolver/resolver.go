// Package resolver maps free-text names from chat and documents onto stored
// records. Matching is conservative: a low-confidence or closely contested
// best match is reported as such instead of being silently accepted.
package resolver

import (
	"sort"
	"strings"

	"github.com/jinzhu/gorm"

	"prepbrain/internal/models"
)

const (
	// MinConfidence is the floor below which the best match is rejected.
	MinConfidence = 0.62
	// AmbiguityDelta is the minimum lead the best match needs over the
	// runner-up.
	AmbiguityDelta = 0.08

	defaultMaxResults = 5
)

// Match statuses.
const (
	StatusResolved  = "resolved"
	StatusAmbiguous = "ambiguous"
	StatusNoMatch   = "no_match"
)

// Match is one scored candidate.
type Match struct {
	EntityType string  `json:"entity_type"`
	ID         uint    `json:"id"`
	Name       string  `json:"name"`
	Score      float64 `json:"score"`
}

// Result is the outcome of resolving one query.
type Result struct {
	Query     string  `json:"query"`
	Matches   []Match `json:"matches"`
	Best      *Match  `json:"best"`
	Status    string  `json:"status"`
	Ambiguous bool    `json:"ambiguous"`
}

type Resolver struct {
	db         *gorm.DB
	maxResults int
}

func New(db *gorm.DB) *Resolver {
	return &Resolver{db: db, maxResults: defaultMaxResults}
}

func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ScoreName scores candidate against query in [0, 1]. An exact normalized
// match scores 1.0, a substring match 0.92, otherwise the better of the
// character-level similarity ratio and the query token overlap.
func ScoreName(query, candidate string) float64 {
	q := normalize(query)
	c := normalize(candidate)
	if q == "" || c == "" {
		return 0.0
	}
	if q == c {
		return 1.0
	}
	if strings.Contains(c, q) {
		return 0.92
	}

	ratio := similarityRatio(q, c)

	qTokens := tokenSet(q)
	cTokens := tokenSet(c)
	overlap := 0.0
	if len(qTokens) > 0 {
		shared := 0
		for tok := range qTokens {
			if cTokens[tok] {
				shared++
			}
		}
		overlap = float64(shared) / float64(len(qTokens))
	}

	if overlap > ratio {
		return overlap
	}
	return ratio
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// similarityRatio is the Ratcliff/Obershelp ratio: twice the total length of
// matching blocks over the combined length of both strings.
func similarityRatio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 0.0
	}
	matched := matchingChars([]byte(a), []byte(b))
	return 2.0 * float64(matched) / float64(len(a)+len(b))
}

func matchingChars(a, b []byte) int {
	i, j, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingChars(a[:i], b[:j])
	total += matchingChars(a[i+size:], b[j+size:])
	return total
}

func longestCommonBlock(a, b []byte) (int, int, int) {
	bestI, bestJ, bestSize := 0, 0, 0
	// lengths[j] holds the match length ending at a[i-1], b[j-1].
	lengths := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		prev := 0
		for j := 1; j <= len(b); j++ {
			cur := lengths[j]
			if a[i-1] == b[j-1] {
				lengths[j] = prev + 1
				if lengths[j] > bestSize {
					bestSize = lengths[j]
					bestI = i - bestSize
					bestJ = j - bestSize
				}
			} else {
				lengths[j] = 0
			}
			prev = cur
		}
	}
	return bestI, bestJ, bestSize
}

// ResolveRecipe scores the query against every active recipe.
func (r *Resolver) ResolveRecipe(query string) (*Result, error) {
	var recipes []models.Recipe
	err := r.db.Model(&models.Recipe{}).
		Select("id, name").
		Where("is_active = ?", true).
		Order("name asc").
		Find(&recipes).Error
	if err != nil {
		return nil, err
	}

	names := make([]namedRecord, 0, len(recipes))
	for _, rec := range recipes {
		names = append(names, namedRecord{id: rec.ID, name: rec.Name})
	}
	return r.resolve(query, "recipe", names), nil
}

// ResolveInventoryItem scores the query against every inventory item.
func (r *Resolver) ResolveInventoryItem(query string) (*Result, error) {
	var items []models.InventoryItem
	err := r.db.Model(&models.InventoryItem{}).
		Select("id, name").
		Order("name asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	names := make([]namedRecord, 0, len(items))
	for _, item := range items {
		names = append(names, namedRecord{id: item.ID, name: item.Name})
	}
	return r.resolve(query, "inventory_item", names), nil
}

type namedRecord struct {
	id   uint
	name string
}

func (r *Resolver) resolve(query, entityType string, records []namedRecord) *Result {
	scored := make([]Match, 0, len(records))
	for _, rec := range records {
		score := ScoreName(query, rec.name)
		if score <= 0.0 {
			continue
		}
		scored = append(scored, Match{
			EntityType: entityType,
			ID:         rec.id,
			Name:       rec.name,
			Score:      score,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > r.maxResults {
		scored = scored[:r.maxResults]
	}

	if len(scored) == 0 {
		return &Result{Query: query, Matches: []Match{}, Status: StatusNoMatch}
	}

	best := scored[0]
	ambiguous := false
	if best.Score < MinConfidence {
		ambiguous = true
	} else if len(scored) > 1 && best.Score-scored[1].Score < AmbiguityDelta {
		ambiguous = true
	}

	result := &Result{Query: query, Matches: scored, Ambiguous: ambiguous}
	switch {
	case ambiguous && best.Score < MinConfidence:
		result.Status = StatusNoMatch
	case ambiguous:
		result.Status = StatusAmbiguous
	default:
		result.Status = StatusResolved
		result.Best = &best
	}
	return result
}
