// Package research performs rate-limited, allowlisted web lookups to
// estimate market prices for inventory items. Estimates are stored as a
// conservative range and never overwrite vendor-confirmed costs.
package research

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const userAgent = "Mozilla/5.0 (compatible; PrepBrainResearchBot/1.0; +https://example.invalid/prep-brain)"

const (
	minPriceValue = 0.05
	maxPriceValue = 10000.0
)

var (
	resultAnchorRe  = regexp.MustCompile(`(?s)<a[^>]*class="[^"]*result__a[^"]*"[^>]*href="([^"]+)"[^>]*>(.*?)</a>`)
	resultSnippetRe = regexp.MustCompile(`(?s)class="[^"]*result__snippet[^"]*"[^>]*>(.*?)</(?:a|div|span)>`)
	tagRe           = regexp.MustCompile(`<[^>]+>`)
	scriptStyleRe   = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(?:script|style|noscript)>`)
	priceRe         = regexp.MustCompile(`\$\s?(\d{1,4}(?:,\d{3})*(?:\.\d{1,2})?)`)
)

// SearchResult is one search hit, optionally with fetched page text.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
	Text    string
	Domain  string
}

// PriceEstimate is a conservative market price band for one item.
type PriceEstimate struct {
	ItemName   string
	LowPrice   float64
	HighPrice  float64
	Unit       string
	SourceURLs []string
	Tier       string
}

// Client runs allowlisted, rate-limited searches. A disabled client returns
// no results rather than an error.
type Client struct {
	enabled         bool
	rateLimitRPS    float64
	maxPagesPerTask int
	allowedDomains  []string
	http            *resty.Client
	logger          *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

func New(enabled bool, rateLimitRPS float64, maxPagesPerTask int, allowedDomains []string, logger *zap.Logger) *Client {
	if rateLimitRPS < 0.05 {
		rateLimitRPS = 0.05
	}
	if maxPagesPerTask < 1 {
		maxPagesPerTask = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaned := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			cleaned = append(cleaned, d)
		}
	}
	return &Client{
		enabled:         enabled,
		rateLimitRPS:    rateLimitRPS,
		maxPagesPerTask: maxPagesPerTask,
		allowedDomains:  cleaned,
		http: resty.New().
			SetHeader("User-Agent", userAgent).
			SetTimeout(12 * time.Second),
		logger: logger,
	}
}

func (c *Client) Enabled() bool { return c != nil && c.enabled }

func (c *Client) waitForRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	minInterval := time.Duration(float64(time.Second) / c.rateLimitRPS)
	if elapsed := time.Since(c.lastRequest); elapsed < minInterval {
		time.Sleep(minInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

// NormalizeURL unwraps DuckDuckGo redirect links to their target.
func NormalizeURL(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ""
	}
	// Protocol-relative links from the HTML endpoint.
	if strings.HasPrefix(candidate, "//") {
		candidate = "https:" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return candidate
	}
	if strings.Contains(parsed.Host, "duckduckgo.com") && strings.HasPrefix(parsed.Path, "/l/") {
		if target := parsed.Query().Get("uddg"); target != "" {
			if unescaped, err := url.QueryUnescape(target); err == nil {
				return unescaped
			}
			return target
		}
	}
	return candidate
}

// DomainAllowed reports whether the URL's host is in the allowlist. An empty
// allowlist allows everything.
func DomainAllowed(rawURL string, allowedDomains []string) bool {
	if len(allowedDomains) == 0 {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return false
	}
	for _, domain := range allowedDomains {
		d := strings.ToLower(strings.TrimSpace(domain))
		if d == "" {
			continue
		}
		if hostname == d || strings.HasSuffix(hostname, "."+d) {
			return true
		}
	}
	return false
}

func stripTags(fragment string) string {
	text := tagRe.ReplaceAllString(fragment, " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#x27;", "'")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.Join(strings.Fields(text), " ")
}

// ParseSearchHTML extracts results from a DuckDuckGo HTML response.
func ParseSearchHTML(body string, allowedDomains []string, maxResults int) []SearchResult {
	var results []SearchResult
	anchors := resultAnchorRe.FindAllStringSubmatch(body, -1)
	snippets := resultSnippetRe.FindAllStringSubmatch(body, -1)

	for i, anchor := range anchors {
		href := NormalizeURL(anchor[1])
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			continue
		}
		if !DomainAllowed(href, allowedDomains) {
			continue
		}
		snippet := ""
		if i < len(snippets) {
			snippet = stripTags(snippets[i][1])
			if len(snippet) > 600 {
				snippet = snippet[:600]
			}
		}
		parsed, _ := url.Parse(href)
		domain := ""
		if parsed != nil {
			domain = strings.ToLower(parsed.Hostname())
		}
		results = append(results, SearchResult{
			Title:   stripTags(anchor[2]),
			URL:     href,
			Snippet: snippet,
			Domain:  domain,
		})
		if len(results) >= maxResults {
			break
		}
	}
	return results
}

// Search queries DuckDuckGo's HTML endpoint.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if !c.Enabled() {
		return nil, nil
	}
	c.waitForRateLimit()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		Get("https://duckduckgo.com/html/")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("search status %d", resp.StatusCode())
	}
	return ParseSearchHTML(resp.String(), c.allowedDomains, maxResults), nil
}

// FetchPageText retrieves a page and reduces it to plain text.
func (c *Client) FetchPageText(ctx context.Context, pageURL string, maxChars int) (string, error) {
	c.waitForRateLimit()
	resp, err := c.http.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("fetch status %d", resp.StatusCode())
	}
	if !strings.Contains(strings.ToLower(resp.Header().Get("Content-Type")), "text/html") {
		return "", nil
	}
	body := scriptStyleRe.ReplaceAllString(resp.String(), " ")
	text := stripTags(body)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}

// Research searches and fetches page text for the top results.
func (c *Client) Research(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	results, err := c.Search(ctx, query, maxResults)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	if len(results) > c.maxPagesPerTask {
		results = results[:c.maxPagesPerTask]
	}
	for i := range results {
		text, err := c.FetchPageText(ctx, results[i].URL, 7000)
		if err != nil {
			c.logger.Debug("research fetch failed",
				zap.String("url", results[i].URL), zap.Error(err))
			continue
		}
		results[i].Text = text
	}
	return results, nil
}

// ExtractPriceRange derives a conservative price band from source text. With
// several observed values it takes the 25th to 75th percentile; with one it
// widens the single value by fifteen percent each way.
func ExtractPriceRange(itemName, unit string, sources []SearchResult) *PriceEstimate {
	if len(sources) == 0 {
		return nil
	}

	var values []float64
	for _, source := range sources {
		text := source.Text
		if len(text) > 2000 {
			text = text[:2000]
		}
		haystack := source.Snippet + " " + text
		for _, match := range priceRe.FindAllStringSubmatch(haystack, -1) {
			value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
			if err != nil {
				continue
			}
			if value >= minPriceValue && value <= maxPriceValue {
				values = append(values, value)
			}
		}
	}
	if len(values) == 0 {
		return nil
	}
	sort.Float64s(values)

	var low, high float64
	if len(values) == 1 {
		low = values[0] * 0.85
		if low < 0.01 {
			low = 0.01
		}
		high = values[0] * 1.15
	} else {
		lowIdx := (len(values) - 1) * 25 / 100
		highIdx := (len(values) - 1) * 75 / 100
		low = values[lowIdx]
		high = values[highIdx]
		if high < low {
			low, high = high, low
		}
	}

	if unit = strings.TrimSpace(unit); unit == "" {
		unit = "unit"
	}
	urls := make([]string, 0, len(sources))
	for _, source := range sources {
		if source.URL != "" {
			urls = append(urls, source.URL)
		}
	}
	return &PriceEstimate{
		ItemName:   itemName,
		LowPrice:   round2(low),
		HighPrice:  round2(high),
		Unit:       unit,
		SourceURLs: urls,
		Tier:       "general_knowledge_web",
	}
}

// ResearchPriceEstimate runs the full search-fetch-extract flow for an item.
func (c *Client) ResearchPriceEstimate(ctx context.Context, itemName, unit string) (*PriceEstimate, error) {
	if !c.Enabled() {
		return nil, nil
	}
	unitLabel := unit
	if unitLabel == "" {
		unitLabel = "unit"
	}
	query := fmt.Sprintf("%s price per %s", itemName, unitLabel)
	maxResults := c.maxPagesPerTask * 2
	if maxResults < 6 {
		maxResults = 6
	}
	sources, err := c.Research(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	return ExtractPriceRange(itemName, unit, sources), nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
