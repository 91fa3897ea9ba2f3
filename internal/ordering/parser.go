// Package ordering turns chat shorthand like "add 50# onions" into routed
// vendor order lines. Parsing is rules-first; the chat model is only a
// fallback and may never invent a quantity.
package ordering

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"prepbrain/internal/lexicon"
	"prepbrain/internal/llm"
	"prepbrain/internal/units"
)

var (
	orderHeadRe = regexp.MustCompile(`(?i)^(add|order|put)\s+(.+)$`)
	orderTrailRe = regexp.MustCompile(`(?i)\bon\s+the\s+order\b`)
	hasDigitRe   = regexp.MustCompile(`\d`)

	qtyFirstRe = regexp.MustCompile(
		`(?i)^(?P<qty>\d+(?:\.\d+)?)\s*(?P<unit>fl\s*oz|oz\s*fl|#|lb|lbs|kg|g|mg|ml|l|qt|pt|gal|oz|cs|case|cases|ea|each|pcs?|ct|doz)?\s+(?P<item>.+)$`)
	qtyLastRe = regexp.MustCompile(
		`(?i)^(?P<item>.+?)\s+(?P<qty>\d+(?:\.\d+)?)(?:\s+(?P<unit>fl\s*oz|oz\s*fl|#|lb|lbs|kg|g|mg|ml|l|qt|pt|gal|oz|cs|case|cases|ea|each|pcs?|ct|doz))?$`)
)

// ParsedOrder is one extracted order line, quantities already canonical.
type ParsedOrder struct {
	Quantity           float64
	Unit               string
	InputQuantity      float64
	InputUnit          string
	DisplayOriginal    string
	DisplayPretty      string
	ItemName           string
	NormalizedItemName string
	RawText            string
	Notes              string
	VendorHint         string
}

// Parser extracts order intent from free text.
type Parser struct {
	normalizer *units.Normalizer
	lex        *lexicon.Lexicon
	model      llm.ChatModel
}

func NewParser(normalizer *units.Normalizer, lex *lexicon.Lexicon, model llm.ChatModel) *Parser {
	if lex == nil {
		lex = lexicon.New()
	}
	return &Parser{normalizer: normalizer, lex: lex, model: model}
}

// IsOrderIntent reports whether text looks like an order request.
func IsOrderIntent(text string) bool {
	cleaned := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if cleaned == "" {
		return false
	}
	for _, prefix := range []string{"add ", "order ", "put "} {
		if strings.HasPrefix(cleaned, prefix) {
			return true
		}
	}
	return orderTrailRe.MatchString(cleaned) && hasDigitRe.MatchString(cleaned)
}

func normalizePayload(payload string) string {
	compact := strings.Join(strings.Fields(payload), " ")
	return strings.TrimSpace(orderTrailRe.ReplaceAllString(compact, ""))
}

func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	out := map[string]string{}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			out[name] = match[i]
		}
	}
	return out
}

func (p *Parser) parseRules(text, restaurantTag string) *ParsedOrder {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return nil
	}

	var payload string
	if head := orderHeadRe.FindStringSubmatch(cleaned); head != nil {
		payload = normalizePayload(head[2])
	} else if orderTrailRe.MatchString(cleaned) {
		payload = normalizePayload(cleaned)
	} else {
		return nil
	}

	re := qtyFirstRe
	match := re.FindStringSubmatch(payload)
	if match == nil {
		re = qtyLastRe
		match = re.FindStringSubmatch(payload)
	}
	if match == nil {
		return nil
	}
	groups := namedGroups(re, match)

	itemName := strings.Join(strings.Fields(groups["item"]), " ")
	qtyRaw := strings.TrimSpace(groups["qty"])
	unitRaw := strings.TrimSpace(groups["unit"])
	if itemName == "" || qtyRaw == "" || unitRaw == "" {
		return nil
	}
	qty, err := strconv.ParseFloat(qtyRaw, 64)
	if err != nil {
		return nil
	}

	displayOriginal := qtyRaw + " " + unitRaw
	if unitRaw == "#" {
		displayOriginal = qtyRaw + "#"
	}
	normalized, err := p.normalizer.Normalize(qty, unitRaw, displayOriginal, restaurantTag)
	if err != nil {
		return nil
	}
	return p.build(normalized, itemName, cleaned, "", "")
}

type llmOrderPayload struct {
	Action     string      `json:"action"`
	Item       string      `json:"item"`
	Qty        interface{} `json:"qty"`
	Unit       string      `json:"unit"`
	Notes      string      `json:"notes"`
	VendorHint string      `json:"vendor_hint"`
}

func (p *Parser) parseModel(ctx context.Context, text, restaurantTag string) *ParsedOrder {
	if p.model == nil {
		return nil
	}
	// Without a numeric quantity in the prompt the model would have to
	// invent one.
	if !hasDigitRe.MatchString(text) {
		return nil
	}

	aliasText := p.lex.ReplaceInText(text, restaurantTag)
	prompt := "Extract structured ordering intent. Return JSON only.\n" +
		`Schema: {"action":"add_to_order","item":"string","qty":"number","unit":"string","notes":"string|null","vendor_hint":"string|null"}` + "\n" +
		"Rules: never invent quantity; if unknown set null.\n" +
		"INPUT: " + aliasText

	response, err := p.model.Complete(ctx, prompt)
	if err != nil {
		return nil
	}
	raw, ok := llm.ExtractJSON(response)
	if !ok {
		return nil
	}
	var payload llmOrderPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}

	action := strings.ToLower(strings.TrimSpace(payload.Action))
	if action != "add_to_order" && action != "order" {
		return nil
	}
	itemName := strings.Join(strings.Fields(payload.Item), " ")
	unit := strings.TrimSpace(payload.Unit)
	qty, ok := numericValue(payload.Qty)
	if !ok || unit == "" || itemName == "" {
		return nil
	}

	normalized, err := p.normalizer.Normalize(qty, unit, formatQty(qty)+" "+unit, restaurantTag)
	if err != nil {
		return nil
	}
	return p.build(normalized, itemName, strings.Join(strings.Fields(text), " "),
		strings.TrimSpace(payload.Notes), strings.TrimSpace(payload.VendorHint))
}

func numericValue(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (p *Parser) build(n *units.Normalized, itemName, rawText, notes, vendorHint string) *ParsedOrder {
	return &ParsedOrder{
		Quantity:           n.CanonicalValue,
		Unit:               n.CanonicalUnit,
		InputQuantity:      n.InputQuantity,
		InputUnit:          n.NormalizedUnit,
		DisplayOriginal:    n.DisplayOriginal,
		DisplayPretty:      n.DisplayPretty,
		ItemName:           itemName,
		NormalizedItemName: NormalizeItemName(itemName),
		RawText:            rawText,
		Notes:              notes,
		VendorHint:         vendorHint,
	}
}

// Parse tries the rule grammar, then the chat model fallback.
func (p *Parser) Parse(ctx context.Context, text, restaurantTag string) *ParsedOrder {
	if parsed := p.parseRules(text, restaurantTag); parsed != nil {
		return parsed
	}
	return p.parseModel(ctx, text, restaurantTag)
}
