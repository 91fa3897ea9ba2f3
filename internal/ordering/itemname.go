package ordering

import (
	"regexp"
	"strings"
)

var itemCleanRe = regexp.MustCompile(`[^a-z0-9 ]+`)

var unitStopTokens = map[string]bool{
	"lb": true, "lbs": true, "kg": true, "g": true, "oz": true,
	"case": true, "cs": true, "ea": true, "ct": true, "doz": true,
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeItemName folds item text into the matching key used by affinity
// rows and invoice lines: lowercase, punctuation and unit tokens stripped,
// plurals reduced.
func NormalizeItemName(text string) string {
	value := itemCleanRe.ReplaceAllString(strings.ToLower(text), " ")
	var tokens []string
	for _, token := range strings.Fields(value) {
		if unitStopTokens[token] || isDigits(token) {
			continue
		}
		if len(token) > 4 && strings.HasSuffix(token, "es") {
			token = token[:len(token)-2]
		} else if len(token) > 3 && strings.HasSuffix(token, "s") {
			token = token[:len(token)-1]
		}
		tokens = append(tokens, token)
	}
	return strings.Join(tokens, " ")
}
