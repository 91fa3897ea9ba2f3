// Package lexicon resolves kitchen shorthand ("#", "cs", "86") into plain
// terms before unit or item lookup. Defaults are built in; a YAML file adds
// house-wide and per-restaurant overrides.
package lexicon

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var defaultGlobalAliases = map[string]string{
	"#":          "lb",
	"lbs":        "lb",
	"cs":         "case",
	"ea":         "each",
	"pcs":        "each",
	"qt":         "quart",
	"pt":         "pint",
	"gal":        "gallon",
	"lex":        "lexan",
	"hp":         "high priority",
	"86":         "out of stock",
	"par":        "par level",
	"on the fly": "rush",
}

type fileConfig struct {
	DefaultAliases map[string]string            `yaml:"default_aliases"`
	Restaurants    map[string]map[string]string `yaml:"restaurants"`
}

// Lexicon holds the alias tables for one deployment.
type Lexicon struct {
	defaults    map[string]string
	restaurants map[string]map[string]string
}

// New returns a lexicon with only the built-in aliases.
func New() *Lexicon {
	return &Lexicon{
		defaults:    map[string]string{},
		restaurants: map[string]map[string]string{},
	}
}

// SetRestaurantAliases replaces the alias overrides for one restaurant tag.
func (l *Lexicon) SetRestaurantAliases(tag string, aliases map[string]string) {
	clean := map[string]string{}
	for k, v := range aliases {
		clean[normalizeKey(k)] = v
	}
	l.restaurants[normalizeKey(tag)] = clean
}

// LoadFile reads override aliases from a YAML file. A missing file yields
// the built-in defaults only.
func LoadFile(path string) (*Lexicon, error) {
	lex := New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return lex, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	for k, v := range cfg.DefaultAliases {
		lex.defaults[normalizeKey(k)] = strings.TrimSpace(v)
	}
	for tag, overrides := range cfg.Restaurants {
		m := map[string]string{}
		for k, v := range overrides {
			m[normalizeKey(k)] = strings.TrimSpace(v)
		}
		lex.restaurants[strings.TrimSpace(tag)] = m
	}
	return lex, nil
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// AliasMap merges built-ins, configured defaults and the restaurant
// overrides for the given tag.
func (l *Lexicon) AliasMap(restaurantTag string) map[string]string {
	merged := make(map[string]string, len(defaultGlobalAliases)+len(l.defaults))
	for k, v := range defaultGlobalAliases {
		merged[k] = v
	}
	for k, v := range l.defaults {
		merged[k] = v
	}
	if restaurantTag != "" {
		for k, v := range l.restaurants[restaurantTag] {
			merged[k] = v
		}
	}
	return merged
}

// Resolve maps a single term through the alias table, returning the term
// unchanged when no alias exists.
func (l *Lexicon) Resolve(term, restaurantTag string) string {
	value := strings.TrimSpace(term)
	if value == "" {
		return ""
	}
	if out, ok := l.AliasMap(restaurantTag)[strings.ToLower(value)]; ok {
		return out
	}
	return value
}

var tokenPattern = regexp.MustCompile(`\b[\w#]+\b`)

// ReplaceInText rewrites every aliased token or phrase in free text. Phrase
// aliases apply first, longest first, so multi-word shorthand survives
// token substitution.
func (l *Lexicon) ReplaceInText(text, restaurantTag string) string {
	if text == "" {
		return ""
	}
	aliases := l.AliasMap(restaurantTag)

	type phrase struct{ from, to string }
	var phrases []phrase
	for k, v := range aliases {
		if strings.Contains(k, " ") {
			phrases = append(phrases, phrase{k, v})
		}
	}
	for i := range phrases {
		for j := i + 1; j < len(phrases); j++ {
			if len(phrases[j].from) > len(phrases[i].from) {
				phrases[i], phrases[j] = phrases[j], phrases[i]
			}
		}
	}

	out := text
	for _, p := range phrases {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(p.from) + `\b`)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, p.to)
	}

	return tokenPattern.ReplaceAllStringFunc(out, func(token string) string {
		if v, ok := aliases[strings.ToLower(token)]; ok {
			return v
		}
		return token
	})
}
