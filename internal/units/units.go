// Package units converts arbitrary quantity/unit text into one of three
// canonical domains: mass in grams, volume in milliliters, count in "each".
// It is the single source of truth for every quantity stored anywhere in
// the pipeline.
package units

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"prepbrain/internal/lexicon"
)

var massFactorsToG = map[string]float64{
	"mg": 0.001,
	"g":  1.0,
	"kg": 1000.0,
	"oz": 28.349523125,
	"lb": 453.59237,
}

var volumeFactorsToML = map[string]float64{
	"ml":     1.0,
	"l":      1000.0,
	"fl oz":  29.5735295625,
	"quart":  946.352946,
	"pint":   473.176473,
	"gallon": 3785.411784,
}

var countUnits = map[string]bool{
	"case": true,
	"each": true,
}

var unitAliases = map[string]string{
	"#":            "lb",
	"lb":           "lb",
	"lbs":          "lb",
	"pound":        "lb",
	"pounds":       "lb",
	"mg":           "mg",
	"g":            "g",
	"kg":           "kg",
	"oz":           "oz",
	"gram":         "g",
	"grams":        "g",
	"kilogram":     "kg",
	"kilograms":    "kg",
	"milligram":    "mg",
	"milligrams":   "mg",
	"ml":           "ml",
	"l":            "l",
	"liter":        "l",
	"liters":       "l",
	"litre":        "l",
	"litres":       "l",
	"milliliter":   "ml",
	"milliliters":  "ml",
	"millilitre":   "ml",
	"millilitres":  "ml",
	"fl oz":        "fl oz",
	"floz":         "fl oz",
	"oz fl":        "fl oz",
	"fluid ounce":  "fl oz",
	"fluid ounces": "fl oz",
	"quart":        "quart",
	"qt":           "quart",
	"qts":          "quart",
	"pint":         "pint",
	"pt":           "pint",
	"pts":          "pint",
	"gallon":       "gallon",
	"gal":          "gallon",
	"gals":         "gallon",
	"case":         "case",
	"cases":        "case",
	"cs":           "case",
	"ea":           "each",
	"each":         "each",
	"pcs":          "each",
	"pc":           "each",
}

var quantityRe = regexp.MustCompile(
	`(?i)^\s*(?P<qty>-?\d+(?:\.\d+)?)\s*(?P<unit>fl\s*oz|oz\s*fl|#|lbs?|lb|kg|g|mg|ml|l|qt|quart|pt|pint|gal|gallon|cs|case|cases|ea|each|pcs?|floz)?\s*$`)

// UnitError reports unsupported or invalid quantity-unit text. It is always
// surfaced to the caller, never silently defaulted.
type UnitError struct {
	msg string
}

func (e *UnitError) Error() string { return e.msg }

func unitErrorf(format string, args ...interface{}) *UnitError {
	return &UnitError{msg: fmt.Sprintf(format, args...)}
}

// IsUnitError reports whether err is a UnitError.
func IsUnitError(err error) bool {
	_, ok := err.(*UnitError)
	return ok
}

// Normalized is the canonical form of a quantity.
type Normalized struct {
	CanonicalValue  float64
	CanonicalUnit   string
	DisplayOriginal string
	DisplayPretty   string
	NormalizedUnit  string
	InputQuantity   float64
}

// Normalizer resolves unit tokens through the tag-scoped lexicon before the
// domain lookup.
type Normalizer struct {
	lex *lexicon.Lexicon
}

// NewNormalizer builds a normalizer over the given lexicon.
func NewNormalizer(lex *lexicon.Lexicon) *Normalizer {
	if lex == nil {
		lex = lexicon.New()
	}
	return &Normalizer{lex: lex}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeUnitToken resolves a raw unit token to its supported unit name.
// Unknown units fail closed.
func (n *Normalizer) NormalizeUnitToken(unit, restaurantTag string) (string, error) {
	raw := strings.ToLower(collapseSpaces(unit))
	if raw == "" {
		return "", unitErrorf("unit is required")
	}

	candidate := strings.ToLower(collapseSpaces(n.lex.Resolve(raw, restaurantTag)))
	if out, ok := unitAliases[candidate]; ok {
		return out, nil
	}
	// Fallback for exact singular/plural patterns not in the alias map.
	if strings.HasSuffix(candidate, "s") {
		if out, ok := unitAliases[strings.TrimSuffix(candidate, "s")]; ok {
			return out, nil
		}
	}
	return "", unitErrorf("unsupported unit %q", unit)
}

// Normalize converts quantity/unit into its canonical domain. The quantity
// must be greater than zero.
func (n *Normalizer) Normalize(quantity float64, unit, displayOriginal, restaurantTag string) (*Normalized, error) {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return nil, unitErrorf("quantity must be numeric")
	}
	if quantity <= 0 {
		return nil, unitErrorf("quantity must be greater than zero")
	}

	normalizedUnit, err := n.NormalizeUnitToken(unit, restaurantTag)
	if err != nil {
		return nil, err
	}

	var canonicalValue float64
	var canonicalUnit string
	switch {
	case massFactorsToG[normalizedUnit] != 0:
		canonicalValue = quantity * massFactorsToG[normalizedUnit]
		canonicalUnit = "g"
	case volumeFactorsToML[normalizedUnit] != 0:
		canonicalValue = quantity * volumeFactorsToML[normalizedUnit]
		canonicalUnit = "ml"
	case countUnits[normalizedUnit]:
		canonicalValue = quantity
		canonicalUnit = "each"
	default:
		return nil, unitErrorf("unsupported unit %q", unit)
	}

	original := strings.TrimSpace(displayOriginal)
	if original == "" {
		original = fmt.Sprintf("%s %s", formatQuantity(quantity), unit)
	}
	canonicalValue = round6(canonicalValue)

	return &Normalized{
		CanonicalValue:  canonicalValue,
		CanonicalUnit:   canonicalUnit,
		DisplayOriginal: original,
		DisplayPretty:   fmt.Sprintf("%s %s (%s)", formatQuantity(canonicalValue), canonicalUnit, original),
		NormalizedUnit:  normalizedUnit,
		InputQuantity:   quantity,
	}, nil
}

// Parse extracts quantity and unit from compact text like "50#" or "2 cs".
// A missing unit fails closed.
func (n *Normalizer) Parse(text, restaurantTag string) (*Normalized, error) {
	raw := collapseSpaces(text)
	if raw == "" {
		return nil, unitErrorf("quantity text is empty")
	}

	aliasText := n.lex.ReplaceInText(raw, restaurantTag)
	match := quantityRe.FindStringSubmatch(aliasText)
	if match == nil {
		return nil, unitErrorf("could not parse quantity and unit from %q", text)
	}

	qtyText := match[1]
	unitText := match[2]
	if unitText == "" {
		return nil, unitErrorf("unit is required")
	}
	qty, err := strconv.ParseFloat(qtyText, 64)
	if err != nil {
		return nil, unitErrorf("quantity must be numeric")
	}
	return n.Normalize(qty, unitText, raw, restaurantTag)
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func formatQuantity(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
