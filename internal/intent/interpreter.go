package intent

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Memory is the per-session conversational state carried between turns.
type Memory struct {
	LastCategory string `json:"last_category,omitempty"`
}

// Intent is the structured reading of one search turn.
type Intent struct {
	RawText           string           `json:"raw_text"`
	NormalizedText    string           `json:"normalized_text"`
	PriceMin          *decimal.Decimal `json:"price_min,omitempty"`
	PriceMax          *decimal.Decimal `json:"price_max,omitempty"`
	PriceOnlyFollowup bool             `json:"price_only_followup"`
	TargetCategory    string           `json:"target_category,omitempty"`
}

// HasBounds reports whether any price bound was extracted.
func (in Intent) HasBounds() bool {
	return in.PriceMin != nil || in.PriceMax != nil
}

// Admits reports whether price satisfies the extracted bounds.
func (in Intent) Admits(price decimal.Decimal) bool {
	if in.PriceMax != nil && price.GreaterThan(*in.PriceMax) {
		return false
	}
	if in.PriceMin != nil && price.LessThan(*in.PriceMin) {
		return false
	}
	return true
}

var (
	priceWords   = []string{"under", "below", "over", "above", "between"}
	subjectWords = []string{"show", "find", "search", "buy", "phone", "book", "coat", "laptop"}

	firstNumber = regexp.MustCompile(`\d+`)
)

// IsPriceOnly reports whether text carries price-filter language and nothing
// that names what to look for.
func IsPriceOnly(text string) bool {
	text = strings.ToLower(text)
	return containsAny(text, priceWords) && !containsAny(text, subjectWords)
}

// PriceBounds extracts a single bound from the first integer in text:
// "under"/"below" set the maximum, "above"/"over" set the minimum.
// "between" is recognized as price language but yields no bound.
func PriceBounds(text string) (lo, hi *decimal.Decimal) {
	text = strings.ToLower(text)
	num := firstNumber.FindString(text)
	if num == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(num)
	if err != nil {
		return nil, nil
	}
	switch {
	case strings.Contains(text, "under"), strings.Contains(text, "below"):
		return nil, &v
	case strings.Contains(text, "above"), strings.Contains(text, "over"):
		return &v, nil
	}
	return nil, nil
}

// Interpret reads one search turn. raw is the user's text, normalized the
// synonym-normalized form. A price-only turn with a remembered category
// targets that category; category and product resolution is left to the
// matcher otherwise. Interpret never fails.
func Interpret(raw, normalized string, mem Memory) Intent {
	in := Intent{
		RawText:        raw,
		NormalizedText: normalized,
	}
	if IsPriceOnly(raw) && mem.LastCategory != "" {
		in.PriceOnlyFollowup = true
		in.TargetCategory = mem.LastCategory
	}
	in.PriceMin, in.PriceMax = PriceBounds(normalized)
	return in
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
