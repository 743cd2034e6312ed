// Package cart resolves free-text "add to cart" requests to a single catalog
// product and picks same-category recommendations. It does not persist
// anything; callers own the cart.
package cart

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kalambet/shopbot/internal/catalog"
	"github.com/kalambet/shopbot/internal/fuzzy"
)

const (
	DefaultThreshold          = 70
	DefaultMaxRecommendations = 3
)

var (
	// ErrEmptyQuery means nothing was left of the request after stripping
	// filler words.
	ErrEmptyQuery = errors.New("empty product query")

	// ErrNoMatch means no product scored at or above the match threshold.
	ErrNoMatch = errors.New("no matching product")
)

// NoMatchError describes a failed resolution. It unwraps to ErrNoMatch.
type NoMatchError struct {
	Query string
	Best  string
	Score int
}

func (e *NoMatchError) Error() string {
	if e.Best == "" {
		return fmt.Sprintf("no product matches %q", e.Query)
	}
	return fmt.Sprintf("no product matches %q (best %q scored %d)", e.Query, e.Best, e.Score)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

var (
	fillerWords = regexp.MustCompile(`\b(add|to cart|cart|put|in|into|please)\b`)
	nonAlnum    = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
)

// Clean strips filler words and punctuation from an add-to-cart request.
func Clean(text string) string {
	s := fillerWords.ReplaceAllString(strings.ToLower(text), "")
	s = nonAlnum.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// Resolution is a successful add-to-cart match.
type Resolution struct {
	Query           string            `json:"query"`
	Product         catalog.Product   `json:"product"`
	Score           int               `json:"score"`
	Recommendations []catalog.Product `json:"recommendations"`
}

// Resolver matches product mentions against a catalog index.
type Resolver struct {
	threshold int
	maxRecs   int
}

// NewResolver creates a Resolver. Non-positive arguments use the defaults.
func NewResolver(threshold, maxRecommendations int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if maxRecommendations <= 0 {
		maxRecommendations = DefaultMaxRecommendations
	}
	return &Resolver{threshold: threshold, maxRecs: maxRecommendations}
}

// Resolve cleans text, fuzzy-matches it against every product name and
// returns the first best-scoring product together with its recommendations.
func (r *Resolver) Resolve(idx *catalog.Index, text string) (Resolution, error) {
	q := Clean(text)
	if q == "" {
		return Resolution{}, ErrEmptyQuery
	}

	best, ok := fuzzy.ExtractOne(q, idx.Names())
	if !ok {
		return Resolution{}, &NoMatchError{Query: q}
	}
	if best.Score < r.threshold {
		return Resolution{}, &NoMatchError{Query: q, Best: best.Choice, Score: best.Score}
	}

	p := idx.At(best.Index)
	return Resolution{
		Query:           q,
		Product:         p,
		Score:           best.Score,
		Recommendations: Recommend(idx, p, r.maxRecs),
	}, nil
}

// Recommend returns up to limit other products from p's category, highest
// rated first. Unrated products follow rated ones; ties keep catalog order.
func Recommend(idx *catalog.Index, p catalog.Product, limit int) []catalog.Product {
	self := catalog.Key(p.Name)
	var out []catalog.Product
	for _, c := range idx.InCategory(p.Category) {
		if catalog.Key(c.Name) != self {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Rating, out[j].Rating
		switch {
		case a != nil && b == nil:
			return true
		case a == nil:
			return false
		}
		return *a > *b
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
