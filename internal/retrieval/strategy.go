package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/shopbot/internal/catalog"
	"github.com/kalambet/shopbot/internal/fuzzy"
	"github.com/kalambet/shopbot/internal/intent"
)

// Strategy names one resolution tier.
type Strategy string

const (
	StrategyNone              Strategy = ""
	StrategyPriceOnlyFollowup Strategy = "price_only_followup"
	StrategyCategoryMatch     Strategy = "category_match"
	StrategyProductTokenMatch Strategy = "product_token_match"
	StrategyFallbackMemory    Strategy = "fallback_memory"
	StrategySynonymFallback   Strategy = "synonym_fallback"
)

const (
	minTokenLen = 4
	coatToken   = "coat"
)

var queryToken = regexp.MustCompile(`[a-z0-9]+`)

// query carries one turn through the strategies. Fuzzy scores are computed
// on first use and shared between tiers.
type query struct {
	snap       *catalog.Snapshot
	cfg        Config
	normalized string
	intent     intent.Intent

	categoryDone  bool
	category      fuzzy.Match
	categoryFound bool

	productDone bool
	productHits []fuzzy.Match

	resolvedCategory string
}

func (q *query) bestCategory() (fuzzy.Match, bool) {
	if !q.categoryDone {
		q.category, q.categoryFound = fuzzy.ExtractOne(q.normalized, q.snap.Index.Categories())
		q.categoryDone = true
	}
	return q.category, q.categoryFound
}

// productMatches returns fuzzy hits over product names, best first.
func (q *query) productMatches() []fuzzy.Match {
	if !q.productDone {
		q.productHits = fuzzy.Extract(q.normalized, q.snap.Index.Names(), q.cfg.FuzzyLimit)
		q.productDone = true
	}
	return q.productHits
}

func (q *query) bestProductScore() int {
	hits := q.productMatches()
	if len(hits) == 0 {
		return 0
	}
	return hits[0].Score
}

// strategy is one tier. matched reports whether the tier applies to the
// query; an applicable tier may still yield no candidates.
type strategy interface {
	name() Strategy
	match(q *query) (candidates []catalog.Product, matched bool)
}

type priceOnlyFollowup struct{}

func (priceOnlyFollowup) name() Strategy { return StrategyPriceOnlyFollowup }

func (priceOnlyFollowup) match(q *query) ([]catalog.Product, bool) {
	if !q.intent.PriceOnlyFollowup {
		return nil, false
	}
	q.resolvedCategory = q.intent.TargetCategory
	return q.snap.Index.InCategory(q.intent.TargetCategory), true
}

type categoryMatch struct{}

func (categoryMatch) name() Strategy { return StrategyCategoryMatch }

func (categoryMatch) match(q *query) ([]catalog.Product, bool) {
	best, ok := q.bestCategory()
	if !ok || best.Score < q.cfg.CategoryThreshold {
		return nil, false
	}
	q.resolvedCategory = best.Choice
	return q.snap.Index.InCategory(best.Choice), true
}

type productTokenMatch struct{}

func (productTokenMatch) name() Strategy { return StrategyProductTokenMatch }

func (productTokenMatch) match(q *query) ([]catalog.Product, bool) {
	best := q.bestProductScore()
	if best < q.cfg.ProductThreshold {
		return nil, false
	}

	idx := q.snap.Index
	names := idx.Names()
	include := make([]bool, len(names))

	var tokens []string
	for _, t := range queryToken.FindAllString(q.normalized, -1) {
		if utf8.RuneCountInString(t) >= minTokenLen {
			tokens = append(tokens, t)
		}
	}
	for i, name := range names {
		for _, t := range tokens {
			if strings.Contains(name, t) {
				include[i] = true
				break
			}
		}
	}

	cut := max(q.cfg.FuzzyFloor, best-q.cfg.FuzzyMargin)
	for _, h := range q.productMatches() {
		if h.Score >= cut {
			include[h.Index] = true
		}
	}

	if strings.Contains(q.normalized, coatToken) {
		for i, name := range names {
			if strings.Contains(name, coatToken) {
				include[i] = true
			}
		}
	}

	var out []catalog.Product
	for i, ok := range include {
		if ok {
			out = append(out, idx.At(i))
		}
	}
	return out, true
}

type fallbackMemory struct{}

func (fallbackMemory) name() Strategy { return StrategyFallbackMemory }

func (fallbackMemory) match(q *query) ([]catalog.Product, bool) {
	return q.snap.Index.NameContains(q.normalized), true
}

type synonymFallback struct{}

func (synonymFallback) name() Strategy { return StrategySynonymFallback }

func (synonymFallback) match(q *query) ([]catalog.Product, bool) {
	cat, ok := q.snap.Synonyms.MatchCategory(q.normalized)
	if !ok {
		return nil, false
	}
	return q.snap.Index.InCategory(cat), true
}

// tiers is the fixed precedence order. The synonym fallback runs separately,
// only when every tier came up empty.
var tiers = []strategy{
	priceOnlyFollowup{},
	categoryMatch{},
	productTokenMatch{},
	fallbackMemory{},
}
