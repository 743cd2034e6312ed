package retrieval

import (
	"errors"
	"log/slog"

	"github.com/kalambet/shopbot/internal/catalog"
	"github.com/kalambet/shopbot/internal/intent"
	"github.com/kalambet/shopbot/internal/reranking"
)

// ErrNoResults means the search ran cleanly but nothing survived matching
// and price filtering. Callers answer with a "no results" reply.
var ErrNoResults = errors.New("no products match the search")

// Config holds the matcher thresholds, all on the 0..100 fuzzy scale.
type Config struct {
	CategoryThreshold int
	ProductThreshold  int
	FuzzyFloor        int
	FuzzyMargin       int
	FuzzyLimit        int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		CategoryThreshold: 70,
		ProductThreshold:  60,
		FuzzyFloor:        55,
		FuzzyMargin:       15,
		FuzzyLimit:        120,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CategoryThreshold <= 0 {
		c.CategoryThreshold = d.CategoryThreshold
	}
	if c.ProductThreshold <= 0 {
		c.ProductThreshold = d.ProductThreshold
	}
	if c.FuzzyFloor <= 0 {
		c.FuzzyFloor = d.FuzzyFloor
	}
	if c.FuzzyMargin <= 0 {
		c.FuzzyMargin = d.FuzzyMargin
	}
	if c.FuzzyLimit <= 0 {
		c.FuzzyLimit = d.FuzzyLimit
	}
	return c
}

// Result is the outcome of one search turn.
type Result struct {
	Intent   intent.Intent     `json:"intent"`
	Strategy Strategy          `json:"strategy"`
	Category string            `json:"category,omitempty"`
	Products []catalog.Product `json:"products"`
	Memory   intent.Memory     `json:"memory"`
}

// Retriever resolves free-text queries against a catalog snapshot.
type Retriever struct {
	cfg      Config
	reranker reranking.Reranker
}

// NewRetriever creates a Retriever. Zero thresholds in cfg fall back to
// DefaultConfig; a nil reranker deduplicates without shuffling.
func NewRetriever(cfg Config, rr reranking.Reranker) *Retriever {
	if rr == nil {
		rr = reranking.NoOpReranker{}
	}
	return &Retriever{cfg: cfg.withDefaults(), reranker: rr}
}

// Retrieve runs one search turn: normalize, interpret, resolve through the
// tiers, filter by price, deduplicate and order. On success the returned
// memory holds the resolved category when a category matched; otherwise it
// is mem unchanged. ErrNoResults leaves memory untouched.
func (r *Retriever) Retrieve(snap *catalog.Snapshot, raw string, mem intent.Memory) (Result, error) {
	normalized := snap.Synonyms.Normalize(raw)
	in := intent.Interpret(raw, normalized, mem)

	q := &query{snap: snap, cfg: r.cfg, normalized: normalized, intent: in}
	res := Result{Intent: in, Memory: mem}

	var candidates []catalog.Product
	for _, s := range tiers {
		c, ok := s.match(q)
		if !ok {
			continue
		}
		res.Strategy = s.name()
		candidates = c
		break
	}

	if len(candidates) == 0 {
		fb := synonymFallback{}
		if c, ok := fb.match(q); ok {
			res.Strategy = fb.name()
			candidates = c
		}
	}

	filtered := candidates[:0:0]
	for _, p := range candidates {
		if in.Admits(p.Price) {
			filtered = append(filtered, p)
		}
	}

	ranked := r.reranker.Rerank(filtered)

	slog.Debug("search resolved",
		"normalized", normalized,
		"strategy", res.Strategy,
		"category", q.resolvedCategory,
		"candidates", len(candidates),
		"results", len(ranked),
	)

	if len(ranked) == 0 {
		return res, ErrNoResults
	}

	res.Products = ranked
	res.Category = q.resolvedCategory
	if res.Strategy == StrategyCategoryMatch {
		res.Memory.LastCategory = q.resolvedCategory
	}
	return res, nil
}
