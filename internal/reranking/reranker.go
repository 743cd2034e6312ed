package reranking

import (
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/kalambet/shopbot/internal/catalog"
)

// Reranker orders a matched candidate set for presentation. Implementations
// never return two products with the same normalized name.
type Reranker interface {
	Rerank(products []catalog.Product) []catalog.Product
}

// NewReranker returns a ShuffleReranker if shuffle is enabled, NoOpReranker
// otherwise. A seed of 0 picks a random seed.
func NewReranker(shuffle bool, seed uint64) Reranker {
	if !shuffle {
		return NoOpReranker{}
	}
	return NewShuffleReranker(seed)
}

// Better reports whether a ranks ahead of b: higher rating first, missing
// ratings last, then lower price.
func Better(a, b catalog.Product) bool {
	switch {
	case a.Rating != nil && b.Rating == nil:
		return true
	case a.Rating == nil && b.Rating != nil:
		return false
	case a.Rating != nil && b.Rating != nil && *a.Rating != *b.Rating:
		return *a.Rating > *b.Rating
	}
	return a.Price.LessThan(b.Price)
}

// Dedup orders products by Better and keeps the first entry per normalized
// name. Equal entries keep catalog order. The input slice is not modified.
func Dedup(products []catalog.Product) []catalog.Product {
	sorted := make([]catalog.Product, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool { return Better(sorted[i], sorted[j]) })

	seen := make(map[string]struct{}, len(sorted))
	out := sorted[:0]
	for _, p := range sorted {
		k := catalog.Key(p.Name)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// NoOpReranker deduplicates and keeps rating/price order.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(products []catalog.Product) []catalog.Product {
	return Dedup(products)
}

// ShuffleReranker deduplicates, then fully shuffles the result so repeated
// queries vary their presentation order. Rating order does not survive.
type ShuffleReranker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewShuffleReranker creates a ShuffleReranker. A seed of 0 picks a random seed.
func NewShuffleReranker(seed uint64) *ShuffleReranker {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &ShuffleReranker{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *ShuffleReranker) Rerank(products []catalog.Product) []catalog.Product {
	out := Dedup(products)
	r.mu.Lock()
	r.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	r.mu.Unlock()
	return out
}
