package catalog

import (
	"slices"
	"strings"
)

// Index is a read-only, in-memory view over the product catalog. It is safe
// for concurrent use because nothing mutates it after NewIndex returns.
type Index struct {
	products   []Product
	names      []string // lowercased, parallel to products
	categories []string // lowercased, first-seen order
	byCategory map[string][]int
	byName     map[string]int
}

// NewIndex builds an Index over products, keeping catalog order.
func NewIndex(products []Product) *Index {
	ix := &Index{
		products:   slices.Clone(products),
		names:      make([]string, len(products)),
		byCategory: make(map[string][]int),
		byName:     make(map[string]int, len(products)),
	}
	for i, p := range ix.products {
		name := Key(p.Name)
		ix.names[i] = name
		if _, ok := ix.byName[name]; !ok {
			ix.byName[name] = i
		}

		cat := Key(p.Category)
		if _, ok := ix.byCategory[cat]; !ok {
			ix.categories = append(ix.categories, cat)
		}
		ix.byCategory[cat] = append(ix.byCategory[cat], i)
	}
	return ix
}

// Len returns the number of catalog rows.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.products)
}

// Products returns every product in catalog order.
func (ix *Index) Products() []Product {
	if ix == nil {
		return nil
	}
	return slices.Clone(ix.products)
}

// Names returns the lowercased product names in catalog order.
func (ix *Index) Names() []string {
	if ix == nil {
		return nil
	}
	return slices.Clone(ix.names)
}

// Categories returns the distinct lowercased categories in first-seen order.
func (ix *Index) Categories() []string {
	if ix == nil {
		return nil
	}
	return slices.Clone(ix.categories)
}

// At returns the product at catalog position i.
func (ix *Index) At(i int) Product {
	return ix.products[i]
}

// InCategory returns all products whose category matches cat, case-insensitively.
func (ix *Index) InCategory(cat string) []Product {
	if ix == nil {
		return nil
	}
	positions := ix.byCategory[Key(cat)]
	out := make([]Product, 0, len(positions))
	for _, i := range positions {
		out = append(out, ix.products[i])
	}
	return out
}

// HasCategory reports whether cat names a known category.
func (ix *Index) HasCategory(cat string) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.byCategory[Key(cat)]
	return ok
}

// Lookup returns the first product whose normalized name equals name.
func (ix *Index) Lookup(name string) (Product, bool) {
	if ix == nil {
		return Product{}, false
	}
	i, ok := ix.byName[Key(name)]
	if !ok {
		return Product{}, false
	}
	return ix.products[i], true
}

// NameContains returns products whose lowercased name contains sub.
// An empty sub matches nothing.
func (ix *Index) NameContains(sub string) []Product {
	sub = strings.ToLower(sub)
	if ix == nil || sub == "" {
		return nil
	}
	var out []Product
	for i, name := range ix.names {
		if strings.Contains(name, sub) {
			out = append(out, ix.products[i])
		}
	}
	return out
}

// NamesIn returns products whose lowercased name occurs inside text.
func (ix *Index) NamesIn(text string) []Product {
	text = strings.ToLower(text)
	if ix == nil || text == "" {
		return nil
	}
	var out []Product
	for i, name := range ix.names {
		if name != "" && strings.Contains(text, name) {
			out = append(out, ix.products[i])
		}
	}
	return out
}
