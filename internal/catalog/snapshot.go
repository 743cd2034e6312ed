package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/shopbot/internal/synonyms"
)

// Sources names the files a Snapshot is loaded from. SynonymsPath and
// OrdersPath are optional.
type Sources struct {
	ProductsPath string
	SynonymsPath string
	OrdersPath   string
}

func (s Sources) paths() []string {
	var out []string
	for _, p := range []string{s.ProductsPath, s.SynonymsPath, s.OrdersPath} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot is one consistent, immutable view of the catalog, the synonym
// map and the imported orders.
type Snapshot struct {
	Index    *Index
	Synonyms *synonyms.Map
	Orders   []Order
	LoadedAt time.Time

	ordersByID map[string]int
}

// NewSnapshot assembles a Snapshot from already-loaded parts.
func NewSnapshot(products []Product, syn *synonyms.Map, orders []Order) *Snapshot {
	if syn == nil {
		syn = synonyms.New(nil)
	}
	s := &Snapshot{
		Index:      NewIndex(products),
		Synonyms:   syn,
		Orders:     orders,
		LoadedAt:   time.Now().UTC(),
		ordersByID: make(map[string]int, len(orders)),
	}
	for i, o := range orders {
		id := strings.ToUpper(strings.TrimSpace(o.ID))
		if _, ok := s.ordersByID[id]; !ok {
			s.ordersByID[id] = i
		}
	}
	return s
}

// Current returns s itself, so a fixed Snapshot can be used wherever a
// reloading source is expected.
func (s *Snapshot) Current() *Snapshot { return s }

// Order returns the imported order with the given ID (case-insensitive).
func (s *Snapshot) Order(id string) (Order, bool) {
	i, ok := s.ordersByID[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return Order{}, false
	}
	return s.Orders[i], true
}

// Load reads every configured source concurrently and builds a Snapshot.
func Load(ctx context.Context, src Sources) (*Snapshot, error) {
	if src.ProductsPath == "" {
		return nil, fmt.Errorf("catalog: products path is required")
	}

	var (
		products []Product
		syn      *synonyms.Map
		orders   []Order
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := LoadProducts(src.ProductsPath)
		if err != nil {
			return fmt.Errorf("loading products: %w", err)
		}
		products = p
		return nil
	})
	if src.SynonymsPath != "" {
		g.Go(func() error {
			m, err := synonyms.Load(src.SynonymsPath)
			if err != nil {
				return fmt.Errorf("loading synonyms: %w", err)
			}
			syn = m
			return nil
		})
	}
	if src.OrdersPath != "" {
		g.Go(func() error {
			o, err := LoadOrders(src.OrdersPath)
			if err != nil {
				return fmt.Errorf("loading orders: %w", err)
			}
			orders = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewSnapshot(products, syn, orders), nil
}
