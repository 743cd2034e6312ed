// Package dialogue runs one chat turn end to end: it classifies the
// message, dispatches to search, cart, checkout or tracking, and renders
// the reply.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalambet/shopbot/internal/cart"
	"github.com/kalambet/shopbot/internal/catalog"
	"github.com/kalambet/shopbot/internal/checkout"
	"github.com/kalambet/shopbot/internal/composer"
	"github.com/kalambet/shopbot/internal/eta"
	"github.com/kalambet/shopbot/internal/intent"
	"github.com/kalambet/shopbot/internal/retrieval"
	"github.com/kalambet/shopbot/internal/storage"
)

var (
	// ErrEmptyMessage is returned for a blank chat message.
	ErrEmptyMessage = errors.New("empty message")

	ErrEmptyCart     = errors.New("cart is empty")
	ErrNoOrderID     = errors.New("no order ID in message")
	ErrOrderNotFound = errors.New("order not found")
	ErrNoCouponCode  = errors.New("no coupon code in message")
	ErrOrderIDsTaken = errors.New("no free order ID")
)

// orderIDAttempts bounds how many random order IDs are drawn before giving up.
const orderIDAttempts = 100

// Catalog supplies the catalog snapshot for a turn. Implemented by
// *catalog.Snapshot and *catalog.Reloader.
type Catalog interface {
	Current() *catalog.Snapshot
}

// Memory loads and saves per-session conversational memory. Implemented by
// session.Manager.
type Memory interface {
	Get(ctx context.Context, id string) (intent.Memory, error)
	Save(ctx context.Context, id string, mem intent.Memory) error
}

// Store is the persistence the bot needs. Implemented by storage.Store.
type Store interface {
	GetSession(id string) (storage.Session, error)
	SetSessionCoupon(id, code string) error
	SetSessionLastSearch(ctx context.Context, id, text string) error
	AddCartItem(ctx context.Context, item storage.CartItem) error
	GetCart(sessionID string) ([]storage.CartItem, error)
	RemoveCartItem(sessionID, productName string) error
	PlaceOrder(ctx context.Context, c storage.Checkout, orders []storage.Order) error
	GetOrder(id string) (storage.Order, error)
	GetCheckout(id string) (storage.Checkout, error)
	OrderIDs() ([]string, error)
	SaveInteraction(i storage.Interaction) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Deps wires a Bot. Catalog, Memory and Store are required; nil
// components fall back to defaults.
type Deps struct {
	Catalog   Catalog
	Memory    Memory
	Store     Store
	Retriever *retrieval.Retriever
	Resolver  *cart.Resolver
	Estimator *eta.Estimator
	Metrics   *Metrics
	Clock     Clock
	Seed      uint64
}

// Bot answers chat messages for any number of sessions.
type Bot struct {
	catalog   Catalog
	memory    Memory
	store     Store
	retriever *retrieval.Retriever
	resolver  *cart.Resolver
	estimator *eta.Estimator
	metrics   *Metrics
	clock     Clock

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// New creates a Bot.
func New(d Deps) *Bot {
	if d.Retriever == nil {
		d.Retriever = retrieval.NewRetriever(retrieval.DefaultConfig(), nil)
	}
	if d.Resolver == nil {
		d.Resolver = cart.NewResolver(0, 0)
	}
	if d.Clock == nil {
		d.Clock = realClock{}
	}
	if d.Estimator == nil {
		d.Estimator = eta.NewEstimatorWithClock(eta.PolicyMax, d.Clock)
	}
	seed := d.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Bot{
		catalog:   d.Catalog,
		memory:    d.Memory,
		store:     d.Store,
		retriever: d.Retriever,
		resolver:  d.Resolver,
		estimator: d.Estimator,
		metrics:   d.Metrics,
		clock:     d.Clock,
		rnd:       rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Reply is the bot's answer to one message.
type Reply struct {
	Kind            Kind              `json:"kind"`
	Text            string            `json:"text"`
	Products        []catalog.Product `json:"products,omitempty"`
	Recommendations []catalog.Product `json:"recommendations,omitempty"`
	Cart            *CartView         `json:"cart,omitempty"`
	Order           *OrderView        `json:"order,omitempty"`
	OrderIDs        []string          `json:"order_ids,omitempty"`
}

// CartView is a session's cart with its priced breakdown.
type CartView struct {
	Lines   []checkout.Line  `json:"lines"`
	Summary checkout.Summary `json:"summary"`
}

// OrderView is an order with its delivery estimate. Amount and Payment are
// set for orders placed through checkout; Payment is the whole checkout the
// order was part of.
type OrderView struct {
	ID               string            `json:"order_id"`
	ProductName      string            `json:"product_name"`
	Qty              int               `json:"qty,omitempty"`
	Status           string            `json:"status"`
	DeliveryTime     string            `json:"delivery_time"`
	ExpectedDelivery time.Time         `json:"expected_delivery"`
	Amount           *decimal.Decimal  `json:"amount,omitempty"`
	Payment          *checkout.Summary `json:"payment,omitempty"`
}

// CheckoutResult describes placed orders.
type CheckoutResult struct {
	CheckoutID string           `json:"checkout_id"`
	OrderIDs   []string         `json:"order_ids"`
	Items      int              `json:"items"`
	Summary    checkout.Summary `json:"summary"`
}

// Handle classifies text, runs the matching action for sessionID and
// records the interaction. Expected misses (no results, unknown product,
// unknown order) are answered in the reply text, not returned as errors.
func (b *Bot) Handle(ctx context.Context, sessionID, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	start := time.Now()
	kind := Classify(text)
	reply, err := b.dispatch(ctx, kind, sessionID, text)
	reply.Kind = kind

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	b.metrics.observeTurn(kind, outcome, time.Since(start))
	if err != nil {
		return Reply{}, err
	}

	b.record(sessionID, text, reply)
	return reply, nil
}

func (b *Bot) dispatch(ctx context.Context, kind Kind, sessionID, text string) (Reply, error) {
	switch kind {
	case KindGreet:
		return b.replyGreet(sessionID), nil
	case KindCheckout:
		return b.replyCheckout(ctx, sessionID)
	case KindTrackOrder:
		return b.replyTrack(text)
	case KindApplyCoupon:
		return b.replyCoupon(sessionID, text)
	case KindRemoveFromCart:
		return b.replyRemove(sessionID, text)
	case KindShowCart:
		return b.replyCart(sessionID)
	case KindAddToCart:
		return b.replyAdd(ctx, sessionID, text)
	case KindCheckStock:
		return b.replyStock(text), nil
	default:
		return b.replySearch(ctx, sessionID, text)
	}
}

func (b *Bot) record(sessionID, text string, reply Reply) {
	n := len(reply.Products)
	if n == 0 && reply.Cart != nil {
		n = len(reply.Cart.Lines)
	}
	err := b.store.SaveInteraction(storage.Interaction{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		CreatedAt:   b.clock.Now(),
		UserMessage: text,
		Intent:      string(reply.Kind),
		Reply:       reply.Text,
		ResultCount: n,
	})
	if err != nil {
		slog.Warn("dialogue: failed to record interaction", "session", sessionID, "error", err)
	}
}

// --- Search ---

// Search runs a product search with the session's memory and saves the
// memory when the search changed it.
func (b *Bot) Search(ctx context.Context, sessionID, text string) (retrieval.Result, error) {
	mem, err := b.memory.Get(ctx, sessionID)
	if err != nil {
		return retrieval.Result{}, err
	}

	res, err := b.retriever.Retrieve(b.catalog.Current(), text, mem)
	if err != nil {
		b.metrics.observeResults(0)
		return res, err
	}
	b.metrics.observeResults(len(res.Products))

	if res.Memory != mem {
		if err := b.memory.Save(ctx, sessionID, res.Memory); err != nil {
			return retrieval.Result{}, err
		}
	}
	return res, nil
}

// searchWords mark a message worth remembering as the session's last search.
var searchWords = []string{"show", "find", "search", "buy", "price", "for"}

func (b *Bot) rememberSearch(ctx context.Context, sessionID, text string) {
	lower := strings.ToLower(text)
	for _, w := range searchWords {
		if strings.Contains(lower, w) {
			if err := b.store.SetSessionLastSearch(ctx, sessionID, strings.TrimSpace(text)); err != nil {
				slog.Warn("dialogue: failed to record last search", "session", sessionID, "error", err)
			}
			return
		}
	}
}

func (b *Bot) replyGreet(sessionID string) Reply {
	sess, err := b.store.GetSession(sessionID)
	if err != nil || sess.LastSearch == "" {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("dialogue: failed to load session", "session", sessionID, "error", err)
		}
		return Reply{Text: composer.Greeting}
	}
	return Reply{Text: composer.WelcomeBack(sess.LastSearch)}
}

func (b *Bot) replySearch(ctx context.Context, sessionID, text string) (Reply, error) {
	b.rememberSearch(ctx, sessionID, text)
	res, err := b.Search(ctx, sessionID, text)
	if errors.Is(err, retrieval.ErrNoResults) {
		return Reply{Text: composer.NoResults}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: composer.SearchResults(len(res.Products)), Products: res.Products}, nil
}

// --- Cart ---

// Resolve matches an add-to-cart request against the catalog without
// touching any cart.
func (b *Bot) Resolve(text string) (cart.Resolution, error) {
	return b.resolver.Resolve(b.catalog.Current().Index, text)
}

// AddToCart resolves text to a product and adds one unit to the session's
// cart.
func (b *Bot) AddToCart(ctx context.Context, sessionID, text string) (cart.Resolution, error) {
	res, err := b.Resolve(text)
	if err != nil {
		return cart.Resolution{}, err
	}
	err = b.store.AddCartItem(ctx, storage.CartItem{
		SessionID:   sessionID,
		ProductName: res.Product.Name,
		Category:    res.Product.Category,
		Price:       res.Product.Price,
		Qty:         1,
		AddedAt:     b.clock.Now(),
	})
	if err != nil {
		return cart.Resolution{}, fmt.Errorf("adding %q to cart: %w", res.Product.Name, err)
	}
	slog.Debug("added to cart", "session", sessionID, "product", res.Product.Name, "score", res.Score)
	return res, nil
}

func (b *Bot) replyAdd(ctx context.Context, sessionID, text string) (Reply, error) {
	res, err := b.AddToCart(ctx, sessionID, text)
	switch {
	case errors.Is(err, cart.ErrEmptyQuery):
		return Reply{Text: composer.EmptyProductName}, nil
	case errors.Is(err, cart.ErrNoMatch):
		return Reply{Text: composer.ProductNotFound}, nil
	case err != nil:
		return Reply{}, err
	}

	text = composer.AddedToCart(res.Product.Name)
	if len(res.Recommendations) > 0 {
		text += "\n" + composer.RecommendHeader
	}
	return Reply{
		Text:            text,
		Products:        []catalog.Product{res.Product},
		Recommendations: res.Recommendations,
	}, nil
}

// Cart returns the session's cart priced with its coupon.
func (b *Bot) Cart(sessionID string) (CartView, error) {
	items, err := b.store.GetCart(sessionID)
	if err != nil {
		return CartView{}, fmt.Errorf("loading cart: %w", err)
	}
	coupon, err := b.sessionCoupon(sessionID)
	if err != nil {
		return CartView{}, err
	}

	lines := make([]checkout.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, checkout.Line{ProductName: it.ProductName, Price: it.Price, Qty: it.Qty})
	}
	return CartView{Lines: lines, Summary: checkout.Totals(lines, coupon)}, nil
}

func (b *Bot) sessionCoupon(sessionID string) (*checkout.Coupon, error) {
	sess, err := b.store.GetSession(sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.Coupon == "" {
		return nil, nil
	}
	c, err := checkout.LookupCoupon(sess.Coupon)
	if err != nil {
		slog.Warn("dialogue: stored coupon no longer valid", "session", sessionID, "coupon", sess.Coupon)
		return nil, nil
	}
	return &c, nil
}

func (b *Bot) replyCart(sessionID string) (Reply, error) {
	view, err := b.Cart(sessionID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: composer.Cart(view.Lines, view.Summary), Cart: &view}, nil
}

// RemoveFromCart removes every cart line whose name occurs in text and
// returns the removed product names.
func (b *Bot) RemoveFromCart(sessionID, text string) ([]string, error) {
	items, err := b.store.GetCart(sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading cart: %w", err)
	}

	lower := strings.ToLower(text)
	var removed []string
	for _, it := range items {
		if !strings.Contains(lower, strings.ToLower(it.ProductName)) {
			continue
		}
		if err := b.store.RemoveCartItem(sessionID, it.ProductName); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return removed, fmt.Errorf("removing %q: %w", it.ProductName, err)
		}
		removed = append(removed, it.ProductName)
	}
	return removed, nil
}

func (b *Bot) replyRemove(sessionID, text string) (Reply, error) {
	removed, err := b.RemoveFromCart(sessionID, text)
	if err != nil {
		return Reply{}, err
	}
	if len(removed) == 0 {
		return Reply{Text: composer.NotInCart}, nil
	}
	return Reply{Text: composer.ItemRemoved}, nil
}

// --- Coupons ---

var couponToken = regexp.MustCompile(`[A-Z0-9]+`)

// ApplyCoupon validates code and stores it on the session.
func (b *Bot) ApplyCoupon(sessionID, code string) (checkout.Coupon, error) {
	c, err := checkout.LookupCoupon(code)
	if err != nil {
		return checkout.Coupon{}, err
	}
	if err := b.store.SetSessionCoupon(sessionID, c.Code); err != nil {
		return checkout.Coupon{}, fmt.Errorf("saving coupon: %w", err)
	}
	return c, nil
}

// RemoveCoupon clears the session's coupon.
func (b *Bot) RemoveCoupon(sessionID string) error {
	return b.store.SetSessionCoupon(sessionID, "")
}

// couponCode picks the code out of a message: a known code anywhere, else
// the word following "coupon" or "code".
func couponCode(text string) (string, error) {
	tokens := couponToken.FindAllString(strings.ToUpper(text), -1)
	for _, tok := range tokens {
		if _, err := checkout.LookupCoupon(tok); err == nil {
			return tok, nil
		}
	}
	for i, tok := range tokens {
		if (tok == "COUPON" || tok == "CODE") && i+1 < len(tokens) {
			return tokens[i+1], nil
		}
	}
	return "", ErrNoCouponCode
}

func (b *Bot) replyCoupon(sessionID, text string) (Reply, error) {
	if removeWords.MatchString(strings.ToLower(text)) {
		if err := b.RemoveCoupon(sessionID); err != nil {
			return Reply{}, err
		}
		return b.replyCart(sessionID)
	}

	code, err := couponCode(text)
	if err != nil {
		return Reply{Text: composer.CouponMissing}, nil
	}
	c, err := b.ApplyCoupon(sessionID, code)
	if errors.Is(err, checkout.ErrUnknownCoupon) {
		return Reply{Text: composer.CouponInvalid}, nil
	}
	if err != nil {
		return Reply{}, err
	}

	view, err := b.Cart(sessionID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: composer.CouponApplied(c.Code), Cart: &view}, nil
}

// --- Checkout ---

// Checkout places one order per cart line, priced with the session's
// coupon, and empties the cart. The priced breakdown is stored with the
// orders.
func (b *Bot) Checkout(ctx context.Context, sessionID string) (CheckoutResult, error) {
	view, err := b.Cart(sessionID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if len(view.Lines) == 0 {
		return CheckoutResult{}, ErrEmptyCart
	}

	snap := b.catalog.Current()
	now := b.clock.Now()
	orders := make([]storage.Order, 0, len(view.Lines))
	ids := make([]string, 0, len(view.Lines))
	items := 0
	for _, l := range view.Lines {
		var sla string
		if p, ok := snap.Index.Lookup(l.ProductName); ok {
			sla = p.DeliveryTime
		}
		id, err := b.newOrderID(snap, now, ids)
		if err != nil {
			return CheckoutResult{}, err
		}
		ids = append(ids, id)
		items += l.Qty
		orders = append(orders, storage.Order{
			ID:           id,
			SessionID:    sessionID,
			ProductName:  l.ProductName,
			Qty:          l.Qty,
			Status:       "Processing",
			DeliveryTime: sla,
			Total:        l.Price.Mul(decimal.NewFromInt(int64(l.Qty))),
			PlacedAt:     now,
		})
	}

	sum := view.Summary
	paid := storage.Checkout{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Coupon:    sum.Coupon,
		Subtotal:  sum.Subtotal,
		Discount:  sum.Discount,
		Shipping:  sum.Shipping,
		Tax:       sum.Tax,
		Total:     sum.Total,
		PlacedAt:  now,
	}
	if err := b.store.PlaceOrder(ctx, paid, orders); err != nil {
		return CheckoutResult{}, fmt.Errorf("placing order: %w", err)
	}
	slog.Info("order placed", "session", sessionID, "checkout", paid.ID, "orders", len(orders), "total", sum.Total.StringFixed(2))
	return CheckoutResult{CheckoutID: paid.ID, OrderIDs: ids, Items: items, Summary: sum}, nil
}

// newOrderID draws an order ID that is not in taken and not already used by
// a placed or imported order.
func (b *Bot) newOrderID(snap *catalog.Snapshot, now time.Time, taken []string) (string, error) {
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	for range orderIDAttempts {
		id := checkout.NewOrderID(now, b.rnd)
		if slices.Contains(taken, id) {
			continue
		}
		if _, ok := snap.Order(id); ok {
			continue
		}
		_, err := b.store.GetOrder(id)
		if errors.Is(err, storage.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking order ID %s: %w", id, err)
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrOrderIDsTaken, orderIDAttempts)
}

func (b *Bot) replyCheckout(ctx context.Context, sessionID string) (Reply, error) {
	res, err := b.Checkout(ctx, sessionID)
	if errors.Is(err, ErrEmptyCart) {
		return Reply{Text: composer.CheckoutEmpty}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:     composer.CheckoutDone(res.OrderIDs, res.Items, res.Summary),
		OrderIDs: res.OrderIDs,
	}, nil
}

// --- Orders ---

// TrackOrder finds the order mentioned in text and estimates its delivery.
// Orders placed through checkout take precedence over imported ones.
func (b *Bot) TrackOrder(text string) (OrderView, error) {
	snap := b.catalog.Current()

	known := make([]string, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		known = append(known, o.ID)
	}
	if ids, err := b.store.OrderIDs(); err == nil {
		known = append(known, ids...)
	}

	id := ExtractOrderID(text, known)
	if id == "" {
		return OrderView{}, ErrNoOrderID
	}
	return b.Order(id)
}

// Order looks up an order by ID and estimates its delivery.
func (b *Bot) Order(id string) (OrderView, error) {
	id = strings.ToUpper(strings.TrimSpace(id))

	var o eta.Order
	var product string
	var view OrderView
	stored, err := b.store.GetOrder(id)
	switch {
	case err == nil:
		product = stored.ProductName
		amount := stored.Total
		view.Qty = stored.Qty
		view.Amount = &amount
		if stored.CheckoutID != "" {
			paid, err := b.store.GetCheckout(stored.CheckoutID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return OrderView{}, fmt.Errorf("loading checkout of order %s: %w", id, err)
			}
			if err == nil {
				view.Payment = &checkout.Summary{
					Subtotal: paid.Subtotal,
					Coupon:   paid.Coupon,
					Discount: paid.Discount,
					Shipping: paid.Shipping,
					Tax:      paid.Tax,
					Total:    paid.Total,
				}
			}
		}
		o = eta.Order{
			Status:       stored.Status,
			DeliveryTime: stored.DeliveryTime,
			PlacedAt:     formatStamp(stored.PlacedAt),
			ShippedAt:    formatStamp(stored.ShippedAt),
		}
	case errors.Is(err, storage.ErrNotFound):
		imported, ok := b.catalog.Current().Order(id)
		if !ok {
			return OrderView{ID: id}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		product = imported.ProductName
		o = eta.Order{
			Status:       imported.Status,
			DeliveryTime: imported.DeliveryTime,
			PlacedAt:     imported.PlacedAt,
			ShippedAt:    imported.ShippedAt,
		}
	default:
		return OrderView{}, fmt.Errorf("loading order %s: %w", id, err)
	}

	if o.Status == "" {
		o.Status = "Processing"
	}
	view.ID = id
	view.ProductName = product
	view.Status = o.Status
	view.DeliveryTime = o.DeliveryTime
	view.ExpectedDelivery = b.estimator.Estimate(o)
	return view, nil
}

func (b *Bot) replyTrack(text string) (Reply, error) {
	view, err := b.TrackOrder(text)
	switch {
	case errors.Is(err, ErrNoOrderID):
		return Reply{Text: composer.OrderIDMissing}, nil
	case errors.Is(err, ErrOrderNotFound):
		return Reply{Text: composer.OrderNotFound(view.ID)}, nil
	case err != nil:
		return Reply{}, err
	}
	return Reply{
		Text:  composer.OrderStatus(view.ID, view.ProductName, view.Status, view.ExpectedDelivery),
		Order: &view,
	}, nil
}

// --- Stock ---

var stockFiller = regexp.MustCompile(`\b(is|are|the|a|an|in|stock|available|availability|check|do|you|have|any|of|for|still)\b|[^a-z0-9\s]`)

// CheckStock returns products whose name occurs in text, or, failing that,
// whose name contains what is left of text after dropping filler words.
func (b *Bot) CheckStock(text string) []catalog.Product {
	idx := b.catalog.Current().Index
	found := idx.NamesIn(text)
	if len(found) == 0 {
		q := strings.Join(strings.Fields(stockFiller.ReplaceAllString(strings.ToLower(text), " ")), " ")
		found = idx.NameContains(q)
	}

	seen := make(map[string]bool, len(found))
	out := found[:0:0]
	for _, p := range found {
		k := catalog.Key(p.Name)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
	}
	return out
}

func (b *Bot) replyStock(text string) Reply {
	found := b.CheckStock(text)
	if len(found) == 0 {
		return Reply{Text: composer.StockUnknown}
	}
	lines := make([]string, 0, len(found))
	for _, p := range found {
		lines = append(lines, composer.StockLine(p.Name, p.StockStatus))
	}
	return Reply{Text: strings.Join(lines, "\n"), Products: found}
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
