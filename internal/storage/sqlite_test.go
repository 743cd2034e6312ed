package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/kalambet/shopbot/internal/intent"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_orders_session", "idx_interactions_created", "idx_interactions_session"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_initial.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
	if _, err := parseMigrationVersion("initial.sql"); err == nil {
		t.Error("expected error for filename without version prefix")
	}
}

func TestSessionCategoryAndCoupon(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetSession("s1"); err != ErrNotFound {
		t.Fatalf("GetSession(unknown) error = %v, want ErrNotFound", err)
	}

	if err := s.SaveSessionCategory("s1", "footwear"); err != nil {
		t.Fatalf("SaveSessionCategory: %v", err)
	}
	if err := s.SetSessionCoupon("s1", "SAVE10"); err != nil {
		t.Fatalf("SetSessionCoupon: %v", err)
	}

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.LastCategory != "footwear" {
		t.Errorf("LastCategory = %q, want %q", sess.LastCategory, "footwear")
	}
	if sess.Coupon != "SAVE10" {
		t.Errorf("Coupon = %q, want %q", sess.Coupon, "SAVE10")
	}
	if sess.CreatedAt.IsZero() || sess.UpdatedAt.Before(sess.CreatedAt) {
		t.Errorf("unexpected timestamps: created %v, updated %v", sess.CreatedAt, sess.UpdatedAt)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mem, err := s.GetMemory(ctx, "fresh")
	if err != nil {
		t.Fatalf("GetMemory(unknown): %v", err)
	}
	if mem.LastCategory != "" {
		t.Errorf("unknown session memory = %+v, want empty", mem)
	}

	if err := s.SaveMemory(ctx, "a", intent.Memory{LastCategory: "books"}); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}
	if err := s.SaveMemory(ctx, "b", intent.Memory{LastCategory: "electronics"}); err != nil {
		t.Fatalf("SaveMemory: %v", err)
	}

	a, _ := s.GetMemory(ctx, "a")
	b, _ := s.GetMemory(ctx, "b")
	if a.LastCategory != "books" || b.LastCategory != "electronics" {
		t.Errorf("memories leaked between sessions: a=%+v b=%+v", a, b)
	}
}

func TestCartAddIncrementsQuantity(t *testing.T) {
	s := openTestStore(t)

	item := CartItem{SessionID: "s1", ProductName: "Running Shoes", Category: "footwear", Price: decimal.RequireFromString("1299.50")}
	for range 2 {
		if err := s.AddCartItem(context.Background(), item); err != nil {
			t.Fatalf("AddCartItem: %v", err)
		}
	}
	if err := s.AddCartItem(context.Background(), CartItem{SessionID: "s1", ProductName: "Rain Coat", Price: decimal.NewFromInt(899), Qty: 3}); err != nil {
		t.Fatalf("AddCartItem: %v", err)
	}

	items, err := s.GetCart("s1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d cart lines, want 2", len(items))
	}
	if items[0].ProductName != "Running Shoes" || items[0].Qty != 2 {
		t.Errorf("first line = %s x%d, want Running Shoes x2", items[0].ProductName, items[0].Qty)
	}
	if !items[0].Price.Equal(decimal.RequireFromString("1299.5")) {
		t.Errorf("price = %s, want 1299.5", items[0].Price)
	}
	if items[1].Qty != 3 {
		t.Errorf("second line qty = %d, want 3", items[1].Qty)
	}

	other, err := s.GetCart("s2")
	if err != nil {
		t.Fatalf("GetCart(s2): %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other session cart has %d lines, want 0", len(other))
	}
}

func TestRemoveCartItem(t *testing.T) {
	s := openTestStore(t)
	s.AddCartItem(context.Background(), CartItem{SessionID: "s1", ProductName: "Rain Coat", Price: decimal.NewFromInt(899)})

	if err := s.RemoveCartItem("s1", "rain coat"); err != nil {
		t.Fatalf("RemoveCartItem: %v", err)
	}
	if err := s.RemoveCartItem("s1", "rain coat"); err != ErrNotFound {
		t.Errorf("second RemoveCartItem error = %v, want ErrNotFound", err)
	}
}

func TestPlaceOrderClearsCartAndCoupon(t *testing.T) {
	s := openTestStore(t)

	s.SetSessionCoupon("s1", "LESS50")
	s.AddCartItem(context.Background(), CartItem{SessionID: "s1", ProductName: "Rain Coat", Price: decimal.NewFromInt(899)})

	placed := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	orders := []Order{{
		ID:           "ORD20240101100000123",
		ProductName:  "Rain Coat",
		Qty:          1,
		Status:       "Processing",
		DeliveryTime: "3-5 business days",
		Total:        decimal.RequireFromString("1060.82"),
		PlacedAt:     placed,
	}}
	paid := Checkout{
		ID:        "chk-1",
		SessionID: "s1",
		Coupon:    "LESS50",
		Subtotal:  decimal.NewFromInt(899),
		Discount:  decimal.NewFromInt(50),
		Shipping:  decimal.NewFromInt(49),
		Tax:       decimal.RequireFromString("152.82"),
		Total:     decimal.RequireFromString("1050.82"),
		PlacedAt:  placed,
	}
	if err := s.PlaceOrder(context.Background(), paid, orders); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	items, _ := s.GetCart("s1")
	if len(items) != 0 {
		t.Errorf("cart has %d lines after checkout, want 0", len(items))
	}
	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Coupon != "" {
		t.Errorf("Coupon = %q after checkout, want empty", sess.Coupon)
	}

	got, err := s.GetOrder("ord20240101100000123")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.SessionID != "s1" || got.Status != "Processing" || got.CheckoutID != "chk-1" {
		t.Errorf("order = %+v", got)
	}

	c, err := s.GetCheckout(got.CheckoutID)
	if err != nil {
		t.Fatalf("GetCheckout: %v", err)
	}
	if c.Coupon != "LESS50" || c.SessionID != "s1" || !c.PlacedAt.Equal(placed) {
		t.Errorf("checkout = %+v", c)
	}
	if !c.Discount.Equal(decimal.NewFromInt(50)) || !c.Shipping.Equal(decimal.NewFromInt(49)) ||
		!c.Tax.Equal(decimal.RequireFromString("152.82")) || !c.Total.Equal(decimal.RequireFromString("1050.82")) {
		t.Errorf("checkout amounts = %s/%s/%s/%s", c.Discount, c.Shipping, c.Tax, c.Total)
	}
	if _, err := s.GetCheckout("chk-unknown"); err != ErrNotFound {
		t.Errorf("GetCheckout(unknown) error = %v, want ErrNotFound", err)
	}
	if !got.PlacedAt.Equal(placed) {
		t.Errorf("PlacedAt = %v, want %v", got.PlacedAt, placed)
	}
	if !got.ShippedAt.IsZero() {
		t.Errorf("ShippedAt = %v, want zero", got.ShippedAt)
	}
	if !got.Total.Equal(decimal.RequireFromString("1060.82")) {
		t.Errorf("Total = %s, want 1060.82", got.Total)
	}

	list, err := s.ListOrders("s1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListOrders = %d orders, err %v; want 1", len(list), err)
	}
	ids, err := s.OrderIDs()
	if err != nil || len(ids) != 1 || ids[0] != orders[0].ID {
		t.Errorf("OrderIDs = %v, err %v", ids, err)
	}

	if _, err := s.GetOrder("ORD000"); err != ErrNotFound {
		t.Errorf("GetOrder(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestPlaceOrderDuplicateIDRollsBack(t *testing.T) {
	s := openTestStore(t)
	s.AddCartItem(context.Background(), CartItem{SessionID: "s1", ProductName: "Rain Coat", Price: decimal.NewFromInt(899)})

	dup := []Order{
		{ID: "ORD1001", ProductName: "Rain Coat", Qty: 1, Status: "Processing"},
		{ID: "ORD1001", ProductName: "Rain Coat", Qty: 1, Status: "Processing"},
	}
	c := Checkout{ID: "chk-dup", SessionID: "s1", Subtotal: decimal.NewFromInt(1798)}
	if err := s.PlaceOrder(context.Background(), c, dup); err == nil {
		t.Fatal("expected error for duplicate order IDs")
	}

	items, _ := s.GetCart("s1")
	if len(items) != 1 {
		t.Errorf("cart has %d lines after failed checkout, want 1", len(items))
	}
	if _, err := s.GetOrder("ORD1001"); err != ErrNotFound {
		t.Errorf("GetOrder after rollback error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetCheckout("chk-dup"); err != ErrNotFound {
		t.Errorf("GetCheckout after rollback error = %v, want ErrNotFound", err)
	}
}

func TestSessionLastSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetSessionLastSearch(ctx, "s1", "show footwear"); err != nil {
		t.Fatalf("SetSessionLastSearch: %v", err)
	}
	if err := s.SetSessionCoupon("s1", "SAVE10"); err != nil {
		t.Fatalf("SetSessionCoupon: %v", err)
	}
	if err := s.SetSessionLastSearch(ctx, "s1", "find a rain coat"); err != nil {
		t.Fatalf("SetSessionLastSearch: %v", err)
	}

	sess, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.LastSearch != "find a rain coat" || sess.Coupon != "SAVE10" {
		t.Errorf("session = %+v", sess)
	}
}

func TestInteractions(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		session := "s1"
		if i%2 == 1 {
			session = "s2"
		}
		err := s.SaveInteraction(Interaction{
			ID:          fmt.Sprintf("id-%d", i),
			SessionID:   session,
			CreatedAt:   base.Add(time.Duration(i) * time.Millisecond),
			UserMessage: fmt.Sprintf("message %d", i),
			Intent:      "search",
			Reply:       "ok",
			ResultCount: i,
		})
		if err != nil {
			t.Fatalf("SaveInteraction %d: %v", i, err)
		}
	}

	all, err := s.ListInteractions("", 3)
	if err != nil {
		t.Fatalf("ListInteractions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d interactions, want 3", len(all))
	}
	if all[0].ID != "id-4" || all[2].ID != "id-2" {
		t.Errorf("order = %s..%s, want id-4..id-2", all[0].ID, all[2].ID)
	}

	s2, err := s.ListInteractions("s2", 10)
	if err != nil {
		t.Fatalf("ListInteractions(s2): %v", err)
	}
	if len(s2) != 2 {
		t.Errorf("session s2 has %d interactions, want 2", len(s2))
	}

	got, err := s.GetInteraction("id-3")
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.ResultCount != 3 || got.UserMessage != "message 3" {
		t.Errorf("interaction = %+v", got)
	}
	if !got.CreatedAt.Equal(base.Add(3 * time.Millisecond)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}

	if err := s.DeleteInteraction("id-3"); err != nil {
		t.Fatalf("DeleteInteraction: %v", err)
	}
	if _, err := s.GetInteraction("id-3"); err != ErrNotFound {
		t.Errorf("GetInteraction after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteInteraction("id-3"); err != ErrNotFound {
		t.Errorf("second DeleteInteraction error = %v, want ErrNotFound", err)
	}
}
