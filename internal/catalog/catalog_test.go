package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const productsCSV = `product_name,category,price,rating,stock_status,delivery_time
Running Shoes,Footwear,1299,4.5,In Stock,3-5 days
Flip Flops,footwear,299,,In Stock,2 days
Rain Coat,Clothing,899,not-a-number,Out of Stock,
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testIndex() *Index {
	return NewIndex([]Product{
		{Name: "Running Shoes", Category: "Footwear", Price: decimal.NewFromInt(1299)},
		{Name: "Flip Flops", Category: "footwear", Price: decimal.NewFromInt(299)},
		{Name: "Rain Coat", Category: "Clothing", Price: decimal.NewFromInt(899)},
		{Name: "running shoes", Category: "Sale", Price: decimal.NewFromInt(999)},
	})
}

func TestLoadProducts_CSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "products.csv", productsCSV)

	products, err := LoadProducts(path)
	if err != nil {
		t.Fatalf("LoadProducts: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("expected 3 products, got %d", len(products))
	}

	p := products[0]
	if p.Name != "Running Shoes" || p.Category != "Footwear" {
		t.Errorf("product = %+v", p)
	}
	if !p.Price.Equal(decimal.NewFromInt(1299)) {
		t.Errorf("price = %s, want 1299", p.Price)
	}
	if p.Rating == nil || *p.Rating != 4.5 {
		t.Errorf("rating = %v, want 4.5", p.Rating)
	}
	if p.DeliveryTime != "3-5 days" {
		t.Errorf("delivery_time = %q", p.DeliveryTime)
	}

	if products[1].Rating != nil {
		t.Errorf("empty rating should be absent, got %v", *products[1].Rating)
	}
	if products[2].Rating != nil {
		t.Errorf("unparseable rating should be absent, got %v", *products[2].Rating)
	}
	if products[2].StockStatus != "Out of Stock" {
		t.Errorf("stock_status = %q", products[2].StockStatus)
	}
}

func TestParseProducts_HeaderAliasesAndBlankRows(t *testing.T) {
	rows := [][]string{
		{"\ufeffName", "Category", "Price"},
		{"Mug", "kitchen", "149.50"},
		{"", "", ""},
		{"Kettle", "kitchen", "999"},
	}
	products, err := ParseProducts(rows)
	if err != nil {
		t.Fatalf("ParseProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].Price.StringFixed(2) != "149.50" {
		t.Errorf("price = %s", products[0].Price)
	}
}

func TestParseProducts_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
		want string
	}{
		{"missing column", [][]string{{"product_name", "category"}}, "price"},
		{"bad price", [][]string{{"product_name", "category", "price"}, {"Mug", "kitchen", "cheap"}}, "row 2: invalid price"},
		{"negative price", [][]string{{"product_name", "category", "price"}, {"Mug", "kitchen", "-1"}}, "negative price"},
		{"empty name", [][]string{{"product_name", "category", "price"}, {"", "kitchen", "10"}}, "empty product_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProducts(tt.rows)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	_, err := ParseProducts([][]string{{"name"}})
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("error = %v, want ErrMissingColumn", err)
	}
}

func TestLoadProducts_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetList()[0]
	rows := [][]any{
		{"product_name", "category", "price", "rating"},
		{"Running Shoes", "footwear", 1299, 4.5},
		{"Rain Coat", "clothing", 899},
	}
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cellName, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	products, err := LoadProducts(path)
	if err != nil {
		t.Fatalf("LoadProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[0].Name != "Running Shoes" || !products[0].Price.Equal(decimal.NewFromInt(1299)) {
		t.Errorf("product = %+v", products[0])
	}
	if products[0].Rating == nil || *products[0].Rating != 4.5 {
		t.Errorf("rating = %v, want 4.5", products[0].Rating)
	}
	if products[1].Rating != nil {
		t.Errorf("missing rating cell should be absent")
	}
}

func TestLoadProducts_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, t.TempDir(), "products.txt", "x")
	if _, err := LoadProducts(path); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("error = %v, want unsupported format", err)
	}
}

func TestLoadOrders(t *testing.T) {
	path := writeFile(t, t.TempDir(), "orders.csv", `order_id,status,product,delivery_time,placed_at,shipped_at
ORD001,Shipped,Rain Coat,3-5 days,2024-01-01 10:00:00,2024-01-02 09:00:00

ORD002,Processing,Flip Flops,2 days,,
`)
	orders, err := LoadOrders(path)
	if err != nil {
		t.Fatalf("LoadOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ProductName != "Rain Coat" || orders[0].ShippedAt != "2024-01-02 09:00:00" {
		t.Errorf("order = %+v", orders[0])
	}
	if orders[1].PlacedAt != "" {
		t.Errorf("placed_at = %q, want empty", orders[1].PlacedAt)
	}
}

func TestIndex_Categories(t *testing.T) {
	ix := testIndex()

	cats := ix.Categories()
	want := []string{"footwear", "clothing", "sale"}
	if strings.Join(cats, ",") != strings.Join(want, ",") {
		t.Errorf("categories = %v, want %v", cats, want)
	}
	if got := len(ix.InCategory("FOOTWEAR")); got != 2 {
		t.Errorf("InCategory(FOOTWEAR) = %d products, want 2", got)
	}
	if !ix.HasCategory(" Clothing ") {
		t.Error("HasCategory(Clothing) = false")
	}
	if ix.HasCategory("toys") {
		t.Error("HasCategory(toys) = true")
	}
	if got := ix.InCategory("toys"); len(got) != 0 {
		t.Errorf("InCategory(toys) = %v", got)
	}
}

func TestIndex_LookupFirstWins(t *testing.T) {
	ix := testIndex()

	p, ok := ix.Lookup("RUNNING SHOES")
	if !ok {
		t.Fatal("Lookup failed")
	}
	if p.Category != "Footwear" {
		t.Errorf("Lookup returned %+v, want the first catalog row", p)
	}
	if _, ok := ix.Lookup("umbrella"); ok {
		t.Error("Lookup(umbrella) should fail")
	}
	if ix.Len() != 4 {
		t.Errorf("Len = %d, want 4", ix.Len())
	}
}

func TestIndex_NameSearch(t *testing.T) {
	ix := testIndex()

	if got := ix.NameContains("Coat"); len(got) != 1 || got[0].Name != "Rain Coat" {
		t.Errorf("NameContains(Coat) = %v", got)
	}
	if got := ix.NameContains(""); got != nil {
		t.Errorf("NameContains(\"\") = %v, want nil", got)
	}
	if got := ix.NamesIn("please add flip flops and a rain coat"); len(got) != 2 {
		t.Errorf("NamesIn = %v, want 2 products", got)
	}
}

func TestIndex_Nil(t *testing.T) {
	var ix *Index
	if ix.Len() != 0 || ix.Categories() != nil || ix.HasCategory("x") {
		t.Error("nil index should be empty")
	}
	if _, ok := ix.Lookup("x"); ok {
		t.Error("nil index Lookup should fail")
	}
}

func TestIndex_IsolatedFromInput(t *testing.T) {
	products := []Product{{Name: "Mug", Category: "kitchen"}}
	ix := NewIndex(products)
	products[0].Name = "Changed"

	if ix.At(0).Name != "Mug" {
		t.Errorf("index shares storage with its input")
	}
	out := ix.Products()
	out[0].Name = "Changed"
	if ix.At(0).Name != "Mug" {
		t.Errorf("Products() exposes internal storage")
	}
}

func TestLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := Sources{
		ProductsPath: writeFile(t, dir, "products.csv", productsCSV),
		SynonymsPath: writeFile(t, dir, "synonyms.json", `{"footwear": ["shoes", "sneakers"]}`),
		OrdersPath:   writeFile(t, dir, "orders.csv", "order_id,status,product_name\nord001,Shipped,Rain Coat\nORD001,Delivered,Mug\n"),
	}

	snap, err := Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Index.Len() != 3 {
		t.Errorf("products = %d, want 3", snap.Index.Len())
	}
	if snap.Synonyms.Len() != 1 {
		t.Errorf("synonym categories = %d, want 1", snap.Synonyms.Len())
	}

	o, ok := snap.Order(" Ord001 ")
	if !ok {
		t.Fatal("Order lookup failed")
	}
	if o.Status != "Shipped" {
		t.Errorf("status = %q, want the first matching row", o.Status)
	}
	if _, ok := snap.Order("ORD404"); ok {
		t.Error("unknown order should not be found")
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(context.Background(), Sources{}); err == nil {
		t.Error("expected error for empty products path")
	}

	src := Sources{
		ProductsPath: writeFile(t, dir, "products.csv", productsCSV),
		SynonymsPath: writeFile(t, dir, "synonyms.json", `["not", "a", "mapping"]`),
	}
	if _, err := Load(context.Background(), src); err == nil || !strings.Contains(err.Error(), "loading synonyms") {
		t.Errorf("error = %v, want a synonyms error", err)
	}
}

func touch(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestReloader_RunOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")
	base := time.Now().Add(-time.Hour)
	touch(t, path, productsCSV, base)

	src := Sources{ProductsPath: path}
	initial, err := Load(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(src, initial, 0)

	changed, err := r.RunOnce(ctx)
	if err != nil || changed {
		t.Fatalf("RunOnce without changes = (%v, %v), want (false, nil)", changed, err)
	}

	touch(t, path, productsCSV+"Mug,kitchen,149\n", base.Add(time.Minute))
	changed, err = r.RunOnce(ctx)
	if err != nil || !changed {
		t.Fatalf("RunOnce after change = (%v, %v), want (true, nil)", changed, err)
	}
	if r.Current().Index.Len() != 4 {
		t.Errorf("products after reload = %d, want 4", r.Current().Index.Len())
	}
	if r.Current() == initial {
		t.Error("snapshot was not swapped")
	}
}

func TestReloader_FailedReloadKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")
	base := time.Now().Add(-time.Hour)
	touch(t, path, productsCSV, base)

	src := Sources{ProductsPath: path}
	initial, err := Load(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(src, initial, time.Minute)

	touch(t, path, "product_name,category\nMug,kitchen\n", base.Add(time.Minute))
	if _, err := r.RunOnce(ctx); err == nil {
		t.Fatal("expected reload error")
	}
	if r.Current() != initial {
		t.Error("failed reload replaced the snapshot")
	}

	// The broken file is retried on the next poll.
	touch(t, path, productsCSV, base.Add(2*time.Minute))
	changed, err := r.RunOnce(ctx)
	if err != nil || !changed {
		t.Fatalf("RunOnce after fix = (%v, %v), want (true, nil)", changed, err)
	}
}

func TestReloader_RunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "products.csv", productsCSV)
	src := Sources{ProductsPath: path}
	initial, err := Load(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(src, initial, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
