package cart

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kalambet/shopbot/internal/catalog"
)

func rating(v float64) *float64 { return &v }

func testIndex() *catalog.Index {
	return catalog.NewIndex([]catalog.Product{
		{Name: "Running Shoes", Category: "footwear", Price: decimal.NewFromInt(1299), Rating: rating(4.5)},
		{Name: "Flip Flops", Category: "footwear", Price: decimal.NewFromInt(299)},
		{Name: "Sandals", Category: "Footwear", Price: decimal.NewFromInt(599), Rating: rating(4.8)},
		{Name: "Boots", Category: "footwear", Price: decimal.NewFromInt(2499), Rating: rating(4.0)},
		{Name: "Rain Coat", Category: "clothing", Price: decimal.NewFromInt(899), Rating: rating(4.4)},
	})
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Please add Running Shoes to cart!", "running shoes"},
		{"put the rain coat into my cart", "the rain coat my"},
		{"add   sandals, please", "sandals"},
		{"Add to cart", ""},
		{"?!", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(0, 0)

	res, err := r.Resolve(testIndex(), "add runing shoes to cart")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Product.Name != "Running Shoes" {
		t.Errorf("product = %q, want Running Shoes", res.Product.Name)
	}
	if res.Query != "runing shoes" || res.Score != 92 {
		t.Errorf("query/score = %q/%d, want runing shoes/92", res.Query, res.Score)
	}

	var recs []string
	for _, p := range res.Recommendations {
		recs = append(recs, p.Name)
	}
	want := []string{"Sandals", "Boots", "Flip Flops"}
	if len(recs) != len(want) {
		t.Fatalf("recommendations = %v, want %v", recs, want)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Errorf("recommendations = %v, want %v", recs, want)
			break
		}
	}
}

func TestResolve_EmptyQuery(t *testing.T) {
	_, err := NewResolver(0, 0).Resolve(testIndex(), "please add to cart")
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("error = %v, want ErrEmptyQuery", err)
	}
}

func TestResolve_NoMatch(t *testing.T) {
	_, err := NewResolver(0, 0).Resolve(testIndex(), "add quantum toaster")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("error = %v, want ErrNoMatch", err)
	}
	var nm *NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("error %T is not a *NoMatchError", err)
	}
	if nm.Query != "quantum toaster" || nm.Best == "" || nm.Score >= DefaultThreshold {
		t.Errorf("NoMatchError = %+v", nm)
	}
}

func TestResolve_EmptyCatalog(t *testing.T) {
	_, err := NewResolver(0, 0).Resolve(catalog.NewIndex(nil), "add shoes")
	var nm *NoMatchError
	if !errors.As(err, &nm) || nm.Best != "" {
		t.Errorf("error = %v, want NoMatchError without a best candidate", err)
	}
	if err.Error() != `no product matches "shoes"` {
		t.Errorf("message = %q", err.Error())
	}
}

func TestResolve_Threshold(t *testing.T) {
	if _, err := NewResolver(95, 0).Resolve(testIndex(), "runing shoes"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("score 92 should not pass threshold 95, got %v", err)
	}
}

func TestRecommend_Limit(t *testing.T) {
	idx := testIndex()
	p, _ := idx.Lookup("sandals")

	recs := Recommend(idx, p, 2)
	if len(recs) != 2 || recs[0].Name != "Running Shoes" || recs[1].Name != "Boots" {
		t.Errorf("recommendations = %+v", recs)
	}

	coat, _ := idx.Lookup("rain coat")
	if got := Recommend(idx, coat, 3); len(got) != 0 {
		t.Errorf("single-product category should give no recommendations, got %v", got)
	}
}
