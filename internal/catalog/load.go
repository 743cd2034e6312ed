package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ErrMissingColumn is returned when a required column is absent from a table header.
var ErrMissingColumn = errors.New("missing required column")

var productColumns = []string{"product_name", "category", "price"}

var orderColumns = []string{"order_id", "status", "product_name"}

// LoadProducts reads a product table from a .csv or .xlsx file.
func LoadProducts(path string) ([]Product, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	products, err := ParseProducts(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return products, nil
}

// LoadOrders reads an order table from a .csv or .xlsx file.
func LoadOrders(path string) ([]Order, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	orders, err := ParseOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return orders, nil
}

// ParseProducts converts a header row plus data rows into products.
// Blank rows are skipped. An empty or unparseable rating is treated as absent.
func ParseProducts(rows [][]string) ([]Product, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	cols, err := headerIndex(rows[0], productColumns, map[string]string{"name": "product_name"})
	if err != nil {
		return nil, err
	}

	var products []Product
	for n, row := range rows[1:] {
		line := n + 2
		if blankRow(row) {
			continue
		}
		name := cell(row, cols, "product_name")
		if name == "" {
			return nil, fmt.Errorf("row %d: empty product_name", line)
		}
		price, err := decimal.NewFromString(cell(row, cols, "price"))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid price %q: %w", line, cell(row, cols, "price"), err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("row %d: negative price %s", line, price)
		}
		products = append(products, Product{
			Name:         name,
			Category:     cell(row, cols, "category"),
			Price:        price,
			Rating:       parseRating(cell(row, cols, "rating")),
			StockStatus:  cell(row, cols, "stock_status"),
			DeliveryTime: cell(row, cols, "delivery_time"),
		})
	}
	return products, nil
}

// ParseOrders converts a header row plus data rows into order records.
func ParseOrders(rows [][]string) ([]Order, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	cols, err := headerIndex(rows[0], orderColumns, map[string]string{"id": "order_id", "product": "product_name"})
	if err != nil {
		return nil, err
	}

	var orders []Order
	for n, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		id := cell(row, cols, "order_id")
		if id == "" {
			return nil, fmt.Errorf("row %d: empty order_id", n+2)
		}
		orders = append(orders, Order{
			ID:           id,
			Status:       cell(row, cols, "status"),
			ProductName:  cell(row, cols, "product_name"),
			DeliveryTime: cell(row, cols, "delivery_time"),
			PlacedAt:     cell(row, cols, "placed_at"),
			ShippedAt:    cell(row, cols, "shipped_at"),
		})
	}
	return orders, nil
}

func readTable(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported table format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return parseCSV(f)
}

func parseCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: no sheets found", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// headerIndex maps normalized column names to positions and checks that
// every required column is present.
func headerIndex(header, required []string, aliases map[string]string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ReplaceAll(Key(strings.TrimPrefix(h, "\ufeff")), " ", "_")
		if canonical, ok := aliases[name]; ok {
			name = canonical
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, req := range required {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}
	return cols, nil
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseRating(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
