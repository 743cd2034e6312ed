package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/shopbot/internal/intent"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for sessions, carts, orders and
// interactions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "shopbot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}


// timeLayout keeps sub-second precision with a fixed width so that text
// columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

// --- Sessions ---

func (s *Store) GetSession(id string) (Session, error) {
	var sess Session
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, last_category, last_search, coupon, created_at, updated_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.LastCategory, &sess.LastSearch, &sess.Coupon, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Session{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return sess, nil
}

func (s *Store) SaveSessionCategory(id, category string) error {
	now := formatTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, last_category, coupon, created_at, updated_at) VALUES (?, ?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_category = excluded.last_category, updated_at = excluded.updated_at`,
		id, category, now, now,
	)
	return err
}

func (s *Store) SetSessionCoupon(id, code string) error {
	now := formatTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, last_category, coupon, created_at, updated_at) VALUES (?, '', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET coupon = excluded.coupon, updated_at = excluded.updated_at`,
		id, code, now, now,
	)
	return err
}

// SetSessionLastSearch records the most recent search text of a session.
func (s *Store) SetSessionLastSearch(ctx context.Context, id, text string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, last_category, last_search, coupon, created_at, updated_at) VALUES (?, '', ?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_search = excluded.last_search, updated_at = excluded.updated_at`,
		id, text, now, now,
	)
	return err
}

// GetMemory returns the conversational memory of a session. Unknown sessions
// have empty memory.
func (s *Store) GetMemory(ctx context.Context, id string) (intent.Memory, error) {
	var mem intent.Memory
	err := s.db.QueryRowContext(ctx, `SELECT last_category FROM sessions WHERE id = ?`, id).Scan(&mem.LastCategory)
	if err == sql.ErrNoRows {
		return intent.Memory{}, nil
	}
	return mem, err
}

func (s *Store) SaveMemory(ctx context.Context, id string, mem intent.Memory) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, last_category, coupon, created_at, updated_at) VALUES (?, ?, '', ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_category = excluded.last_category, updated_at = excluded.updated_at`,
		id, mem.LastCategory, now, now,
	)
	return err
}

// --- Cart ---

// AddCartItem inserts a cart line, or increases its quantity when the
// session already holds the product.
func (s *Store) AddCartItem(ctx context.Context, item CartItem) error {
	qty := item.Qty
	if qty <= 0 {
		qty = 1
	}
	addedAt := item.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (session_id, product_name, category, price, qty, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, product_name) DO UPDATE SET qty = cart_items.qty + excluded.qty, price = excluded.price`,
		item.SessionID, item.ProductName, item.Category, item.Price.String(), qty, formatTime(addedAt),
	)
	return err
}

func (s *Store) GetCart(sessionID string) ([]CartItem, error) {
	rows, err := s.db.Query(`
		SELECT session_id, product_name, category, price, qty, added_at
		FROM cart_items WHERE session_id = ? ORDER BY added_at ASC, rowid ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CartItem
	for rows.Next() {
		var it CartItem
		var price, addedAt string
		if err := rows.Scan(&it.SessionID, &it.ProductName, &it.Category, &price, &it.Qty, &addedAt); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parsing price of %q: %w", it.ProductName, err)
		}
		if it.AddedAt, err = parseTime(addedAt); err != nil {
			return nil, fmt.Errorf("parsing added_at: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// RemoveCartItem deletes a cart line by product name, ignoring case.
func (s *Store) RemoveCartItem(sessionID, productName string) error {
	res, err := s.db.Exec(`DELETE FROM cart_items WHERE session_id = ? AND lower(product_name) = lower(?)`,
		sessionID, productName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ClearCart(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM cart_items WHERE session_id = ?`, sessionID)
	return err
}

// --- Orders ---

// PlaceOrder records a checkout and its orders and, in the same transaction,
// empties the session's cart and clears its coupon. Orders are linked to
// c.ID and placed for c.SessionID.
func (s *Store) PlaceOrder(ctx context.Context, c Checkout, orders []Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer tx.Rollback()

	placedAt := c.PlacedAt
	if placedAt.IsZero() {
		placedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkouts (id, session_id, coupon, subtotal, discount, shipping, tax, total, placed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Coupon, c.Subtotal.String(), c.Discount.String(), c.Shipping.String(),
		c.Tax.String(), c.Total.String(), formatTime(placedAt),
	); err != nil {
		return fmt.Errorf("inserting checkout %s: %w", c.ID, err)
	}

	for _, o := range orders {
		orderPlaced := o.PlacedAt
		if orderPlaced.IsZero() {
			orderPlaced = placedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, session_id, checkout_id, product_name, qty, status, delivery_time, total, placed_at, shipped_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, c.SessionID, c.ID, o.ProductName, o.Qty, o.Status, o.DeliveryTime, o.Total.String(),
			formatTime(orderPlaced), formatTime(o.ShippedAt),
		); err != nil {
			return fmt.Errorf("inserting order %s: %w", o.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE session_id = ?`, c.SessionID); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET coupon = '', updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), c.SessionID); err != nil {
		return fmt.Errorf("clearing coupon: %w", err)
	}

	return tx.Commit()
}

// GetCheckout returns the priced breakdown of a checkout.
func (s *Store) GetCheckout(id string) (Checkout, error) {
	var c Checkout
	var subtotal, discount, shipping, tax, total, placedAt string
	err := s.db.QueryRow(`
		SELECT id, session_id, coupon, subtotal, discount, shipping, tax, total, placed_at
		FROM checkouts WHERE id = ?`, id,
	).Scan(&c.ID, &c.SessionID, &c.Coupon, &subtotal, &discount, &shipping, &tax, &total, &placedAt)
	if err == sql.ErrNoRows {
		return Checkout{}, ErrNotFound
	}
	if err != nil {
		return Checkout{}, err
	}

	amounts := []struct {
		dst *decimal.Decimal
		src string
	}{{&c.Subtotal, subtotal}, {&c.Discount, discount}, {&c.Shipping, shipping}, {&c.Tax, tax}, {&c.Total, total}}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.src); err != nil {
			return Checkout{}, fmt.Errorf("parsing amounts of checkout %s: %w", id, err)
		}
	}
	if c.PlacedAt, err = parseTime(placedAt); err != nil {
		return Checkout{}, fmt.Errorf("parsing placed_at of checkout %s: %w", id, err)
	}
	return c, nil
}

const orderColumns = `id, session_id, checkout_id, product_name, qty, status, delivery_time, total, placed_at, shipped_at`

// GetOrder looks up an order by ID, ignoring case.
func (s *Store) GetOrder(id string) (Order, error) {
	o, err := scanOrder(s.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = upper(?)`, id))
	if err == sql.ErrNoRows {
		return Order{}, ErrNotFound
	}
	return o, err
}

func (s *Store) ListOrders(sessionID string) ([]Order, error) {
	rows, err := s.db.Query(`SELECT `+orderColumns+` FROM orders WHERE session_id = ? ORDER BY placed_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// OrderIDs returns the ID of every stored order.
func (s *Store) OrderIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (Order, error) {
	var o Order
	var total, placedAt, shippedAt string
	if err := r.Scan(&o.ID, &o.SessionID, &o.CheckoutID, &o.ProductName, &o.Qty, &o.Status, &o.DeliveryTime, &total, &placedAt, &shippedAt); err != nil {
		return Order{}, err
	}
	var err error
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("parsing total of order %s: %w", o.ID, err)
	}
	if o.PlacedAt, err = parseTime(placedAt); err != nil {
		return Order{}, fmt.Errorf("parsing placed_at of order %s: %w", o.ID, err)
	}
	if o.ShippedAt, err = parseTime(shippedAt); err != nil {
		return Order{}, fmt.Errorf("parsing shipped_at of order %s: %w", o.ID, err)
	}
	return o, nil
}

// --- Interactions ---

func (s *Store) SaveInteraction(i Interaction) error {
	_, err := s.db.Exec(`
		INSERT INTO interactions (id, session_id, created_at, user_message, intent, reply, result_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.SessionID, formatTime(i.CreatedAt), i.UserMessage, i.Intent, i.Reply, i.ResultCount,
	)
	return err
}

const interactionColumns = `id, session_id, created_at, user_message, intent, reply, result_count`

func (s *Store) GetInteraction(id string) (Interaction, error) {
	i, err := scanInteraction(s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// ListInteractions returns the most recent interactions first. An empty
// sessionID lists every session.
func (s *Store) ListInteractions(sessionID string, limit int) ([]Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

func (s *Store) DeleteInteraction(id string) error {
	res, err := s.db.Exec(`DELETE FROM interactions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInteraction(r rowScanner) (Interaction, error) {
	var i Interaction
	var createdAt string
	if err := r.Scan(&i.ID, &i.SessionID, &createdAt, &i.UserMessage, &i.Intent, &i.Reply, &i.ResultCount); err != nil {
		return Interaction{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}
