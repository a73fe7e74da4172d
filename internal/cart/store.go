package cart

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gasflow/orderflow/internal/identity"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cart_lines (
	identity      TEXT    NOT NULL,
	product_id    TEXT    NOT NULL,
	quantity      INTEGER NOT NULL,
	unit_price    TEXT    NOT NULL,
	stock_ceiling INTEGER,
	seller_ref    TEXT    NOT NULL,
	name          TEXT    NOT NULL DEFAULT '',
	image_url     TEXT    NOT NULL DEFAULT '',
	description   TEXT    NOT NULL DEFAULT '',
	position      INTEGER NOT NULL,
	PRIMARY KEY (identity, product_id)
);`

// Store persists carts and notifies in-process subscribers after every
// committed mutation, giving same-identity read-after-write visibility
// across open views.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[string]map[int]chan struct{}
	next int
}

// Open opens (creating if needed) the cart database at path. Use
// ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cart db: %w", err)
	}
	// Single writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cart schema: %w", err)
	}
	return &Store{db: db, subs: make(map[string]map[int]chan struct{})}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetCart returns the persisted cart for id. Absence is a valid empty
// state, never an error.
func (s *Store) GetCart(ctx context.Context, id identity.Identity) (Cart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, stock_ceiling, seller_ref, name, image_url, description
		FROM cart_lines WHERE identity = ? ORDER BY position`, id.Key())
	if err != nil {
		return Cart{}, fmt.Errorf("get cart: %w", err)
	}
	defer rows.Close()

	var c Cart
	for rows.Next() {
		var (
			productID, unitPrice, sellerRef string
			ceiling                         sql.NullInt32
			l                               Line
		)
		if err := rows.Scan(&productID, &l.Quantity, &unitPrice, &ceiling, &sellerRef, &l.Name, &l.ImageURL, &l.Description); err != nil {
			return Cart{}, fmt.Errorf("scan cart line: %w", err)
		}
		if l.ProductID, err = uuid.Parse(productID); err != nil {
			return Cart{}, fmt.Errorf("parse product id: %w", err)
		}
		if l.SellerRef, err = uuid.Parse(sellerRef); err != nil {
			return Cart{}, fmt.Errorf("parse seller ref: %w", err)
		}
		if l.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return Cart{}, fmt.Errorf("parse unit price: %w", err)
		}
		if ceiling.Valid {
			v := ceiling.Int32
			l.StockCeiling = &v
		}
		c.Lines = append(c.Lines, l)
	}
	return c, rows.Err()
}

// SetLineQuantity upserts line for id. A quantity <= 0 removes the line.
// Quantities above the line's stock ceiling are silently capped; the
// stored (possibly capped) line is returned so callers can reflect it.
func (s *Store) SetLineQuantity(ctx context.Context, id identity.Identity, line Line) (Line, error) {
	if line.StockCeiling != nil && line.Quantity > *line.StockCeiling {
		line.Quantity = *line.StockCeiling
	}
	if line.Quantity <= 0 {
		if err := s.RemoveLine(ctx, id, line.ProductID); err != nil {
			return Line{}, err
		}
		line.Quantity = 0
		return line, nil
	}

	var ceiling sql.NullInt32
	if line.StockCeiling != nil {
		ceiling = sql.NullInt32{Int32: *line.StockCeiling, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_lines (identity, product_id, quantity, unit_price, stock_ceiling, seller_ref, name, image_url, description, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE((SELECT MAX(position) FROM cart_lines WHERE identity = ?), 0) + 1)
		ON CONFLICT (identity, product_id) DO UPDATE SET
			quantity = excluded.quantity,
			stock_ceiling = excluded.stock_ceiling`,
		id.Key(), line.ProductID.String(), line.Quantity, line.UnitPrice.String(),
		ceiling, line.SellerRef.String(), line.Name, line.ImageURL, line.Description,
		id.Key())
	if err != nil {
		return Line{}, fmt.Errorf("set cart line: %w", err)
	}
	s.notify(id)
	return line, nil
}

// RemoveLine deletes one line. Removing an absent line is a no-op.
func (s *Store) RemoveLine(ctx context.Context, id identity.Identity, productID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE identity = ? AND product_id = ?`,
		id.Key(), productID.String())
	if err != nil {
		return fmt.Errorf("remove cart line: %w", err)
	}
	s.notify(id)
	return nil
}

// Clear deletes every line for id.
func (s *Store) Clear(ctx context.Context, id identity.Identity) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE identity = ?`, id.Key())
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	s.notify(id)
	return nil
}

// ConsumeLines removes exactly the given lines after a successful
// checkout. A targeted line that no longer exists is treated as already
// consumed, not an error.
func (s *Store) ConsumeLines(ctx context.Context, id identity.Identity, productIDs []uuid.UUID) error {
	if len(productIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(productIDs))
	args := make([]any, 0, len(productIDs)+1)
	args = append(args, id.Key())
	for i, pid := range productIDs {
		placeholders[i] = "?"
		args = append(args, pid.String())
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM cart_lines WHERE identity = ? AND product_id IN (%s)`,
		strings.Join(placeholders, ", ")), args...)
	if err != nil {
		return fmt.Errorf("consume cart lines: %w", err)
	}
	s.notify(id)
	return nil
}

// Subscribe returns a channel that receives a signal after every
// committed mutation of id's cart, and a cancel function. The channel
// has a buffer of one; signals coalesce rather than queue.
func (s *Store) Subscribe(id identity.Identity) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{}, 1)
	key := id.Key()
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]chan struct{})
	}
	token := s.next
	s.next++
	s.subs[key][token] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subs[key]; ok {
			delete(subs, token)
			if len(subs) == 0 {
				delete(s.subs, key)
			}
		}
	}
	return ch, cancel
}

func (s *Store) notify(id identity.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[id.Key()] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
