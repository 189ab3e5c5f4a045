// Package sqlitestore persists ledger state in SQLite so the catalog and the
// owner balance survive restarts.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bookstore/pkg/ledger"
)

// Store implements ledger.Repository on top of a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite file at path and makes sure the schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema creates the two tables the ledger needs. The ledger table holds
// exactly one row: the owner identity and the accumulated balance.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ledger (
                        id INTEGER PRIMARY KEY CHECK (id = 0),
                        owner TEXT NOT NULL,
                        balance TEXT NOT NULL
                )`,
		`CREATE TABLE IF NOT EXISTS items (
                        id INTEGER PRIMARY KEY,
                        title TEXT NOT NULL,
                        price INTEGER NOT NULL,
                        stock INTEGER NOT NULL
                )`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the persisted snapshot. A missing ledger row means the store was
// never initialized with an owner.
func (s *Store) Load(ctx context.Context) (ledger.State, error) {
	state := ledger.State{Balance: new(big.Int)}

	var ownerRaw, balanceRaw string
	err := s.db.QueryRowContext(ctx, "SELECT owner, balance FROM ledger WHERE id = 0").Scan(&ownerRaw, &balanceRaw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Leave the state uninitialized; the caller seeds the owner.
	case err != nil:
		return ledger.State{}, fmt.Errorf("load ledger row: %w", err)
	default:
		owner, err := uuid.Parse(ownerRaw)
		if err != nil {
			return ledger.State{}, fmt.Errorf("parse stored owner: %w", err)
		}
		balance, ok := new(big.Int).SetString(balanceRaw, 10)
		if !ok {
			return ledger.State{}, fmt.Errorf("parse stored balance %q", balanceRaw)
		}
		state.Initialized = true
		state.Owner = owner
		state.Balance = balance
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, title, price, stock FROM items ORDER BY id")
	if err != nil {
		return ledger.State{}, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item         ledger.Item
			price, stock int64
		)
		if err := rows.Scan(&item.ID, &item.Title, &price, &stock); err != nil {
			return ledger.State{}, fmt.Errorf("scan item: %w", err)
		}
		if item.ID != uint64(len(state.Items)) {
			return ledger.State{}, fmt.Errorf("catalog ids are not dense at id %d", item.ID)
		}
		item.Price = uint64(price)
		item.Stock = uint64(stock)
		state.Items = append(state.Items, item)
	}
	if err := rows.Err(); err != nil {
		return ledger.State{}, err
	}
	return state, nil
}

// InitOwner records the owner identity exactly once. A second attempt fails on
// the primary key so initialization can never be repeated.
func (s *Store) InitOwner(ctx context.Context, owner uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO ledger (id, owner, balance) VALUES (0, ?, '0')",
		owner.String(),
	)
	if err != nil {
		return fmt.Errorf("initialize owner: %w", err)
	}
	return nil
}

// SaveItem inserts a new catalog row under its pre-assigned id.
func (s *Store) SaveItem(ctx context.Context, item ledger.Item) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO items (id, title, price, stock) VALUES (?, ?, ?, ?)",
		int64(item.ID), item.Title, int64(item.Price), int64(item.Stock),
	)
	if err != nil {
		return fmt.Errorf("save item %d: %w", item.ID, err)
	}
	return nil
}

// UpdateItem overwrites title, price, and stock for an existing row.
func (s *Store) UpdateItem(ctx context.Context, item ledger.Item) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET title = ?, price = ?, stock = ? WHERE id = ?",
		item.Title, int64(item.Price), int64(item.Stock), int64(item.ID),
	)
	if err != nil {
		return fmt.Errorf("update item %d: %w", item.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("update item %d: no such row", item.ID)
	}
	return nil
}

// Settle applies the stock decrement and the balance credit in one
// transaction so a failure can never leave the two out of step.
func (s *Store) Settle(ctx context.Context, item ledger.Item, balance *big.Int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE items SET stock = ? WHERE id = ?",
		int64(item.Stock), int64(item.ID),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("settle stock for item %d: %w", item.ID, err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE ledger SET balance = ? WHERE id = 0",
		balance.String(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("settle balance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if affected == 0 {
		tx.Rollback()
		return errors.New("settle balance: ledger is not initialized")
	}

	return tx.Commit()
}
