// Package store persists wallets, transactions, and the category taxonomy in
// a local SQLite database.
//
// Balance mutations are always expressed as "balance = balance + ?" inside
// the same SQL transaction as the row change they accompany, so the wallet
// balance and the transaction history can never be observed out of step.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	sender_name     TEXT NOT NULL UNIQUE,
	opening_balance REAL NOT NULL DEFAULT 0,
	balance         REAL NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS category_items (
	id          TEXT PRIMARY KEY,
	category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id                   TEXT PRIMARY KEY,
	wallet_id            TEXT NOT NULL REFERENCES wallets(id),
	category_item_id     TEXT REFERENCES category_items(id) ON DELETE SET NULL,
	amount               REAL NOT NULL CHECK (amount >= 0),
	fee                  REAL NOT NULL DEFAULT 0 CHECK (fee >= 0),
	type                 TEXT NOT NULL CHECK (type IN ('CREDIT','DEBIT','TRANSFER','WITHDRAW')),
	description          TEXT NOT NULL DEFAULT '',
	occurred_at          INTEGER NOT NULL,
	received_at          INTEGER,
	status               TEXT NOT NULL DEFAULT 'UNCATEGORIZED' CHECK (status IN ('UNCATEGORIZED','CATEGORIZED')),
	source_hash          TEXT UNIQUE,
	exclude_from_reports INTEGER NOT NULL DEFAULT 0,
	created_at           INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_wallet_occurred
	ON transactions(wallet_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_transactions_category_item
	ON transactions(category_item_id);
`

// Store wraps the SQLite database with ledger-specific operations.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and applies the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// SQLite allows one writer; a second connection would see lock errors
	// instead of queueing behind the first.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// applyBalanceDelta issues the atomic balance update for a wallet inside tx.
func applyBalanceDelta(tx *sql.Tx, walletID string, delta float64, now int64) error {
	res, err := tx.Exec(
		`UPDATE wallets SET balance = balance + ?, updated_at = ? WHERE id = ?`,
		delta, now, walletID,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance for wallet %s: %w", walletID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, ErrNotFound)
	}
	return nil
}
