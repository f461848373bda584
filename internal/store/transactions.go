package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pesakit/smsledger/internal/domain"
)

const transactionColumns = `id, wallet_id, category_item_id, amount, fee, type,
	description, occurred_at, received_at, status, source_hash,
	exclude_from_reports, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var t domain.Transaction
	var occurredAt, createdAt, updatedAt int64
	var receivedAt sql.NullInt64
	var exclude int
	var status, txnType string

	err := row.Scan(&t.ID, &t.WalletID, &t.CategoryItemID, &t.Amount, &t.Fee,
		&txnType, &t.Description, &occurredAt, &receivedAt, &status,
		&t.SourceHash, &exclude, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	t.Type = domain.TransactionType(txnType)
	t.Status = domain.TransactionStatus(status)
	t.OccurredAt = time.Unix(occurredAt, 0).UTC()
	if receivedAt.Valid {
		t.ReceivedAt = time.Unix(receivedAt.Int64, 0).UTC()
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	t.ExcludeFromReports = exclude != 0
	return &t, nil
}

// TransactionByID fetches a transaction by primary key.
func (s *Store) TransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// TransactionBySourceHash performs the primary dedup lookup.
func (s *Store) TransactionBySourceHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE source_hash = ?`, hash)
	return scanTransaction(row)
}

// TransactionByWalletDateAmount performs the fallback dedup lookup: an
// existing transaction with identical wallet, occurrence time, and amount is
// treated as the same event even when the message body (and therefore the
// hash) differs. Amounts are compared at cent precision.
func (s *Store) TransactionByWalletDateAmount(ctx context.Context, walletID string, occurredAt time.Time, amount float64) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE wallet_id = ? AND occurred_at = ?
		   AND CAST(ROUND(amount * 100) AS INTEGER) = CAST(ROUND(? * 100) AS INTEGER)`,
		walletID, occurredAt.Unix(), amount)
	return scanTransaction(row)
}

// ListTransactionsByWallet returns a wallet's transactions in occurrence
// order, oldest first.
func (s *Store) ListTransactionsByWallet(ctx context.Context, walletID string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE wallet_id = ? ORDER BY occurred_at, created_at`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// LatestSourceTime returns the receipt instant of the newest SMS-sourced
// transaction, the catch-up watermark. Receipt instants are real UTC times
// set by the device, unlike occurred_at which carries the provider's wall
// clock as printed in the body, so the watermark is comparable with incoming
// message timestamps regardless of the device timezone. Returns a zero time
// when no SMS-sourced transaction exists yet.
func (s *Store) LatestSourceTime(ctx context.Context) (time.Time, error) {
	var unix sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(received_at) FROM transactions WHERE received_at IS NOT NULL`,
	).Scan(&unix)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query watermark: %w", err)
	}
	if !unix.Valid {
		return time.Time{}, nil
	}
	return time.Unix(unix.Int64, 0).UTC(), nil
}

// InsertTransactionWithBalance commits a new transaction and applies its
// signed balance effect to the owning wallet in a single SQL transaction.
func (s *Store) InsertTransactionWithBalance(ctx context.Context, t *domain.Transaction, balanceDelta float64) error {
	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exclude := 0
		if t.ExcludeFromReports {
			exclude = 1
		}
		var receivedAt any
		if !t.ReceivedAt.IsZero() {
			receivedAt = t.ReceivedAt.Unix()
		}
		_, err := tx.Exec(
			`INSERT INTO transactions (`+transactionColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.WalletID, t.CategoryItemID, t.Amount, t.Fee, string(t.Type),
			t.Description, t.OccurredAt.Unix(), receivedAt, string(t.Status),
			t.SourceHash, exclude, t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
		return applyBalanceDelta(tx, t.WalletID, balanceDelta, now)
	})
}

// UpdateAmountWithBalance rewrites a transaction's amount and applies the
// compensating balance delta atomically.
func (s *Store) UpdateAmountWithBalance(ctx context.Context, transactionID string, newAmount float64, walletID string, balanceDelta float64) error {
	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE transactions SET amount = ?, updated_at = ? WHERE id = ?`,
			newAmount, now, transactionID,
		)
		if err != nil {
			return fmt.Errorf("failed to update amount on %s: %w", transactionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
		}
		return applyBalanceDelta(tx, walletID, balanceDelta, now)
	})
}

// UpdateFeeWithBalance rewrites a transaction's fee and applies the
// compensating balance delta atomically. The delta is zero for types whose
// fees do not move the balance.
func (s *Store) UpdateFeeWithBalance(ctx context.Context, transactionID string, newFee float64, walletID string, balanceDelta float64) error {
	now := time.Now().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE transactions SET fee = ?, updated_at = ? WHERE id = ?`,
			newFee, now, transactionID,
		)
		if err != nil {
			return fmt.Errorf("failed to update fee on %s: %w", transactionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
		}
		if balanceDelta == 0 {
			return nil
		}
		return applyBalanceDelta(tx, walletID, balanceDelta, now)
	})
}

// AdjustBalance applies a signed delta to a wallet's balance and returns the
// new balance.
func (s *Store) AdjustBalance(ctx context.Context, walletID string, delta float64) (float64, error) {
	var newBalance float64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := applyBalanceDelta(tx, walletID, delta, time.Now().Unix()); err != nil {
			return err
		}
		return tx.QueryRow(`SELECT balance FROM wallets WHERE id = ?`, walletID).Scan(&newBalance)
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// DeleteTransaction removes a transaction row. The wallet balance is
// deliberately left untouched: deletion does not reverse the balance effect,
// and callers are expected to surface that to the user (see ledger.Delete).
func (s *Store) DeleteTransaction(ctx context.Context, transactionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, transactionID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", transactionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return nil
}

// Categorize links a transaction to a category item and marks it CATEGORIZED.
func (s *Store) Categorize(ctx context.Context, transactionID, categoryItemID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET category_item_id = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		categoryItemID, string(domain.StatusCategorized), time.Now().Unix(), transactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to categorize transaction %s: %w", transactionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return nil
}

// SetExcludeFromReports toggles the weekly-report exclusion flag.
func (s *Store) SetExcludeFromReports(ctx context.Context, transactionID string, exclude bool) error {
	val := 0
	if exclude {
		val = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET exclude_from_reports = ?, updated_at = ? WHERE id = ?`,
		val, time.Now().Unix(), transactionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update report flag on %s: %w", transactionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return nil
}
