package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pesakit/smsledger/internal/domain"
)

// CreateWallet inserts a new wallet.
func (s *Store) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (id, name, sender_name, opening_balance, balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.SenderName, w.OpeningBalance, w.Balance, w.CreatedAt.Unix(), w.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet %s: %w", w.Name, err)
	}
	return nil
}

// WalletByID fetches a wallet by primary key.
func (s *Store) WalletByID(ctx context.Context, id string) (*domain.Wallet, error) {
	return s.walletWhere(ctx, "id = ?", id)
}

// WalletBySender fetches the wallet whose SMS sender label matches exactly
// (the lookup the classifier uses to attribute messages).
func (s *Store) WalletBySender(ctx context.Context, senderName string) (*domain.Wallet, error) {
	return s.walletWhere(ctx, "sender_name = ?", senderName)
}

func (s *Store) walletWhere(ctx context.Context, where string, arg any) (*domain.Wallet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, sender_name, opening_balance, balance, created_at, updated_at
		 FROM wallets WHERE `+where, arg)

	var w domain.Wallet
	var createdAt, updatedAt int64
	err := row.Scan(&w.ID, &w.Name, &w.SenderName, &w.OpeningBalance, &w.Balance, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	w.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &w, nil
}

// ListWallets returns all wallets ordered by name.
func (s *Store) ListWallets(ctx context.Context) ([]*domain.Wallet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, sender_name, opening_balance, balance, created_at, updated_at
		 FROM wallets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		var createdAt, updatedAt int64
		if err := rows.Scan(&w.ID, &w.Name, &w.SenderName, &w.OpeningBalance, &w.Balance, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		w.CreatedAt = time.Unix(createdAt, 0).UTC()
		w.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		wallets = append(wallets, &w)
	}
	return wallets, rows.Err()
}

// SenderLabels returns every wallet's SMS sender label, for seeding the
// normalizer.
func (s *Store) SenderLabels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sender_name FROM wallets`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sender labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan sender label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}
