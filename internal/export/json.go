// Package export renders the ledger for consumption outside the app: a JSON
// snapshot for backup and diffing, and OFX statements for desktop finance
// tools.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pesakit/smsledger/internal/domain"
)

// Storage is the read side of the store the exporters need.
type Storage interface {
	ListWallets(ctx context.Context) ([]*domain.Wallet, error)
	ListTransactionsByWallet(ctx context.Context, walletID string) ([]*domain.Transaction, error)
}

// Snapshot is the full-ledger JSON export shape.
type Snapshot struct {
	ExportedAt time.Time         `json:"exportedAt"`
	Wallets    []*WalletSnapshot `json:"wallets"`
}

// WalletSnapshot is one wallet with its complete transaction history.
type WalletSnapshot struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	SenderName     string                `json:"senderName"`
	OpeningBalance float64               `json:"openingBalance"`
	Balance        float64               `json:"balance"`
	Transactions   []*domain.Transaction `json:"transactions"`
}

// BuildSnapshot assembles the export structure from the store. Wallets come
// back in name order, transactions oldest first, matching the store's list
// ordering.
func BuildSnapshot(ctx context.Context, st Storage) (*Snapshot, error) {
	wallets, err := st.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}

	snap := &Snapshot{ExportedAt: time.Now().UTC()}
	for _, w := range wallets {
		txns, err := st.ListTransactionsByWallet(ctx, w.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions for wallet %s: %w", w.ID, err)
		}
		snap.Wallets = append(snap.Wallets, &WalletSnapshot{
			ID:             w.ID,
			Name:           w.Name,
			SenderName:     w.SenderName,
			OpeningBalance: w.OpeningBalance,
			Balance:        w.Balance,
			Transactions:   txns,
		})
	}
	return snap, nil
}

// WriteSnapshot serializes a snapshot as indented JSON.
func WriteSnapshot(snap *Snapshot, w io.Writer) error {
	if snap == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot as JSON: %w", err)
	}
	return nil
}

// WriteSnapshotToFile writes the snapshot to path, or stdout when path is
// empty.
func WriteSnapshotToFile(snap *Snapshot, path string) (err error) {
	if path == "" {
		return WriteSnapshot(snap, os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", path, closeErr)
		}
	}()

	if err = WriteSnapshot(snap, f); err != nil {
		return fmt.Errorf("failed to write snapshot to %s: %w", path, err)
	}
	return nil
}
