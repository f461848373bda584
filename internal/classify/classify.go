// Package classify maps extracted SMS fields to a canonical transaction
// against a resolved wallet.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/pesakit/smsledger/internal/domain"
	"github.com/pesakit/smsledger/internal/patterns"
)

// ErrWalletNotFound is returned when the message sender resolved to no
// registered wallet. Callers drop and log the message; this is never fatal to
// the ingestion stream.
var ErrWalletNotFound = errors.New("no wallet registered for sender")

// WalletResolver looks up a wallet by its SMS sender label (exact match on
// the wallet's transactionSenderName). The store satisfies this.
type WalletResolver interface {
	WalletBySender(ctx context.Context, senderName string) (*domain.Wallet, error)
}

// Classification is the canonical result handed to the ingestion engine.
type Classification struct {
	Type        domain.TransactionType
	WalletID    string
	Amount      float64
	Fee         float64
	Description string
}

// Classifier resolves wallets and builds canonical transaction fields.
type Classifier struct {
	wallets WalletResolver
}

// New creates a classifier backed by the given wallet resolver.
func New(wallets WalletResolver) *Classifier {
	return &Classifier{wallets: wallets}
}

// Classify maps the pattern's semantic tag to a transaction type, resolves
// the wallet for the sender, and builds the user-facing description.
func (c *Classifier) Classify(ctx context.Context, sender string, fields *patterns.Fields) (*Classification, error) {
	if !domain.ValidateTransactionType(fields.Tag) {
		return nil, fmt.Errorf("pattern %s carries invalid type tag %q", fields.PatternName, fields.Tag)
	}

	wallet, err := c.wallets.WalletBySender(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("%w: sender %q: %v", ErrWalletNotFound, sender, err)
	}

	return &Classification{
		Type:        fields.Tag,
		WalletID:    wallet.ID,
		Amount:      fields.Amount,
		Fee:         fields.Fee,
		Description: describe(fields),
	}, nil
}

// describe builds the transaction description. TRANSFER and WITHDRAW surface
// the counterparty/destination directly (the UI shows these verbatim rather
// than a generic label); other types get a short verb-led summary.
func describe(fields *patterns.Fields) string {
	switch fields.Tag {
	case domain.TypeTransfer:
		if fields.Counterparty != "" {
			return fmt.Sprintf("Transfer to %s", fields.Counterparty)
		}
		return "Inter-wallet transfer"
	case domain.TypeWithdraw:
		if fields.Counterparty != "" {
			return fmt.Sprintf("Withdrawal at %s", fields.Counterparty)
		}
		return "Cash withdrawal"
	case domain.TypeCredit:
		if fields.Counterparty != "" {
			return fmt.Sprintf("Received from %s", fields.Counterparty)
		}
		return "Received"
	default:
		if fields.Counterparty != "" {
			return fmt.Sprintf("Sent to %s", fields.Counterparty)
		}
		return "Payment"
	}
}
