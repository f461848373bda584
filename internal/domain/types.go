// Package domain defines the core wallet and transaction types shared by the
// ingestion, ledger, and storage layers.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransactionType is the canonical transaction type enum.
// Use ValidateTransactionType to ensure validity before use.
type TransactionType string

const (
	TypeCredit   TransactionType = "CREDIT"
	TypeDebit    TransactionType = "DEBIT"
	TypeTransfer TransactionType = "TRANSFER"
	TypeWithdraw TransactionType = "WITHDRAW"
)

// TransactionStatus tracks whether a transaction has been categorized.
type TransactionStatus string

const (
	StatusUncategorized TransactionStatus = "UNCATEGORIZED"
	StatusCategorized   TransactionStatus = "CATEGORIZED"
)

var validTypes = map[TransactionType]struct{}{
	TypeCredit: {}, TypeDebit: {}, TypeTransfer: {}, TypeWithdraw: {},
}

var validStatuses = map[TransactionStatus]struct{}{
	StatusUncategorized: {}, StatusCategorized: {},
}

// ValidateTransactionType checks if the type is one of the four canonical types.
func ValidateTransactionType(t TransactionType) bool {
	_, ok := validTypes[t]
	return ok
}

// ValidateStatus checks if the status is valid.
func ValidateStatus(s TransactionStatus) bool {
	_, ok := validStatuses[s]
	return ok
}

// BalanceEffect returns the signed effect this type has on a wallet balance
// for a given amount and fee.
//
// Sign convention:
//   - DEBIT and WITHDRAW decrease the balance by amount + fee.
//   - CREDIT increases the balance by amount (fees are not charged on credits).
//   - TRANSFER is balance-neutral for the recording wallet; transfers are
//     recorded single-sided, not as paired double-entry postings.
func (t TransactionType) BalanceEffect(amount, fee float64) float64 {
	switch t {
	case TypeDebit, TypeWithdraw:
		return -(amount + fee)
	case TypeCredit:
		return amount
	default:
		return 0
	}
}

// FeeAdjustable reports whether a fee correction on this type moves the
// wallet balance. Fee corrections only apply to DEBIT and TRANSFER
// transactions; CREDIT transactions are never fee-adjusted.
func (t TransactionType) FeeAdjustable() bool {
	return t == TypeDebit || t == TypeTransfer
}

// Wallet is a named money-holding account; incoming SMS are attributed to it
// by sender label.
//
// Balance is a derived cache: it must equal the sum of the signed effects of
// every transaction recorded against the wallet, and must be reconstructible
// from transaction history at any commit boundary.
type Wallet struct {
	ID             string
	Name           string
	SenderName     string // SMS sender label used to attribute messages (e.g., "MPESA")
	OpeningBalance float64
	Balance        float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewWallet creates a validated wallet with a starting balance.
func NewWallet(id, name, senderName string, balance float64) (*Wallet, error) {
	if id == "" {
		return nil, fmt.Errorf("wallet ID cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("wallet name cannot be empty")
	}
	if strings.TrimSpace(senderName) == "" {
		return nil, fmt.Errorf("wallet sender name cannot be empty")
	}
	now := time.Now()
	return &Wallet{
		ID:             id,
		Name:           name,
		SenderName:     senderName,
		OpeningBalance: balance,
		Balance:        balance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Transaction is a single committed financial event against one wallet.
//
// SourceHash, when non-nil, is a stable fingerprint of the originating SMS
// body and is unique across all transactions; it is the primary dedup key.
// Manually entered transactions carry a nil SourceHash.
type Transaction struct {
	ID                 string
	WalletID           string
	CategoryItemID     *string // nil = uncategorized
	Amount             float64 // non-negative magnitude
	Fee                float64 // non-negative, zero when the provider reported none
	Type               TransactionType
	Description        string
	OccurredAt         time.Time
	ReceivedAt         time.Time // receipt instant of the source SMS; zero for manual entries
	Status             TransactionStatus
	SourceHash         *string
	ExcludeFromReports bool // excluded from weekly aggregate reporting
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewTransaction creates a validated transaction. Status starts as
// UNCATEGORIZED; categorization is a later mutation.
func NewTransaction(id, walletID string, txnType TransactionType, amount, fee float64, description string, occurredAt time.Time) (*Transaction, error) {
	if id == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if walletID == "" {
		return nil, fmt.Errorf("wallet ID cannot be empty")
	}
	if !ValidateTransactionType(txnType) {
		return nil, fmt.Errorf("invalid transaction type: %s", txnType)
	}
	if amount < 0 {
		return nil, fmt.Errorf("amount must be non-negative, got %f", amount)
	}
	if fee < 0 {
		return nil, fmt.Errorf("fee must be non-negative, got %f", fee)
	}
	if occurredAt.IsZero() {
		return nil, fmt.Errorf("occurredAt cannot be zero")
	}
	now := time.Now()
	return &Transaction{
		ID:          id,
		WalletID:    walletID,
		Amount:      amount,
		Fee:         fee,
		Type:        txnType,
		Description: description,
		OccurredAt:  occurredAt,
		Status:      StatusUncategorized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SetSource attaches the SMS fingerprint used for deduplication together
// with the message's receipt instant. OccurredAt carries the provider's wall
// clock as printed in the body; ReceivedAt is the trusted instant the device
// received the message, and is what the backfill watermark is measured in.
func (t *Transaction) SetSource(hash string, receivedAt time.Time) error {
	if hash == "" {
		return fmt.Errorf("source hash cannot be empty")
	}
	if receivedAt.IsZero() {
		return fmt.Errorf("receivedAt cannot be zero")
	}
	t.SourceHash = &hash
	t.ReceivedAt = receivedAt
	return nil
}

// BalanceEffect returns the signed effect of this transaction on its wallet.
func (t *Transaction) BalanceEffect() float64 {
	return t.Type.BalanceEffect(t.Amount, t.Fee)
}

// Category is the top level of the two-level spending taxonomy.
// Deleting a category cascades to its items.
type Category struct {
	ID   string
	Name string
}

// CategoryItem belongs to exactly one Category. Deleting an item un-links any
// transactions referencing it (reverting them to uncategorized); it never
// deletes the transactions themselves.
type CategoryItem struct {
	ID         string
	CategoryID string
	Name       string
}

// NewCategory creates a validated category.
func NewCategory(id, name string) (*Category, error) {
	if id == "" {
		return nil, fmt.Errorf("category ID cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("category name cannot be empty")
	}
	return &Category{ID: id, Name: name}, nil
}

// NewCategoryItem creates a validated category item.
func NewCategoryItem(id, categoryID, name string) (*CategoryItem, error) {
	if id == "" {
		return nil, fmt.Errorf("category item ID cannot be empty")
	}
	if categoryID == "" {
		return nil, fmt.Errorf("category ID cannot be empty")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("category item name cannot be empty")
	}
	return &CategoryItem{ID: id, CategoryID: categoryID, Name: name}, nil
}
