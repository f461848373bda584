// Package cloudsync mirrors committed transactions to Firestore so other
// devices signed into the same account see them.
//
// The local SQLite ledger is the source of truth. Sync is best-effort and
// fire-and-forget: callers notify after commit and never fail a local write
// because the mirror is unreachable.
package cloudsync

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/pesakit/smsledger/internal/domain"
)

const transactionsCollection = "ledger-transactions"

// Client wraps Firestore with ledger-specific operations.
type Client struct {
	firestore *firestore.Client
	userID    string
}

// NewClient initializes the Firebase app for the given project and opens a
// Firestore client. credentialsFile may be empty, in which case Application
// Default Credentials are used.
func NewClient(ctx context.Context, projectID, userID, credentialsFile string) (*Client, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &Client{firestore: fs, userID: userID}, nil
}

// Close closes the underlying Firestore client.
func (c *Client) Close() error {
	return c.firestore.Close()
}

// transactionDoc is the Firestore document shape for a mirrored transaction.
type transactionDoc struct {
	ID                 string    `firestore:"id"`
	UserID             string    `firestore:"userId"`
	WalletID           string    `firestore:"walletId"`
	CategoryItemID     *string   `firestore:"categoryItemId,omitempty"`
	Amount             float64   `firestore:"amount"`
	Fee                float64   `firestore:"fee"`
	Type               string    `firestore:"type"`
	Description        string    `firestore:"description"`
	OccurredAt         time.Time `firestore:"occurredAt"`
	Status             string    `firestore:"status"`
	ExcludeFromReports bool      `firestore:"excludeFromReports"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

// UpsertTransaction mirrors one transaction, keyed by its local ID so
// repeated notifications converge on the latest state.
func (c *Client) UpsertTransaction(ctx context.Context, t *domain.Transaction) error {
	doc := transactionDoc{
		ID:                 t.ID,
		UserID:             c.userID,
		WalletID:           t.WalletID,
		CategoryItemID:     t.CategoryItemID,
		Amount:             t.Amount,
		Fee:                t.Fee,
		Type:               string(t.Type),
		Description:        t.Description,
		OccurredAt:         t.OccurredAt,
		Status:             string(t.Status),
		ExcludeFromReports: t.ExcludeFromReports,
		UpdatedAt:          time.Now(),
	}

	_, err := c.firestore.Collection(transactionsCollection).Doc(t.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTransaction removes a mirrored transaction. Deleting a document that
// was never mirrored is not an error.
func (c *Client) DeleteTransaction(ctx context.Context, transactionID string) error {
	_, err := c.firestore.Collection(transactionsCollection).Doc(transactionID).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", transactionID, err)
	}
	return nil
}
