package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesakit/smsledger/internal/classify"
	"github.com/pesakit/smsledger/internal/domain"
	"github.com/pesakit/smsledger/internal/ledger"
	"github.com/pesakit/smsledger/internal/normalize"
	"github.com/pesakit/smsledger/internal/patterns"
	"github.com/pesakit/smsledger/internal/store"
)

const sentBody = "RKL4X7P9QM Confirmed. KSh100.00 sent to JOHN DOE 0712345678 on 15/12/23 at 2:30 PM. New M-PESA balance is KSh1,500.00. Transaction cost, KSh0.00."

var receivedAt = time.Date(2023, 12, 15, 14, 31, 0, 0, time.UTC)

// newTestEngine wires the full pipeline over a real SQLite store with one
// registered M-Pesa wallet holding 1600.
func newTestEngine(t *testing.T) (*Engine, *store.Store, *domain.Wallet) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wallet, err := domain.NewWallet(uuid.NewString(), "M-Pesa", "MPESA", 1600)
	require.NoError(t, err)
	require.NoError(t, st.CreateWallet(context.Background(), wallet))

	extractor, err := patterns.LoadEmbedded()
	require.NoError(t, err)

	engine := New(
		normalize.New([]string{"MPESA"}),
		extractor,
		classify.New(st),
		ledger.New(st, nil),
		st,
	)
	return engine, st, wallet
}

func TestIngest_CommitsTransaction(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.Ingest(ctx, SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err)

	assert.Equal(t, StatusCommitted, res.Status)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, domain.TypeDebit, res.Transaction.Type)
	assert.Equal(t, 100.0, res.Transaction.Amount)
	assert.Equal(t, "Sent to JOHN DOE 0712345678", res.Transaction.Description)
	assert.Equal(t, time.Date(2023, 12, 15, 14, 30, 0, 0, time.UTC), res.Transaction.OccurredAt)
	require.NotNil(t, res.Transaction.SourceHash)
	assert.Equal(t, 1500.0, res.NewBalance)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, got.Balance)
}

func TestIngest_IsIdempotent(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, first.Status)

	// Same message again, as a delivery retry would replay it.
	second, err := engine.Ingest(ctx, SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedDuplicate, second.Status)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, got.Balance, "duplicate must not move the balance")
}

func TestIngest_CompositeDedupCatchesRerenderedBody(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Ingest(ctx, SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err)

	// Same event re-rendered with a different receipt code: the body hash
	// differs, but wallet, timestamp, and amount line up.
	rerendered := "QZZ9Y8X7WV Confirmed. KSh100.00 sent to JOHN DOE 0712345678 on 15/12/23 at 2:30 PM. New M-PESA balance is KSh1,500.00. Transaction cost, KSh0.00."
	res, err := engine.Ingest(ctx, SMS{Text: rerendered, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedDuplicate, res.Status)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, got.Balance)
}

func TestIngest_RejectsUnknownSender(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	res, err := engine.Ingest(ctx, SMS{Text: sentBody, Sender: "SPAM-SHORTCODE", ReceivedAt: receivedAt})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Nil(t, res.Transaction)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1600.0, got.Balance)
}

func TestIngest_RejectsNonFinancialMessage(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	res, err := engine.Ingest(context.Background(), SMS{
		Text:       "Congratulations! You qualify for a Fuliza limit increase. Dial *334#.",
		Sender:     "MPESA",
		ReceivedAt: receivedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
}

func TestBackfill_HonorsWatermark(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	// Live-ingest the sent message first; its receipt time becomes the
	// watermark.
	first, err := engine.Ingest(ctx, SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, first.Status)

	older := SMS{
		Text:       "RKA1B2C3DE Confirmed. You have received Ksh500.00 from OLD SENDER 0700000000 on 10/12/23 at 9:00 AM. New M-PESA balance is Ksh1,600.00.",
		Sender:     "MPESA",
		ReceivedAt: time.Date(2023, 12, 10, 9, 1, 0, 0, time.UTC),
	}
	newer := SMS{
		Text:       "RKM2A1B3CD Confirmed. You have received Ksh2,000.00 from JANE WANJIKU 0722000111 on 16/12/23 at 11:05 AM. New M-PESA balance is Ksh3,500.00.",
		Sender:     "MPESA",
		ReceivedAt: time.Date(2023, 12, 16, 11, 6, 0, 0, time.UTC),
	}
	promo := SMS{
		Text:       "Great news! M-PESA GlobalPay is here.",
		Sender:     "MPESA",
		ReceivedAt: time.Date(2023, 12, 16, 12, 0, 0, 0, time.UTC),
	}

	summary, err := engine.Backfill(ctx, []SMS{older, newer, promo})
	require.NoError(t, err)

	// The pre-watermark message never enters the pipeline.
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Committed)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 0, summary.Failed)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 3500.0, got.Balance)
}

func TestBackfill_WatermarkImmuneToBodyClockSkew(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	// The provider prints its local wall clock (2:30 PM, parsed as 14:30 UTC)
	// in the body, but the device received the message at 11:30 UTC. On a
	// device east of UTC the body clock runs hours ahead of receipt time.
	skewed := SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: time.Date(2023, 12, 15, 11, 30, 5, 0, time.UTC)}
	first, err := engine.Ingest(ctx, skewed)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, first.Status)

	// A message received half an hour later must still be scanned even
	// though its receipt instant precedes the body clock stored above.
	next := SMS{
		Text:       "RKN3B2C4EF Confirmed. You have received Ksh200.00 from JANE WANJIKU 0722000111 on 15/12/23 at 3:00 PM. New M-PESA balance is Ksh1,700.00.",
		Sender:     "MPESA",
		ReceivedAt: time.Date(2023, 12, 15, 12, 0, 0, 0, time.UTC),
	}
	summary, err := engine.Backfill(ctx, []SMS{next})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned, "receipt-time watermark must not hide newly received messages")
	assert.Equal(t, 1, summary.Committed)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1700.0, got.Balance)
}

func TestBackfill_EmptyLedgerScansEverything(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	summary, err := engine.Backfill(context.Background(), []SMS{
		{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Committed)
}

func TestBackfill_DuplicatesCounted(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Two copies in one batch: the watermark is read once at the start, so
	// the first commits and the second hits the dedup check.
	copy1 := SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt}
	copy2 := SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt.Add(time.Hour)}

	summary, err := engine.Backfill(ctx, []SMS{copy1, copy2})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Committed)
	assert.Equal(t, 1, summary.Duplicates)
}

// missOnceLookups misses the first dedup read of each kind even though the
// row is committed, the window a concurrent delivery of the same message
// slips through before losing the insert to the unique source fingerprint.
type missOnceLookups struct {
	Lookups
	hashMissed      bool
	compositeMissed bool
}

func (m *missOnceLookups) TransactionBySourceHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	if !m.hashMissed {
		m.hashMissed = true
		return nil, store.ErrNotFound
	}
	return m.Lookups.TransactionBySourceHash(ctx, hash)
}

func (m *missOnceLookups) TransactionByWalletDateAmount(ctx context.Context, walletID string, occurredAt time.Time, amount float64) (*domain.Transaction, error) {
	if !m.compositeMissed {
		m.compositeMissed = true
		return nil, store.ErrNotFound
	}
	return m.Lookups.TransactionByWalletDateAmount(ctx, walletID, occurredAt, amount)
}

func TestIngest_InsertRaceLoserIsDuplicateNotError(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	first, err := engine.Ingest(ctx, SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, first.Status)

	extractor, err := patterns.LoadEmbedded()
	require.NoError(t, err)
	racing := New(
		normalize.New([]string{"MPESA"}),
		extractor,
		classify.New(st),
		ledger.New(st, nil),
		&missOnceLookups{Lookups: st},
	)

	res, err := racing.Ingest(ctx, SMS{Text: sentBody, Sender: "MPESA", ReceivedAt: receivedAt})
	require.NoError(t, err, "losing the insert race is not a persistence failure")
	assert.Equal(t, StatusSkippedDuplicate, res.Status)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, got.Balance, "the losing insert must not move the balance")
}

func TestManual_CommitsWithoutSourceHash(t *testing.T) {
	engine, st, wallet := newTestEngine(t)
	ctx := context.Background()

	when := time.Date(2023, 12, 20, 10, 0, 0, 0, time.UTC)
	res, err := engine.Manual(ctx, wallet.ID, domain.TypeDebit, 75, 0, "Lunch", when)
	require.NoError(t, err)

	require.Equal(t, StatusCommitted, res.Status)
	assert.Nil(t, res.Transaction.SourceHash)
	assert.Equal(t, 1525.0, res.NewBalance)

	// Same wallet, date, and amount again: guarded by the composite check.
	dup, err := engine.Manual(ctx, wallet.ID, domain.TypeDebit, 75, 0, "Lunch again", when)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedDuplicate, dup.Status)

	got, err := st.WalletByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, 1525.0, got.Balance)
}

func TestManual_RejectsInvalidInput(t *testing.T) {
	engine, _, wallet := newTestEngine(t)

	_, err := engine.Manual(context.Background(), wallet.ID, domain.TypeDebit, -5, 0, "bad", time.Now())
	require.Error(t, err)
}
