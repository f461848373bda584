// Package ingest runs the SMS-to-transaction pipeline: normalize, extract,
// classify, deduplicate, commit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pesakit/smsledger/internal/classify"
	"github.com/pesakit/smsledger/internal/dedup"
	"github.com/pesakit/smsledger/internal/domain"
	"github.com/pesakit/smsledger/internal/ledger"
	"github.com/pesakit/smsledger/internal/normalize"
	"github.com/pesakit/smsledger/internal/patterns"
	"github.com/pesakit/smsledger/internal/store"
)

// Status describes what the pipeline did with one message.
type Status string

const (
	// StatusCommitted means a new transaction was persisted and the wallet
	// balance updated.
	StatusCommitted Status = "COMMITTED"
	// StatusRejected means the message was not a recognizable financial
	// message (unknown sender or no pattern matched). Rejection is silent.
	StatusRejected Status = "REJECTED"
	// StatusSkippedDuplicate means the message was already ingested. Not an
	// error; replaying history must be idempotent.
	StatusSkippedDuplicate Status = "SKIPPED_DUPLICATE"
	// StatusDropped means a pattern matched but the message could not be
	// turned into a transaction (mangled fields or unregistered wallet).
	// Dropped messages are logged; the stream continues.
	StatusDropped Status = "DROPPED"
)

// Result reports the outcome for one message. Transaction and NewBalance are
// set only for StatusCommitted.
type Result struct {
	Status      Status
	Transaction *domain.Transaction
	NewBalance  float64
}

// SMS is one raw incoming message as handed over by the OS inbox or a dump
// file.
type SMS struct {
	Text       string
	Sender     string
	ReceivedAt time.Time
}

// Lookups is the read side of the store the dedup checks need.
type Lookups interface {
	TransactionBySourceHash(ctx context.Context, hash string) (*domain.Transaction, error)
	TransactionByWalletDateAmount(ctx context.Context, walletID string, occurredAt time.Time, amount float64) (*domain.Transaction, error)
	LatestSourceTime(ctx context.Context) (time.Time, error)
}

// Engine wires the pipeline stages together.
type Engine struct {
	normalizer *normalize.Normalizer
	extractor  *patterns.Engine
	classifier *classify.Classifier
	ledger     *ledger.Ledger
	lookups    Lookups
}

// New builds an ingestion engine from its stages.
func New(normalizer *normalize.Normalizer, extractor *patterns.Engine, classifier *classify.Classifier, led *ledger.Ledger, lookups Lookups) *Engine {
	return &Engine{
		normalizer: normalizer,
		extractor:  extractor,
		classifier: classifier,
		ledger:     led,
		lookups:    lookups,
	}
}

// Ingest runs one message through the full pipeline.
//
// Failure handling follows the message, not the stream: unrecognized
// messages are silently rejected, extraction and wallet failures are logged
// and dropped, duplicates are skipped. Only persistence failures return an
// error, since those mean committed state may be at risk.
func (e *Engine) Ingest(ctx context.Context, sms SMS) (*Result, error) {
	msg, ok := e.normalizer.Normalize(sms.Text, sms.Sender, sms.ReceivedAt)
	if !ok {
		return &Result{Status: StatusRejected}, nil
	}

	fields, err := e.extractor.Extract(msg.Body, msg.ReceivedAt)
	if errors.Is(err, patterns.ErrNoMatch) {
		return &Result{Status: StatusRejected}, nil
	}
	if err != nil {
		log.Printf("ERROR: dropping message from %s: extraction failed: %v", msg.Sender, err)
		return &Result{Status: StatusDropped}, nil
	}

	cls, err := e.classifier.Classify(ctx, msg.Sender, fields)
	if errors.Is(err, classify.ErrWalletNotFound) {
		log.Printf("ERROR: dropping message from %s: %v", msg.Sender, err)
		return &Result{Status: StatusDropped}, nil
	}
	if err != nil {
		log.Printf("ERROR: dropping message from %s: classification failed: %v", msg.Sender, err)
		return &Result{Status: StatusDropped}, nil
	}

	sourceHash := dedup.Fingerprint(msg.Body)
	dup, err := e.isDuplicate(ctx, sourceHash, cls.WalletID, fields.OccurredAt, cls.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if dup {
		return &Result{Status: StatusSkippedDuplicate}, nil
	}

	txn, err := domain.NewTransaction(uuid.NewString(), cls.WalletID, cls.Type, cls.Amount, cls.Fee, cls.Description, fields.OccurredAt)
	if err != nil {
		log.Printf("ERROR: dropping message from %s: invalid transaction: %v", msg.Sender, err)
		return &Result{Status: StatusDropped}, nil
	}
	if err := txn.SetSource(sourceHash, msg.ReceivedAt); err != nil {
		return nil, err
	}

	balance, err := e.ledger.ApplyNew(ctx, txn)
	if err != nil {
		// A concurrent ingest of the same message can slip past the dedup
		// check and win the insert; the UNIQUE source_hash then rejects this
		// one. That loss is a duplicate, not a persistence failure.
		if _, lookupErr := e.lookups.TransactionBySourceHash(ctx, sourceHash); lookupErr == nil {
			return &Result{Status: StatusSkippedDuplicate}, nil
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if fields.ReportedBalance != nil && math.Abs(*fields.ReportedBalance-balance) > 0.005 {
		log.Printf("WARN: wallet %s balance %.2f disagrees with provider-reported balance %.2f", cls.WalletID, balance, *fields.ReportedBalance)
	}

	return &Result{Status: StatusCommitted, Transaction: txn, NewBalance: balance}, nil
}

// isDuplicate runs the two-tier dedup check: exact source fingerprint first,
// then the (wallet, date, amount) composite for re-rendered message bodies.
func (e *Engine) isDuplicate(ctx context.Context, sourceHash, walletID string, occurredAt time.Time, amount float64) (bool, error) {
	_, err := e.lookups.TransactionBySourceHash(ctx, sourceHash)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	_, err = e.lookups.TransactionByWalletDateAmount(ctx, walletID, occurredAt, amount)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}
	return false, nil
}

// BackfillSummary tallies a historical scan.
type BackfillSummary struct {
	Scanned    int
	Committed  int
	Rejected   int
	Duplicates int
	Dropped    int
	Failed     int
}

// Backfill replays a batch of historical messages. Messages received at or
// before the stored watermark (the receipt instant of the newest SMS-derived
// transaction) are skipped without running the pipeline, so repeated scans
// only pay for what is new. Both sides of the comparison are device receipt
// times; the provider wall clock printed in message bodies never feeds the
// bound.
// Per-message failures are logged and counted; the scan always runs to the
// end of the batch.
func (e *Engine) Backfill(ctx context.Context, messages []SMS) (*BackfillSummary, error) {
	watermark, err := e.lookups.LatestSourceTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read backfill watermark: %w", err)
	}

	summary := &BackfillSummary{}
	for _, sms := range messages {
		if !watermark.IsZero() && !sms.ReceivedAt.After(watermark) {
			continue
		}
		summary.Scanned++

		res, err := e.Ingest(ctx, sms)
		if err != nil {
			log.Printf("ERROR: backfill: message from %s at %s failed: %v", sms.Sender, sms.ReceivedAt.Format(time.RFC3339), err)
			summary.Failed++
			continue
		}

		switch res.Status {
		case StatusCommitted:
			summary.Committed++
		case StatusRejected:
			summary.Rejected++
		case StatusSkippedDuplicate:
			summary.Duplicates++
		case StatusDropped:
			summary.Dropped++
		}
	}
	return summary, nil
}

// Manual records a hand-entered transaction. Manual entries carry no source
// fingerprint, so the composite (wallet, date, amount) check is the only
// guard against double entry.
func (e *Engine) Manual(ctx context.Context, walletID string, txnType domain.TransactionType, amount, fee float64, description string, occurredAt time.Time) (*Result, error) {
	_, err := e.lookups.TransactionByWalletDateAmount(ctx, walletID, occurredAt, amount)
	if err == nil {
		return &Result{Status: StatusSkippedDuplicate}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}

	txn, err := domain.NewTransaction(uuid.NewString(), walletID, txnType, amount, fee, description, occurredAt)
	if err != nil {
		return nil, err
	}

	balance, err := e.ledger.ApplyNew(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &Result{Status: StatusCommitted, Transaction: txn, NewBalance: balance}, nil
}
