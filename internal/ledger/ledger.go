// Package ledger keeps wallet running balances reconciled with transaction
// history.
//
// Every mutation is expressed as a signed delta applied atomically with the
// transaction row change it belongs to, never as an ambient read-then-write
// on a shared balance. A per-wallet mutex additionally serializes the edit
// paths that must read a row before computing their delta, so SMS ingestion
// and UI-driven edits cannot interleave into a lost update.
package ledger

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pesakit/smsledger/internal/domain"
)

// Storage is the subset of the store the ledger needs.
type Storage interface {
	WalletByID(ctx context.Context, id string) (*domain.Wallet, error)
	ListWallets(ctx context.Context) ([]*domain.Wallet, error)
	TransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactionsByWallet(ctx context.Context, walletID string) ([]*domain.Transaction, error)
	InsertTransactionWithBalance(ctx context.Context, t *domain.Transaction, balanceDelta float64) error
	UpdateAmountWithBalance(ctx context.Context, transactionID string, newAmount float64, walletID string, balanceDelta float64) error
	UpdateFeeWithBalance(ctx context.Context, transactionID string, newFee float64, walletID string, balanceDelta float64) error
	AdjustBalance(ctx context.Context, walletID string, delta float64) (float64, error)
	DeleteTransaction(ctx context.Context, transactionID string) error
}

// Notifier receives fire-and-forget change notifications for an external
// sync collaborator. Failures are logged and swallowed; the local commit is
// already final.
type Notifier interface {
	UpsertTransaction(ctx context.Context, t *domain.Transaction) error
	DeleteTransaction(ctx context.Context, transactionID string) error
}

// Ledger is the balance reconciliation service.
type Ledger struct {
	store  Storage
	notify Notifier // nil disables sync notifications

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger over the given storage. notify may be nil.
func New(store Storage, notify Notifier) *Ledger {
	return &Ledger{
		store:  store,
		notify: notify,
		locks:  make(map[string]*sync.Mutex),
	}
}

// walletLock returns the mutex serializing mutations for one wallet.
func (l *Ledger) walletLock(walletID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[walletID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[walletID] = lock
	}
	return lock
}

// lockTransaction acquires the owning wallet's lock and returns the row as
// read UNDER that lock. The first read only discovers the wallet; the row it
// returns may already be stale by the time the lock is held, so the delta
// computation must use the second read. Callers must invoke unlock.
func (l *Ledger) lockTransaction(ctx context.Context, transactionID string) (*domain.Transaction, func(), error) {
	t, err := l.store.TransactionByID(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}

	lock := l.walletLock(t.WalletID)
	lock.Lock()

	t, err = l.store.TransactionByID(ctx, transactionID)
	if err != nil {
		lock.Unlock()
		return nil, nil, err
	}
	return t, lock.Unlock, nil
}

// ApplyNew commits a new transaction and applies its signed effect to the
// owning wallet, returning the new balance. Used by ingestion and by manual
// entry.
func (l *Ledger) ApplyNew(ctx context.Context, t *domain.Transaction) (float64, error) {
	lock := l.walletLock(t.WalletID)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.InsertTransactionWithBalance(ctx, t, t.BalanceEffect()); err != nil {
		return 0, err
	}

	wallet, err := l.store.WalletByID(ctx, t.WalletID)
	if err != nil {
		return 0, fmt.Errorf("transaction %s committed but balance read failed: %w", t.ID, err)
	}

	l.notifyUpsert(t)
	return wallet.Balance, nil
}

// ApplyAdjustment applies an arbitrary signed delta to a wallet balance and
// returns the new balance. This is the UI escape hatch for manual
// corrections.
func (l *Ledger) ApplyAdjustment(ctx context.Context, walletID string, delta float64) (float64, error) {
	lock := l.walletLock(walletID)
	lock.Lock()
	defer lock.Unlock()

	return l.store.AdjustBalance(ctx, walletID, delta)
}

// UpdateAmount rewrites a committed transaction's amount, applying the
// type-appropriate signed adjustment to the wallet balance atomically with
// the row update. Editing a DEBIT from 100 to 150 moves the balance by an
// additional -50; no double-counting.
func (l *Ledger) UpdateAmount(ctx context.Context, transactionID string, newAmount float64) (float64, error) {
	if newAmount < 0 {
		return 0, fmt.Errorf("amount must be non-negative, got %f", newAmount)
	}

	t, unlock, err := l.lockTransaction(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	// Delta between the new and old signed effects, fee unchanged.
	delta := t.Type.BalanceEffect(newAmount, t.Fee) - t.Type.BalanceEffect(t.Amount, t.Fee)

	if err := l.store.UpdateAmountWithBalance(ctx, transactionID, newAmount, t.WalletID, delta); err != nil {
		return 0, err
	}

	wallet, err := l.store.WalletByID(ctx, t.WalletID)
	if err != nil {
		return 0, fmt.Errorf("amount updated but balance read failed: %w", err)
	}

	t.Amount = newAmount
	l.notifyUpsert(t)
	return wallet.Balance, nil
}

// ApplyCostChange corrects a transaction's fee (e.g., the SMS under-reported
// the transaction cost). The balance moves by -(newFee-currentFee) when the
// owning transaction's type is DEBIT or TRANSFER; CREDIT and WITHDRAW fee
// edits are recorded without a balance effect. The current fee is read from
// the committed row, never supplied by the caller, so a stale caller cannot
// misprice the correction.
func (l *Ledger) ApplyCostChange(ctx context.Context, transactionID string, newFee float64) (float64, error) {
	if newFee < 0 {
		return 0, fmt.Errorf("fee must be non-negative, got %f", newFee)
	}

	t, unlock, err := l.lockTransaction(ctx, transactionID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var delta float64
	if t.Type.FeeAdjustable() {
		delta = -(newFee - t.Fee)
	}

	if err := l.store.UpdateFeeWithBalance(ctx, transactionID, newFee, t.WalletID, delta); err != nil {
		return 0, err
	}

	wallet, err := l.store.WalletByID(ctx, t.WalletID)
	if err != nil {
		return 0, fmt.Errorf("fee updated but balance read failed: %w", err)
	}

	t.Fee = newFee
	l.notifyUpsert(t)
	return wallet.Balance, nil
}

// Delete removes a transaction WITHOUT reversing its balance effect. The
// asymmetry with the edit paths is deliberate: deletion forces the user to
// correct the balance manually (via ApplyAdjustment) instead of silently
// rewriting history. The deleted transaction is returned so callers can
// surface a warning with its signed effect.
func (l *Ledger) Delete(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	t, unlock, err := l.lockTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := l.store.DeleteTransaction(ctx, transactionID); err != nil {
		return nil, err
	}

	log.Printf("WARN: deleted transaction %s without reversing its balance effect (%+.2f)", transactionID, t.BalanceEffect())
	l.notifyDelete(transactionID)
	return t, nil
}

// notifyUpsert sends a fire-and-forget upsert to the sync collaborator. The
// ingestion and edit paths must never block on or fail because of it.
func (l *Ledger) notifyUpsert(t *domain.Transaction) {
	if l.notify == nil {
		return
	}
	txn := *t
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := l.notify.UpsertTransaction(ctx, &txn); err != nil {
			log.Printf("ERROR: sync upsert for transaction %s failed: %v", txn.ID, err)
		}
	}()
}

func (l *Ledger) notifyDelete(transactionID string) {
	if l.notify == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := l.notify.DeleteTransaction(ctx, transactionID); err != nil {
			log.Printf("ERROR: sync delete for transaction %s failed: %v", transactionID, err)
		}
	}()
}
