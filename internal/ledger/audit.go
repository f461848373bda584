package ledger

import (
	"context"
	"fmt"
	"math"
)

// balanceTolerance absorbs float accumulation error across long histories.
// Amounts are currency values with two decimal places, so half a cent is a
// safe threshold.
const balanceTolerance = 0.005

// Discrepancy reports one wallet whose recorded balance does not match the
// balance reconstructed from its transaction history.
type Discrepancy struct {
	WalletID   string
	WalletName string
	Recorded   float64
	Computed   float64
}

// Drift returns the signed difference between the recorded and computed
// balances.
func (d Discrepancy) Drift() float64 {
	return d.Recorded - d.Computed
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("wallet %q: recorded %.2f, computed %.2f (drift %+.2f)",
		d.WalletName, d.Recorded, d.Computed, d.Drift())
}

// Audit reconstructs every wallet's balance as opening balance plus the sum
// of signed transaction effects and compares it with the recorded balance.
// It returns the wallets that do not reconcile; an empty slice means the
// ledger is consistent.
//
// Drift is expected after deletions, which intentionally leave the balance
// untouched, and after manual adjustments. Audit reports it; deciding what
// to do about it is the caller's job.
func (l *Ledger) Audit(ctx context.Context) ([]Discrepancy, error) {
	wallets, err := l.store.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets for audit: %w", err)
	}

	var out []Discrepancy
	for _, w := range wallets {
		txns, err := l.store.ListTransactionsByWallet(ctx, w.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions for wallet %s: %w", w.ID, err)
		}

		computed := w.OpeningBalance
		for _, t := range txns {
			computed += t.BalanceEffect()
		}

		if math.Abs(w.Balance-computed) > balanceTolerance {
			out = append(out, Discrepancy{
				WalletID:   w.ID,
				WalletName: w.Name,
				Recorded:   w.Balance,
				Computed:   computed,
			})
		}
	}
	return out, nil
}
