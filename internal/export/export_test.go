package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesakit/smsledger/internal/domain"
)

type fakeStorage struct {
	wallets []*domain.Wallet
	txns    map[string][]*domain.Transaction
	fail    error
}

func (f *fakeStorage) ListWallets(context.Context) ([]*domain.Wallet, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.wallets, nil
}

func (f *fakeStorage) ListTransactionsByWallet(_ context.Context, walletID string) ([]*domain.Transaction, error) {
	return f.txns[walletID], nil
}

func seedStorage(t *testing.T) *fakeStorage {
	t.Helper()

	wallet, err := domain.NewWallet("w1", "M-Pesa", "MPESA", 1600)
	require.NoError(t, err)
	wallet.Balance = 1500

	debit, err := domain.NewTransaction("t1", "w1", domain.TypeDebit, 100, 0, "Sent to JOHN DOE",
		time.Date(2023, 12, 15, 14, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	credit, err := domain.NewTransaction("t2", "w1", domain.TypeCredit, 2000, 0, "Received from JANE",
		time.Date(2023, 12, 16, 11, 5, 0, 0, time.UTC))
	require.NoError(t, err)

	return &fakeStorage{
		wallets: []*domain.Wallet{wallet},
		txns:    map[string][]*domain.Transaction{"w1": {debit, credit}},
	}
}

func TestBuildSnapshot(t *testing.T) {
	snap, err := BuildSnapshot(context.Background(), seedStorage(t))
	require.NoError(t, err)

	require.Len(t, snap.Wallets, 1)
	w := snap.Wallets[0]
	assert.Equal(t, "M-Pesa", w.Name)
	assert.Equal(t, 1600.0, w.OpeningBalance)
	assert.Equal(t, 1500.0, w.Balance)
	assert.Len(t, w.Transactions, 2)
	assert.False(t, snap.ExportedAt.IsZero())
}

func TestBuildSnapshot_StorageError(t *testing.T) {
	_, err := BuildSnapshot(context.Background(), &fakeStorage{fail: errors.New("boom")})
	require.Error(t, err)
}

func TestWriteSnapshot_JSONShape(t *testing.T) {
	snap, err := BuildSnapshot(context.Background(), seedStorage(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(snap, &buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "exportedAt")
	assert.Contains(t, decoded, "wallets")
	assert.Contains(t, buf.String(), "\n  ", "output is indented")
}

func TestWriteSnapshot_Nil(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteSnapshot(nil, &buf))
}

func TestWriteSnapshotToFile(t *testing.T) {
	snap, err := BuildSnapshot(context.Background(), seedStorage(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, WriteSnapshotToFile(snap, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded map[string]any
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Contains(t, loaded, "wallets")
}

func TestWriteOFX(t *testing.T) {
	var buf bytes.Buffer
	err := WriteOFX(context.Background(), seedStorage(t), "KES", &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "STMTTRNRS")
	assert.Contains(t, out, "w1", "wallet ID is the account ID")
	assert.Contains(t, out, "Sent to JOHN DOE")
	assert.Contains(t, out, "KES")
}

func TestWriteOFX_NoWallets(t *testing.T) {
	var buf bytes.Buffer
	err := WriteOFX(context.Background(), &fakeStorage{}, "KES", &buf)
	require.Error(t, err)
}

func TestWriteOFX_BadCurrency(t *testing.T) {
	var buf bytes.Buffer
	err := WriteOFX(context.Background(), seedStorage(t), "NOT-A-CODE", &buf)
	require.Error(t, err)
}

func TestOFXTrnTypeMapping(t *testing.T) {
	tests := []struct {
		in   domain.TransactionType
		want string
	}{
		{domain.TypeCredit, "CREDIT"},
		{domain.TypeDebit, "DEBIT"},
		{domain.TypeTransfer, "XFER"},
		{domain.TypeWithdraw, "ATM"},
	}
	for _, tt := range tests {
		var txn ofxgo.Transaction
		setOFXTrnType(&txn, tt.in)
		assert.Equal(t, tt.want, txn.TrnType.String(), strings.ToLower(string(tt.in)))
	}
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(150000), toCents(1500.00))
	assert.Equal(t, int64(-10050), toCents(-100.499))
	assert.Equal(t, int64(0), toCents(0))
}
