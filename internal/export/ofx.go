package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aclindsa/ofxgo"

	"github.com/pesakit/smsledger/internal/domain"
)

// ofxBankID identifies this exporter as the statement origin; wallets are
// not real bank accounts, so a fixed pseudo routing value is used.
const ofxBankID = "SMSLEDGER"

// WriteOFX renders every wallet as a bank statement in a single OFX 2.0.3
// response, one STMTTRNRS per wallet. Desktop tools (GnuCash, Quicken
// imports) accept this as a generic checking statement.
func WriteOFX(ctx context.Context, st Storage, currency string, w io.Writer) error {
	wallets, err := st.ListWallets(ctx)
	if err != nil {
		return fmt.Errorf("failed to list wallets: %w", err)
	}
	if len(wallets) == 0 {
		return fmt.Errorf("no wallets to export")
	}

	curdef, err := ofxgo.NewCurrSymbol(currency)
	if err != nil {
		return fmt.Errorf("invalid currency code %q: %w", currency, err)
	}

	now := time.Now().UTC()
	resp := ofxgo.Response{
		Version: ofxgo.OfxVersion203,
		Signon: ofxgo.SignonResponse{
			Status: ofxgo.Status{
				Code:     0,
				Severity: "INFO",
			},
			DtServer: ofxgo.Date{Time: now},
			Language: "ENG",
			Org:      ofxBankID,
			Fid:      "0",
		},
	}

	for _, wallet := range wallets {
		txns, err := st.ListTransactionsByWallet(ctx, wallet.ID)
		if err != nil {
			return fmt.Errorf("failed to list transactions for wallet %s: %w", wallet.ID, err)
		}

		stmt, err := statementForWallet(wallet, txns, *curdef, now)
		if err != nil {
			return err
		}
		resp.Bank = append(resp.Bank, stmt)
	}

	buf, err := resp.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal OFX response: %w", err)
	}
	if _, err := io.Copy(w, buf); err != nil {
		return fmt.Errorf("failed to write OFX output: %w", err)
	}
	return nil
}

func statementForWallet(wallet *domain.Wallet, txns []*domain.Transaction, curdef ofxgo.CurrSymbol, now time.Time) (*ofxgo.StatementResponse, error) {
	uid, err := ofxgo.RandomUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate statement UID: %w", err)
	}

	start, end := statementWindow(wallet, txns, now)
	tranList := &ofxgo.TransactionList{
		DtStart: ofxgo.Date{Time: start},
		DtEnd:   ofxgo.Date{Time: end},
	}
	for _, t := range txns {
		tranList.Transactions = append(tranList.Transactions, ofxTransaction(t))
	}

	var balance ofxgo.Amount
	balance.SetFrac64(toCents(wallet.Balance), 100)

	return &ofxgo.StatementResponse{
		TrnUID: *uid,
		Status: ofxgo.Status{
			Code:     0,
			Severity: "INFO",
		},
		CurDef: curdef,
		BankAcctFrom: ofxgo.BankAcct{
			BankID:   ofxBankID,
			AcctID:   ofxgo.String(wallet.ID),
			AcctType: ofxgo.AcctTypeChecking,
		},
		BankTranList: tranList,
		BalAmt:       balance,
		DtAsOf:       ofxgo.Date{Time: now},
	}, nil
}

// ofxTransaction maps one ledger transaction to an OFX statement line. The
// amount carries the signed balance effect, so a TRANSFER shows as zero on
// the recording wallet just as it does in the ledger.
func ofxTransaction(t *domain.Transaction) ofxgo.Transaction {
	var amount ofxgo.Amount
	amount.SetFrac64(toCents(t.BalanceEffect()), 100)

	txn := ofxgo.Transaction{
		DtPosted: ofxgo.Date{Time: t.OccurredAt.UTC()},
		TrnAmt:   amount,
		FiTID:    ofxgo.String(t.ID),
		Name:     ofxgo.String(t.Description),
	}
	setOFXTrnType(&txn, t.Type)
	return txn
}

// setOFXTrnType assigns the OFX transaction type; ofxgo's trnType is
// unexported, so the value is set on the struct rather than returned.
func setOFXTrnType(txn *ofxgo.Transaction, t domain.TransactionType) {
	switch t {
	case domain.TypeCredit:
		txn.TrnType = ofxgo.TrnTypeCredit
	case domain.TypeTransfer:
		txn.TrnType = ofxgo.TrnTypeXfer
	case domain.TypeWithdraw:
		txn.TrnType = ofxgo.TrnTypeATM
	default:
		txn.TrnType = ofxgo.TrnTypeDebit
	}
}

// statementWindow picks DTSTART/DTEND covering the wallet's full history.
func statementWindow(wallet *domain.Wallet, txns []*domain.Transaction, now time.Time) (time.Time, time.Time) {
	start := wallet.CreatedAt.UTC()
	if len(txns) > 0 && txns[0].OccurredAt.Before(start) {
		start = txns[0].OccurredAt.UTC()
	}
	return start, now
}

func toCents(v float64) int64 {
	if v >= 0 {
		return int64(v*100 + 0.5)
	}
	return -int64(-v*100 + 0.5)
}
