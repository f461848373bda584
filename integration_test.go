package smsledger_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// buildBinary compiles cmd/smsledger into a temp dir.
func buildBinary(t *testing.T) string {
	t.Helper()
	tmpBin := filepath.Join(t.TempDir(), "smsledger")
	buildCmd := exec.Command("go", "build", "-o", tmpBin, "./cmd/smsledger")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\nOutput: %s", err, output)
	}
	return tmpBin
}

func runCLI(t *testing.T, bin string, args ...string) string {
	t.Helper()
	output, err := exec.Command(bin, args...).CombinedOutput()
	if err != nil {
		t.Fatalf("smsledger %s failed: %v\nOutput:\n%s", strings.Join(args, " "), err, output)
	}
	return string(output)
}

// TestIntegration_FullInboxLifecycle walks the whole product flow: register a
// wallet, replay an inbox dump containing every supported message shape plus
// noise, verify idempotent replays, and confirm the balance reconciles and
// exports cleanly.
func TestIntegration_FullInboxLifecycle(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger.db")

	runCLI(t, bin, "-db", db, "-add-wallet", "M-Pesa:MPESA:1600")

	dump := filepath.Join(dir, "inbox.csv")
	rows := []string{
		// Payment: 1600 - 100 = 1500
		`MPESA,1702650660000,"RKL4X7P9QM Confirmed. KSh100.00 sent to JOHN DOE 0712345678 on 15/12/23 at 2:30 PM. New M-PESA balance is KSh1,500.00. Transaction cost, KSh0.00."`,
		// Credit: 1500 + 2000 = 3500
		`MPESA,1702736760000,"RKM2A1B3CD Confirmed. You have received Ksh2,000.00 from JANE WANJIKU 0722000111 on 16/12/23 at 11:05 AM. New M-PESA balance is Ksh3,500.00."`,
		// Withdrawal with fee: 3500 - 2500 - 67 = 933
		`MPESA,1702831560000,"RKN5Q8R2ST Confirmed. on 17/12/23 at 4:45 PM Withdraw Ksh2,500.00 from 482911 - NAIVAS SUPERMARKET AGENT New M-PESA balance is Ksh980.00. Transaction cost, Ksh67.00."`,
		// Balance-neutral transfer
		`MPESA,1702887360000,"RKP1C4D6EF Confirmed. Ksh300.00 transferred to Pochi la Biashara MAMA NJERI SHOP on 18/12/23 at 8:15 AM. New M-PESA balance is Ksh680.00. Transaction cost, Ksh7.00."`,
		// Noise: promo from the wallet sender and chatter from elsewhere
		`MPESA,1702887400000,"Congratulations! You qualify for a Fuliza limit increase. Dial *334#."`,
		`+254700111222,1702887500000,"Hey, are we still meeting at 2:30 PM?"`,
	}
	if err := os.WriteFile(dump, []byte(strings.Join(rows, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	output := runCLI(t, bin, "-db", db, "-input", dump)
	if !strings.Contains(output, "4 committed") {
		t.Errorf("Expected 4 committed transactions, got:\n%s", output)
	}
	if !strings.Contains(output, "2 rejected") {
		t.Errorf("Expected 2 rejected messages, got:\n%s", output)
	}

	// Replaying the same dump must commit nothing.
	output = runCLI(t, bin, "-db", db, "-input", dump)
	if !strings.Contains(output, "0 committed") {
		t.Errorf("Expected replay to commit nothing, got:\n%s", output)
	}

	// Balances must reconcile with history.
	output = runCLI(t, bin, "-db", db, "-audit")
	if !strings.Contains(output, "reconcile") {
		t.Errorf("Expected audit to pass, got:\n%s", output)
	}

	// JSON export carries the final balance (1600 - 100 + 2000 - 2567 + 0).
	snapshot := filepath.Join(dir, "snapshot.json")
	runCLI(t, bin, "-db", db, "-export", snapshot, "-format", "json")
	data, err := os.ReadFile(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"balance": 933`) {
		t.Errorf("Expected exported balance 933, got:\n%s", data)
	}

	// OFX export produces a statement per wallet.
	ofxPath := filepath.Join(dir, "wallets.ofx")
	runCLI(t, bin, "-db", db, "-export", ofxPath, "-format", "ofx")
	ofxData, err := os.ReadFile(ofxPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ofxData), "STMTTRNRS") {
		t.Errorf("Expected OFX statement markers, got:\n%s", ofxData)
	}
}

// TestIntegration_CustomPatternsFile verifies that -patterns replaces the
// built-in rules.
func TestIntegration_CustomPatternsFile(t *testing.T) {
	bin := buildBinary(t)
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger.db")

	runCLI(t, bin, "-db", db, "-add-wallet", "Equity:EQUITYBANK:5000")

	rules := filepath.Join(dir, "rules.yaml")
	rulesContent := `patterns:
  - name: equity-debit
    type: DEBIT
    priority: 100
    regex: '(?i)KES (?P<amount>[\d,.]*\d) sent to (?P<counterparty>[A-Z ]+?)\.'
`
	if err := os.WriteFile(rules, []byte(rulesContent), 0o644); err != nil {
		t.Fatal(err)
	}

	dump := filepath.Join(dir, "inbox.csv")
	if err := os.WriteFile(dump, []byte(`EQUITYBANK,1702650660000,"KES 750.00 sent to WATER COMPANY."`), 0o644); err != nil {
		t.Fatal(err)
	}

	output := runCLI(t, bin, "-db", db, "-input", dump, "-patterns", rules)
	if !strings.Contains(output, "1 committed") {
		t.Errorf("Expected 1 committed transaction with custom patterns, got:\n%s", output)
	}

	snapshot := filepath.Join(dir, "snapshot.json")
	runCLI(t, bin, "-db", db, "-export", snapshot)
	data, err := os.ReadFile(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"balance": 4250`) {
		t.Errorf("Expected exported balance 4250, got:\n%s", data)
	}
}
