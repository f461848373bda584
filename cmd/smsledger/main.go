package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pesakit/smsledger/internal/classify"
	"github.com/pesakit/smsledger/internal/cloudsync"
	"github.com/pesakit/smsledger/internal/domain"
	"github.com/pesakit/smsledger/internal/export"
	"github.com/pesakit/smsledger/internal/ingest"
	"github.com/pesakit/smsledger/internal/ledger"
	"github.com/pesakit/smsledger/internal/normalize"
	"github.com/pesakit/smsledger/internal/patterns"
	"github.com/pesakit/smsledger/internal/source"
	"github.com/pesakit/smsledger/internal/store"
	"github.com/pesakit/smsledger/internal/ui"
)

const version = "0.1.0"

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")

	// Core CLI flags
	dbPath  = flag.String("db", "", "SQLite ledger database path (required)")
	input   = flag.String("input", "", "SMS dump file to backfill (CSV: sender,epoch_millis,text)")
	dryRun  = flag.Bool("dry-run", false, "Read the dump and report what would be ingested without writing")
	verbose = flag.Bool("verbose", false, "Show detailed pipeline logs")

	// Pattern flags
	patternsFile = flag.String("patterns", "", "Extraction patterns YAML (default: built-in M-Pesa patterns)")

	// Wallet management
	addWallet = flag.String("add-wallet", "", "Register a wallet as name:sender:opening_balance (e.g. M-Pesa:MPESA:1600)")

	// Reconciliation and export flags
	auditFlag  = flag.Bool("audit", false, "Verify every wallet balance against its transaction history")
	exportPath = flag.String("export", "", "Export the ledger to this file (empty = no export)")
	exportFmt  = flag.String("format", "json", "Export format: json or ofx")
	currency   = flag.String("currency", "KES", "ISO currency code for OFX export")

	// Cloud sync flags
	syncProject = flag.String("sync-project", "", "Firebase project ID for cloud sync (empty = sync disabled)")
	syncUser    = flag.String("sync-user", "", "User ID to mirror transactions under")
	syncCreds   = flag.String("sync-credentials", "", "Service account credentials file (default: application default credentials)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `smsledger - SMS transaction ledger for mobile money wallets

Usage:
  smsledger [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Register the M-Pesa wallet with its SMS sender label and opening balance
  smsledger -db ledger.db -add-wallet "M-Pesa:MPESA:1600"

  # Backfill from an SMS inbox dump
  smsledger -db ledger.db -input inbox.csv

  # Check that balances still reconcile with history
  smsledger -db ledger.db -audit

  # Export for desktop finance tools
  smsledger -db ledger.db -export wallets.ofx -format ofx

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("smsledger version %s\n", version)
		os.Exit(0)
	}

	if *dbPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -db flag is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if *addWallet != "" {
		return registerWallet(ctx, st, *addWallet)
	}

	if *input != "" {
		if err := backfill(ctx, st); err != nil {
			return err
		}
	}

	if *auditFlag {
		if err := audit(ctx, st); err != nil {
			return err
		}
	}

	if *exportPath != "" {
		if err := exportLedger(ctx, st); err != nil {
			return err
		}
	}

	if *input == "" && !*auditFlag && *exportPath == "" {
		return fmt.Errorf("nothing to do: pass -input, -audit, -export, or -add-wallet")
	}
	return nil
}

// registerWallet parses name:sender:opening_balance and creates the wallet.
func registerWallet(ctx context.Context, st *store.Store, spec string) error {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return fmt.Errorf("invalid -add-wallet value %q: want name:sender:opening_balance", spec)
	}

	opening, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return fmt.Errorf("invalid opening balance %q: %w", parts[2], err)
	}

	wallet, err := domain.NewWallet(uuid.NewString(), parts[0], parts[1], opening)
	if err != nil {
		return err
	}
	if err := st.CreateWallet(ctx, wallet); err != nil {
		return err
	}

	ui.Success(fmt.Sprintf("Registered wallet %q for sender %q with opening balance %.2f", wallet.Name, wallet.SenderName, opening))
	return nil
}

// buildEngine wires the pipeline over the store, with optional cloud sync.
func buildEngine(ctx context.Context, st *store.Store) (*ingest.Engine, func(), error) {
	senders, err := st.SenderLabels(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(senders) == 0 {
		return nil, nil, fmt.Errorf("no wallets registered; run with -add-wallet first")
	}

	var extractor *patterns.Engine
	if *patternsFile != "" {
		extractor, err = patterns.LoadFromFile(*patternsFile)
	} else {
		extractor, err = patterns.LoadEmbedded()
	}
	if err != nil {
		return nil, nil, err
	}
	if *verbose {
		fmt.Fprintf(os.Stderr, "Loaded %d extraction patterns\n", len(extractor.Patterns()))
	}

	normalizer := normalize.New(senders)
	if *verbose {
		fmt.Fprintf(os.Stderr, "Watching senders: %s\n", strings.Join(normalizer.Senders(), ", "))
	}

	cleanup := func() {}
	var notifier ledger.Notifier
	if *syncProject != "" {
		client, err := cloudsync.NewClient(ctx, *syncProject, *syncUser, *syncCreds)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up cloud sync: %w", err)
		}
		notifier = client
		cleanup = func() { client.Close() }
	}

	engine := ingest.New(
		normalizer,
		extractor,
		classify.New(st),
		ledger.New(st, notifier),
		st,
	)
	return engine, cleanup, nil
}

func backfill(ctx context.Context, st *store.Store) error {
	if !*verbose {
		ui.Header("Backfilling SMS Ledger")
		ui.Step(1, 3, "Reading SMS dump")
	}

	messages, err := source.ReadFile(*input)
	if err != nil {
		return err
	}
	if !*verbose {
		ui.Success(fmt.Sprintf("Read %d messages", len(messages)))
	} else {
		fmt.Fprintf(os.Stderr, "Read %d messages from %s\n", len(messages), *input)
	}

	if *dryRun {
		ui.YellowText(fmt.Sprintf("Dry run complete. Would scan %d messages.", len(messages)))
		return nil
	}

	if !*verbose {
		ui.Step(2, 3, "Running ingestion pipeline")
	}
	engine, cleanup, err := buildEngine(ctx, st)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := engine.Backfill(ctx, messages)
	if err != nil {
		return err
	}

	if !*verbose {
		ui.Step(3, 3, "Done")
	}
	ui.Info(fmt.Sprintf("Backfill complete: %d scanned, %d committed, %d duplicates, %d rejected, %d dropped, %d failed",
		summary.Scanned, summary.Committed, summary.Duplicates, summary.Rejected, summary.Dropped, summary.Failed))
	if summary.Failed > 0 {
		ui.Warning(fmt.Sprintf("%d messages failed to persist; re-run to retry them", summary.Failed))
	}
	return nil
}

func audit(ctx context.Context, st *store.Store) error {
	wallets, err := st.ListWallets(ctx)
	if err != nil {
		return err
	}
	ui.BlueText(fmt.Sprintf("Auditing %d wallet(s)", len(wallets)))

	led := ledger.New(st, nil)
	report, err := led.Audit(ctx)
	if err != nil {
		return err
	}

	if len(report) == 0 {
		ui.Success("All wallet balances reconcile with transaction history")
		return nil
	}

	for _, d := range report {
		ui.Warning(d.String())
	}
	return fmt.Errorf("%d wallet(s) out of balance", len(report))
}

func exportLedger(ctx context.Context, st *store.Store) error {
	switch *exportFmt {
	case "json":
		snap, err := export.BuildSnapshot(ctx, st)
		if err != nil {
			return err
		}
		if err := export.WriteSnapshotToFile(snap, *exportPath); err != nil {
			return err
		}
	case "ofx":
		f, err := os.Create(*exportPath)
		if err != nil {
			return fmt.Errorf("failed to create output file %s: %w", *exportPath, err)
		}
		defer f.Close()
		if err := export.WriteOFX(ctx, st, *currency, f); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown export format %q: want json or ofx", *exportFmt)
	}

	ui.Success(fmt.Sprintf("Exported ledger to %s (%s)", *exportPath, *exportFmt))
	return nil
}
