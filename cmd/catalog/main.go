// Command catalog is the operator CLI for the Printful→Stripe sync pipeline.
//
//	catalog sync <variants.csv>      reconcile prices against the CSV export
//	catalog backfill <variants.csv>  add lookup keys to legacy prices
//	catalog audit                    scan for variants bound to multiple prices
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nyashahama/pod-storefront-backend/internal/catalog"
	"github.com/nyashahama/pod-storefront-backend/internal/config"
	"github.com/nyashahama/pod-storefront-backend/internal/reconcile"
	"github.com/nyashahama/pod-storefront-backend/internal/stripecatalog"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: catalog <command> [arguments]

commands:
  sync <variants.csv>      create/refresh Stripe prices from a Printful CSV export
  backfill <variants.csv>  set lookup keys on legacy prices matched by nickname
  audit                    report variant ids bound to more than one price
`)
	os.Exit(2)
}

func run(logger *slog.Logger) error {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	client := stripecatalog.NewClient(cfg.StripeSecretKey)

	// Ctrl-C aborts mid-run; every command is restartable, so a partial run
	// just means rerunning later.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := args[0]; cmd {
	case "sync":
		if len(args) != 2 {
			usage()
		}
		return runSync(ctx, client, cfg, logger, args[1])

	case "backfill":
		if len(args) != 2 {
			usage()
		}
		return runBackfill(ctx, client, cfg, logger, args[1])

	case "audit":
		return runAudit(ctx, client, logger)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func loadCSV(path string, logger *slog.Logger) ([]catalog.VariantRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	result, err := catalog.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load csv: %w", err)
	}

	for _, skip := range result.Skipped {
		logger.Warn("csv row skipped", "line", skip.Line, "sku", skip.SKU, "reason", skip.Reason)
	}
	logger.Info("csv loaded", "variants", len(result.Records), "skipped", len(result.Skipped))
	return result.Records, nil
}

func runSync(ctx context.Context, client stripecatalog.Client, cfg *config.Config, logger *slog.Logger, path string) error {
	records, err := loadCSV(path, logger)
	if err != nil {
		return err
	}

	tally, err := reconcile.NewReconciler(client, cfg.SyncThrottle, logger).Run(ctx, records)
	// Print the tally even on error: an aborted run still did work, and the
	// numbers tell the operator where it stopped.
	fmt.Println(tally)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func runBackfill(ctx context.Context, client stripecatalog.Client, cfg *config.Config, logger *slog.Logger, path string) error {
	records, err := loadCSV(path, logger)
	if err != nil {
		return err
	}

	tally, err := reconcile.NewBackfill(client, cfg.SyncThrottle, logger).Run(ctx, records)
	fmt.Println(tally)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	return nil
}

func runAudit(ctx context.Context, client stripecatalog.Client, logger *slog.Logger) error {
	report, err := reconcile.NewAuditor(client, 100, logger).Run(ctx)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	fmt.Printf("scanned %d prices (%d unbound)\n", report.Scanned, report.Unbound)
	if len(report.Duplicates) == 0 {
		fmt.Println("no duplicate variant bindings found")
		return nil
	}
	for _, d := range report.Duplicates {
		fmt.Printf("variant %s bound to %d prices: %v\n", d.SyncVariantID, d.Count, d.PriceIDs)
	}
	// Non-zero exit so cron/CI notices the drift.
	return fmt.Errorf("audit: %d variants bound to multiple prices", len(report.Duplicates))
}
