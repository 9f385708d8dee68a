// Package main provides a one-shot reconciliation pass over cancelled
// swaps with outstanding reservations. Intended for operators and cron.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"renex/internal/reconcile"
	"renex/internal/storage/migrations"
	pgstore "renex/internal/storage/postgres"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall pass timeout")
	verbose := flag.Bool("verbose", false, "Print per-swap outcomes")

	flag.Parse()

	logger := log.New(os.Stdout, "[reconcile] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Connect to postgres: %v", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Run migrations: %v", err)
	}

	reconciler := reconcile.New(
		pgstore.NewListingStore(pool),
		pgstore.NewSwapStore(pool),
		pgstore.NewSwapEventStore(pool),
	)
	reconciler.SetLogger(logger)

	report, err := reconciler.Run(ctx)
	if err != nil {
		logger.Fatalf("Reconciliation pass failed: %v", err)
	}

	if *verbose {
		for _, r := range report.Results {
			status := "ok"
			if r.Err != nil {
				status = r.Err.Error()
			}
			logger.Printf("swap=%s listing=%s released=%t cleared=%t status=%s",
				r.SwapID, r.ListingID, r.Released, r.Cleared, status)
		}
	}

	if report.Failed > 0 {
		os.Exit(1)
	}
}
