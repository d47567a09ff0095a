// Package main is the one-shot legacy migration runner. It drains the old
// Redis key-value store into the relational schema and verifies the copy.
// The legacy data is never modified; a failed run is simply repeated after
// the cause is fixed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/harmony-app/gamification-core/config"
	"github.com/harmony-app/gamification-core/internal/infrastructure/migration"
	"github.com/harmony-app/gamification-core/internal/infrastructure/persistence/postgres"
	redisrepo "github.com/harmony-app/gamification-core/internal/infrastructure/persistence/redis"
	"github.com/harmony-app/gamification-core/pkg/retry"
)

func main() {
	verifyOnly := flag.Bool("verify-only", false, "skip the copy phase and only run verification")
	flag.Parse()

	if err := run(context.Background(), *verifyOnly); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, verifyOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(ctx, cfg.Migration.RunTimeout)
	defer cancel()

	// ─────────────────────────────────────────────────────────────────────────
	// TARGET: PostgreSQL with the relational schema in place
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to target database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	log.Info("running schema migrations...")
	if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run schema migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// SOURCE: legacy Redis store
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to legacy store...")
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if cfg.Redis.URL != "" {
		if opts, err := goredis.ParseURL(cfg.Redis.URL); err == nil {
			redisClient = goredis.NewClient(opts)
		}
	}
	defer redisClient.Close()

	legacy := redisrepo.NewLegacyStore(redisClient)
	if err := legacy.Ping(ctx); err != nil {
		return err
	}

	target := postgres.NewHistoryRepository(dbConn)

	retrier := retry.New(
		retry.WithMaxAttempts(cfg.Migration.ReadMaxAttempts),
		retry.WithInitialDelay(cfg.Migration.ReadInitialDelay),
		retry.WithMaxDelay(cfg.Migration.ReadMaxDelay),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// RUN
	// ─────────────────────────────────────────────────────────────────────────
	if verifyOnly {
		log.Info("running verification only...")
		verifier := migration.NewVerifier(legacy, target, migration.WithVerifierRetrier(retrier))
		report, err := verifier.Verify(ctx)
		if err != nil {
			return err
		}
		printVerification(report)
		if !report.Passed {
			return fmt.Errorf("verification failed with %d discrepancies", len(report.Failures))
		}
		return nil
	}

	pipeline := migration.NewPipeline(legacy, target,
		migration.WithLogger(log),
		migration.WithRetrier(retrier),
	)

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	printReport(report)

	if !report.Succeeded {
		return fmt.Errorf("migration run %s did not succeed", report.RunID)
	}
	return nil
}

func printReport(report *migration.Report) {
	fmt.Printf("\nMigration run %s\n", report.RunID)
	fmt.Printf("Duration: %s\n\n", report.FinishedAt.Sub(report.StartedAt))

	for _, res := range report.Categories {
		switch {
		case res.Skipped:
			fmt.Printf("  %-14s SKIPPED (%v)\n", res.Category, res.Err)
		case res.Succeeded:
			fmt.Printf("  %-14s OK      %d records in %s\n", res.Category, res.Migrated, res.Duration)
		default:
			fmt.Printf("  %-14s FAILED  %v\n", res.Category, res.Err)
		}
	}

	if report.Verification != nil {
		printVerification(report.Verification)
	}

	if report.Succeeded {
		fmt.Println("\nResult: SUCCEEDED")
	} else {
		fmt.Println("\nResult: FAILED")
	}
}

func printVerification(report *migration.VerificationReport) {
	fmt.Println("\nVerification:")
	for _, check := range report.Checks {
		mark := "OK"
		if !check.Match {
			mark = "MISMATCH"
		}
		fmt.Printf("  %-14s legacy=%d target=%d %s\n", check.Category, check.LegacyCount, check.TargetCount, mark)
	}
	fmt.Printf("  orphan snapshots:  %d\n", report.OrphanSnapshots)
	fmt.Printf("  orphan breakdowns: %d\n", report.OrphanBreakdowns)
	for _, failure := range report.Failures {
		fmt.Printf("  ! %s\n", failure)
	}
}
