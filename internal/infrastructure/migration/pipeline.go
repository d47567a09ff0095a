package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
	"github.com/harmony-app/gamification-core/pkg/retry"
)

// CategoryResult records one category's outcome.
type CategoryResult struct {
	Category    Category
	LegacyCount int
	Migrated    int
	Succeeded   bool
	Skipped     bool
	Err         error
	Duration    time.Duration
}

// Report is the full outcome of one migration run.
type Report struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Categories   []CategoryResult
	Verification *VerificationReport
	Succeeded    bool
}

// CategoryResultFor returns the result for a category, if present.
func (r *Report) CategoryResultFor(cat Category) (CategoryResult, bool) {
	for _, res := range r.Categories {
		if res.Category == cat {
			return res, true
		}
	}
	return CategoryResult{}, false
}

// Pipeline copies every category from the legacy store into the relational
// target and then verifies the result. One category failing rolls only that
// category back; the remaining categories still run, so a single bad record
// does not hold the whole cutover hostage. The run as a whole succeeds only
// if every category landed and verification passed.
type Pipeline struct {
	legacy  LegacyStore
	target  TargetStore
	bus     shared.EventPublisher
	logger  *slog.Logger
	retrier *retry.Retrier
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithEventPublisher wires progress events to a bus.
func WithEventPublisher(bus shared.EventPublisher) PipelineOption {
	return func(p *Pipeline) { p.bus = bus }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithRetrier overrides the legacy-read retrier.
func WithRetrier(r *retry.Retrier) PipelineOption {
	return func(p *Pipeline) { p.retrier = r }
}

// NewPipeline creates a migration pipeline.
func NewPipeline(legacy LegacyStore, target TargetStore, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		legacy:  legacy,
		target:  target,
		logger:  slog.Default(),
		retrier: retry.LegacyStoreRetrier(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the one-shot migration and the verification pass.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	p.logger.Info("migration run started", "run_id", report.RunID)

	failed := make(map[Category]bool)
	for _, cat := range Categories() {
		// Snapshots and breakdowns reference challenges; copying them
		// without their parents would only manufacture orphans.
		if (cat == CategorySnapshots || cat == CategoryBreakdowns) && failed[CategoryChallenges] {
			res := CategoryResult{Category: cat, Skipped: true, Err: fmt.Errorf("challenges category failed")}
			report.Categories = append(report.Categories, res)
			failed[cat] = true
			p.logger.Warn("category skipped", "category", cat, "reason", "challenges category failed")
			continue
		}

		res := p.runCategory(ctx, cat)
		report.Categories = append(report.Categories, res)
		if !res.Succeeded {
			failed[cat] = true
		}

		if p.bus != nil {
			_ = p.bus.Publish(shared.NewMigrationCategoryEvent(
				string(cat), res.LegacyCount, res.Migrated, res.Succeeded,
			))
		}
	}

	verifier := NewVerifier(p.legacy, p.target, WithVerifierRetrier(p.retrier))
	verification, err := verifier.Verify(ctx)
	if err != nil {
		// The category results survive even when the verification pass
		// cannot start; the run reports as failed instead of erroring out.
		verification = &VerificationReport{
			CheckedAt: time.Now().UTC(),
			Failures:  []string{fmt.Sprintf("verification pass did not run: %v", err)},
		}
	}
	report.Verification = verification

	report.FinishedAt = time.Now().UTC()
	report.Succeeded = len(failed) == 0 && verification.Passed

	p.logger.Info("migration run finished",
		"run_id", report.RunID,
		"succeeded", report.Succeeded,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)

	if p.bus != nil {
		event := shared.NewBaseEvent(shared.EventMigrationCompleted, report.RunID)
		_ = p.bus.Publish(migrationCompletedEvent{BaseEvent: event, Succeeded: report.Succeeded})
	}

	return report, nil
}

// runCategory copies one category: retried legacy read, then one atomic
// import.
func (p *Pipeline) runCategory(ctx context.Context, cat Category) CategoryResult {
	start := time.Now()
	res := CategoryResult{Category: cat}

	var importErr error
	switch cat {
	case CategoryChallenges:
		records, err := retry.DoWithData(ctx, func(ctx context.Context) ([]Challenge, error) {
			return p.legacy.ReadChallenges(ctx)
		}, readRetryOptions()...)
		if err != nil {
			importErr = err
			break
		}
		res.LegacyCount = len(records)
		importErr = p.target.ImportChallenges(ctx, records)

	case CategoryTransactions:
		records, err := retry.DoWithData(ctx, func(ctx context.Context) ([]Transaction, error) {
			return p.legacy.ReadTransactions(ctx)
		}, readRetryOptions()...)
		if err != nil {
			importErr = err
			break
		}
		res.LegacyCount = len(records)
		importErr = p.target.ImportTransactions(ctx, records)

	case CategorySnapshots:
		records, err := retry.DoWithData(ctx, func(ctx context.Context) ([]DailySnapshot, error) {
			return p.legacy.ReadSnapshots(ctx)
		}, readRetryOptions()...)
		if err != nil {
			importErr = err
			break
		}
		res.LegacyCount = len(records)
		importErr = p.target.ImportSnapshots(ctx, records)

	case CategoryBreakdowns:
		records, err := retry.DoWithData(ctx, func(ctx context.Context) ([]WeeklyBreakdown, error) {
			return p.legacy.ReadBreakdowns(ctx)
		}, readRetryOptions()...)
		if err != nil {
			importErr = err
			break
		}
		res.LegacyCount = len(records)
		importErr = p.target.ImportBreakdowns(ctx, records)

	case CategoryRatings:
		records, err := retry.DoWithData(ctx, func(ctx context.Context) ([]Rating, error) {
			return p.legacy.ReadRatings(ctx)
		}, readRetryOptions()...)
		if err != nil {
			importErr = err
			break
		}
		res.LegacyCount = len(records)
		importErr = p.target.ImportRatings(ctx, records)

	default:
		importErr = fmt.Errorf("unknown category %q", cat)
	}

	res.Duration = time.Since(start)

	if importErr != nil {
		res.Err = shared.WrapError("migration", "Copy", shared.ErrMigrationCategory,
			fmt.Sprintf("category %s failed", cat), importErr)
		p.logger.Error("category migration failed", "category", cat, "error", importErr)
		return res
	}

	res.Migrated = res.LegacyCount
	res.Succeeded = true
	p.logger.Info("category migrated", "category", cat, "records", res.Migrated, "duration", res.Duration)
	return res
}

// readRetryOptions retries transient legacy-store failures; malformed
// records are final.
func readRetryOptions() []retry.Option {
	return []retry.Option{
		retry.WithMaxAttempts(5),
		retry.WithInitialDelay(200 * time.Millisecond),
		retry.WithMaxDelay(5 * time.Second),
		retry.WithRetryIf(shared.IsRetryable),
	}
}

// migrationCompletedEvent closes a run on the bus.
type migrationCompletedEvent struct {
	shared.BaseEvent
	Succeeded bool `json:"succeeded"`
}

// Payload implements shared.Event.
func (e migrationCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"run_id":    e.AggregateID(),
		"succeeded": e.Succeeded,
	}
}
