package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/harmony-app/gamification-core/internal/domain/shared"
	"github.com/harmony-app/gamification-core/pkg/retry"
)

// CategoryCheck compares one category's row counts across both stores.
type CategoryCheck struct {
	Category    Category
	LegacyCount int
	TargetCount int
	Match       bool
}

// VerificationReport is the outcome of the read-only verification pass.
type VerificationReport struct {
	Checks           []CategoryCheck
	OrphanSnapshots  int
	OrphanBreakdowns int
	Failures         []string
	Passed           bool
	CheckedAt        time.Time
}

// Verifier runs the verification pass. It only reads: counts on both sides
// per category, plus the orphan checks on snapshots and breakdowns. It
// shares no state with the copy phase, so it can also run standalone against
// a target that was migrated earlier.
type Verifier struct {
	legacy        LegacyStore
	target        TargetStore
	legacyRetrier *retry.Retrier
	targetRetrier *retry.Retrier
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierRetrier overrides the legacy-read retrier.
func WithVerifierRetrier(r *retry.Retrier) VerifierOption {
	return func(v *Verifier) { v.legacyRetrier = r }
}

// WithVerifierTargetRetrier overrides the target-read retrier.
func WithVerifierTargetRetrier(r *retry.Retrier) VerifierOption {
	return func(v *Verifier) { v.targetRetrier = r }
}

// NewVerifier creates a verifier.
func NewVerifier(legacy LegacyStore, target TargetStore, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		legacy:        legacy,
		target:        target,
		legacyRetrier: retry.LegacyStoreRetrier(),
		targetRetrier: retry.StorageRetrier(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify compares both stores and reports every discrepancy it finds. It
// never stops at the first failure: a store read that keeps failing after
// its retries is recorded against the category it belongs to, and the
// remaining categories are still checked, so the operator gets the complete
// picture in one pass.
func (v *Verifier) Verify(ctx context.Context) (*VerificationReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &VerificationReport{CheckedAt: time.Now().UTC()}

	legacy := v.legacyCounts(ctx)

	targetCounts, targetErr := retryRead(ctx, v.targetRetrier, v.target.Counts)
	if targetErr != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("target counts unavailable: %v", targetErr))
	}

	for _, cat := range Categories() {
		lc := legacy[cat]
		check := CategoryCheck{
			Category:    cat,
			LegacyCount: lc.count,
			TargetCount: targetCounts.Of(cat),
		}
		check.Match = lc.err == nil && targetErr == nil && check.LegacyCount == check.TargetCount
		report.Checks = append(report.Checks, check)

		switch {
		case lc.err != nil:
			report.Failures = append(report.Failures, fmt.Sprintf("%s: legacy read failed: %v", cat, lc.err))
		case targetErr == nil && !check.Match:
			report.Failures = append(report.Failures, fmt.Sprintf(
				"%s: legacy has %d rows, target has %d", cat, check.LegacyCount, check.TargetCount,
			))
		}
	}

	v.checkOrphans(ctx, report)

	report.Passed = len(report.Failures) == 0
	return report, nil
}

// checkOrphans runs the referential integrity checks on the target side.
func (v *Verifier) checkOrphans(ctx context.Context, report *VerificationReport) {
	snapshots, err := retryRead(ctx, v.targetRetrier, v.target.OrphanSnapshots)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("snapshot orphan check failed: %v", err))
	} else {
		report.OrphanSnapshots = snapshots
		if snapshots > 0 {
			report.Failures = append(report.Failures, fmt.Sprintf(
				"snapshots: %d rows reference a missing challenge", snapshots,
			))
		}
	}

	breakdowns, err := retryRead(ctx, v.targetRetrier, v.target.OrphanBreakdowns)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("breakdown orphan check failed: %v", err))
	} else {
		report.OrphanBreakdowns = breakdowns
		if breakdowns > 0 {
			report.Failures = append(report.Failures, fmt.Sprintf(
				"breakdowns: %d rows reference a missing challenge", breakdowns,
			))
		}
	}
}

// legacyCount pairs one category's record count with its read error, if any.
type legacyCount struct {
	count int
	err   error
}

// legacyCounts derives per-category counts by reading each category in
// full. The legacy store has no count primitive, and a full read also
// confirms every record still parses. Transient store failures are retried;
// a read that still fails is recorded against its category, not escalated.
func (v *Verifier) legacyCounts(ctx context.Context) map[Category]legacyCount {
	read := func(fn func(context.Context) (int, error)) legacyCount {
		n, err := retryRead(ctx, v.legacyRetrier, fn)
		return legacyCount{count: n, err: err}
	}

	return map[Category]legacyCount{
		CategoryChallenges: read(func(ctx context.Context) (int, error) {
			records, err := v.legacy.ReadChallenges(ctx)
			return len(records), err
		}),
		CategoryTransactions: read(func(ctx context.Context) (int, error) {
			records, err := v.legacy.ReadTransactions(ctx)
			return len(records), err
		}),
		CategorySnapshots: read(func(ctx context.Context) (int, error) {
			records, err := v.legacy.ReadSnapshots(ctx)
			return len(records), err
		}),
		CategoryBreakdowns: read(func(ctx context.Context) (int, error) {
			records, err := v.legacy.ReadBreakdowns(ctx)
			return len(records), err
		}),
		CategoryRatings: read(func(ctx context.Context) (int, error) {
			records, err := v.legacy.ReadRatings(ctx)
			return len(records), err
		}),
	}
}

// retryRead wraps a store read so transient failures are retried and
// everything else fails fast.
func retryRead[T any](ctx context.Context, r *retry.Retrier, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			if shared.IsRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		}
		out = value
		return nil
	})
	return out, err
}
