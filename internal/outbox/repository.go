package outbox

import (
	"context"
	"time"
)

// Repository is the abstract persistence contract for outbox rows. The GORM
// implementation lives in internal/repository.
type Repository interface {
	// Create inserts a new PENDING row, normally called inside the same
	// transaction as the aggregate mutation that produced it.
	Create(ctx context.Context, event *Event) error

	// ClaimBatch atomically moves up to limit PENDING rows (whose
	// NextAttemptAt has elapsed) to IN_FLIGHT and returns them. Implemented as
	// a single UPDATE ... RETURNING so concurrent publishers never double-claim.
	ClaimBatch(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished sets status=PUBLISHED, publishedAt=now.
	MarkPublished(ctx context.Context, seq int64, now time.Time) error

	// ResetToPending increments retryCount and returns an IN_FLIGHT row to
	// PENDING with the given nextAttemptAt, for a retryable failure.
	ResetToPending(ctx context.Context, seq int64, nextAttemptAt time.Time, lastErr string) error

	// MarkFailed moves an IN_FLIGHT row to FAILED after exhausting retries.
	MarkFailed(ctx context.Context, seq int64, lastErr string) error

	// SweepStaleInFlight returns IN_FLIGHT rows older than olderThan back to
	// PENDING, recovering from a publisher crash mid-batch.
	SweepStaleInFlight(ctx context.Context, olderThan time.Time) (int64, error)

	// DeletePublishedBefore deletes PUBLISHED rows older than cutoff, in
	// batches, for retention cleanup.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}
