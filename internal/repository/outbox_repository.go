package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/outbox"
	"github.com/fluxpay/engine/internal/tenant"
)

// GormOutboxRepository implements outbox.Repository over GORM/Postgres.
//
// Create is tenant-scoped (it runs inside the same transaction as the
// triggering domain mutation, under that request's tenant context). The
// publisher-facing methods (ClaimBatch, MarkPublished, ...) are not: the
// publisher is a single system-wide process that ships every tenant's events,
// so it operates on the unscoped table directly.
type GormOutboxRepository struct {
	db *gorm.DB
}

// NewGormOutboxRepository builds a GormOutboxRepository.
func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

func outboxToModel(e *outbox.Event) *OutboxModel {
	return &OutboxModel{
		Seq:           e.Seq,
		TenantID:      string(e.Tenant),
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		EventID:       e.EventID,
		Payload:       string(e.Payload),
		Status:        string(e.Status),
		RetryCount:    e.RetryCount,
		CreatedAt:     e.CreatedAt,
		NextAttemptAt: e.NextAttemptAt,
		PublishedAt:   e.PublishedAt,
		LastError:     e.LastError,
	}
}

func modelToOutbox(m *OutboxModel) *outbox.Event {
	return &outbox.Event{
		Seq:           m.Seq,
		Tenant:        tenant.ID(m.TenantID),
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		EventID:       m.EventID,
		Payload:       []byte(m.Payload),
		Status:        outbox.Status(m.Status),
		RetryCount:    m.RetryCount,
		CreatedAt:     m.CreatedAt,
		NextAttemptAt: m.NextAttemptAt,
		PublishedAt:   m.PublishedAt,
		LastError:     m.LastError,
	}
}

// Create inserts a new PENDING row. Callers pass the same *gorm.DB handle
// they used for the aggregate write (a transaction), so this shares that
// transaction's atomicity.
func (r *GormOutboxRepository) Create(ctx context.Context, event *outbox.Event) error {
	scope, _, err := scoped(ctx, r.db, "outbox_events")
	if err != nil {
		return err
	}

	model := outboxToModel(event)
	if err := scope.Session(&gorm.Session{}).Create(model).Error; err != nil {
		return apperr.Wrap(apperr.CodeInternal, "creating outbox event", err)
	}
	event.Seq = model.Seq
	return nil
}

// ClaimBatch atomically moves up to limit claimable PENDING rows to IN_FLIGHT
// via a single UPDATE ... RETURNING, so concurrent publisher instances never
// double-claim the same row (spec §4.4/§5).
func (r *GormOutboxRepository) ClaimBatch(ctx context.Context, limit int) ([]*outbox.Event, error) {
	var models []OutboxModel

	err := r.db.WithContext(ctx).Raw(`
		UPDATE outbox_events
		SET status = ?
		WHERE seq IN (
			SELECT seq FROM outbox_events
			WHERE status = ? AND next_attempt_at <= now()
			ORDER BY seq
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, string(outbox.StatusInFlight), string(outbox.StatusPending), limit).Scan(&models).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "claiming outbox batch", err)
	}

	events := make([]*outbox.Event, 0, len(models))
	for i := range models {
		events = append(events, modelToOutbox(&models[i]))
	}
	return events, nil
}

func (r *GormOutboxRepository) MarkPublished(ctx context.Context, seq int64, now time.Time) error {
	return r.db.WithContext(ctx).Table("outbox_events").Where("seq = ?", seq).
		Updates(map[string]any{"status": string(outbox.StatusPublished), "published_at": now}).Error
}

func (r *GormOutboxRepository) ResetToPending(ctx context.Context, seq int64, nextAttemptAt time.Time, lastErr string) error {
	return r.db.WithContext(ctx).Table("outbox_events").Where("seq = ?", seq).
		Updates(map[string]any{
			"status":          string(outbox.StatusPending),
			"retry_count":     gorm.Expr("retry_count + 1"),
			"next_attempt_at": nextAttemptAt,
			"last_error":      lastErr,
		}).Error
}

func (r *GormOutboxRepository) MarkFailed(ctx context.Context, seq int64, lastErr string) error {
	return r.db.WithContext(ctx).Table("outbox_events").Where("seq = ?", seq).
		Updates(map[string]any{"status": string(outbox.StatusFailed), "last_error": lastErr}).Error
}

// SweepStaleInFlight recovers rows left IN_FLIGHT by a publisher that crashed
// mid-batch, per spec §5's claimTimeout policy.
func (r *GormOutboxRepository) SweepStaleInFlight(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Table("outbox_events").
		Where("status = ? AND next_attempt_at <= ?", string(outbox.StatusInFlight), olderThan).
		Updates(map[string]any{"status": string(outbox.StatusPending)})
	return result.RowsAffected, result.Error
}

func (r *GormOutboxRepository) DeletePublishedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		DELETE FROM outbox_events WHERE seq IN (
			SELECT seq FROM outbox_events WHERE status = ? AND published_at < ? LIMIT ?
		)
	`, string(outbox.StatusPublished), cutoff, batchSize)
	return result.RowsAffected, result.Error
}
