package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/saga"
	"github.com/fluxpay/engine/internal/tenant"
)

// GormSagaRepository implements saga.Repository over GORM/Postgres.
//
// Create/Update/Get run under the tenant scope of the request that started
// the saga. UpsertStep/ListSteps address step rows by saga id only, without
// the tenant scope. AcquireStuckBatch does not use it either: the recovery sweep is a
// single system-wide process leasing stuck instances across every tenant, so
// it queries the unscoped tables directly, the same principle applied to the
// outbox publisher and the refund processor.
type GormSagaRepository struct {
	db *gorm.DB
}

// NewGormSagaRepository builds a GormSagaRepository.
func NewGormSagaRepository(db *gorm.DB) *GormSagaRepository {
	return &GormSagaRepository{db: db}
}

func sagaInstanceToModel(inst *saga.Instance) *SagaInstanceModel {
	return &SagaInstanceModel{
		SagaID:             inst.SagaID,
		SagaType:           inst.SagaType,
		CorrelationID:      inst.CorrelationID,
		TenantID:           string(inst.Tenant),
		Status:             string(inst.Status),
		CurrentStep:        inst.CurrentStep,
		ContextData:        string(inst.ContextData),
		Error:              inst.Error,
		CompensationFailed: inst.CompensationFailed,
		LeaseOwner:         inst.LeaseOwner,
		LeasedUntil:        inst.LeasedUntil,
		StartedAt:          inst.StartedAt,
		UpdatedAt:          inst.UpdatedAt,
		CompletedAt:        inst.CompletedAt,
		Version:            inst.Version,
	}
}

func modelToSagaInstance(m *SagaInstanceModel) *saga.Instance {
	return &saga.Instance{
		SagaID:             m.SagaID,
		SagaType:           m.SagaType,
		CorrelationID:      m.CorrelationID,
		Tenant:             tenant.ID(m.TenantID),
		Status:             saga.Status(m.Status),
		CurrentStep:        m.CurrentStep,
		ContextData:        json.RawMessage(m.ContextData),
		Error:              m.Error,
		CompensationFailed: m.CompensationFailed,
		LeaseOwner:         m.LeaseOwner,
		LeasedUntil:        m.LeasedUntil,
		StartedAt:          m.StartedAt,
		UpdatedAt:          m.UpdatedAt,
		CompletedAt:        m.CompletedAt,
		Version:            m.Version,
	}
}

// Create inserts a new saga instance row.
func (r *GormSagaRepository) Create(ctx context.Context, inst *saga.Instance) error {
	scope, _, err := scoped(ctx, r.db, "saga_instances")
	if err != nil {
		return err
	}
	if err := scope.Session(&gorm.Session{}).Create(sagaInstanceToModel(inst)).Error; err != nil {
		return apperr.Wrap(apperr.CodeInternal, "creating saga instance", err)
	}
	return nil
}

// Update applies an optimistic-locked update of the instance's mutable
// fields, incrementing Version.
func (r *GormSagaRepository) Update(ctx context.Context, inst *saga.Instance) error {
	scope, _, err := scoped(ctx, r.db, "saga_instances")
	if err != nil {
		return err
	}

	prevVersion := inst.Version
	inst.Version++

	result := scope.Where("saga_id = ? AND version = ?", inst.SagaID, prevVersion).
		Updates(map[string]any{
			"status":              string(inst.Status),
			"current_step":        inst.CurrentStep,
			"context_data":        string(inst.ContextData),
			"error":               inst.Error,
			"compensation_failed": inst.CompensationFailed,
			"lease_owner":         inst.LeaseOwner,
			"leased_until":        inst.LeasedUntil,
			"updated_at":          inst.UpdatedAt,
			"completed_at":        inst.CompletedAt,
			"version":             inst.Version,
		})
	if result.Error != nil {
		return apperr.Wrap(apperr.CodeInternal, "updating saga instance", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.New(apperr.CodeSagaFailed, "saga instance was concurrently modified")
	}
	return nil
}

// Get fetches one saga instance by id, tenant-scoped.
func (r *GormSagaRepository) Get(ctx context.Context, sagaID string) (*saga.Instance, error) {
	scope, _, err := scoped(ctx, r.db, "saga_instances")
	if err != nil {
		return nil, err
	}

	var model SagaInstanceModel
	if err := scope.Where("saga_id = ?", sagaID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.New(apperr.CodeSagaFailed, "saga instance not found")
		}
		return nil, apperr.Wrap(apperr.CodeInternal, "fetching saga instance", err)
	}
	return modelToSagaInstance(&model), nil
}

// UpsertStep inserts a new step row or overwrites the existing one for
// (sagaID, order), matched on those two columns via FirstOrCreate; no unique
// index backs the pair.
func (r *GormSagaRepository) UpsertStep(ctx context.Context, step *saga.StepRow) error {
	model := SagaStepModel{
		SagaID:        step.SagaID,
		StepOrder:     step.Order,
		Name:          step.Name,
		Status:        string(step.Status),
		ExecutedAt:    step.ExecutedAt,
		CompensatedAt: step.CompensatedAt,
		Error:         step.Error,
	}

	err := r.db.WithContext(ctx).
		Where("saga_id = ? AND step_order = ?", step.SagaID, step.Order).
		Assign(map[string]any{
			"name":           model.Name,
			"status":         model.Status,
			"executed_at":    model.ExecutedAt,
			"compensated_at": model.CompensatedAt,
			"error":          model.Error,
		}).
		FirstOrCreate(&model).Error
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "upserting saga step", err)
	}
	return nil
}

// ListSteps returns every step row for sagaID in execution order.
func (r *GormSagaRepository) ListSteps(ctx context.Context, sagaID string) ([]*saga.StepRow, error) {
	var models []SagaStepModel
	if err := r.db.WithContext(ctx).Where("saga_id = ?", sagaID).Order("step_order").Find(&models).Error; err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "listing saga steps", err)
	}

	rows := make([]*saga.StepRow, 0, len(models))
	for _, m := range models {
		rows = append(rows, &saga.StepRow{
			SagaID:        m.SagaID,
			Order:         m.StepOrder,
			Name:          m.Name,
			Status:        saga.StepStatus(m.Status),
			ExecutedAt:    m.ExecutedAt,
			CompensatedAt: m.CompensatedAt,
			Error:         m.Error,
		})
	}
	return rows, nil
}

// AcquireStuckBatch leases up to limit instances stuck in PROCESSING or
// COMPENSATING whose updatedAt predates staleSince and whose existing lease
// (if any) has expired, atomically assigning them to owner. This is a
// trusted system job sweeping every tenant, so it bypasses per-request
// tenant scoping entirely (spec §5).
func (r *GormSagaRepository) AcquireStuckBatch(ctx context.Context, staleSince time.Time, owner string, leaseUntil time.Time, limit int) ([]*saga.Instance, error) {
	var models []SagaInstanceModel

	err := r.db.WithContext(ctx).Raw(`
		UPDATE saga_instances
		SET lease_owner = ?, leased_until = ?
		WHERE saga_id IN (
			SELECT saga_id FROM saga_instances
			WHERE status IN (?, ?)
			  AND updated_at <= ?
			  AND (leased_until IS NULL OR leased_until <= now())
			ORDER BY updated_at
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, owner, leaseUntil, string(saga.StatusProcessing), string(saga.StatusCompensating), staleSince, limit).Scan(&models).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "acquiring stuck saga batch", err)
	}

	instances := make([]*saga.Instance, 0, len(models))
	for i := range models {
		instances = append(instances, modelToSagaInstance(&models[i]))
	}
	return instances, nil
}
