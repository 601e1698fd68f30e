package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/tenant"
	"github.com/fluxpay/engine/pkg/logger"
)

// OrchestratorConfig controls timing, per spec §6.
type OrchestratorConfig struct {
	Timeout                time.Duration
	StepTimeout            time.Duration
	CompensationMaxRetries int
	CompensationRetryDelay time.Duration
}

// Orchestrator drives Definitions against a persisted Repository, per the
// execution algorithm of spec §4.3.
type Orchestrator struct {
	repo Repository
	cfg  OrchestratorConfig
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(repo Repository, cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{repo: repo, cfg: cfg}
}

// Run executes def's steps in order against a fresh saga instance, persisting
// progress after every step so a crash mid-saga can be resumed by
// RecoverStuck. correlationID scopes (tenant, correlationID) to one saga.
func (o *Orchestrator) Run(ctx context.Context, def Definition, correlationID string, sagaCtx *Context) (any, error) {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	inst := &Instance{
		SagaID:        uuid.NewString(),
		SagaType:      def.Type,
		CorrelationID: correlationID,
		Tenant:        tn,
		Status:        StatusStarted,
		StartedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	if err := o.persistContext(inst, sagaCtx); err != nil {
		return nil, err
	}
	if err := o.repo.Create(ctx, inst); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	return o.drive(ctx, def, inst, sagaCtx, 0)
}

// drive runs def.Steps[fromStep:], persisting progress, and compensates on
// failure. fromStep > 0 only happens when resuming a recovered instance.
func (o *Orchestrator) drive(ctx context.Context, def Definition, inst *Instance, sagaCtx *Context, fromStep int) (any, error) {
	if inst.Status != StatusProcessing {
		if err := o.transition(ctx, inst, StatusProcessing); err != nil {
			return nil, err
		}
	}

	for i := fromStep; i < len(def.Steps); i++ {
		step := def.Steps[i]

		if err := o.repo.UpsertStep(ctx, &StepRow{SagaID: inst.SagaID, Order: i, Name: step.Name, Status: StepPending}); err != nil {
			return nil, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		err := step.Execute(stepCtx, sagaCtx)
		cancel()

		if err != nil {
			logger.FromContext(ctx).Warn().Err(err).Str("saga_id", inst.SagaID).Str("step", step.Name).Msg("saga step failed, compensating")
			_ = o.repo.UpsertStep(ctx, &StepRow{SagaID: inst.SagaID, Order: i, Name: step.Name, Status: StepFailed, Error: err.Error()})
			inst.Error = err.Error()
			return nil, o.compensate(ctx, def, inst, sagaCtx, i-1)
		}

		now := time.Now()
		if err := o.repo.UpsertStep(ctx, &StepRow{SagaID: inst.SagaID, Order: i, Name: step.Name, Status: StepExecuted, ExecutedAt: &now}); err != nil {
			return nil, err
		}

		inst.CurrentStep = i + 1
		if err := o.persistContext(inst, sagaCtx); err != nil {
			return nil, err
		}
		if err := o.repo.Update(ctx, inst); err != nil {
			return nil, err
		}
	}

	if err := o.transition(ctx, inst, StatusCompleted); err != nil {
		return nil, err
	}

	if def.OnComplete == nil {
		return nil, nil
	}
	return def.OnComplete(ctx, sagaCtx)
}

// compensate runs compensations for steps [fromStep .. 0] in reverse order.
func (o *Orchestrator) compensate(ctx context.Context, def Definition, inst *Instance, sagaCtx *Context, fromStep int) error {
	if inst.Status != StatusCompensating {
		if err := o.transition(ctx, inst, StatusCompensating); err != nil {
			return err
		}
	}

	for j := fromStep; j >= 0; j-- {
		step := def.Steps[j]

		var lastErr error
		for attempt := 0; attempt <= o.cfg.CompensationMaxRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(o.cfg.CompensationRetryDelay)
			}
			lastErr = step.Compensate(ctx, sagaCtx)
			if lastErr == nil {
				break
			}
		}

		now := time.Now()
		if lastErr != nil {
			_ = o.repo.UpsertStep(ctx, &StepRow{SagaID: inst.SagaID, Order: j, Name: step.Name, Status: StepFailed, Error: lastErr.Error()})
			inst.CompensationFailed = true
			inst.Error = lastErr.Error()
			_ = o.transition(ctx, inst, StatusFailed)
			return apperr.Wrap(apperr.CodeSagaFailed, "saga compensation failed for step "+step.Name, lastErr)
		}

		_ = o.repo.UpsertStep(ctx, &StepRow{SagaID: inst.SagaID, Order: j, Name: step.Name, Status: StepCompensated, CompensatedAt: &now})
	}

	if err := o.transition(ctx, inst, StatusCompensated); err != nil {
		return err
	}

	return apperr.New(apperr.CodeSagaFailed, inst.Error)
}

func (o *Orchestrator) transition(ctx context.Context, inst *Instance, next Status) error {
	if !inst.Status.CanTransitionTo(next) {
		return apperr.New(apperr.CodeSagaFailed, "invalid saga transition from "+string(inst.Status)+" to "+string(next))
	}
	inst.Status = next
	inst.UpdatedAt = time.Now()
	if next == StatusCompleted || next == StatusCompensated || next == StatusFailed {
		now := time.Now()
		inst.CompletedAt = &now
	}
	return o.repo.Update(ctx, inst)
}

func (o *Orchestrator) persistContext(inst *Instance, sagaCtx *Context) error {
	raw, err := json.Marshal(sagaCtx)
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "serializing saga context", err)
	}
	inst.ContextData = raw
	return nil
}

// RecoverStuck leases and resumes instances stuck in PROCESSING or
// COMPENSATING past staleSince, per the recovery sweep of spec §4.3/§5. defs
// maps a saga type to its Definition so steps can be re-run.
func (o *Orchestrator) RecoverStuck(ctx context.Context, defs map[string]Definition, owner string, staleSince time.Time, leaseDuration time.Duration, limit int) (int, error) {
	leaseUntil := time.Now().Add(leaseDuration)
	stuck, err := o.repo.AcquireStuckBatch(ctx, staleSince, owner, leaseUntil, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, inst := range stuck {
		def, ok := defs[inst.SagaType]
		if !ok {
			logger.FromContext(ctx).Error().Str("saga_type", inst.SagaType).Msg("no definition registered for saga type during recovery")
			continue
		}

		sagaCtx := NewContext()
		if len(inst.ContextData) > 0 {
			if err := json.Unmarshal(inst.ContextData, sagaCtx); err != nil {
				logger.FromContext(ctx).Error().Err(err).Str("saga_id", inst.SagaID).Msg("failed to deserialize saga context during recovery")
				continue
			}
		}

		tenantCtx := tenant.WithTenant(ctx, inst.Tenant)

		if inst.Status == StatusCompensating {
			_ = o.compensate(tenantCtx, def, inst, sagaCtx, inst.CurrentStep-1)
		} else {
			_, _ = o.drive(tenantCtx, def, inst, sagaCtx, inst.CurrentStep)
		}
		recovered++
	}

	return recovered, nil
}
