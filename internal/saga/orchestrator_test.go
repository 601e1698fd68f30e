package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpay/engine/internal/tenant"
)

type fakeSagaRepository struct {
	instances map[string]*Instance
	steps     map[string][]*StepRow
}

func newFakeSagaRepository() *fakeSagaRepository {
	return &fakeSagaRepository{
		instances: make(map[string]*Instance),
		steps:     make(map[string][]*StepRow),
	}
}

func (r *fakeSagaRepository) Create(ctx context.Context, inst *Instance) error {
	cp := *inst
	r.instances[inst.SagaID] = &cp
	return nil
}

func (r *fakeSagaRepository) Update(ctx context.Context, inst *Instance) error {
	cp := *inst
	r.instances[inst.SagaID] = &cp
	return nil
}

func (r *fakeSagaRepository) Get(ctx context.Context, sagaID string) (*Instance, error) {
	inst, ok := r.instances[sagaID]
	if !ok {
		return nil, errors.New("not found")
	}
	return inst, nil
}

func (r *fakeSagaRepository) UpsertStep(ctx context.Context, step *StepRow) error {
	r.steps[step.SagaID] = append(r.steps[step.SagaID], step)
	return nil
}

func (r *fakeSagaRepository) ListSteps(ctx context.Context, sagaID string) ([]*StepRow, error) {
	return r.steps[sagaID], nil
}

func (r *fakeSagaRepository) AcquireStuckBatch(ctx context.Context, staleSince time.Time, owner string, leaseUntil time.Time, limit int) ([]*Instance, error) {
	var stuck []*Instance
	for _, inst := range r.instances {
		if (inst.Status == StatusProcessing || inst.Status == StatusCompensating) && inst.UpdatedAt.Before(staleSince) {
			inst.LeaseOwner = owner
			inst.LeasedUntil = &leaseUntil
			stuck = append(stuck, inst)
			if len(stuck) >= limit {
				break
			}
		}
	}
	return stuck, nil
}

func testOrchestrator(repo Repository) *Orchestrator {
	return NewOrchestrator(repo, OrchestratorConfig{
		Timeout:                time.Second,
		StepTimeout:            time.Second,
		CompensationMaxRetries: 1,
		CompensationRetryDelay: time.Millisecond,
	})
}

func TestRunExecutesAllStepsAndCompletes(t *testing.T) {
	var executed []string
	def := Definition{
		Type: "test-saga",
		Steps: []Step{
			{Name: "step-1", Execute: func(ctx context.Context, sc *Context) error {
				executed = append(executed, "step-1")
				return nil
			}},
			{Name: "step-2", Execute: func(ctx context.Context, sc *Context) error {
				executed = append(executed, "step-2")
				return nil
			}},
		},
		OnComplete: func(ctx context.Context, sc *Context) (any, error) {
			return "done", nil
		},
	}

	o := testOrchestrator(newFakeSagaRepository())
	ctx := tenant.WithTenant(context.Background(), "tenant-a")

	result, err := o.Run(ctx, def, "corr-1", NewContext())
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, []string{"step-1", "step-2"}, executed)
}

func TestRunCompensatesPrecedingStepsOnFailure(t *testing.T) {
	var compensated []string
	def := Definition{
		Type: "test-saga",
		Steps: []Step{
			{
				Name:       "reserve",
				Execute:    func(ctx context.Context, sc *Context) error { return nil },
				Compensate: func(ctx context.Context, sc *Context) error { compensated = append(compensated, "reserve"); return nil },
			},
			{
				Name:       "charge",
				Execute:    func(ctx context.Context, sc *Context) error { return errors.New("gateway declined") },
				Compensate: func(ctx context.Context, sc *Context) error { compensated = append(compensated, "charge"); return nil },
			},
		},
	}

	o := testOrchestrator(newFakeSagaRepository())
	ctx := tenant.WithTenant(context.Background(), "tenant-a")

	_, err := o.Run(ctx, def, "corr-1", NewContext())
	assert.Error(t, err)
	assert.Equal(t, []string{"reserve"}, compensated, "only the executed step is compensated, not the failed one")
}

func TestRunFailsSagaWhenCompensationExhaustsRetries(t *testing.T) {
	attempts := 0
	def := Definition{
		Type: "test-saga",
		Steps: []Step{
			{
				Name:       "reserve",
				Execute:    func(ctx context.Context, sc *Context) error { return nil },
				Compensate: func(ctx context.Context, sc *Context) error { attempts++; return errors.New("compensation unavailable") },
			},
			{
				Name:    "charge",
				Execute: func(ctx context.Context, sc *Context) error { return errors.New("declined") },
			},
		},
	}

	repo := newFakeSagaRepository()
	o := testOrchestrator(repo)
	ctx := tenant.WithTenant(context.Background(), "tenant-a")

	_, err := o.Run(ctx, def, "corr-1", NewContext())
	assert.Error(t, err)
	assert.Equal(t, 2, attempts, "one initial attempt plus CompensationMaxRetries=1 retry")

	for _, inst := range repo.instances {
		assert.Equal(t, StatusFailed, inst.Status)
		assert.True(t, inst.CompensationFailed)
	}
}

func TestRunRequiresTenant(t *testing.T) {
	def := Definition{Type: "test-saga"}
	o := testOrchestrator(newFakeSagaRepository())

	_, err := o.Run(context.Background(), def, "corr-1", NewContext())
	assert.Error(t, err)
}

func TestRecoverStuckResumesFromCurrentStep(t *testing.T) {
	var secondStepRan bool
	def := Definition{
		Type: "test-saga",
		Steps: []Step{
			{Name: "step-1", Execute: func(ctx context.Context, sc *Context) error { return nil }},
			{Name: "step-2", Execute: func(ctx context.Context, sc *Context) error { secondStepRan = true; return nil }},
		},
		OnComplete: func(ctx context.Context, sc *Context) (any, error) { return nil, nil },
	}

	repo := newFakeSagaRepository()
	stale := time.Now().Add(-time.Hour)
	repo.instances["saga-1"] = &Instance{
		SagaID:      "saga-1",
		SagaType:    "test-saga",
		Tenant:      "tenant-a",
		Status:      StatusProcessing,
		CurrentStep: 1,
		UpdatedAt:   stale,
	}

	o := testOrchestrator(repo)
	n, err := o.RecoverStuck(context.Background(), map[string]Definition{"test-saga": def}, "worker-1", time.Now(), time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, secondStepRan)
	assert.Equal(t, StatusCompleted, repo.instances["saga-1"].Status)
}

func TestRecoverStuckSkipsUnknownSagaType(t *testing.T) {
	repo := newFakeSagaRepository()
	stale := time.Now().Add(-time.Hour)
	repo.instances["saga-1"] = &Instance{
		SagaID:    "saga-1",
		SagaType:  "unregistered",
		Tenant:    "tenant-a",
		Status:    StatusProcessing,
		UpdatedAt: stale,
	}

	o := testOrchestrator(repo)
	n, err := o.RecoverStuck(context.Background(), map[string]Definition{}, "worker-1", time.Now(), time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
