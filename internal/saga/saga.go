// Package saga implements the persisted, recoverable saga orchestrator of
// spec §4.3: an ordered list of steps executed against a SagaInstance,
// compensated in reverse order on failure, resumable after a crash.
package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fluxpay/engine/internal/tenant"
)

// Status is one of the saga instance's closed set of lifecycle states.
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusProcessing   Status = "PROCESSING"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusFailed       Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusStarted:      {StatusProcessing},
	StatusProcessing:   {StatusCompleted, StatusCompensating},
	StatusCompensating: {StatusCompensated, StatusFailed},
}

// CanTransitionTo reports whether the move from s to next is declared.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StepStatus is one of a saga step row's closed set of states.
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepExecuted    StepStatus = "EXECUTED"
	StepCompensated StepStatus = "COMPENSATED"
	StepFailed      StepStatus = "FAILED"
)

// StepRow is one persisted row tracking a single step's execution.
type StepRow struct {
	SagaID        string
	Order         int
	Name          string
	Status        StepStatus
	ExecutedAt    *time.Time
	CompensatedAt *time.Time
	Error         string
}

// Instance is the persisted saga aggregate.
type Instance struct {
	SagaID             string
	SagaType           string
	CorrelationID      string
	Tenant             tenant.ID
	Status             Status
	CurrentStep        int
	ContextData        json.RawMessage
	Error              string
	CompensationFailed bool
	LeaseOwner         string
	LeasedUntil        *time.Time
	StartedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
	Version            int
}

// Repository is the abstract persistence contract for saga instances and
// their step rows.
type Repository interface {
	Create(ctx context.Context, inst *Instance) error
	Update(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, sagaID string) (*Instance, error)
	UpsertStep(ctx context.Context, step *StepRow) error
	ListSteps(ctx context.Context, sagaID string) ([]*StepRow, error)

	// AcquireStuckBatch leases up to limit instances in PROCESSING or
	// COMPENSATING whose updatedAt is older than staleSince and whose lease
	// is free, atomically assigning them to owner until leaseUntil. This is
	// the recovery sweep's concurrency control (spec §5).
	AcquireStuckBatch(ctx context.Context, staleSince time.Time, owner string, leaseUntil time.Time, limit int) ([]*Instance, error)
}

// Step is one unit of saga work.
type Step struct {
	Name       string
	Execute    func(ctx context.Context, sagaCtx *Context) error
	Compensate func(ctx context.Context, sagaCtx *Context) error
}

// Context is the JSON-serializable working state threaded through a saga's
// steps, persisted into Instance.ContextData after every step so a crashed
// saga can resume from exactly where it left off (spec §4.3).
type Context struct {
	data map[string]any
}

// NewContext builds an empty Context.
func NewContext() *Context {
	return &Context{data: map[string]any{}}
}

// Set stores a JSON-serializable value under key.
func (c *Context) Set(key string, value any) { c.data[key] = value }

// Get returns the raw stored value for key, or nil if absent. Callers
// typically re-marshal/unmarshal through a concrete type.
func (c *Context) Get(key string) any { return c.data[key] }

// MarshalJSON serializes the context for persistence.
func (c *Context) MarshalJSON() ([]byte, error) { return json.Marshal(c.data) }

// UnmarshalJSON restores a context from persisted contextData.
func (c *Context) UnmarshalJSON(b []byte) error {
	if c.data == nil {
		c.data = map[string]any{}
	}
	return json.Unmarshal(b, &c.data)
}

// Definition is a named, ordered sequence of steps plus a completion hook.
type Definition struct {
	Type  string
	Steps []Step
	// OnComplete runs once after all steps succeed, producing the saga's
	// externally visible result from the final context.
	OnComplete func(ctx context.Context, sagaCtx *Context) (any, error)
}
