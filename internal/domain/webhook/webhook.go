// Package webhook implements the outbound WebhookDelivery aggregate and the
// subscriber registry it fans out from.
package webhook

import (
	"time"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/tenant"
)

// Status is one of the delivery's closed set of lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSending   Status = "SENDING"
	StatusDelivered Status = "DELIVERED"
	StatusRetrying  Status = "RETRYING"
	StatusFailed    Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusSending},
	StatusSending:  {StatusDelivered, StatusRetrying, StatusFailed},
	StatusRetrying: {StatusSending},
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

// Delivery is a single attempt-tracked webhook delivery to one subscriber.
type Delivery struct {
	ID             string
	Tenant         tenant.ID
	SubscriptionID string
	EventType      string
	EventID        string
	Payload        []byte
	TargetURL      string
	Status         Status
	RetryCount     int
	MaxRetries     int
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time
	LastError      string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	Version        int
}

// New creates a PENDING delivery.
func New(id string, tn tenant.ID, subscriptionID, eventType, eventID string, payload []byte, targetURL string, maxRetries int, now time.Time) *Delivery {
	return &Delivery{
		ID:             id,
		Tenant:         tn,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		EventID:        eventID,
		Payload:        payload,
		TargetURL:      targetURL,
		Status:         StatusPending,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
	}
}

func (d *Delivery) transitionTo(next Status) error {
	if !d.Status.CanTransitionTo(next) {
		return apperr.New(apperr.CodeInternal,
			"webhook delivery cannot transition from "+string(d.Status)+" to "+string(next))
	}
	d.Status = next
	return nil
}

// StartSending moves PENDING/RETRYING → SENDING and stamps the attempt time.
func (d *Delivery) StartSending(now time.Time) error {
	if err := d.transitionTo(StatusSending); err != nil {
		return err
	}
	d.LastAttemptAt = &now
	return nil
}

// MarkDelivered moves SENDING → DELIVERED.
func (d *Delivery) MarkDelivered(now time.Time) error {
	if err := d.transitionTo(StatusDelivered); err != nil {
		return err
	}
	d.DeliveredAt = &now
	d.NextRetryAt = nil
	return nil
}

// RecordFailedAttempt moves SENDING → RETRYING, incrementing RetryCount and
// scheduling nextRetryAt. Returns an error if retries are exhausted; the
// caller should then call MarkFailed instead.
func (d *Delivery) RecordFailedAttempt(errMsg string, nextRetryAt time.Time) error {
	if d.RetryCount >= d.MaxRetries {
		return apperr.New(apperr.CodeInternal, "retries exhausted")
	}
	if err := d.transitionTo(StatusRetrying); err != nil {
		return err
	}
	d.RetryCount++
	d.LastError = errMsg
	d.NextRetryAt = &nextRetryAt
	return nil
}

// MarkFailed moves SENDING → FAILED terminally.
func (d *Delivery) MarkFailed(errMsg string) error {
	if err := d.transitionTo(StatusFailed); err != nil {
		return err
	}
	d.LastError = errMsg
	d.NextRetryAt = nil
	return nil
}

// Subscription is a tenant's registered webhook endpoint.
type Subscription struct {
	ID         string
	Tenant     tenant.ID
	EventTypes []string
	TargetURL  string
	Secret     string
	Active     bool
	CreatedAt  time.Time
}

// Matches reports whether the subscription should receive an event of the
// given type.
func (s Subscription) Matches(eventType string) bool {
	if !s.Active {
		return false
	}
	for _, et := range s.EventTypes {
		if et == eventType || et == "*" {
			return true
		}
	}
	return false
}
