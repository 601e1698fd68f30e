// Package outbox implements the transactional outbox and its publisher: every
// domain mutation that must notify the outside world writes an OutboxEvent row
// in the same transaction as its aggregate change; a separate publisher loop
// ships rows to the broker with at-least-once delivery and retry/DLQ policy.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/fluxpay/engine/internal/tenant"
)

// Status is one of the outbox row's closed set of lifecycle states.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusInFlight Status = "IN_FLIGHT"
	StatusPublished Status = "PUBLISHED"
	StatusFailed   Status = "FAILED"
)

// CloudEvent is the CloudEvents 1.0 envelope every outbox payload is shaped
// as, per spec §4.4.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	ID              string          `json:"id"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	TenantID        string          `json:"tenantid"`
	Data            json.RawMessage `json:"data"`
}

const eventSource = "fluxpay-engine"

// cloudEventTypePrefix namespaces the wire "type" field per spec §4.4
// ("com.fluxpay.<domain>.<verb>"); eventType itself (e.g. "order.created")
// stays bare everywhere else (webhook matching, Kafka headers, logging).
const cloudEventTypePrefix = "com.fluxpay."

// NewCloudEvent builds a CloudEvents envelope around a domain-specific data
// payload, marshaling data to JSON.
func NewCloudEvent(eventID, eventType string, tn tenant.ID, occurredAt time.Time, data any) (CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return CloudEvent{}, err
	}
	return CloudEvent{
		SpecVersion:     "1.0",
		Source:          eventSource,
		Type:            cloudEventTypePrefix + eventType,
		ID:              eventID,
		Time:            occurredAt,
		DataContentType: "application/json",
		TenantID:        string(tn),
		Data:            raw,
	}, nil
}

// Event is one row of the outbox table.
type Event struct {
	Seq           int64
	Tenant        tenant.ID
	AggregateType string
	AggregateID   string
	EventType     string
	EventID       string
	Payload       json.RawMessage
	Status        Status
	RetryCount    int
	CreatedAt     time.Time
	NextAttemptAt time.Time
	PublishedAt   *time.Time
	LastError     string
}

// NewEvent builds a PENDING outbox row carrying a serialized CloudEvent.
func NewEvent(eventID, aggregateType, aggregateID, eventType string, tn tenant.ID, now time.Time, data any) (*Event, error) {
	ce, err := NewCloudEvent(eventID, eventType, tn, now, data)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ce)
	if err != nil {
		return nil, err
	}

	return &Event{
		Tenant:        tn,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		EventID:       eventID,
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}, nil
}
