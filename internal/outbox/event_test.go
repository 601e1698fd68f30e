package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCloudEventWrapsDataAsJSON(t *testing.T) {
	now := time.Now()
	ce, err := NewCloudEvent("evt-1", "order.created", "tenant-a", now, map[string]any{"orderId": "o-1"})
	require.NoError(t, err)

	assert.Equal(t, "1.0", ce.SpecVersion)
	assert.Equal(t, "fluxpay-engine", ce.Source)
	assert.Equal(t, "com.fluxpay.order.created", ce.Type)
	assert.Equal(t, "evt-1", ce.ID)
	assert.Equal(t, "application/json", ce.DataContentType)
	assert.Equal(t, "tenant-a", ce.TenantID)

	var data map[string]string
	require.NoError(t, json.Unmarshal(ce.Data, &data))
	assert.Equal(t, "o-1", data["orderId"])
}

func TestNewEventBuildsPendingRowWithSerializedEnvelope(t *testing.T) {
	now := time.Now()
	event, err := NewEvent("evt-1", "order", "o-1", "order.created", "tenant-a", now, map[string]any{"orderId": "o-1"})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, event.Status)
	assert.Equal(t, "tenant-a", string(event.Tenant))
	assert.Equal(t, "order", event.AggregateType)
	assert.Equal(t, "o-1", event.AggregateID)
	assert.Equal(t, "order.created", event.EventType)
	assert.Equal(t, now, event.NextAttemptAt)
	assert.Nil(t, event.PublishedAt)

	var ce CloudEvent
	require.NoError(t, json.Unmarshal(event.Payload, &ce))
	assert.Equal(t, "com.fluxpay.order.created", ce.Type)
	assert.Equal(t, "evt-1", ce.ID)
}

func TestNewEventPropagatesMarshalErrors(t *testing.T) {
	_, err := NewEvent("evt-1", "order", "o-1", "order.created", "tenant-a", time.Now(), make(chan int))
	assert.Error(t, err)
}
