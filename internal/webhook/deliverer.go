// Package webhook implements outbound delivery of published events to
// tenant-registered HTTP subscribers, per spec §4.7: HMAC-SHA256 signed
// payloads, retried with exponential backoff until MaxRetries is exhausted.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/webhook"
	"github.com/fluxpay/engine/internal/outbox"
	"github.com/fluxpay/engine/internal/repository"
	"github.com/fluxpay/engine/pkg/logger"
)

const (
	headerTimestamp = "X-FluxPay-Timestamp"
	headerSignature = "X-FluxPay-Signature"
	headerEventID   = "X-FluxPay-Event-Id"
	headerEventType = "X-FluxPay-Event-Type"
)

// Config controls delivery retry policy, per spec §6.
type Config struct {
	DefaultMaxRetries int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	DeliveryTimeout   time.Duration
}

// Deliverer sends one webhook delivery attempt at a time and enqueues new
// deliveries for published outbox events, satisfying outbox.WebhookEnqueuer.
type Deliverer struct {
	subs       repository.WebhookSubscriptionRepository
	deliveries repository.WebhookDeliveryRepository
	http       *http.Client
	cfg        Config
}

// NewDeliverer builds a Deliverer.
func NewDeliverer(subs repository.WebhookSubscriptionRepository, deliveries repository.WebhookDeliveryRepository, cfg Config) *Deliverer {
	return &Deliverer{
		subs:       subs,
		deliveries: deliveries,
		http:       &http.Client{Timeout: cfg.DeliveryTimeout},
		cfg:        cfg,
	}
}

// EnqueueForEvent fans a successfully-published outbox event out to every
// active subscription for its tenant whose EventTypes match, creating one
// PENDING Delivery row per match. This is the fan-out point the publisher
// calls right after a successful broker ACK (spec §6.7).
func (d *Deliverer) EnqueueForEvent(ctx context.Context, event *outbox.Event) error {
	subs, err := d.subs.ListActiveForTenant(ctx, string(event.Tenant), event.EventType)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		delivery := webhook.New(uuid.NewString(), event.Tenant, sub.ID, event.EventType, event.EventID,
			event.Payload, sub.TargetURL, d.cfg.DefaultMaxRetries, time.Now())
		if err := d.deliveries.Create(ctx, delivery); err != nil {
			return err
		}
	}
	return nil
}

// Deliver sends one attempt for the given delivery id, advancing its status
// on success, scheduling a retry with backoff on a retryable failure, or
// marking it terminally FAILED once retries are exhausted.
func (d *Deliverer) Deliver(ctx context.Context, deliveryID string) error {
	delivery, err := d.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return err
	}

	sub, err := d.lookupSecret(ctx, delivery)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := delivery.StartSending(now); err != nil {
		return err
	}
	if err := d.deliveries.Update(ctx, delivery); err != nil {
		return err
	}

	sendErr := d.send(ctx, delivery, sub)

	if sendErr == nil {
		if err := delivery.MarkDelivered(time.Now()); err != nil {
			return err
		}
		return d.deliveries.Update(ctx, delivery)
	}

	logger.FromContext(ctx).Warn().Err(sendErr).Str("delivery_id", delivery.ID).Msg("webhook delivery attempt failed")

	if delivery.RetryCount >= delivery.MaxRetries {
		if err := delivery.MarkFailed(sendErr.Error()); err != nil {
			return err
		}
		return d.deliveries.Update(ctx, delivery)
	}

	nextRetryAt := time.Now().Add(backoffDelay(delivery.RetryCount, d.cfg.BaseBackoff, d.cfg.MaxBackoff))
	if err := delivery.RecordFailedAttempt(sendErr.Error(), nextRetryAt); err != nil {
		return err
	}
	return d.deliveries.Update(ctx, delivery)
}

func (d *Deliverer) lookupSecret(ctx context.Context, delivery *webhook.Delivery) (string, error) {
	subs, err := d.subs.ListActiveForTenant(ctx, string(delivery.Tenant), delivery.EventType)
	if err != nil {
		return "", err
	}
	for _, sub := range subs {
		if sub.ID == delivery.SubscriptionID {
			return sub.Secret, nil
		}
	}
	return "", apperr.New(apperr.CodeInternal, "webhook subscription not found or no longer active")
}

func (d *Deliverer) send(ctx context.Context, delivery *webhook.Delivery, secret string) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := sign(secret, timestamp, delivery.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.TargetURL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "building webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, signature)
	req.Header.Set(headerEventID, delivery.EventID)
	req.Header.Set(headerEventType, delivery.EventType)

	resp, err := d.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "delivering webhook", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.New(apperr.CodeUnavailable, fmt.Sprintf("subscriber returned status %d", resp.StatusCode))
	}
	return nil
}

// sign computes base64(HMAC-SHA256(secret, timestamp + "." + payload)).
func sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the valid HMAC-SHA256 signature for
// timestamp and payload under secret, using a constant-time comparison so a
// receiving service can validate deliveries it gets from FluxPay.
func Verify(secret, timestamp, signature string, payload []byte) bool {
	expected := sign(secret, timestamp, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
