// Package idempotency implements the two-tier request deduplication guard of
// spec §4.2: a Redis cache tier accelerates a Postgres-backed persistent tier
// that remains authoritative (spec §9, Open Question resolved: persistent
// tier is authoritative, cache is accelerator-only, never fail-open).
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/tenant"
)

// cacheLockPlaceholder is the value RedisCacheTier.TrySetLock writes for a
// bare SETNX lock, before Store has a chance to overwrite it with the real
// response. Guard uses it to tell an in-flight lock apart from a completed,
// cached entry without a round-trip to the persistent tier.
const cacheLockPlaceholder = "1"

// cachedEntry is the JSON shape Guard.Store writes into the cache tier once
// a response is known, so a later cache hit can serve HIT/CONFLICT without
// consulting Postgres.
type cachedEntry struct {
	PayloadHash string `json:"payloadHash"`
	Response    []byte `json:"response,omitempty"`
	HTTPStatus  int    `json:"httpStatus,omitempty"`
}

// State is one of the entry's two persisted states.
type State string

const (
	StateLocked State = "LOCKED"
	StateStored State = "STORED"
)

// Outcome is the result of AcquireLock.
type Outcome string

const (
	OutcomeHit        Outcome = "HIT"
	OutcomeMiss       Outcome = "MISS"
	OutcomeConflict   Outcome = "CONFLICT"
	OutcomeProcessing Outcome = "PROCESSING"
)

// Entry is one row of the idempotency_keys table.
type Entry struct {
	Tenant      tenant.ID
	Endpoint    string
	Key         string
	PayloadHash string
	Response    []byte
	HTTPStatus  int
	State       State
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AcquireResult is returned by AcquireLock.
type AcquireResult struct {
	Outcome    Outcome
	Response   []byte
	HTTPStatus int
}

// Repository is the abstract persistent-tier contract. The GORM
// implementation lives in internal/repository.
type Repository interface {
	// TryLock attempts to atomically insert a LOCKED entry for
	// (tenant, endpoint, key) using INSERT ... ON CONFLICT DO NOTHING,
	// returning the existing entry if one was already present (spec §4.2).
	TryLock(ctx context.Context, tn tenant.ID, endpoint, key, payloadHash string, ttl time.Duration) (inserted bool, existing *Entry, err error)

	// Store promotes a LOCKED entry to STORED with the given response.
	Store(ctx context.Context, tn tenant.ID, endpoint, key string, response []byte, httpStatus int, ttl time.Duration) error

	// ReleaseLock deletes a LOCKED entry so a retry can succeed after a
	// processing error.
	ReleaseLock(ctx context.Context, tn tenant.ID, endpoint, key string) error

	// DeleteExpiredBefore removes entries whose expiresAt has elapsed.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CacheTier is the Redis-backed accelerator. A cache miss or outage always
// falls through to Repository — the cache never becomes the source of truth.
type CacheTier interface {
	// TrySetLock performs a SETNX-with-TTL; ok=false means the key was
	// already present (someone else holds the lock) or Redis is unavailable.
	TrySetLock(ctx context.Context, cacheKey string, ttl time.Duration) (ok bool, err error)
	Get(ctx context.Context, cacheKey string) (value string, found bool, err error)
	Set(ctx context.Context, cacheKey string, value string, ttl time.Duration) error
	Delete(ctx context.Context, cacheKey string) error
}

// Guard is the two-tier idempotency guard.
type Guard struct {
	repo  Repository
	cache CacheTier
}

// NewGuard builds a Guard. cache may be nil to run persistent-tier only.
func NewGuard(repo Repository, cache CacheTier) *Guard {
	return &Guard{repo: repo, cache: cache}
}

func cacheKey(tn tenant.ID, endpoint, key string) string {
	return "idem:" + string(tn) + ":" + endpoint + ":" + key
}

// AcquireLock implements spec §4.2's MISS/HIT/CONFLICT/PROCESSING protocol.
// The cache tier is consulted first: a lock already held there short-circuits
// straight to PROCESSING (or HIT/CONFLICT, if the holder has since stored its
// response) without touching Postgres. Any cache miss or error always falls
// through to the persistent tier, which remains the sole arbiter of MISS.
func (g *Guard) AcquireLock(ctx context.Context, endpoint, key, payloadHash string, ttl time.Duration) (AcquireResult, error) {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return AcquireResult{}, err
	}

	ck := cacheKey(tn, endpoint, key)

	if g.cache != nil {
		ok, cacheErr := g.cache.TrySetLock(ctx, ck, ttl)
		if cacheErr == nil && !ok {
			if result, handled := g.resolveFromCache(ctx, ck, payloadHash); handled {
				return result, nil
			}
			// Cache agrees a lock is held but couldn't tell us its state
			// (Get miss/error); defer to Postgres rather than guess.
		}
	}

	inserted, existing, err := g.repo.TryLock(ctx, tn, endpoint, key, payloadHash, ttl)
	for err == nil && !inserted && existing == nil {
		// The entry was deleted between the insert attempt and the read; retry.
		inserted, existing, err = g.repo.TryLock(ctx, tn, endpoint, key, payloadHash, ttl)
	}
	if err != nil {
		return AcquireResult{}, apperr.Wrap(apperr.CodeUnavailable, "idempotency store unavailable", err)
	}

	if inserted {
		return AcquireResult{Outcome: OutcomeMiss}, nil
	}

	switch existing.State {
	case StateLocked:
		if time.Now().After(existing.ExpiresAt) {
			// Expired lock: treat as released, let the caller retry.
			_ = g.repo.ReleaseLock(ctx, tn, endpoint, key)
			return g.AcquireLock(ctx, endpoint, key, payloadHash, ttl)
		}
		return AcquireResult{Outcome: OutcomeProcessing}, nil
	case StateStored:
		if existing.PayloadHash != payloadHash {
			return AcquireResult{Outcome: OutcomeConflict}, nil
		}
		return AcquireResult{
			Outcome:    OutcomeHit,
			Response:   existing.Response,
			HTTPStatus: existing.HTTPStatus,
		}, nil
	}

	return AcquireResult{}, apperr.New(apperr.CodeInternal, "unrecognized idempotency entry state")
}

// resolveFromCache inspects the value behind an already-held cache lock.
// handled=false means the cache couldn't answer (miss or error, or malformed
// content) and the caller must fall through to Postgres.
func (g *Guard) resolveFromCache(ctx context.Context, ck, payloadHash string) (AcquireResult, bool) {
	value, found, err := g.cache.Get(ctx, ck)
	if err != nil || !found {
		return AcquireResult{}, false
	}

	if value == cacheLockPlaceholder {
		return AcquireResult{Outcome: OutcomeProcessing}, true
	}

	var entry cachedEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return AcquireResult{}, false
	}

	if entry.PayloadHash != payloadHash {
		return AcquireResult{Outcome: OutcomeConflict}, true
	}
	return AcquireResult{
		Outcome:    OutcomeHit,
		Response:   entry.Response,
		HTTPStatus: entry.HTTPStatus,
	}, true
}

// Store promotes the LOCKED entry to STORED, recording the response the
// caller computed, and mirrors it into the cache tier as a fast-path HIT.
func (g *Guard) Store(ctx context.Context, endpoint, key, payloadHash string, response []byte, httpStatus int, ttl time.Duration) error {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	if err := g.repo.Store(ctx, tn, endpoint, key, response, httpStatus, ttl); err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "idempotency store unavailable", err)
	}

	if g.cache != nil {
		if encoded, err := json.Marshal(cachedEntry{PayloadHash: payloadHash, Response: response, HTTPStatus: httpStatus}); err == nil {
			_ = g.cache.Set(ctx, cacheKey(tn, endpoint, key), string(encoded), ttl)
		}
	}

	return nil
}

// ReleaseLock deletes a LOCKED entry so a retry can succeed after a
// processing error, in both tiers.
func (g *Guard) ReleaseLock(ctx context.Context, endpoint, key string) error {
	tn, err := tenant.Require(ctx)
	if err != nil {
		return err
	}

	if g.cache != nil {
		_ = g.cache.Delete(ctx, cacheKey(tn, endpoint, key))
	}

	if err := g.repo.ReleaseLock(ctx, tn, endpoint, key); err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "idempotency store unavailable", err)
	}
	return nil
}

// Sweep deletes persistent entries past expiry. Run on a timer by cmd/worker.
func (g *Guard) Sweep(ctx context.Context) (int64, error) {
	return g.repo.DeleteExpiredBefore(ctx, time.Now())
}
