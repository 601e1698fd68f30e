package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxpay/engine/internal/idempotency"
	"github.com/fluxpay/engine/internal/tenant"
)

type memRepository struct {
	entries map[string]*idempotency.Entry
}

func newMemRepository() *memRepository {
	return &memRepository{entries: make(map[string]*idempotency.Entry)}
}

func (r *memRepository) key(tn tenant.ID, endpoint, key string) string {
	return string(tn) + "|" + endpoint + "|" + key
}

func (r *memRepository) TryLock(ctx context.Context, tn tenant.ID, endpoint, key, payloadHash string, ttl time.Duration) (bool, *idempotency.Entry, error) {
	k := r.key(tn, endpoint, key)
	if existing, ok := r.entries[k]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.entries[k] = &idempotency.Entry{
		Tenant: tn, Endpoint: endpoint, Key: key, PayloadHash: payloadHash,
		State: idempotency.StateLocked, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(ttl),
	}
	return true, nil, nil
}

func (r *memRepository) Store(ctx context.Context, tn tenant.ID, endpoint, key string, response []byte, httpStatus int, ttl time.Duration) error {
	e, ok := r.entries[r.key(tn, endpoint, key)]
	if !ok {
		return nil
	}
	e.State = idempotency.StateStored
	e.Response = response
	e.HTTPStatus = httpStatus
	return nil
}

func (r *memRepository) ReleaseLock(ctx context.Context, tn tenant.ID, endpoint, key string) error {
	delete(r.entries, r.key(tn, endpoint, key))
	return nil
}

func (r *memRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestGuard() *idempotency.Guard {
	return idempotency.NewGuard(newMemRepository(), nil)
}

func newIdempotentRouter(guard *idempotency.Guard, handlerCalls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(tenant.WithTenant(c.Request.Context(), "tenant-a"))
		c.Next()
	})
	r.POST("/orders", idempotent(guard, "POST /orders", time.Minute, func(c *gin.Context) {
		*handlerCalls++
		respondOK(c, http.StatusCreated, map[string]string{"orderId": "o-1"})
	}))
	return r
}

func TestIdempotentMissingKeyRejected(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newTestGuard(), &calls)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotentFirstRequestCallsHandlerOnce(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newTestGuard(), &calls)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"a":1}`))
	req.Header.Set(headerIdempotencyKey, "key-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotentReplaySameKeyAndBodyReturnsCachedResponse(t *testing.T) {
	calls := 0
	guard := newTestGuard()
	router := newIdempotentRouter(guard, &calls)

	body := `{"a":1}`
	req1 := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req1.Header.Set(headerIdempotencyKey, "key-1")
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusCreated, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req2.Header.Set(headerIdempotencyKey, "key-1")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusCreated, rec2.Code)
	assert.Equal(t, rec1.Body.String(), rec2.Body.String())
	assert.Equal(t, 1, calls, "handler runs once; the replay is served from the idempotency store")
}

func TestIdempotentSameKeyDifferentBodyConflicts(t *testing.T) {
	calls := 0
	guard := newTestGuard()
	router := newIdempotentRouter(guard, &calls)

	req1 := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"a":1}`))
	req1.Header.Set(headerIdempotencyKey, "key-1")
	router.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"a":2}`))
	req2.Header.Set(headerIdempotencyKey, "key-1")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	assert.Equal(t, http.StatusUnprocessableEntity, rec2.Code)
	assert.Equal(t, 1, calls)
}
