package handler

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/idempotency"
)

const headerIdempotencyKey = "X-Idempotency-Key"

// responseRecorder captures the body and status a handler writes so
// idempotentWrite can persist it after the handler runs.
type responseRecorder struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// idempotent wraps a POST endpoint with spec §4.2's two-tier guard: every
// write requires an X-Idempotency-Key (spec §6); a MISS runs next and stores
// what it writes (a 5xx response releases the lock instead of being stored),
// a HIT replays the stored response byte-for-byte, a
// CONFLICT or PROCESSING short-circuits with the matching status.
func idempotent(guard *idempotency.Guard, endpoint string, ttl time.Duration, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerIdempotencyKey)
		if key == "" {
			respondError(c, apperr.New(apperr.CodeIdempotencyMissing, "X-Idempotency-Key header is required"))
			c.Abort()
			return
		}

		rawBody, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondError(c, apperr.Wrap(apperr.CodeValidation, "reading request body", err))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		sum := sha256.Sum256(rawBody)
		payloadHash := hex.EncodeToString(sum[:])

		result, err := guard.AcquireLock(c.Request.Context(), endpoint, key, payloadHash, ttl)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		switch result.Outcome {
		case idempotency.OutcomeHit:
			c.Data(result.HTTPStatus, "application/json; charset=utf-8", result.Response)
			c.Abort()
			return
		case idempotency.OutcomeConflict:
			respondError(c, apperr.New(apperr.CodeIdempotencyConflict, "idempotency key reused with a different payload"))
			c.Abort()
			return
		case idempotency.OutcomeProcessing:
			respondError(c, apperr.New(apperr.CodeIdempotencyProcessing, "an identical request is already being processed"))
			c.Abort()
			return
		}

		rec := &responseRecorder{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = rec

		next(c)

		if rec.status >= 500 {
			// The handler failed for reasons unrelated to the request's
			// content; release the lock so a client retry isn't stuck
			// replaying a transient failure as if it had succeeded.
			_ = guard.ReleaseLock(c.Request.Context(), endpoint, key)
			return
		}

		_ = guard.Store(c.Request.Context(), endpoint, key, payloadHash, rec.body.Bytes(), rec.status, ttl)
	}
}
