package pgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/pkg/circuitbreaker"
)

// HTTPClient implements Client over a plain JSON/HTTP API, the one place in
// this module that reaches for net/http directly rather than an ecosystem
// client library — none of the example repos import one for outbound calls,
// so there is nothing in the pack to ground a richer client on.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

// Config configures an HTTPClient.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPClient builds an HTTPClient wrapping its calls in breaker, mirroring
// how the teacher wraps its gRPC client in a circuit breaker interceptor.
func NewHTTPClient(cfg Config, breaker *circuitbreaker.Breaker) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
	}
}

type approvalRequest struct {
	PaymentID string `json:"paymentId"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Method    string `json:"method"`
}

type approvalResponse struct {
	PgTransactionID string `json:"pgTransactionId"`
	PgPaymentKey    string `json:"pgPaymentKey"`
	Declined        bool   `json:"declined"`
	Message         string `json:"message"`
}

type confirmRequest struct {
	PgPaymentKey string `json:"pgPaymentKey"`
	OrderID      string `json:"orderId"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
}

type cancelRequest struct {
	PgPaymentKey string `json:"pgPaymentKey"`
	Reason       string `json:"reason"`
}

// gatewayFailure is a declared business outcome (declined, invalid request)
// that should propagate to the caller without tripping the circuit breaker.
type gatewayFailure struct{ message string }

func (e *gatewayFailure) Error() string { return e.message }

func classify(err error) bool {
	var gf *gatewayFailure
	return !asGatewayFailure(err, &gf)
}

func asGatewayFailure(err error, target **gatewayFailure) bool {
	gf, ok := err.(*gatewayFailure)
	if ok {
		*target = gf
	}
	return ok
}

func (c *HTTPClient) RequestApproval(ctx context.Context, paymentID string, amount money.Money, method string) (string, string, error) {
	type result struct{ txID, key string }

	out, err := circuitbreaker.Execute(ctx, c.breaker, classify, func(ctx context.Context) (result, error) {
		reqBody, err := json.Marshal(approvalRequest{
			PaymentID: paymentID,
			Amount:    amount.String(),
			Currency:  amount.Currency(),
			Method:    method,
		})
		if err != nil {
			return result{}, apperr.Wrap(apperr.CodeInternal, "encoding approval request", err)
		}

		var resp approvalResponse
		if err := c.doJSON(ctx, http.MethodPost, "/v1/payments/approve", reqBody, &resp); err != nil {
			return result{}, err
		}
		if resp.Declined {
			return result{}, &gatewayFailure{message: resp.Message}
		}
		return result{txID: resp.PgTransactionID, key: resp.PgPaymentKey}, nil
	})
	if err != nil {
		return "", "", toApperr(err)
	}
	return out.txID, out.key, nil
}

func (c *HTTPClient) ConfirmPayment(ctx context.Context, paymentKey, orderID string, amount money.Money) error {
	_, err := circuitbreaker.Execute(ctx, c.breaker, classify, func(ctx context.Context) (struct{}, error) {
		body, _ := json.Marshal(confirmRequest{
			PgPaymentKey: paymentKey,
			OrderID:      orderID,
			Amount:       amount.String(),
			Currency:     amount.Currency(),
		})
		return struct{}{}, c.doJSON(ctx, http.MethodPost, "/v1/payments/confirm", body, nil)
	})
	return toApperr(err)
}

func (c *HTTPClient) CancelPayment(ctx context.Context, paymentKey, reason string) error {
	_, err := circuitbreaker.Execute(ctx, c.breaker, classify, func(ctx context.Context) (struct{}, error) {
		body, _ := json.Marshal(cancelRequest{PgPaymentKey: paymentKey, Reason: reason})
		return struct{}{}, c.doJSON(ctx, http.MethodPost, "/v1/payments/cancel", body, nil)
	})
	return toApperr(err)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.CodeInternal, "building gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "calling payment gateway", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return apperr.New(apperr.CodeUnavailable, fmt.Sprintf("gateway returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return &gatewayFailure{message: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "decoding gateway response", err)
	}
	return nil
}

func toApperr(err error) error {
	if err == nil {
		return nil
	}
	if gf, ok := err.(*gatewayFailure); ok {
		return apperr.New(apperr.CodePaymentDeclined, gf.message)
	}
	if e, ok := err.(*apperr.Error); ok {
		return e
	}
	return apperr.Wrap(apperr.CodeUnavailable, "payment gateway call failed", err)
}
