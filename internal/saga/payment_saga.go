package saga

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fluxpay/engine/internal/apperr"
	"github.com/fluxpay/engine/internal/domain/order"
	"github.com/fluxpay/engine/internal/domain/payment"
	"github.com/fluxpay/engine/internal/money"
	"github.com/fluxpay/engine/internal/outbox"
	"github.com/fluxpay/engine/internal/repository"
	"github.com/fluxpay/engine/internal/tenant"
)

// PaymentSagaType names the canonical two-step saga run at order
// submission time (spec §4.3/§5): CREATE_ORDER then PROCESS_PAYMENT,
// compensating in reverse by failing the payment and cancelling the order.
const PaymentSagaType = "PAYMENT_SAGA"

const (
	stepCreateOrder    = "CREATE_ORDER"
	stepProcessPayment = "PROCESS_PAYMENT"
)

// EventOrderCreated is emitted in the same transaction as CREATE_ORDER's
// order row, satisfying the transactional-outbox invariant of spec §4.4 for
// the one aggregate mutation the saga itself performs directly (S1).
const EventOrderCreated = "order.created"

// PaymentSagaInput is the external request driving one PaymentSaga run.
type PaymentSagaInput struct {
	UserID    string
	LineItems []order.LineItem
	Currency  string
}

// PaymentSagaResult is what the saga hands back once both steps succeed.
type PaymentSagaResult struct {
	OrderID   string
	PaymentID string
}

// NewPaymentSagaDefinition builds the CREATE_ORDER/PROCESS_PAYMENT
// Definition of spec §4.3: CREATE_ORDER persists the order and its
// order.created event transactionally; PROCESS_PAYMENT only creates the
// payment row in READY — approval and confirmation against the gateway are
// driven separately through PaymentService once the saga has committed, not
// by the saga itself. orderRepo and paymentRepo persist the aggregates
// created by each step so they survive independently of the saga instance.
func NewPaymentSagaDefinition(uow *repository.UnitOfWork, orderRepo repository.OrderRepository, paymentRepo repository.PaymentRepository) Definition {
	return Definition{
		Type: PaymentSagaType,
		Steps: []Step{
			{
				Name: stepCreateOrder,
				Execute: func(ctx context.Context, sagaCtx *Context) error {
					tn, err := tenant.Require(ctx)
					if err != nil {
						return err
					}

					var input PaymentSagaInput
					if err := unmarshalInto(sagaCtx, "input", &input); err != nil {
						return err
					}

					o, err := order.New(uuid.NewString(), tn, input.UserID, input.LineItems, input.Currency, time.Now())
					if err != nil {
						return err
					}

					err = uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
						if err := repos.Orders.Create(ctx, o); err != nil {
							return err
						}
						event, err := outbox.NewEvent(uuid.NewString(), "order", o.ID, EventOrderCreated, tn, time.Now(), orderEventData(o))
						if err != nil {
							return apperr.Wrap(apperr.CodeInternal, "building order event", err)
						}
						return repos.Outbox.Create(ctx, event)
					})
					if err != nil {
						return err
					}

					sagaCtx.Set("order_id", o.ID)
					sagaCtx.Set("order_total_amount", o.TotalAmount.Decimal().String())
					sagaCtx.Set("order_currency", o.TotalAmount.Currency())
					return nil
				},
				Compensate: func(ctx context.Context, sagaCtx *Context) error {
					orderID, _ := sagaCtx.Get("order_id").(string)
					if orderID == "" {
						return nil
					}
					o, err := orderRepo.Get(ctx, orderID)
					if err != nil {
						return err
					}
					if o.Status.IsTerminal() {
						return nil
					}
					return orderRepo.Update(ctx, withOrderTransition(o, order.StatusCancelled))
				},
			},
			{
				Name: stepProcessPayment,
				Execute: func(ctx context.Context, sagaCtx *Context) error {
					tn, err := tenant.Require(ctx)
					if err != nil {
						return err
					}

					orderID, _ := sagaCtx.Get("order_id").(string)
					amountStr, _ := sagaCtx.Get("order_total_amount").(string)
					currency, _ := sagaCtx.Get("order_currency").(string)

					amount, err := money.New(amountStr, currency)
					if err != nil {
						return err
					}

					p := payment.New(uuid.NewString(), tn, orderID, amount, time.Now())
					if err := paymentRepo.Create(ctx, p); err != nil {
						return err
					}

					sagaCtx.Set("payment_id", p.ID)
					return nil
				},
				Compensate: func(ctx context.Context, sagaCtx *Context) error {
					paymentID, _ := sagaCtx.Get("payment_id").(string)
					if paymentID == "" {
						return nil
					}
					p, err := paymentRepo.Get(ctx, paymentID)
					if err != nil {
						return err
					}
					if p.Status.IsTerminal() {
						return nil
					}
					return paymentRepo.Update(ctx, withPaymentFailed(p))
				},
			},
		},
		OnComplete: func(ctx context.Context, sagaCtx *Context) (any, error) {
			orderID, _ := sagaCtx.Get("order_id").(string)
			paymentID, _ := sagaCtx.Get("payment_id").(string)
			return PaymentSagaResult{OrderID: orderID, PaymentID: paymentID}, nil
		},
	}
}

func orderEventData(o *order.Order) map[string]any {
	return map[string]any{
		"orderId":     o.ID,
		"userId":      o.UserID,
		"totalAmount": o.TotalAmount.String(),
		"currency":    o.TotalAmount.Currency(),
		"status":      string(o.Status),
	}
}

func withOrderTransition(o *order.Order, next order.Status) *order.Order {
	_ = o.TransitionTo(next, time.Now())
	return o
}

func withPaymentFailed(p *payment.Payment) *payment.Payment {
	_ = p.Fail("saga compensation", time.Now())
	return p
}

// unmarshalInto reads the input under key back out of sagaCtx. In the common
// case it was set directly as a PaymentSagaInput; after a crash-recovery
// round trip through JSON it comes back as a map[string]any, so fall back to
// a JSON re-encode to restore the concrete type.
func unmarshalInto(sagaCtx *Context, key string, dest *PaymentSagaInput) error {
	switch v := sagaCtx.Get(key).(type) {
	case PaymentSagaInput:
		*dest = v
		return nil
	case nil:
		return apperr.New(apperr.CodeInternal, "saga context missing input under key "+key)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return apperr.Wrap(apperr.CodeInternal, "re-encoding saga context input", err)
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return apperr.Wrap(apperr.CodeInternal, "decoding saga context input", err)
		}
		return nil
	}
}
