package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/client"
	"freshness-orders/internal/model"

	"go.uber.org/zap"
)

type CheckoutInput struct {
	UserID           string
	Items            []OrderItemInput
	DeliveryType     model.DeliveryType
	DeliverySchedule *model.DeliverySchedule
	PaymentMethod    string
	PaymentToken     string
	Currency         string
}

type CheckoutResult struct {
	Order         *model.Order
	AttemptID     string
	PaymentStatus model.LedgerStatus
	ApprovalURL   string
}

// CheckoutService is the client-initiated payment path: create the order,
// record the attempt, call the gateway and apply its synchronous answer.
type CheckoutService interface {
	Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)
	// CompleteApproval captures a payment the customer approved on the
	// provider's page.
	CompleteApproval(ctx context.Context, provider, reference string) (*model.Order, error)
	Refund(ctx context.Context, orderID string) (*model.Order, error)
}

type checkoutServiceImpl struct {
	orders   OrderService
	ledger   LedgerService
	gateways *client.Gateways
	timeout  time.Duration
	logger   *zap.Logger
}

func NewCheckoutService(
	orders OrderService,
	ledger LedgerService,
	gateways *client.Gateways,
	gatewayTimeout time.Duration,
	logger *zap.Logger,
) CheckoutService {
	return &checkoutServiceImpl{
		orders:   orders,
		ledger:   ledger,
		gateways: gateways,
		timeout:  gatewayTimeout,
		logger:   logger,
	}
}

func (s *checkoutServiceImpl) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	gw, err := s.gateways.ForMethod(in.PaymentMethod)
	if err != nil {
		return nil, apperr.Validation("payment_method", "%v", err)
	}

	order, err := s.orders.CreateOrder(ctx, CreateOrderInput{
		UserID:           in.UserID,
		Items:            in.Items,
		DeliveryType:     in.DeliveryType,
		DeliverySchedule: in.DeliverySchedule,
		Currency:         in.Currency,
	})
	if err != nil {
		return nil, err
	}

	attemptID, err := s.ledger.InitiateAttempt(ctx, order.ID, gw.Provider(), order.TotalPrice, order.Currency)
	if err != nil {
		return nil, err
	}

	result := &CheckoutResult{
		Order:         order,
		AttemptID:     attemptID,
		PaymentStatus: model.LedgerPending,
	}

	res, err := s.callGateway(ctx, gw.Provider(), func(gctx context.Context) (*client.GatewayResult, error) {
		return gw.Authorize(gctx, client.AuthorizeRequest{
			Amount:       order.TotalPrice,
			Currency:     order.Currency,
			Method:       in.PaymentMethod,
			PaymentToken: in.PaymentToken,
			AttemptID:    attemptID,
			OrderID:      order.ID,
		})
	})
	if err != nil {
		// the entry stays pending, a webhook may still settle it
		s.logger.Warn("authorize payment",
			zap.String("order_id", order.ID),
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
		return result, err
	}

	// from here the provider holds state we must record even if the client
	// went away
	persistCtx := context.WithoutCancel(ctx)

	if res.RequiresAction {
		if res.ProviderReference != "" {
			if err := s.ledger.AttachReference(persistCtx, attemptID, res.ProviderReference); err != nil {
				return result, err
			}
		}
		result.ApprovalURL = res.ApprovalURL
		return result, nil
	}

	if res.Success {
		captured, err := s.callGateway(ctx, gw.Provider(), func(gctx context.Context) (*client.GatewayResult, error) {
			return gw.Capture(gctx, res.ProviderReference)
		})
		if err != nil {
			if aerr := s.ledger.AttachReference(persistCtx, attemptID, res.ProviderReference); aerr != nil {
				s.logger.Error("attach reference after failed capture", zap.String("attempt_id", attemptID), zap.Error(aerr))
			}
			return result, err
		}
		if captured.ProviderReference == "" {
			captured.ProviderReference = res.ProviderReference
		}
		res = captured
	}

	return s.finalize(persistCtx, result, gw.Provider(), res)
}

func (s *checkoutServiceImpl) finalize(ctx context.Context, result *CheckoutResult, provider string, res *client.GatewayResult) (*CheckoutResult, error) {
	outcome := model.LedgerFailed
	if res.Success {
		outcome = model.LedgerSucceeded
	}

	entry, err := s.ledger.Finalize(ctx, FinalizeInput{
		Provider:          provider,
		ProviderReference: res.ProviderReference,
		AttemptID:         result.AttemptID,
		OrderID:           result.Order.ID,
		Outcome:           outcome,
		Amount:            res.RawAmount,
		Currency:          result.Order.Currency,
	})
	if err != nil {
		return result, err
	}
	result.PaymentStatus = entry.Status

	order, err := s.orders.Get(ctx, result.Order.ID)
	if err != nil {
		return result, err
	}
	result.Order = order
	return result, nil
}

func (s *checkoutServiceImpl) CompleteApproval(ctx context.Context, provider, reference string) (*model.Order, error) {
	gw, err := s.gateways.ForProvider(provider)
	if err != nil {
		return nil, apperr.Validation("provider", "%v", err)
	}

	// A reloaded return page must not capture twice.
	known, err := s.ledger.FindByReference(ctx, provider, reference)
	var nf *apperr.NotFoundError
	switch {
	case errors.As(err, &nf):
	case err != nil:
		return nil, err
	case known.Status.Final() && known.OrderID != "":
		return s.orders.Get(ctx, known.OrderID)
	}

	res, err := s.callGateway(ctx, gw.Provider(), func(gctx context.Context) (*client.GatewayResult, error) {
		return gw.Capture(gctx, reference)
	})
	if err != nil {
		return nil, err
	}

	outcome := model.LedgerFailed
	if res.Success {
		outcome = model.LedgerSucceeded
	}

	entry, err := s.ledger.Finalize(context.WithoutCancel(ctx), FinalizeInput{
		Provider:          provider,
		ProviderReference: reference,
		Outcome:           outcome,
		Amount:            res.RawAmount,
	})
	if err != nil {
		return nil, err
	}
	if entry.OrderID == "" {
		return nil, apperr.NotFound("order for payment", reference)
	}
	return s.orders.Get(ctx, entry.OrderID)
}

// Refund pays back every succeeded ledger entry of the order, then marks the
// order refunded. Entries already refunded are skipped, so a refund that
// failed part way can be retried.
func (s *checkoutServiceImpl) Refund(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != model.PaymentStatusPaid && order.PaymentStatus != model.PaymentStatusPartial {
		return nil, &apperr.InvalidTransitionError{Entity: "order", ID: orderID, From: string(order.PaymentStatus), Action: "refund"}
	}

	entries, err := s.ledger.RefundableEntries(ctx, orderID)
	if err != nil {
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	for _, entry := range entries {
		gw, err := s.gateways.ForProvider(entry.Provider)
		if err != nil {
			return nil, fmt.Errorf("refund order %s: %w", orderID, err)
		}

		res, err := s.callGateway(ctx, gw.Provider(), func(gctx context.Context) (*client.GatewayResult, error) {
			return gw.Refund(gctx, entry.Reference(), entry.Amount)
		})
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, &apperr.GatewayError{Provider: entry.Provider, Op: "refund", Err: errors.New("refund rejected: " + res.RawStatus)}
		}

		if err := s.ledger.RecordRefund(persistCtx, entry.ID, res.ProviderReference); err != nil {
			return nil, err
		}
		s.logger.Info("payment refunded",
			zap.String("order_id", orderID),
			zap.String("entry_id", entry.ID),
			zap.String("amount", entry.Amount.String()),
		)
	}

	return s.orders.MarkRefunded(persistCtx, orderID)
}

// callGateway bounds a provider call by the gateway timeout only. A caller
// that disconnects mid-call must not leave the provider side unrecorded.
func (s *checkoutServiceImpl) callGateway(ctx context.Context, provider string, call func(context.Context) (*client.GatewayResult, error)) (*client.GatewayResult, error) {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	res, err := call(gctx)
	if err != nil {
		var gerr *apperr.GatewayError
		if errors.As(err, &gerr) {
			return nil, err
		}
		return nil, &apperr.GatewayError{Provider: provider, Op: "call", Err: err}
	}
	return res, nil
}
