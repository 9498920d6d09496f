package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/payments"
	"github.com/merakistore/api/internal/repositories"
)

// ErrPaymentInvalidInput indicates the caller supplied invalid payment data.
var ErrPaymentInvalidInput = errors.New("payment service: invalid input")

// ErrPaymentOrderNotFound indicates no order exists for the checkout.
var ErrPaymentOrderNotFound = errors.New("payment service: order not found")

// ErrPaymentForbidden indicates the caller does not own the order.
var ErrPaymentForbidden = errors.New("payment service: forbidden")

// ErrPaymentAlreadyCompleted indicates the order is already paid.
var ErrPaymentAlreadyCompleted = errors.New("payment service: payment already completed")

// ErrPaymentGatewayUnavailable indicates the gateway rejected or never
// answered the call.
var ErrPaymentGatewayUnavailable = errors.New("payment service: gateway unavailable")

// ErrPaymentVerificationFailed indicates the callback signature did not match.
var ErrPaymentVerificationFailed = errors.New("payment service: verification failed")

// ErrPaymentUnavailable indicates the payment backend cannot fulfil the request.
var ErrPaymentUnavailable = errors.New("payment service: unavailable")

// PaymentGateway is the slice of the payments manager the service needs.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, preferred string, req payments.OrderRequest) (payments.GatewayOrder, error)
	VerifySignature(preferred string, req payments.VerificationRequest) error
}

// PaymentServiceDeps wires the order storage, ledger, and gateway.
type PaymentServiceDeps struct {
	Orders      repositories.OrderRepository
	Ledger      repositories.PaymentLedgerRepository
	Gateway     PaymentGateway
	GatewayKey  string
	Publisher   OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	ledger     repositories.PaymentLedgerRepository
	gateway    PaymentGateway
	gatewayKey string
	publisher  OrderEventPublisher
	now        func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService constructs a PaymentService enforcing dependency validation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("payment service: ledger repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:     deps.Orders,
		ledger:     deps.Ledger,
		gateway:    deps.Gateway,
		gatewayKey: strings.TrimSpace(deps.GatewayKey),
		publisher:  deps.Publisher,
		now:        func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

// CreateGatewayOrder opens a gateway order to collect the order's total. The
// amount always comes from the stored order, never from the client.
func (s *paymentService) CreateGatewayOrder(ctx context.Context, cmd CheckoutCommand) (GatewayCheckout, error) {
	if s == nil || s.orders == nil {
		return GatewayCheckout{}, ErrPaymentUnavailable
	}
	order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return GatewayCheckout{}, err
	}
	if order.PaymentStatus == domain.PaymentStatusCompleted {
		return GatewayCheckout{}, ErrPaymentAlreadyCompleted
	}
	if order.Totals.TotalAmount <= 0 {
		return GatewayCheckout{}, fmt.Errorf("%w: order has no payable amount", ErrPaymentInvalidInput)
	}

	gatewayOrder, err := s.gateway.CreateOrder(ctx, "", payments.OrderRequest{
		Amount:   order.Totals.TotalAmount,
		Currency: order.Currency,
		Receipt:  order.OrderNumber,
		Notes: map[string]string{
			"orderId": order.ID,
			"userId":  order.UserID,
		},
	})
	if err != nil {
		s.logger(ctx, "payment.gateway_order_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return GatewayCheckout{}, ErrPaymentGatewayUnavailable
	}

	now := s.now()
	order.PaymentDetails = &domain.PaymentDetails{
		Provider:       gatewayOrder.Provider,
		GatewayOrderID: gatewayOrder.ID,
	}
	order.PaymentStatus = domain.PaymentStatusInitiated
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return GatewayCheckout{}, ErrPaymentUnavailable
	}

	if _, err := s.ledger.Append(ctx, domain.PaymentLedgerEntry{
		ID:             s.newID(),
		OrderID:        order.ID,
		UserID:         order.UserID,
		Amount:         order.Totals.TotalAmount,
		Currency:       order.Currency,
		Provider:       gatewayOrder.Provider,
		Status:         domain.PaymentStatusInitiated,
		GatewayOrderID: gatewayOrder.ID,
		CreatedAt:      now,
	}); err != nil {
		s.logger(ctx, "payment.ledger_append_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	return GatewayCheckout{
		OrderID:        order.ID,
		GatewayOrderID: gatewayOrder.ID,
		Provider:       gatewayOrder.Provider,
		Amount:         order.Totals.TotalAmount,
		Currency:       order.Currency,
		KeyID:          s.gatewayKey,
	}, nil
}

// VerifyPayment checks the gateway callback signature and, on first success,
// marks the order paid. Replays with the same gateway payment id are no-op
// successes; the ledger entry keyed by the transaction id guarantees it.
func (s *paymentService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrPaymentUnavailable
	}
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	gatewayPaymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	if gatewayOrderID == "" || gatewayPaymentID == "" || strings.TrimSpace(cmd.Signature) == "" {
		return Order{}, ErrPaymentInvalidInput
	}
	order, err := s.loadOwnedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	if err := s.gateway.VerifySignature("", payments.VerificationRequest{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        cmd.Signature,
	}); err != nil {
		if _, appendErr := s.ledger.Append(ctx, domain.PaymentLedgerEntry{
			ID:             s.newID(),
			OrderID:        order.ID,
			UserID:         order.UserID,
			Amount:         order.Totals.TotalAmount,
			Currency:       order.Currency,
			Provider:       providerOf(order),
			Status:         domain.PaymentStatusFailed,
			GatewayOrderID: gatewayOrderID,
			FailureReason:  "signature mismatch",
			CreatedAt:      now,
		}); appendErr != nil {
			s.logger(ctx, "payment.ledger_append_failed", map[string]any{
				"orderId": order.ID,
				"error":   appendErr.Error(),
			})
		}
		s.logger(ctx, "payment.verification_failed", map[string]any{
			"orderId":        order.ID,
			"gatewayOrderId": gatewayOrderID,
		})
		return Order{}, ErrPaymentVerificationFailed
	}

	_, created, err := s.ledger.CreateIfAbsent(ctx, domain.PaymentLedgerEntry{
		OrderID:        order.ID,
		UserID:         order.UserID,
		Amount:         order.Totals.TotalAmount,
		Currency:       order.Currency,
		Provider:       providerOf(order),
		Status:         domain.PaymentStatusCompleted,
		TransactionID:  gatewayPaymentID,
		GatewayOrderID: gatewayOrderID,
		CreatedAt:      now,
	})
	if err != nil {
		return Order{}, ErrPaymentUnavailable
	}
	if !created && order.PaymentStatus == domain.PaymentStatusCompleted {
		// Replay of an already-verified payment.
		return order, nil
	}
	// Either the first verification, or a replay reconciling an order the
	// earlier attempt failed to mark completed after its ledger entry
	// committed.

	if order.PaymentDetails == nil {
		order.PaymentDetails = &domain.PaymentDetails{Provider: providerOf(order)}
	}
	order.PaymentDetails.GatewayOrderID = gatewayOrderID
	order.PaymentDetails.GatewayPaymentID = gatewayPaymentID
	order.PaymentDetails.Signature = cmd.Signature
	order.PaymentDetails.VerifiedAt = &now
	order.PaymentStatus = domain.PaymentStatusCompleted
	if transitionAllowed(order.Status, domain.OrderStatusProcessing) {
		order.Status = domain.OrderStatusProcessing
	}
	order.Notifications.ConfirmationSent = true
	order.UpdatedAt = now
	order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
		Status: order.Status,
		Note:   "Payment completed",
		Actor:  order.UserID,
		At:     now,
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, ErrPaymentUnavailable
	}

	s.publishPaymentDone(ctx, order, now)
	return order, nil
}

func (s *paymentService) loadOwnedOrder(ctx context.Context, orderID, userID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	userID = strings.TrimSpace(userID)
	if orderID == "" || userID == "" {
		return Order{}, ErrPaymentInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrPaymentOrderNotFound
		}
		return Order{}, ErrPaymentUnavailable
	}
	if order.UserID != userID {
		return Order{}, ErrPaymentForbidden
	}
	return order, nil
}

func (s *paymentService) publishPaymentDone(ctx context.Context, order Order, now time.Time) {
	if s.publisher == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := s.publisher.PublishOrderEvent(publishCtx, OrderEvent{
		Type:          OrderEventPaymentDone,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Totals.TotalAmount,
		Currency:      order.Currency,
		OccurredAt:    now,
	}); err != nil {
		s.logger(ctx, "payment.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func providerOf(order Order) string {
	if order.PaymentDetails != nil && order.PaymentDetails.Provider != "" {
		return order.PaymentDetails.Provider
	}
	return payments.ProviderRazorpay
}
