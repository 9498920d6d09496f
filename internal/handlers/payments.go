package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merakistore/api/internal/platform/auth"
	"github.com/merakistore/api/internal/platform/httpx"
	"github.com/merakistore/api/internal/services"
)

const maxPaymentBodySize = 16 * 1024

// Default per-user limit on verification attempts.
const (
	verifyRateLimit  = 10
	verifyRateWindow = time.Minute
)

// PaymentHandlers serves gateway checkout and payment verification.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
	limiter  RateLimiter
}

// PaymentHandlersOption customises payment handler construction.
type PaymentHandlersOption func(*PaymentHandlers)

// WithPaymentRateLimiter overrides the verification rate limiter.
func WithPaymentRateLimiter(limiter RateLimiter) PaymentHandlersOption {
	return func(h *PaymentHandlers) {
		h.limiter = limiter
	}
}

// NewPaymentHandlers wires the payment service into HTTP routes.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...PaymentHandlersOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:    authn,
		payments: payments,
		limiter:  newSimpleRateLimiter(verifyRateLimit, verifyRateWindow, time.Now),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the payment endpoints. All routes require authentication.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/checkout", h.checkout)
	r.Post("/verify", h.verify)
}

type checkoutRequest struct {
	OrderID string `json:"orderId"`
}

type checkoutResponse struct {
	OrderID        string `json:"orderId"`
	GatewayOrderID string `json:"gatewayOrderId"`
	Provider       string `json:"provider"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"keyId"`
}

type verifyRequest struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

func (h *PaymentHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSONBody(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	checkout, err := h.payments.CreateGatewayOrder(r.Context(), services.CheckoutCommand{
		OrderID: req.OrderID,
		UserID:  identity.UID,
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutResponse{
		OrderID:        checkout.OrderID,
		GatewayOrderID: checkout.GatewayOrderID,
		Provider:       checkout.Provider,
		Amount:         checkout.Amount,
		Currency:       checkout.Currency,
		KeyID:          checkout.KeyID,
	})
}

func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many verification attempts, slow down", http.StatusTooManyRequests))
		return
	}

	var req verifyRequest
	if err := decodeJSONBody(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	order, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:          req.OrderID,
		UserID:           identity.UID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writePaymentError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func writePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("verification_failed", "payment verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you do not have access to this order", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentAlreadyCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("payment_already_completed", "payment was already completed", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway is unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
