package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

type stubOrderAPI struct {
	lastData map[string]interface{}
	response map[string]interface{}
	err      error
}

func (s *stubOrderAPI) Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error) {
	s.lastData = data
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func newTestProvider(t *testing.T, orders razorpayOrderAPI) *RazorpayProvider {
	t.Helper()
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{
		KeySecret: "test-secret",
		orders:    orders,
		Clock:     func() time.Time { return time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}
	return provider
}

func TestRazorpayCreateOrder(t *testing.T) {
	stub := &stubOrderAPI{response: map[string]interface{}{
		"id":       "order_abc123",
		"amount":   float64(110000),
		"currency": "INR",
		"receipt":  "MS-2025-000042",
		"status":   "created",
	}}
	provider := newTestProvider(t, stub)

	order, err := provider.CreateOrder(context.Background(), OrderRequest{
		Amount:   110000,
		Currency: "inr",
		Receipt:  "MS-2025-000042",
		Notes:    map[string]string{"orderId": "ord-1"},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "order_abc123" {
		t.Fatalf("unexpected gateway order id %q", order.ID)
	}
	if order.Amount != 110000 || order.Currency != "INR" {
		t.Fatalf("unexpected order amount/currency: %+v", order)
	}
	if order.Provider != ProviderRazorpay {
		t.Fatalf("expected provider %q, got %q", ProviderRazorpay, order.Provider)
	}
	if got := stub.lastData["currency"]; got != "INR" {
		t.Fatalf("expected uppercased currency sent to gateway, got %v", got)
	}
	if _, ok := stub.lastData["notes"]; !ok {
		t.Fatalf("expected notes forwarded to gateway")
	}
}

func TestRazorpayCreateOrderValidation(t *testing.T) {
	provider := newTestProvider(t, &stubOrderAPI{})

	if _, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 0, Currency: "INR"}); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
	if _, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 100}); err == nil {
		t.Fatalf("expected error for missing currency")
	}
}

func TestRazorpayCreateOrderGatewayFailure(t *testing.T) {
	stub := &stubOrderAPI{err: errors.New("BAD_REQUEST_ERROR")}
	provider := newTestProvider(t, stub)

	_, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 5000, Currency: "INR"})
	var gatewayErr *GatewayError
	if !errors.As(err, &gatewayErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if gatewayErr.Provider != ProviderRazorpay || gatewayErr.Op != "order.create" {
		t.Fatalf("unexpected gateway error context: %+v", gatewayErr)
	}
}

func TestRazorpayCreateOrderMissingID(t *testing.T) {
	stub := &stubOrderAPI{response: map[string]interface{}{"status": "created"}}
	provider := newTestProvider(t, stub)

	if _, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 5000, Currency: "INR"}); err == nil {
		t.Fatalf("expected error for response without order id")
	}
}

func signPayload(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayVerifySignature(t *testing.T) {
	provider := newTestProvider(t, &stubOrderAPI{})

	valid := VerificationRequest{
		GatewayOrderID:   "order_abc123",
		GatewayPaymentID: "pay_xyz789",
		Signature:        signPayload("test-secret", "order_abc123", "pay_xyz789"),
	}
	if err := provider.VerifySignature(valid); err != nil {
		t.Fatalf("expected valid signature to verify: %v", err)
	}

	tampered := valid
	tampered.GatewayPaymentID = "pay_other"
	if err := provider.VerifySignature(tampered); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}

	empty := VerificationRequest{}
	if err := provider.VerifySignature(empty); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for empty request, got %v", err)
	}
}

func TestManagerResolvesDefaultProvider(t *testing.T) {
	provider := newTestProvider(t, &stubOrderAPI{response: map[string]interface{}{"id": "order_1"}})
	manager, err := NewManager(map[string]Provider{ProviderRazorpay: provider})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	order, err := manager.CreateOrder(context.Background(), "", OrderRequest{Amount: 100, Currency: "INR"})
	if err != nil {
		t.Fatalf("CreateOrder via manager: %v", err)
	}
	if order.Provider != ProviderRazorpay {
		t.Fatalf("expected default provider, got %q", order.Provider)
	}

	if _, err := manager.CreateOrder(context.Background(), "stripe", OrderRequest{Amount: 100, Currency: "INR"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}
