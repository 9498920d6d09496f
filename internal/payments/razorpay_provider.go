package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// ProviderRazorpay is the registry key for the Razorpay adapter.
const ProviderRazorpay = "razorpay"

const defaultRazorpayTimeout = 10 * time.Second

// RazorpayLogger receives structured adapter events for observability hooks.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayProviderConfig bundles the credentials and knobs for the adapter.
type RazorpayProviderConfig struct {
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	Logger    RazorpayLogger
	Clock     func() time.Time

	// orders overrides the SDK order API in tests.
	orders razorpayOrderAPI
}

// RazorpayProvider adapts the Razorpay order/verify flow to the Provider contract.
type RazorpayProvider struct {
	orders  razorpayOrderAPI
	secret  string
	timeout time.Duration
	logger  RazorpayLogger
	clock   func() time.Time
}

// NewRazorpayProvider builds the adapter from config.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	secret := strings.TrimSpace(cfg.KeySecret)
	if secret == "" {
		return nil, errors.New("payments: razorpay key secret is required")
	}
	orders := cfg.orders
	if orders == nil {
		keyID := strings.TrimSpace(cfg.KeyID)
		if keyID == "" {
			return nil, errors.New("payments: razorpay key id is required")
		}
		client := razorpay.NewClient(keyID, secret)
		orders = client.Order
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRazorpayTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &RazorpayProvider{
		orders:  orders,
		secret:  secret,
		timeout: timeout,
		logger:  logger,
		clock:   clock,
	}, nil
}

// CreateOrder opens a Razorpay order for the given amount. The SDK call has
// no context support, so the adapter bounds it with its own timeout.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if p == nil || p.orders == nil {
		return GatewayOrder{}, errors.New("payments: razorpay provider not initialised")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("payments: order amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return GatewayOrder{}, errors.New("payments: order currency is required")
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	type createResult struct {
		body map[string]interface{}
		err  error
	}
	resultCh := make(chan createResult, 1)
	go func() {
		body, err := p.orders.Create(data, nil)
		resultCh <- createResult{body: body, err: err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	var body map[string]interface{}
	select {
	case <-ctx.Done():
		return GatewayOrder{}, &GatewayError{Provider: ProviderRazorpay, Op: "order.create", Err: ctx.Err()}
	case <-timer.C:
		return GatewayOrder{}, &GatewayError{Provider: ProviderRazorpay, Op: "order.create", Err: context.DeadlineExceeded}
	case result := <-resultCh:
		if result.err != nil {
			p.logger(ctx, "razorpay.order_create_failed", map[string]any{"error": result.err.Error()})
			return GatewayOrder{}, &GatewayError{Provider: ProviderRazorpay, Op: "order.create", Err: result.err}
		}
		body = result.body
	}

	order := GatewayOrder{
		ID:        stringField(body, "id"),
		Provider:  ProviderRazorpay,
		Amount:    int64Field(body, "amount"),
		Currency:  stringField(body, "currency"),
		Receipt:   stringField(body, "receipt"),
		Status:    stringField(body, "status"),
		CreatedAt: p.clock(),
		Raw:       body,
	}
	if order.ID == "" {
		return GatewayOrder{}, &GatewayError{Provider: ProviderRazorpay, Op: "order.create", Err: errors.New("response missing order id")}
	}
	p.logger(ctx, "razorpay.order_created", map[string]any{
		"gatewayOrderId": order.ID,
		"amount":         order.Amount,
		"currency":       order.Currency,
	})
	return order, nil
}

// VerifySignature checks the checkout callback signature. Razorpay signs
// "<order_id>|<payment_id>" with HMAC-SHA256 over the key secret, hex encoded.
func (p *RazorpayProvider) VerifySignature(req VerificationRequest) error {
	if p == nil {
		return errors.New("payments: razorpay provider not initialised")
	}
	orderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.GatewayPaymentID)
	signature := strings.TrimSpace(req.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, []byte(p.secret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	if value, ok := body[key].(string); ok {
		return value
	}
	return ""
}

func int64Field(body map[string]interface{}, key string) int64 {
	if body == nil {
		return 0
	}
	switch value := body[key].(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case float64:
		return int64(value)
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
