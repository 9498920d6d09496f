package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrSignatureMismatch is returned when a payment signature fails verification.
var ErrSignatureMismatch = errors.New("payments: signature mismatch")

// GatewayError wraps a PSP call failure with the provider and operation that produced it.
type GatewayError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "payments: gateway error"
	}
	return fmt.Sprintf("payments: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// OrderRequest captures the payload required to open a gateway order for collection.
type OrderRequest struct {
	// Amount is in minor currency units.
	Amount   int64
	Currency string
	// Receipt is the merchant-side reference, typically the order number.
	Receipt string
	Notes   map[string]string
}

// GatewayOrder is the provider-side order the client completes payment against.
type GatewayOrder struct {
	ID        string
	Provider  string
	Amount    int64
	Currency  string
	Receipt   string
	Status    string
	CreatedAt time.Time
	Raw       map[string]any
}

// VerificationRequest carries the identifiers and signature returned by the
// client after the customer completes payment.
type VerificationRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	// CreateOrder opens a gateway order to collect the given amount.
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	// VerifySignature checks the client-supplied signature against the
	// gateway secret. A mismatch returns ErrSignatureMismatch.
	VerifySignature(req VerificationRequest) error
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when callers express no preference.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap[ProviderRazorpay]; ok {
		m.defaultProvider = ProviderRazorpay
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(preferred)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder delegates to the resolved provider.
func (m *Manager) CreateOrder(ctx context.Context, preferred string, req OrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolve(preferred)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	if order.Provider == "" {
		order.Provider = key
	}
	return order, nil
}

// VerifySignature delegates to the resolved provider.
func (m *Manager) VerifySignature(preferred string, req VerificationRequest) error {
	_, provider, err := m.resolve(preferred)
	if err != nil {
		return err
	}
	return provider.VerifySignature(req)
}
