package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/merakistore/api/internal/platform/firestore"
	"github.com/merakistore/api/internal/repositories"
)

// Registry bundles all Firestore-backed repositories over one shared provider.
type Registry struct {
	provider *pfirestore.Provider

	products      *ProductRepository
	carts         *CartRepository
	coupons       *CouponRepository
	orders        *OrderRepository
	paymentLedger *PaymentLedgerRepository
	counters      *CounterRepository
}

// NewRegistry wires every repository against the provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	ledger, err := NewPaymentLedgerRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	return &Registry{
		provider:      provider,
		products:      products,
		carts:         carts,
		coupons:       coupons,
		orders:        orders,
		paymentLedger: ledger,
		counters:      counters,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PaymentLedger() repositories.PaymentLedgerRepository { return r.paymentLedger }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
