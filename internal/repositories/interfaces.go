package repositories

import (
	"context"
	"time"

	domain "github.com/merakistore/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	PaymentLedger() PaymentLedgerRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockLine identifies one stock pool adjustment: the product, the quantity,
// and optionally the colour/size variant the buyer selected.
type StockLine struct {
	ProductID string
	Quantity  int64
	ColorName string
	Size      string
}

// StockDeductionRequest decrements stock for every line, or none at all.
type StockDeductionRequest struct {
	Lines []StockLine
	Now   time.Time
}

// StockRestoreRequest reverses a previous deduction for every line.
type StockRestoreRequest struct {
	Lines []StockLine
	Now   time.Time
}

// ProductRepository persists catalog documents and owns the transactional
// stock mutations.
type ProductRepository interface {
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)

	// DeductStock atomically decrements every line's product (and variant)
	// stock, failing the whole request with a StockError when any line lacks
	// availability. No partial deduction is ever persisted.
	DeductStock(ctx context.Context, req StockDeductionRequest) error
	// RestoreStock atomically adds every line's quantity back, the inverse of
	// DeductStock. Lines whose product no longer exists are skipped.
	RestoreStock(ctx context.Context, req StockRestoreRequest) error
}

// CartRepository owns cart persistence with optimistic locking guarantees.
type CartRepository interface {
	// UpsertCart persists the cart. When cart.UpdatedAt is non-zero it is used
	// as an optimistic concurrency precondition; a stale write returns a
	// RepositoryError with IsConflict.
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// CouponRepository maintains coupon definitions and usage counters.
type CouponRepository interface {
	// Insert creates the coupon, returning a RepositoryError with IsConflict
	// when the code is already taken.
	Insert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	Update(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)

	// Redeem transactionally increments the coupon's used count, re-checking
	// the usage limit inside the transaction. Returns a CouponError with
	// CouponErrorExhausted when the limit is already consumed.
	Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error)

	// Release transactionally returns one use consumed by Redeem, flooring
	// the used count at zero. Compensates a redeem whose order never placed.
	Release(ctx context.Context, code string, now time.Time) error
}

// OrderPlacementRequest creates the order and decrements stock for every
// line atomically.
type OrderPlacementRequest struct {
	Order domain.Order
	Lines []StockLine
	Now   time.Time
}

// OrderRepository persists order snapshots and provides query helpers for users and admins.
type OrderRepository interface {
	// Place commits the order document and all stock decrements in one
	// transaction. Any line without availability aborts the whole placement
	// with a StockError; nothing is persisted.
	Place(ctx context.Context, req OrderPlacementRequest) error
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// PaymentLedgerRepository stores the append-only payment attempt ledger.
type PaymentLedgerRepository interface {
	// CreateIfAbsent writes the entry keyed by its TransactionID. When an
	// entry already exists for that transaction the stored entry is returned
	// and created is false; the ledger is never overwritten.
	CreateIfAbsent(ctx context.Context, entry domain.PaymentLedgerEntry) (stored domain.PaymentLedgerEntry, created bool, err error)
	// Append records an entry under its own id, used for initiated and failed
	// attempts that carry no unique gateway transaction id yet.
	Append(ctx context.Context, entry domain.PaymentLedgerEntry) (domain.PaymentLedgerEntry, error)
	FindByTransactionID(ctx context.Context, transactionID string) (domain.PaymentLedgerEntry, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentLedgerEntry, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	Category   *string
	Kind       *domain.ProductKind
	Pagination domain.Pagination
}

type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
