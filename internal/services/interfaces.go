package services

import (
	"context"
	"time"

	domain "github.com/merakistore/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	ProductKind        = domain.ProductKind
	ProductVariant     = domain.ProductVariant
	RoleRates          = domain.RoleRates
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartTotals         = domain.CartTotals
	Coupon             = domain.Coupon
	CouponDiscountType = domain.CouponDiscountType
	CouponScope        = domain.CouponScope
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderLineItem      = domain.OrderLineItem
	OrderTotals        = domain.OrderTotals
	OrderContact       = domain.OrderContact
	Address            = domain.Address
	TrackingDetails    = domain.TrackingDetails
	PaymentStatus      = domain.PaymentStatus
	PaymentLedgerEntry = domain.PaymentLedgerEntry
	PricingPolicy      = domain.PricingPolicy
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService exposes product reads for the storefront and validated
// writes for administrators.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error)
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
}

// ProductListQuery filters the public product listing.
type ProductListQuery struct {
	Category   string
	Kind       string
	Pagination Pagination
}

// UpsertProductCommand carries a full product definition from an admin.
// An empty ID creates a new product.
type UpsertProductCommand struct {
	ID                 string
	Kind               string
	Name               string
	Category           string
	Description        string
	Image              string
	Currency           string
	Price              int64
	WholesalePrice     int64
	Stock              int64
	DiscountPercentage int
	DiscountStart      *time.Time
	DiscountEnd        *time.Time
	Retail             RoleRates
	Wholesale          RoleRates
	Variants           []ProductVariant
}

// CartService orchestrates the pre-checkout cart lifecycle. Every mutation
// reprices the cart through the caller's pricing policy before persisting.
type CartService interface {
	GetOrCreateCart(ctx context.Context, cmd CartQuery) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	Clear(ctx context.Context, userID string) error
	Merge(ctx context.Context, cmd MergeCartCommand) (Cart, error)
}

// CartQuery scopes a cart read to its owner and pricing role.
type CartQuery struct {
	UserID string
	Role   string
}

// AddCartItemCommand adds quantity of a product, optionally a specific
// colour/size variant, to the owner's cart.
type AddCartItemCommand struct {
	UserID        string
	Role          string
	ProductID     string
	Quantity      int64
	SelectedSize  string
	SelectedColor string
}

// UpdateCartItemCommand changes the quantity of an existing line. ItemID
// matches either the line id or the product id. Quantity 0 removes the line.
type UpdateCartItemCommand struct {
	UserID   string
	Role     string
	ItemID   string
	Quantity int64
}

// RemoveCartItemCommand deletes one line by its line id.
type RemoveCartItemCommand struct {
	UserID string
	Role   string
	ItemID string
}

// MergeCartCommand folds a guest cart's lines into the owner's cart.
type MergeCartCommand struct {
	UserID string
	Role   string
	Items  []MergeCartLine
}

// MergeCartLine is one incoming guest-cart line.
type MergeCartLine struct {
	ProductID     string
	Quantity      int64
	SelectedSize  string
	SelectedColor string
}

// CouponService validates, prices, and redeems coupons, and exposes admin CRUD.
type CouponService interface {
	// Validate resolves the coupon and checks activity, schedule, minimum
	// order value, and usage limit against the supplied cart total.
	Validate(ctx context.Context, cmd ValidateCouponCommand) (Coupon, error)
	// Quote validates the coupon and computes the discount it would grant
	// against the given lines.
	Quote(ctx context.Context, cmd ValidateCouponCommand) (CouponQuote, error)
	// Redeem consumes one use of the coupon. Races past the usage limit
	// surface as ErrCouponExhausted.
	Redeem(ctx context.Context, code string) (Coupon, error)
	// Release returns one use consumed by Redeem when the surrounding
	// operation failed after the redeem committed.
	Release(ctx context.Context, code string) error
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	ListCoupons(ctx context.Context, query CouponListQuery) (domain.CursorPage[Coupon], error)
}

// ValidateCouponCommand carries the coupon code and the cart state it is
// evaluated against.
type ValidateCouponCommand struct {
	Code      string
	CartTotal int64
	Lines     []CouponLine
}

// CouponLine is the minimal view of a cart line a coupon needs: identity and
// money.
type CouponLine struct {
	ProductID string
	Amount    int64
}

// CouponQuote is the outcome of pricing a coupon against a cart.
type CouponQuote struct {
	Coupon   Coupon
	Discount int64
}

// UpsertCouponCommand carries a coupon definition from an admin.
type UpsertCouponCommand struct {
	Code               string
	DiscountType       string
	DiscountValue      int64
	MaxDiscount        int64
	Scope              string
	ApplicableProducts []string
	MinOrderValue      int64
	StartDate          *time.Time
	ExpirationDate     time.Time
	IsActive           bool
	UsageLimit         int64
}

// CouponListQuery filters the admin coupon listing.
type CouponListQuery struct {
	ActiveOnly bool
	Pagination Pagination
}

// OrderService owns order assembly, the fulfillment state machine, and
// owner/admin queries.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, query OrderQuery) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
}

// CreateOrderCommand assembles an order from the caller's cart.
type CreateOrderCommand struct {
	UserID          string
	Role            string
	Contact         OrderContact
	ShippingAddress Address
	PaymentMethod   string
	CouponCode      string
}

// OrderQuery reads one order, scoped to its owner unless the caller is admin.
type OrderQuery struct {
	OrderID string
	UserID  string
	Admin   bool
}

// OrderListQuery pages through orders. Non-admin callers are always scoped
// to their own orders.
type OrderListQuery struct {
	UserID     string
	Admin      bool
	Status     []string
	Pagination Pagination
}

// CancelOrderCommand cancels an order on behalf of its owner.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// TransitionOrderCommand moves an order to a new fulfillment status (admin).
type TransitionOrderCommand struct {
	OrderID  string
	Target   string
	Note     string
	Actor    string
	Tracking *TrackingDetails
}

// PaymentService bridges orders to the payment gateway: opening gateway
// orders for collection and verifying completed payments.
type PaymentService interface {
	CreateGatewayOrder(ctx context.Context, cmd CheckoutCommand) (GatewayCheckout, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
}

// CheckoutCommand opens a gateway order for an existing order.
type CheckoutCommand struct {
	OrderID string
	UserID  string
}

// GatewayCheckout is returned to the client to drive the gateway's checkout UI.
type GatewayCheckout struct {
	OrderID        string
	GatewayOrderID string
	Provider       string
	Amount         int64
	Currency       string
	KeyID          string
}

// VerifyPaymentCommand carries the gateway callback payload.
type VerifyPaymentCommand struct {
	OrderID          string
	UserID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// OrderEvent is the message published on order lifecycle changes. Amount is
// minor currency units; AmountDisplay is a human-readable rendering filled in
// by the publisher when absent.
type OrderEvent struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"orderId"`
	OrderNumber   string    `json:"orderNumber,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	Status        string    `json:"status,omitempty"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	AmountDisplay string    `json:"amountDisplay,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Order lifecycle event types.
const (
	OrderEventCreated     = "order.created"
	OrderEventCancelled   = "order.cancelled"
	OrderEventTransition  = "order.status_changed"
	OrderEventPaymentDone = "order.payment_completed"
)

// OrderEventPublisher delivers order events to downstream consumers.
// Publishing is best-effort; failures are logged, never surfaced.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// CounterService issues sequential order numbers, one counter per calendar
// year.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates dependency health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	Build() BuildInfo
}
