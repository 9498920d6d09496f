package domain

import "time"

// SortOrder toggles ascending/descending list ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Pagination describes cursor-based pagination inputs.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductKind tags the catalog entry so pricing and presentation can branch
// on an explicit type instead of probing optional fields.
type ProductKind string

const (
	ProductKindStandard ProductKind = "standard"
	ProductKindApparel  ProductKind = "apparel"
	ProductKindBook     ProductKind = "book"
)

// RoleRates carries the per-role shipping and tax settings stored on a product.
type RoleRates struct {
	ShippingCost  int64
	TaxPercentage float64
}

// ProductVariant is a colour/size specific stock pool under a product.
type ProductVariant struct {
	ColorName string
	Size      string
	Stock     int64
}

// Product is the catalog entity. Prices are minor currency units.
type Product struct {
	ID                 string
	Kind               ProductKind
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
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DiscountActive reports whether the retail discount window covers now.
// A missing bound leaves that side of the window open.
func (p Product) DiscountActive(now time.Time) bool {
	if p.DiscountPercentage <= 0 {
		return false
	}
	if p.DiscountStart != nil && now.Before(*p.DiscountStart) {
		return false
	}
	if p.DiscountEnd != nil && now.After(*p.DiscountEnd) {
		return false
	}
	return true
}

// Variant returns the variant matching the colour (and size, when given).
func (p Product) Variant(colorName, size string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.ColorName != colorName {
			continue
		}
		if size != "" && v.Size != size {
			continue
		}
		return v, true
	}
	return ProductVariant{}, false
}

// CartItem is one line inside a user's cart. UnitPrice and ShippingAmount are
// cached copies of the last price resolution and are rewritten on every
// recalculation.
type CartItem struct {
	ID             string
	ProductID      string
	Name           string
	Image          string
	Quantity       int64
	UnitPrice      int64
	SelectedSize   string
	SelectedColor  string
	ShippingAmount int64
	TaxAmount      int64
}

// CartTotals are derived aggregates over the cart's items. They are cache
// fields, never a source of truth.
type CartTotals struct {
	Subtotal      int64
	ShippingTotal int64
	TaxTotal      int64
	TotalAmount   int64
	TotalItems    int64
}

// Cart holds the mutable pre-checkout state for a single user.
type Cart struct {
	ID        string
	UserID    string
	Currency  string
	Items     []CartItem
	Totals    CartTotals
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CouponDiscountType selects how DiscountValue is interpreted.
type CouponDiscountType string

const (
	CouponDiscountPercentage CouponDiscountType = "percentage"
	CouponDiscountFixed      CouponDiscountType = "fixed"
)

// CouponScope limits which line items a coupon applies to.
type CouponScope string

const (
	CouponScopeAll      CouponScope = "all"
	CouponScopeSpecific CouponScope = "specific"
)

// Coupon is the unified coupon entity. For percentage coupons DiscountValue
// is whole percent points; for fixed coupons it is minor currency units.
type Coupon struct {
	ID                 string
	Code               string
	DiscountType       CouponDiscountType
	DiscountValue      int64
	MaxDiscount        int64
	Scope              CouponScope
	ApplicableProducts []string
	MinOrderValue      int64
	StartDate          *time.Time
	ExpirationDate     time.Time
	IsActive           bool
	UsageLimit         int64
	UsedCount          int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Exhausted reports whether the usage limit has been consumed.
// A zero limit means unlimited redemptions.
func (c Coupon) Exhausted() bool {
	return c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit
}

// DiscountAmount computes the discount for the given base amount, capped by
// MaxDiscount and never exceeding the base itself.
func (c Coupon) DiscountAmount(base int64) int64 {
	if base <= 0 {
		return 0
	}
	var amount int64
	switch c.DiscountType {
	case CouponDiscountFixed:
		amount = c.DiscountValue
	default:
		amount = PercentOf(base, c.DiscountValue)
	}
	if c.MaxDiscount > 0 && amount > c.MaxDiscount {
		amount = c.MaxDiscount
	}
	if amount > base {
		amount = base
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// PaymentStatus tracks the payment side of an order and ledger entries.
type PaymentStatus string

const (
	PaymentStatusInitiated     PaymentStatus = "initiated"
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusCompleted     PaymentStatus = "completed"
	PaymentStatusFailed        PaymentStatus = "failed"
	PaymentStatusRefunded      PaymentStatus = "refunded"
	PaymentStatusPartialRefund PaymentStatus = "partial_refund"
)

// OrderLineItem is a frozen copy of a product at order-creation time,
// independent of later catalog changes.
type OrderLineItem struct {
	ProductID      string
	Name           string
	Image          string
	Quantity       int64
	UnitPrice      int64
	SelectedSize   string
	SelectedColor  string
	ShippingAmount int64
	TaxAmount      int64
}

// OrderTotals is the frozen money breakdown of an order.
type OrderTotals struct {
	Subtotal       int64
	ShippingTotal  int64
	TaxTotal       int64
	CouponDiscount int64
	TotalAmount    int64
}

// OrderContact captures who the order is for.
type OrderContact struct {
	Name  string
	Email string
	Phone string
}

// Address is a shipping address snapshot.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// StatusHistoryEntry is one append-only audit record of a status transition.
type StatusHistoryEntry struct {
	Status OrderStatus
	Note   string
	Actor  string
	At     time.Time
}

// TrackingDetails are populated when an order enters the shipped state.
type TrackingDetails struct {
	Courier     string
	TrackingID  string
	TrackingURL string
	ShippedAt   time.Time
}

// PaymentDetails records the gateway identifiers attached after verification.
type PaymentDetails struct {
	Provider         string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	VerifiedAt       *time.Time
}

// CouponDetails snapshots the coupon as applied at order creation.
type CouponDetails struct {
	Code          string
	DiscountType  CouponDiscountType
	DiscountValue int64
	Discount      int64
}

// NotificationFlags guard each outbound notification so it fires at most once.
type NotificationFlags struct {
	ConfirmationSent bool
	ShippedSent      bool
	DeliveredSent    bool
}

// Order is an immutable snapshot once created; only status, payment state,
// tracking, history and notification flags evolve afterwards.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	PricingRole     string
	Contact         OrderContact
	ShippingAddress Address
	Currency        string
	Items           []OrderLineItem
	Totals          OrderTotals
	PaymentMethod   string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentDetails  *PaymentDetails
	Coupon          *CouponDetails
	Tracking        *TrackingDetails
	StatusHistory   []StatusHistoryEntry
	Notifications   NotificationFlags
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentLedgerEntry is one append-only record per gateway attempt.
// TransactionID (the gateway payment id) is the idempotency key.
type PaymentLedgerEntry struct {
	ID             string
	OrderID        string
	UserID         string
	Amount         int64
	Currency       string
	Provider       string
	Method         string
	Status         PaymentStatus
	TransactionID  string
	GatewayOrderID string
	FailureReason  string
	CreatedAt      time.Time
}
