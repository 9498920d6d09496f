package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/merakistore/api/internal/domain"
	pfirestore "github.com/merakistore/api/internal/platform/firestore"
	"github.com/merakistore/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order snapshots and owns the placement
// transaction that couples order creation to stock decrements.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Repository[orderDocument]
	products *pfirestore.Repository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewRepository[orderDocument](provider, ordersCollection)
	products := pfirestore.NewRepository[productDocument](provider, productsCollection)
	return &OrderRepository{provider: provider, base: base, products: products}, nil
}

// Place creates the order document and applies every stock decrement in one
// transaction. A failed availability check aborts the whole placement.
func (r *OrderRepository) Place(ctx context.Context, req repositories.OrderPlacementRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.Order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	doc := encodeOrderDocument(req.Order)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := deductStockInTx(ctx, tx, r.products, req.Lines, now); err != nil {
			return err
		}
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return stockErr
		}
		return pfirestore.WrapError("orders.place", err)
	}
	return nil
}

// Insert stores a new order. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	doc := encodeOrderDocument(order)
	if _, err := r.base.Set(ctx, orderID, doc); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data.toDomain(doc.ID)
	if order.CreatedAt.IsZero() {
		order.CreatedAt = doc.CreateTime
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = doc.UpdateTime
	}
	return order, nil
}

// List returns a page of orders newest first, optionally scoped to a user and
// a set of statuses.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		value := strings.TrimSpace(string(s))
		if value != "" {
			statuses = append(statuses, value)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

type orderLineItemDocument struct {
	ProductID      string `firestore:"productId"`
	Name           string `firestore:"name"`
	Image          string `firestore:"image,omitempty"`
	Quantity       int64  `firestore:"quantity"`
	UnitPrice      int64  `firestore:"unitPrice"`
	SelectedSize   string `firestore:"selectedSize,omitempty"`
	SelectedColor  string `firestore:"selectedColor,omitempty"`
	ShippingAmount int64  `firestore:"shippingAmount"`
	TaxAmount      int64  `firestore:"taxAmount"`
}

type orderTotalsDocument struct {
	Subtotal       int64 `firestore:"subtotal"`
	ShippingTotal  int64 `firestore:"shippingTotal"`
	TaxTotal       int64 `firestore:"taxTotal"`
	CouponDiscount int64 `firestore:"couponDiscount"`
	TotalAmount    int64 `firestore:"totalAmount"`
}

type orderContactDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type statusHistoryDocument struct {
	Status string    `firestore:"status"`
	Note   string    `firestore:"note,omitempty"`
	Actor  string    `firestore:"actor,omitempty"`
	At     time.Time `firestore:"at"`
}

type trackingDocument struct {
	Courier     string    `firestore:"courier"`
	TrackingID  string    `firestore:"trackingId"`
	TrackingURL string    `firestore:"trackingUrl,omitempty"`
	ShippedAt   time.Time `firestore:"shippedAt"`
}

type paymentDetailsDocument struct {
	Provider         string     `firestore:"provider"`
	GatewayOrderID   string     `firestore:"gatewayOrderId"`
	GatewayPaymentID string     `firestore:"gatewayPaymentId,omitempty"`
	Signature        string     `firestore:"signature,omitempty"`
	VerifiedAt       *time.Time `firestore:"verifiedAt,omitempty"`
}

type couponDetailsDocument struct {
	Code          string `firestore:"code"`
	DiscountType  string `firestore:"discountType"`
	DiscountValue int64  `firestore:"discountValue"`
	Discount      int64  `firestore:"discount"`
}

type notificationFlagsDocument struct {
	ConfirmationSent bool `firestore:"confirmationSent"`
	ShippedSent      bool `firestore:"shippedSent"`
	DeliveredSent    bool `firestore:"deliveredSent"`
}

type orderDocument struct {
	OrderNumber     string                    `firestore:"orderNumber"`
	UserID          string                    `firestore:"userId"`
	PricingRole     string                    `firestore:"pricingRole"`
	Contact         orderContactDocument      `firestore:"contact"`
	ShippingAddress addressDocument           `firestore:"shippingAddress"`
	Currency        string                    `firestore:"currency"`
	Items           []orderLineItemDocument   `firestore:"items"`
	Totals          orderTotalsDocument       `firestore:"totals"`
	PaymentMethod   string                    `firestore:"paymentMethod"`
	Status          string                    `firestore:"status"`
	PaymentStatus   string                    `firestore:"paymentStatus"`
	PaymentDetails  *paymentDetailsDocument   `firestore:"paymentDetails,omitempty"`
	Coupon          *couponDetailsDocument    `firestore:"coupon,omitempty"`
	Tracking        *trackingDocument         `firestore:"tracking,omitempty"`
	StatusHistory   []statusHistoryDocument   `firestore:"statusHistory"`
	Notifications   notificationFlagsDocument `firestore:"notifications"`
	DeliveredAt     *time.Time                `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time                `firestore:"cancelledAt,omitempty"`
	CreatedAt       time.Time                 `firestore:"createdAt"`
	UpdatedAt       time.Time                 `firestore:"updatedAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		PricingRole: order.PricingRole,
		Contact: orderContactDocument{
			Name:  order.Contact.Name,
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		},
		ShippingAddress: addressDocument{
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		Currency: order.Currency,
		Totals: orderTotalsDocument{
			Subtotal:       order.Totals.Subtotal,
			ShippingTotal:  order.Totals.ShippingTotal,
			TaxTotal:       order.Totals.TaxTotal,
			CouponDiscount: order.Totals.CouponDiscount,
			TotalAmount:    order.Totals.TotalAmount,
		},
		PaymentMethod: order.PaymentMethod,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Notifications: notificationFlagsDocument{
			ConfirmationSent: order.Notifications.ConfirmationSent,
			ShippedSent:      order.Notifications.ShippedSent,
			DeliveredSent:    order.Notifications.DeliveredSent,
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderLineItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Image:          item.Image,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			SelectedSize:   item.SelectedSize,
			SelectedColor:  item.SelectedColor,
			ShippingAmount: item.ShippingAmount,
			TaxAmount:      item.TaxAmount,
		})
	}
	for _, entry := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusHistoryDocument{
			Status: string(entry.Status),
			Note:   entry.Note,
			Actor:  entry.Actor,
			At:     entry.At.UTC(),
		})
	}
	if order.PaymentDetails != nil {
		details := paymentDetailsDocument{
			Provider:         order.PaymentDetails.Provider,
			GatewayOrderID:   order.PaymentDetails.GatewayOrderID,
			GatewayPaymentID: order.PaymentDetails.GatewayPaymentID,
			Signature:        order.PaymentDetails.Signature,
		}
		if order.PaymentDetails.VerifiedAt != nil {
			value := order.PaymentDetails.VerifiedAt.UTC()
			details.VerifiedAt = &value
		}
		doc.PaymentDetails = &details
	}
	if order.Coupon != nil {
		doc.Coupon = &couponDetailsDocument{
			Code:          order.Coupon.Code,
			DiscountType:  string(order.Coupon.DiscountType),
			DiscountValue: order.Coupon.DiscountValue,
			Discount:      order.Coupon.Discount,
		}
	}
	if order.Tracking != nil {
		doc.Tracking = &trackingDocument{
			Courier:     order.Tracking.Courier,
			TrackingID:  order.Tracking.TrackingID,
			TrackingURL: order.Tracking.TrackingURL,
			ShippedAt:   order.Tracking.ShippedAt.UTC(),
		}
	}
	if order.DeliveredAt != nil {
		value := order.DeliveredAt.UTC()
		doc.DeliveredAt = &value
	}
	if order.CancelledAt != nil {
		value := order.CancelledAt.UTC()
		doc.CancelledAt = &value
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		UserID:      d.UserID,
		PricingRole: d.PricingRole,
		Contact: domain.OrderContact{
			Name:  d.Contact.Name,
			Email: d.Contact.Email,
			Phone: d.Contact.Phone,
		},
		ShippingAddress: domain.Address{
			Line1:      d.ShippingAddress.Line1,
			Line2:      d.ShippingAddress.Line2,
			City:       d.ShippingAddress.City,
			State:      d.ShippingAddress.State,
			PostalCode: d.ShippingAddress.PostalCode,
			Country:    d.ShippingAddress.Country,
		},
		Currency: d.Currency,
		Totals: domain.OrderTotals{
			Subtotal:       d.Totals.Subtotal,
			ShippingTotal:  d.Totals.ShippingTotal,
			TaxTotal:       d.Totals.TaxTotal,
			CouponDiscount: d.Totals.CouponDiscount,
			TotalAmount:    d.Totals.TotalAmount,
		},
		PaymentMethod: d.PaymentMethod,
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		Notifications: domain.NotificationFlags{
			ConfirmationSent: d.Notifications.ConfirmationSent,
			ShippedSent:      d.Notifications.ShippedSent,
			DeliveredSent:    d.Notifications.DeliveredSent,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Image:          item.Image,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			SelectedSize:   item.SelectedSize,
			SelectedColor:  item.SelectedColor,
			ShippingAmount: item.ShippingAmount,
			TaxAmount:      item.TaxAmount,
		})
	}
	for _, entry := range d.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status: domain.OrderStatus(entry.Status),
			Note:   entry.Note,
			Actor:  entry.Actor,
			At:     entry.At,
		})
	}
	if d.PaymentDetails != nil {
		details := domain.PaymentDetails{
			Provider:         d.PaymentDetails.Provider,
			GatewayOrderID:   d.PaymentDetails.GatewayOrderID,
			GatewayPaymentID: d.PaymentDetails.GatewayPaymentID,
			Signature:        d.PaymentDetails.Signature,
		}
		if d.PaymentDetails.VerifiedAt != nil {
			value := *d.PaymentDetails.VerifiedAt
			details.VerifiedAt = &value
		}
		order.PaymentDetails = &details
	}
	if d.Coupon != nil {
		order.Coupon = &domain.CouponDetails{
			Code:          d.Coupon.Code,
			DiscountType:  domain.CouponDiscountType(d.Coupon.DiscountType),
			DiscountValue: d.Coupon.DiscountValue,
			Discount:      d.Coupon.Discount,
		}
	}
	if d.Tracking != nil {
		order.Tracking = &domain.TrackingDetails{
			Courier:     d.Tracking.Courier,
			TrackingID:  d.Tracking.TrackingID,
			TrackingURL: d.Tracking.TrackingURL,
			ShippedAt:   d.Tracking.ShippedAt,
		}
	}
	if d.DeliveredAt != nil {
		value := *d.DeliveredAt
		order.DeliveredAt = &value
	}
	if d.CancelledAt != nil {
		value := *d.CancelledAt
		order.CancelledAt = &value
	}
	return order
}
