package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/repositories"
)

// ErrOrderInvalidInput indicates the caller supplied invalid order data.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderForbidden indicates the caller does not own the order.
var ErrOrderForbidden = errors.New("order service: forbidden")

// ErrOrderEmptyCart indicates the caller's cart has no lines to order.
var ErrOrderEmptyCart = errors.New("order service: cart is empty")

// ErrOrderUnsupportedPayment indicates the requested payment method is not accepted.
var ErrOrderUnsupportedPayment = errors.New("order service: unsupported payment method")

// ErrOrderCouponNotAllowed indicates the caller's pricing role excludes coupons.
var ErrOrderCouponNotAllowed = errors.New("order service: coupons not available for this account")

// ErrOrderInsufficientStock indicates at least one line exceeds available stock.
var ErrOrderInsufficientStock = errors.New("order service: insufficient stock")

// ErrOrderProductGone indicates a cart line references a product that no longer exists.
var ErrOrderProductGone = errors.New("order service: product no longer available")

// ErrOrderInvalidTransition indicates the requested status change is not in
// the allow-list for the order's current status.
var ErrOrderInvalidTransition = errors.New("order service: invalid status transition")

// ErrOrderUnavailable indicates the order backend cannot fulfil the request.
var ErrOrderUnavailable = errors.New("order service: unavailable")

const publishTimeout = 5 * time.Second

// orderTransitions is the allow-list of fulfillment moves. Anything absent
// is rejected.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps wires the collaborators for order assembly and fulfillment.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Coupons     CouponService
	Counters    CounterService
	Publisher   OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	coupons   CouponService
	counters  CounterService
	publisher OrderEventPublisher
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
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
	return &orderService{
		orders:    deps.Orders,
		carts:     deps.Carts,
		products:  deps.Products,
		coupons:   deps.Coupons,
		counters:  deps.Counters,
		publisher: deps.Publisher,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// CreateOrder assembles an order from the caller's cart. The order document
// and every stock decrement commit in one transaction, so a failed stock
// check leaves nothing behind.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	if err := validateOrderInput(cmd); err != nil {
		return Order{}, err
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderEmptyCart
		}
		return Order{}, ErrOrderUnavailable
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrOrderEmptyCart
	}

	policy := domain.PolicyForRole(cmd.Role)
	now := s.now()

	lines, totals, stockLines, err := s.freezeLines(ctx, cart.Items, policy, now)
	if err != nil {
		return Order{}, err
	}

	orderNumber, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, ErrOrderUnavailable
	}

	var couponDetails *domain.CouponDetails
	couponCode := strings.ToUpper(strings.TrimSpace(cmd.CouponCode))
	if couponCode != "" {
		if !policy.CouponsAllowed() {
			return Order{}, ErrOrderCouponNotAllowed
		}
		if s.coupons == nil {
			return Order{}, ErrOrderUnavailable
		}
		couponLines := make([]CouponLine, 0, len(lines))
		for _, line := range lines {
			couponLines = append(couponLines, CouponLine{
				ProductID: line.ProductID,
				Amount:    line.UnitPrice * line.Quantity,
			})
		}
		quote, err := s.coupons.Quote(ctx, ValidateCouponCommand{
			Code:      couponCode,
			CartTotal: totals.Subtotal,
			Lines:     couponLines,
		})
		if err != nil {
			return Order{}, err
		}
		if _, err := s.coupons.Redeem(ctx, couponCode); err != nil {
			return Order{}, err
		}
		totals.CouponDiscount = quote.Discount
		couponDetails = &domain.CouponDetails{
			Code:          quote.Coupon.Code,
			DiscountType:  quote.Coupon.DiscountType,
			DiscountValue: quote.Coupon.DiscountValue,
			Discount:      quote.Discount,
		}
	}

	totals.TotalAmount = totals.Subtotal + totals.ShippingTotal + totals.TaxTotal - totals.CouponDiscount
	if totals.TotalAmount < 0 {
		totals.TotalAmount = 0
	}

	order := Order{
		ID:              s.newID(),
		OrderNumber:     orderNumber,
		UserID:          userID,
		PricingRole:     policy.Role(),
		Contact:         cmd.Contact,
		ShippingAddress: cmd.ShippingAddress,
		Currency:        cart.Currency,
		Items:           lines,
		Totals:          totals,
		PaymentMethod:   strings.ToLower(strings.TrimSpace(cmd.PaymentMethod)),
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Coupon:          couponDetails,
		StatusHistory: []domain.StatusHistoryEntry{{
			Status: domain.OrderStatusPending,
			Note:   "Order placed",
			Actor:  userID,
			At:     now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Place(ctx, repositories.OrderPlacementRequest{
		Order: order,
		Lines: stockLines,
		Now:   now,
	}); err != nil {
		if couponDetails != nil {
			// The redeem committed before placement; hand the use back.
			if releaseErr := s.coupons.Release(ctx, couponCode); releaseErr != nil {
				s.logger(ctx, "order.coupon_release_failed", map[string]any{
					"code":  couponCode,
					"error": releaseErr.Error(),
				})
			}
		}
		return Order{}, s.translateStockError(err)
	}

	if err := s.carts.DeleteCart(ctx, userID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "order.cart_cleanup_failed", map[string]any{
			"orderId": order.ID,
			"userId":  userID,
			"error":   err.Error(),
		})
	}

	s.publish(ctx, OrderEvent{
		Type:          OrderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Totals.TotalAmount,
		Currency:      order.Currency,
		OccurredAt:    now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, ErrOrderUnavailable
	}
	if !query.Admin && order.UserID != strings.TrimSpace(query.UserID) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}

	filter := repositories.OrderListFilter{Pagination: query.Pagination}
	if !query.Admin {
		userID := strings.TrimSpace(query.UserID)
		if userID == "" {
			return domain.CursorPage[Order]{}, ErrOrderInvalidInput
		}
		filter.UserID = userID
	} else {
		filter.UserID = strings.TrimSpace(query.UserID)
	}
	for _, status := range query.Status {
		if trimmed := strings.TrimSpace(strings.ToLower(status)); trimmed != "" {
			filter.Status = append(filter.Status, domain.OrderStatus(trimmed))
		}
	}
	if filter.Pagination.PageSize <= 0 {
		filter.Pagination.PageSize = 50
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	return page, nil
}

// CancelOrder cancels an order on behalf of its owner and restores the stock
// the order had claimed.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	order, err := s.GetOrder(ctx, OrderQuery{OrderID: cmd.OrderID, UserID: cmd.UserID})
	if err != nil {
		return Order{}, err
	}
	if !transitionAllowed(order.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: cannot cancel a %s order", ErrOrderInvalidTransition, order.Status)
	}

	now := s.now()
	note := strings.TrimSpace(cmd.Reason)
	if note == "" {
		note = "Order cancelled by customer"
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
		Status: domain.OrderStatusCancelled,
		Note:   note,
		Actor:  strings.TrimSpace(cmd.UserID),
		At:     now,
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, ErrOrderUnavailable
	}

	// Restore only once the cancelled status has committed; a repeated
	// cancel is rejected by the transition check, so stock cannot be
	// returned twice. A failed restore is logged for reconciliation.
	_ = s.restoreStock(ctx, order, now)

	s.publish(ctx, OrderEvent{
		Type:          OrderEventCancelled,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Totals.TotalAmount,
		Currency:      order.Currency,
		OccurredAt:    now,
	})
	return order, nil
}

// TransitionStatus moves an order along the fulfillment allow-list on behalf
// of an administrator.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	target := domain.OrderStatus(strings.TrimSpace(strings.ToLower(cmd.Target)))
	if orderID == "" || target == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, ErrOrderUnavailable
	}
	if !transitionAllowed(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
	}

	now := s.now()
	note := strings.TrimSpace(cmd.Note)

	switch target {
	case domain.OrderStatusShipped:
		if cmd.Tracking == nil || strings.TrimSpace(cmd.Tracking.Courier) == "" || strings.TrimSpace(cmd.Tracking.TrackingID) == "" {
			return Order{}, fmt.Errorf("%w: shipping requires courier and tracking id", ErrOrderInvalidInput)
		}
		tracking := *cmd.Tracking
		tracking.Courier = strings.TrimSpace(tracking.Courier)
		tracking.TrackingID = strings.TrimSpace(tracking.TrackingID)
		tracking.TrackingURL = strings.TrimSpace(tracking.TrackingURL)
		if tracking.ShippedAt.IsZero() {
			tracking.ShippedAt = now
		}
		order.Tracking = &tracking
		if note == "" {
			note = fmt.Sprintf("Status updated to shipped via %s (%s)", tracking.Courier, tracking.TrackingID)
		}
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
		order.PaymentStatus = domain.PaymentStatusCompleted
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusRefunded:
		order.PaymentStatus = domain.PaymentStatusRefunded
	}

	if note == "" {
		note = fmt.Sprintf("Status updated to %s", target)
	}

	order.Status = target
	order.UpdatedAt = now
	order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
		Status: target,
		Note:   note,
		Actor:  strings.TrimSpace(cmd.Actor),
		At:     now,
	})

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, ErrOrderUnavailable
	}
	if target == domain.OrderStatusCancelled {
		// As in CancelOrder, the restore runs only after the cancelled
		// status has committed.
		_ = s.restoreStock(ctx, order, now)
	}

	s.publish(ctx, OrderEvent{
		Type:          OrderEventTransition,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Totals.TotalAmount,
		Currency:      order.Currency,
		OccurredAt:    now,
	})
	return order, nil
}

// freezeLines snapshots the cart lines at current catalog prices and builds
// the stock decrements the placement transaction will apply.
func (s *orderService) freezeLines(ctx context.Context, items []CartItem, policy domain.PricingPolicy, now time.Time) ([]OrderLineItem, OrderTotals, []repositories.StockLine, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, OrderTotals{}, nil, ErrOrderUnavailable
	}

	lines := make([]OrderLineItem, 0, len(items))
	stockLines := make([]repositories.StockLine, 0, len(items))
	var totals OrderTotals
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		product, ok := products[item.ProductID]
		if !ok {
			return nil, OrderTotals{}, nil, fmt.Errorf("%w: %s", ErrOrderProductGone, item.ProductID)
		}
		quote := policy.Quote(product, now)
		line := OrderLineItem{
			ProductID:      product.ID,
			Name:           product.Name,
			Image:          product.Image,
			Quantity:       item.Quantity,
			UnitPrice:      quote.UnitPrice,
			SelectedSize:   item.SelectedSize,
			SelectedColor:  item.SelectedColor,
			ShippingAmount: quote.ShippingCost,
			TaxAmount:      domain.PercentOf(quote.UnitPrice*item.Quantity, int64(quote.TaxPercentage)),
		}
		lines = append(lines, line)
		totals.Subtotal += line.UnitPrice * line.Quantity
		totals.ShippingTotal += line.ShippingAmount
		stockLines = append(stockLines, repositories.StockLine{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			ColorName: item.SelectedColor,
			Size:      item.SelectedSize,
		})
	}
	if len(lines) == 0 {
		return nil, OrderTotals{}, nil, ErrOrderEmptyCart
	}
	// Tax is computed per line but the order-level total stays zero under the
	// current tax policy.
	totals.TaxTotal = 0
	return lines, totals, stockLines, nil
}

func (s *orderService) restoreStock(ctx context.Context, order Order, now time.Time) error {
	lines := make([]repositories.StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, repositories.StockLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			ColorName: item.SelectedColor,
			Size:      item.SelectedSize,
		})
	}
	if err := s.products.RestoreStock(ctx, repositories.StockRestoreRequest{Lines: lines, Now: now}); err != nil {
		s.logger(ctx, "order.stock_restore_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return ErrOrderUnavailable
	}
	return nil
}

func (s *orderService) translateStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrOrderInsufficientStock, stockErr.ProductID)
		case repositories.StockErrorProductNotFound, repositories.StockErrorVariantNotFound:
			return fmt.Errorf("%w: %s", ErrOrderProductGone, stockErr.ProductID)
		}
		return ErrOrderUnavailable
	}
	if isRepoConflict(err) {
		return ErrOrderUnavailable
	}
	return ErrOrderUnavailable
}

// publish sends the event best-effort with its own timeout. Failures are
// logged, never surfaced to the caller.
func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.publisher == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, err := s.publisher.PublishOrderEvent(publishCtx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId":   event.OrderID,
			"eventType": event.Type,
			"error":     err.Error(),
		})
	}
}

func validateOrderInput(cmd CreateOrderCommand) error {
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if method == "" {
		return fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}
	if method == "cod" {
		return ErrOrderUnsupportedPayment
	}
	if strings.TrimSpace(cmd.Contact.Name) == "" || strings.TrimSpace(cmd.Contact.Email) == "" {
		return fmt.Errorf("%w: contact name and email are required", ErrOrderInvalidInput)
	}
	addr := cmd.ShippingAddress
	if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping address is incomplete", ErrOrderInvalidInput)
	}
	return nil
}
