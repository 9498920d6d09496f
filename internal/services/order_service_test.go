package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/repositories"
)

type stubOrderRepository struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	placeFn  func(repositories.OrderPlacementRequest) error
	placed   []repositories.OrderPlacementRequest
	updates  []domain.Order
	updateFn func(domain.Order) error
	listFn   func(repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Place(_ context.Context, req repositories.OrderPlacementRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, req)
	if s.placeFn != nil {
		if err := s.placeFn(req); err != nil {
			return err
		}
	}
	if s.orders == nil {
		s.orders = map[string]domain.Order{}
	}
	s.orders[req.Order.ID] = req.Order
	return nil
}

func (s *stubOrderRepository) Insert(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orders == nil {
		s.orders = map[string]domain.Order{}
	}
	s.orders[order.ID] = order
	return nil
}

func (s *stubOrderRepository) Update(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateFn != nil {
		if err := s.updateFn(order); err != nil {
			return err
		}
	}
	if s.orders == nil {
		s.orders = map[string]domain.Order{}
	}
	s.orders[order.ID] = order
	s.updates = append(s.updates, order)
	return nil
}

func (s *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{message: "order missing", notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCouponService struct {
	quoteFn  func(ValidateCouponCommand) (CouponQuote, error)
	redeemFn func(code string) (domain.Coupon, error)
	redeemed []string
	released []string
}

func (s *stubCouponService) Validate(_ context.Context, cmd ValidateCouponCommand) (Coupon, error) {
	quote, err := s.Quote(context.Background(), cmd)
	return quote.Coupon, err
}

func (s *stubCouponService) Quote(_ context.Context, cmd ValidateCouponCommand) (CouponQuote, error) {
	if s.quoteFn != nil {
		return s.quoteFn(cmd)
	}
	return CouponQuote{}, ErrCouponNotFound
}

func (s *stubCouponService) Redeem(_ context.Context, code string) (Coupon, error) {
	s.redeemed = append(s.redeemed, code)
	if s.redeemFn != nil {
		return s.redeemFn(code)
	}
	return Coupon{Code: code}, nil
}

func (s *stubCouponService) Release(_ context.Context, code string) error {
	s.released = append(s.released, code)
	return nil
}

func (s *stubCouponService) CreateCoupon(context.Context, UpsertCouponCommand) (Coupon, error) {
	return Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) UpdateCoupon(context.Context, UpsertCouponCommand) (Coupon, error) {
	return Coupon{}, errors.New("not implemented")
}

func (s *stubCouponService) ListCoupons(context.Context, CouponListQuery) (domain.CursorPage[Coupon], error) {
	return domain.CursorPage[Coupon]{}, errors.New("not implemented")
}

type stubCounterService struct {
	orderNumber string
	err         error
}

func (s *stubCounterService) NextOrderNumber(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.orderNumber == "" {
		return "MS-2025-000001", nil
	}
	return s.orderNumber, nil
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (s *stubEventPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.err != nil {
		return "", s.err
	}
	return "msg-1", nil
}

type orderFixture struct {
	svc       OrderService
	orders    *stubOrderRepository
	carts     *stubCartRepository
	products  *stubProductRepository
	coupons   *stubCouponService
	publisher *stubEventPublisher
	now       time.Time
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders:    &stubOrderRepository{},
		carts:     &stubCartRepository{},
		products:  &stubProductRepository{},
		coupons:   &stubCouponService{},
		publisher: &stubEventPublisher{},
		now:       time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    f.orders,
		Carts:     f.carts,
		Products:  f.products,
		Coupons:   f.coupons,
		Counters:  &stubCounterService{orderNumber: "MS-2025-000042"},
		Publisher: f.publisher,
		Clock:     fixedClock(f.now),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.svc = svc
	return f
}

func (f *orderFixture) seedCart(t *testing.T, items ...domain.CartItem) {
	t.Helper()
	f.carts.mu.Lock()
	defer f.carts.mu.Unlock()
	if f.carts.carts == nil {
		f.carts.carts = map[string]domain.Cart{}
	}
	f.carts.carts["user-1"] = domain.Cart{
		ID: "user-1", UserID: "user-1", Currency: "INR", Items: items,
		UpdatedAt: f.now,
	}
}

func validCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID:        "user-1",
		PaymentMethod: "razorpay",
		Contact:       domain.OrderContact{Name: "Asha Rao", Email: "asha@example.com"},
		ShippingAddress: domain.Address{
			Line1: "14 MG Road", City: "Bengaluru", PostalCode: "560001", Country: "IN",
		},
	}
}

func TestOrderServiceCreateOrderFreezesCart(t *testing.T) {
	f := newOrderFixture(t)
	f.products.products = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Brass Diya", Price: 20000, Stock: 50, Retail: domain.RoleRates{ShippingCost: 4000}},
	}
	f.seedCart(t, domain.CartItem{ID: "line-1", ProductID: "prod-1", Quantity: 3})

	order, err := f.svc.CreateOrder(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.OrderNumber != "MS-2025-000042" {
		t.Fatalf("expected assigned order number, got %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending/pending, got %s/%s", order.Status, order.PaymentStatus)
	}
	if len(order.Items) != 1 || order.Items[0].UnitPrice != 20000 {
		t.Fatalf("expected frozen line at 20000, got %+v", order.Items)
	}
	if order.Totals.Subtotal != 60000 || order.Totals.ShippingTotal != 4000 {
		t.Fatalf("unexpected totals %+v", order.Totals)
	}
	if order.Totals.TotalAmount != 64000 {
		t.Fatalf("expected total 64000, got %d", order.Totals.TotalAmount)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Note != "Order placed" {
		t.Fatalf("expected initial history entry, got %+v", order.StatusHistory)
	}

	if len(f.orders.placed) != 1 {
		t.Fatalf("expected one placement, got %d", len(f.orders.placed))
	}
	placement := f.orders.placed[0]
	if len(placement.Lines) != 1 || placement.Lines[0].ProductID != "prod-1" || placement.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected stock lines %+v", placement.Lines)
	}

	if len(f.carts.deletes) != 1 || f.carts.deletes[0] != "user-1" {
		t.Fatal("expected cart cleared after placement")
	}

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != OrderEventCreated {
		t.Fatalf("expected created event, got %+v", f.publisher.events)
	}
}

func TestOrderServiceCreateOrderRejectsCOD(t *testing.T) {
	f := newOrderFixture(t)
	cmd := validCreateCommand()
	cmd.PaymentMethod = "COD"

	if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderUnsupportedPayment) {
		t.Fatalf("expected unsupported payment, got %v", err)
	}
}

func TestOrderServiceCreateOrderEmptyCart(t *testing.T) {
	f := newOrderFixture(t)

	if _, err := f.svc.CreateOrder(context.Background(), validCreateCommand()); !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected empty cart, got %v", err)
	}

	f.seedCart(t)
	if _, err := f.svc.CreateOrder(context.Background(), validCreateCommand()); !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected empty cart for zero lines, got %v", err)
	}
}

func TestOrderServiceCreateOrderCouponNotAllowedForReseller(t *testing.T) {
	f := newOrderFixture(t)
	f.products.products = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Brass Diya", Price: 20000, WholesalePrice: 14000},
	}
	f.seedCart(t, domain.CartItem{ID: "line-1", ProductID: "prod-1", Quantity: 10})

	cmd := validCreateCommand()
	cmd.Role = domain.RoleReseller
	cmd.CouponCode = "WELCOME10"

	if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderCouponNotAllowed) {
		t.Fatalf("expected coupon not allowed, got %v", err)
	}
	if len(f.coupons.redeemed) != 0 {
		t.Fatal("expected no redemption attempt")
	}
}

func TestOrderServiceCreateOrderAppliesCoupon(t *testing.T) {
	f := newOrderFixture(t)
	f.products.products = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Brass Diya", Price: 20000},
	}
	f.seedCart(t, domain.CartItem{ID: "line-1", ProductID: "prod-1", Quantity: 5})
	f.coupons.quoteFn = func(cmd ValidateCouponCommand) (CouponQuote, error) {
		if cmd.CartTotal != 100000 {
			return CouponQuote{}, errors.New("unexpected cart total")
		}
		return CouponQuote{
			Coupon:   domain.Coupon{Code: "WELCOME10", DiscountType: domain.CouponDiscountPercentage, DiscountValue: 10},
			Discount: 10000,
		}, nil
	}

	cmd := validCreateCommand()
	cmd.CouponCode = "welcome10"

	order, err := f.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Totals.CouponDiscount != 10000 {
		t.Fatalf("expected discount 10000, got %d", order.Totals.CouponDiscount)
	}
	if order.Totals.TotalAmount != 90000 {
		t.Fatalf("expected total 90000, got %d", order.Totals.TotalAmount)
	}
	if order.Coupon == nil || order.Coupon.Code != "WELCOME10" {
		t.Fatalf("expected coupon snapshot, got %+v", order.Coupon)
	}
	if len(f.coupons.redeemed) != 1 || f.coupons.redeemed[0] != "WELCOME10" {
		t.Fatalf("expected one uppercase redemption, got %v", f.coupons.redeemed)
	}
}

func TestOrderServiceCreateOrderReleasesCouponWhenPlacementFails(t *testing.T) {
	f := newOrderFixture(t)
	f.products.products = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Brass Diya", Price: 20000},
	}
	f.seedCart(t, domain.CartItem{ID: "line-1", ProductID: "prod-1", Quantity: 5})
	f.coupons.quoteFn = func(ValidateCouponCommand) (CouponQuote, error) {
		return CouponQuote{
			Coupon:   domain.Coupon{Code: "FEST10", DiscountType: domain.CouponDiscountPercentage, DiscountValue: 10},
			Discount: 10000,
		}, nil
	}
	f.orders.placeFn = func(repositories.OrderPlacementRequest) error {
		return repositories.NewStockError(repositories.StockErrorInsufficient, "prod-1", "only 2 left", nil)
	}

	cmd := validCreateCommand()
	cmd.CouponCode = "fest10"

	if _, err := f.svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if len(f.coupons.redeemed) != 1 || f.coupons.redeemed[0] != "FEST10" {
		t.Fatalf("expected one redemption, got %v", f.coupons.redeemed)
	}
	if len(f.coupons.released) != 1 || f.coupons.released[0] != "FEST10" {
		t.Fatalf("expected the redeemed use returned, got %v", f.coupons.released)
	}
}

func TestOrderServiceCreateOrderMapsStockErrors(t *testing.T) {
	f := newOrderFixture(t)
	f.products.products = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Brass Diya", Price: 20000},
	}
	f.seedCart(t, domain.CartItem{ID: "line-1", ProductID: "prod-1", Quantity: 5})
	f.orders.placeFn = func(repositories.OrderPlacementRequest) error {
		return repositories.NewStockError(repositories.StockErrorInsufficient, "prod-1", "only 2 left", nil)
	}

	_, err := f.svc.CreateOrder(context.Background(), validCreateCommand())
	if !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "prod-1") {
		t.Fatalf("expected offending product in error, got %v", err)
	}

	f.orders.placeFn = func(repositories.OrderPlacementRequest) error {
		return repositories.NewStockError(repositories.StockErrorProductNotFound, "prod-1", "", nil)
	}
	if _, err := f.svc.CreateOrder(context.Background(), validCreateCommand()); !errors.Is(err, ErrOrderProductGone) {
		t.Fatalf("expected product gone, got %v", err)
	}
}

func TestOrderServiceGetOrderOwnership(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.Order{
		"order-1": {ID: "order-1", UserID: "user-1"},
	}
	ctx := context.Background()

	if _, err := f.svc.GetOrder(ctx, OrderQuery{OrderID: "order-1", UserID: "user-2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, OrderQuery{OrderID: "order-1", UserID: "user-2", Admin: true}); err != nil {
		t.Fatalf("expected admin access, got %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, OrderQuery{OrderID: "ghost", UserID: "user-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceListOrdersScopesNonAdmin(t *testing.T) {
	f := newOrderFixture(t)
	var captured repositories.OrderListFilter
	f.orders.listFn = func(filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
		captured = filter
		return domain.CursorPage[domain.Order]{}, nil
	}

	if _, err := f.svc.ListOrders(context.Background(), OrderListQuery{UserID: "user-1", Status: []string{"Pending", " SHIPPED "}}); err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected owner scope, got %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPending || captured.Status[1] != domain.OrderStatusShipped {
		t.Fatalf("expected normalised statuses, got %v", captured.Status)
	}

	if _, err := f.svc.ListOrders(context.Background(), OrderListQuery{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input without owner, got %v", err)
	}
}

func TestOrderServiceCancelOrderRestoresStock(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.Order{
		"order-1": {
			ID: "order-1", UserID: "user-1", Status: domain.OrderStatusPending,
			Items: []domain.OrderLineItem{{ProductID: "prod-1", Quantity: 3}},
		},
	}

	order, err := f.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "order-1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(f.now) {
		t.Fatalf("expected cancelled at %s, got %v", f.now, order.CancelledAt)
	}
	if len(order.StatusHistory) == 0 || order.StatusHistory[len(order.StatusHistory)-1].Note != "Order cancelled by customer" {
		t.Fatalf("expected default cancellation note, got %+v", order.StatusHistory)
	}

	if len(f.products.restoreCalls) != 1 {
		t.Fatalf("expected one stock restore, got %d", len(f.products.restoreCalls))
	}
	restored := f.products.restoreCalls[0]
	if len(restored.Lines) != 1 || restored.Lines[0].ProductID != "prod-1" || restored.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected restore lines %+v", restored.Lines)
	}

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != OrderEventCancelled {
		t.Fatalf("expected cancelled event, got %+v", f.publisher.events)
	}
}

func TestOrderServiceCancelOrderRestoresOnlyAfterStatusCommit(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.Order{
		"order-1": {
			ID: "order-1", UserID: "user-1", Status: domain.OrderStatusPending,
			Items: []domain.OrderLineItem{{ProductID: "prod-1", Quantity: 3}},
		},
	}
	f.orders.updateFn = func(domain.Order) error {
		return repoError{message: "write lost"}
	}

	if _, err := f.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "order-1", UserID: "user-1"}); !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable when the status write fails, got %v", err)
	}
	if len(f.products.restoreCalls) != 0 {
		t.Fatal("expected no stock restore before the cancelled status commits")
	}

	f.orders.updateFn = nil
	if _, err := f.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "order-1", UserID: "user-1"}); err != nil {
		t.Fatalf("retried cancel: %v", err)
	}
	if len(f.products.restoreCalls) != 1 {
		t.Fatalf("expected a single restore after commit, got %d", len(f.products.restoreCalls))
	}
}

func TestOrderServiceCancelOrderRejectedAfterShipping(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.Order{
		"order-1": {ID: "order-1", UserID: "user-1", Status: domain.OrderStatusShipped},
	}

	if _, err := f.svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "order-1", UserID: "user-1"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(f.products.restoreCalls) != 0 {
		t.Fatal("expected no stock restore on rejected cancel")
	}
}

func TestOrderServiceTransitionAllowList(t *testing.T) {
	cases := []struct {
		from    domain.OrderStatus
		to      domain.OrderStatus
		allowed bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusConfirmed, true},
		{domain.OrderStatusPending, domain.OrderStatusProcessing, true},
		{domain.OrderStatusPending, domain.OrderStatusDelivered, false},
		{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, true},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{domain.OrderStatusDelivered, domain.OrderStatusRefunded, true},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusRefunded, domain.OrderStatusPending, false},
	}
	for _, tc := range cases {
		if got := transitionAllowed(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestOrderServiceTransitionShippedRequiresTracking(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.Order{
		"order-1": {ID: "order-1", UserID: "user-1", Status: domain.OrderStatusProcessing},
	}
	ctx := context.Background()

	if _, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{OrderID: "order-1", Target: "shipped"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected tracking required, got %v", err)
	}

	order, err := f.svc.TransitionStatus(ctx, TransitionOrderCommand{
		OrderID:  "order-1",
		Target:   "shipped",
		Actor:    "admin-1",
		Tracking: &domain.TrackingDetails{Courier: "Delhivery", TrackingID: "DL123"},
	})
	if err != nil {
		t.Fatalf("transition to shipped: %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", order.Status)
	}
	if order.Tracking == nil || !order.Tracking.ShippedAt.Equal(f.now) {
		t.Fatalf("expected shipped at defaulted, got %+v", order.Tracking)
	}
	last := order.StatusHistory[len(order.StatusHistory)-1]
	if last.Note != "Status updated to shipped via Delhivery (DL123)" {
		t.Fatalf("unexpected history note %q", last.Note)
	}
}

func TestOrderServiceTransitionDeliveredCompletesPayment(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.Order{
		"order-1": {ID: "order-1", UserID: "user-1", Status: domain.OrderStatusShipped, PaymentStatus: domain.PaymentStatusInitiated},
	}

	order, err := f.svc.TransitionStatus(context.Background(), TransitionOrderCommand{OrderID: "order-1", Target: "delivered", Actor: "admin-1"})
	if err != nil {
		t.Fatalf("transition to delivered: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected payment completed, got %s", order.PaymentStatus)
	}
	if order.DeliveredAt == nil || !order.DeliveredAt.Equal(f.now) {
		t.Fatalf("expected delivered at %s, got %v", f.now, order.DeliveredAt)
	}
}

func TestOrderServiceTransitionCancelledRestoresStock(t *testing.T) {
	f := newOrderFixture(t)
	f.orders.orders = map[string]domain.Order{
		"order-1": {
			ID: "order-1", UserID: "user-1", Status: domain.OrderStatusConfirmed,
			Items: []domain.OrderLineItem{{ProductID: "prod-1", Quantity: 2}},
		},
	}

	order, err := f.svc.TransitionStatus(context.Background(), TransitionOrderCommand{OrderID: "order-1", Target: "cancelled", Actor: "admin-1"})
	if err != nil {
		t.Fatalf("transition to cancelled: %v", err)
	}
	if order.CancelledAt == nil {
		t.Fatal("expected cancelled at set")
	}
	if len(f.products.restoreCalls) != 1 {
		t.Fatalf("expected stock restored, got %d calls", len(f.products.restoreCalls))
	}
}

func TestOrderServicePublishFailureDoesNotSurface(t *testing.T) {
	f := newOrderFixture(t)
	f.publisher.err = errors.New("broker down")
	f.products.products = map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Brass Diya", Price: 20000},
	}
	f.seedCart(t, domain.CartItem{ID: "line-1", ProductID: "prod-1", Quantity: 1})

	if _, err := f.svc.CreateOrder(context.Background(), validCreateCommand()); err != nil {
		t.Fatalf("expected publish failure swallowed, got %v", err)
	}
}
