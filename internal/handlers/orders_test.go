package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/platform/auth"
	"github.com/merakistore/api/internal/services"
)

type stubOrderService struct {
	createFn     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFn        func(ctx context.Context, query services.OrderQuery) (services.Order, error)
	listFn       func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	transitionFn func(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, services.ErrOrderInvalidInput
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.OrderQuery) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func sampleOrder() services.Order {
	return services.Order{
		ID:          "order-1",
		OrderNumber: "MS-2025-000042",
		UserID:      "user-7",
		PricingRole: "retail",
		Contact:     services.OrderContact{Name: "Asha Rao", Email: "asha@example.com"},
		ShippingAddress: services.Address{
			Line1:      "14 MG Road",
			City:       "Bengaluru",
			State:      "Karnataka",
			PostalCode: "560001",
			Country:    "IN",
		},
		Currency: "INR",
		Items: []services.OrderLineItem{
			{ProductID: "prod-1", Name: "Block Print Kurta", Quantity: 2, UnitPrice: 150000},
		},
		Totals: services.OrderTotals{
			Subtotal:      300000,
			ShippingTotal: 4900,
			TotalAmount:   304900,
		},
		PaymentMethod: "razorpay",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

func newOrderRouter(orders services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, orders)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	router.Route("/admin/orders", handler.AdminRoutes)
	return router
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			if cmd.UserID != "user-7" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.Contact.Name != "Asha Rao" || cmd.ShippingAddress.City != "Bengaluru" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			if cmd.PaymentMethod != "razorpay" || cmd.CouponCode != "WELCOME10" {
				t.Fatalf("unexpected payment fields %+v", cmd)
			}
			return sampleOrder(), nil
		},
	}

	router := newOrderRouter(orders)

	body := `{
		"contact":{"name":"Asha Rao","email":"asha@example.com"},
		"shippingAddress":{"line1":"14 MG Road","city":"Bengaluru","state":"Karnataka","postalCode":"560001","country":"IN"},
		"paymentMethod":"razorpay",
		"couponCode":"WELCOME10"
	}`
	req := authedRequest(http.MethodPost, "/orders", body, "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	var resp orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.OrderNumber != "MS-2025-000042" {
		t.Fatalf("expected order number MS-2025-000042, got %q", resp.OrderNumber)
	}
	if resp.Totals.TotalAmount != 304900 {
		t.Fatalf("expected total 304900, got %d", resp.Totals.TotalAmount)
	}
}

func TestOrderHandlersCreateOrderEmptyCart(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderEmptyCart
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodPost, "/orders", `{"paymentMethod":"razorpay"}`, "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderInsufficientStock(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInsufficientStock
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodPost, "/orders", `{"paymentMethod":"razorpay"}`, "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderCouponExhausted(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrCouponExhausted
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodPost, "/orders", `{"paymentMethod":"razorpay","couponCode":"WELCOME10"}`, "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderCouponNotAllowed(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderCouponNotAllowed
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodPost, "/orders", `{"paymentMethod":"razorpay","couponCode":"WELCOME10"}`, "user-7", auth.RoleReseller)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	orders := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			if query.UserID != "user-7" || query.Admin {
				t.Fatalf("expected owner-scoped query, got %+v", query)
			}
			if len(query.Status) != 2 || query.Status[0] != "pending" || query.Status[1] != "shipped" {
				t.Fatalf("unexpected status filter %v", query.Status)
			}
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodGet, "/orders?status=pending,shipped", "", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(resp.Orders))
	}
}

func TestOrderHandlersAdminListOrdersScopesByQuery(t *testing.T) {
	orders := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			if !query.Admin {
				t.Fatalf("expected admin query")
			}
			if query.UserID != "user-9" {
				t.Fatalf("expected userId filter user-9, got %q", query.UserID)
			}
			return domain.CursorPage[services.Order]{}, nil
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodGet, "/admin/orders?userId=user-9", "", "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, query services.OrderQuery) (services.Order, error) {
			if query.OrderID != "order-1" || query.UserID != "user-7" || query.Admin {
				t.Fatalf("unexpected query %+v", query)
			}
			return sampleOrder(), nil
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodGet, "/orders/order-1", "", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderForbidden(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(context.Context, services.OrderQuery) (services.Order, error) {
			return services.Order{}, services.ErrOrderForbidden
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodGet, "/orders/order-1", "", "user-8")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderAdminFlag(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, query services.OrderQuery) (services.Order, error) {
			if !query.Admin {
				t.Fatalf("expected admin flag for admin identity")
			}
			return sampleOrder(), nil
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodGet, "/orders/order-1", "", "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.OrderID != "order-1" || cmd.Reason != "changed my mind" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodPost, "/orders/order-1/cancel", `{"reason":"changed my mind"}`, "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "cancelled" {
		t.Fatalf("expected cancelled status, got %q", resp.Status)
	}
}

func TestOrderHandlersCancelOrderWithoutBody(t *testing.T) {
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "" {
				t.Fatalf("expected empty reason, got %q", cmd.Reason)
			}
			return sampleOrder(), nil
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodPost, "/orders/order-1/cancel", "", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelAfterShipping(t *testing.T) {
	orders := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidTransition
		},
	}

	router := newOrderRouter(orders)

	req := authedRequest(http.MethodPost, "/orders/order-1/cancel", "", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitionStatus(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.TransitionOrderCommand) (services.Order, error) {
			if cmd.OrderID != "order-1" || cmd.Target != "shipped" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			if cmd.Actor != "admin-1" {
				t.Fatalf("expected actor admin-1, got %q", cmd.Actor)
			}
			if cmd.Tracking == nil || cmd.Tracking.Courier != "Delhivery" || cmd.Tracking.TrackingID != "DL123" {
				t.Fatalf("unexpected tracking %+v", cmd.Tracking)
			}
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			order.Tracking = &services.TrackingDetails{
				Courier:    "Delhivery",
				TrackingID: "DL123",
				ShippedAt:  time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC),
			}
			return order, nil
		},
	}

	router := newOrderRouter(orders)

	body := `{"status":"shipped","tracking":{"courier":"Delhivery","trackingId":"DL123"}}`
	req := authedRequest(http.MethodPatch, "/admin/orders/order-1/status", body, "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp orderPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "shipped" {
		t.Fatalf("expected shipped status, got %q", resp.Status)
	}
	if resp.Tracking == nil || resp.Tracking.TrackingID != "DL123" {
		t.Fatalf("unexpected tracking payload %+v", resp.Tracking)
	}
}

func TestOrderHandlersTransitionInvalid(t *testing.T) {
	orders := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidTransition
		},
	}

	router := newOrderRouter(orders)

	body := `{"status":"delivered"}`
	req := authedRequest(http.MethodPatch, "/admin/orders/order-1/status", body, "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}
