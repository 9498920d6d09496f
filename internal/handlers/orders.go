package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/platform/auth"
	"github.com/merakistore/api/internal/platform/httpx"
	"github.com/merakistore/api/internal/platform/pagination"
	"github.com/merakistore/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers serves order placement, queries, and fulfillment transitions.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers wires the order service into HTTP routes.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers the owner-facing order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

// AdminRoutes registers admin-only order management endpoints.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Get("/", h.adminListOrders)
	r.Patch("/{orderID}/status", h.transitionStatus)
}

type orderContactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type orderLinePayload struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	Quantity       int64  `json:"quantity"`
	UnitPrice      int64  `json:"unitPrice"`
	SelectedSize   string `json:"selectedSize,omitempty"`
	SelectedColor  string `json:"selectedColor,omitempty"`
	ShippingAmount int64  `json:"shippingAmount"`
	TaxAmount      int64  `json:"taxAmount"`
}

type orderTotalsPayload struct {
	Subtotal       int64 `json:"subtotal"`
	ShippingTotal  int64 `json:"shippingTotal"`
	TaxTotal       int64 `json:"taxTotal"`
	CouponDiscount int64 `json:"couponDiscount,omitempty"`
	TotalAmount    int64 `json:"totalAmount"`
}

type trackingPayload struct {
	Courier     string `json:"courier"`
	TrackingID  string `json:"trackingId"`
	TrackingURL string `json:"trackingUrl,omitempty"`
	ShippedAt   string `json:"shippedAt,omitempty"`
}

type couponDetailsPayload struct {
	Code          string `json:"code"`
	DiscountType  string `json:"discountType"`
	DiscountValue int64  `json:"discountValue"`
	Discount      int64  `json:"discount"`
}

type statusHistoryPayload struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
	Actor  string `json:"actor,omitempty"`
	At     string `json:"at"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	UserID          string                 `json:"userId"`
	PricingRole     string                 `json:"pricingRole,omitempty"`
	Contact         orderContactPayload    `json:"contact"`
	ShippingAddress addressPayload         `json:"shippingAddress"`
	Currency        string                 `json:"currency"`
	Items           []orderLinePayload     `json:"items"`
	Totals          orderTotalsPayload     `json:"totals"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Status          string                 `json:"status"`
	PaymentStatus   string                 `json:"paymentStatus"`
	Coupon          *couponDetailsPayload  `json:"coupon,omitempty"`
	Tracking        *trackingPayload       `json:"tracking,omitempty"`
	StatusHistory   []statusHistoryPayload `json:"statusHistory,omitempty"`
	DeliveredAt     string                 `json:"deliveredAt,omitempty"`
	CancelledAt     string                 `json:"cancelledAt,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt,omitempty"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type createOrderRequest struct {
	Contact         orderContactPayload `json:"contact"`
	ShippingAddress addressPayload      `json:"shippingAddress"`
	PaymentMethod   string              `json:"paymentMethod"`
	CouponCode      string              `json:"couponCode"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type transitionOrderRequest struct {
	Status   string `json:"status"`
	Note     string `json:"note"`
	Tracking *struct {
		Courier     string `json:"courier"`
		TrackingID  string `json:"trackingId"`
		TrackingURL string `json:"trackingUrl"`
	} `json:"tracking"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), services.CreateOrderCommand{
		UserID: identity.UID,
		Role:   identity.PricingRole(),
		Contact: services.OrderContact{
			Name:  req.Contact.Name,
			Email: req.Contact.Email,
			Phone: req.Contact.Phone,
		},
		ShippingAddress: services.Address{
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		PaymentMethod: req.PaymentMethod,
		CouponCode:    req.CouponCode,
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	h.serveOrderList(w, r, identity.UID, false)
}

func (h *OrderHandlers) adminListOrders(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	h.serveOrderList(w, r, userID, true)
}

func (h *OrderHandlers) serveOrderList(w http.ResponseWriter, r *http.Request, userID string, admin bool) {
	ctx := r.Context()

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: 50,
		MaxPageSize:     100,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	var statuses []string
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			if status = strings.TrimSpace(status); status != "" {
				statuses = append(statuses, status)
			}
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		UserID: userID,
		Admin:  admin,
		Status: statuses,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	resp := orderListResponse{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Orders = append(resp.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), services.OrderQuery{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		Admin:   identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(w, r, err)
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req transitionOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cmd := services.TransitionOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Target:  req.Status,
		Note:    req.Note,
		Actor:   identity.UID,
	}
	if req.Tracking != nil {
		cmd.Tracking = &services.TrackingDetails{
			Courier:     req.Tracking.Courier,
			TrackingID:  req.Tracking.TrackingID,
			TrackingURL: req.Tracking.TrackingURL,
		}
	}

	order, err := h.orders.TransitionStatus(r.Context(), cmd)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		PricingRole: order.PricingRole,
		Contact: orderContactPayload{
			Name:  order.Contact.Name,
			Email: order.Contact.Email,
			Phone: order.Contact.Phone,
		},
		ShippingAddress: addressPayload{
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		Currency: order.Currency,
		Items:    make([]orderLinePayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal:       order.Totals.Subtotal,
			ShippingTotal:  order.Totals.ShippingTotal,
			TaxTotal:       order.Totals.TaxTotal,
			CouponDiscount: order.Totals.CouponDiscount,
			TotalAmount:    order.Totals.TotalAmount,
		},
		PaymentMethod: order.PaymentMethod,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		DeliveredAt:   formatTimePtr(order.DeliveredAt),
		CancelledAt:   formatTimePtr(order.CancelledAt),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderLinePayload{
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
	if order.Coupon != nil {
		payload.Coupon = &couponDetailsPayload{
			Code:          order.Coupon.Code,
			DiscountType:  string(order.Coupon.DiscountType),
			DiscountValue: order.Coupon.DiscountValue,
			Discount:      order.Coupon.Discount,
		}
	}
	if order.Tracking != nil {
		payload.Tracking = &trackingPayload{
			Courier:     order.Tracking.Courier,
			TrackingID:  order.Tracking.TrackingID,
			TrackingURL: order.Tracking.TrackingURL,
			ShippedAt:   formatTime(order.Tracking.ShippedAt),
		}
	}
	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusHistoryPayload{
			Status: string(entry.Status),
			Note:   entry.Note,
			Actor:  entry.Actor,
			At:     formatTime(entry.At),
		})
	}
	return payload
}

func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to order", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnsupportedPayment):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_payment_method", "payment method is not supported", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderCouponNotAllowed):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_allowed", "coupons are not available for this account", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you do not have access to this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderProductGone):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "a product in the order is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "orders are temporarily unavailable", http.StatusServiceUnavailable))
	case isCouponError(err):
		writeCouponError(w, r, err)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func isCouponError(err error) bool {
	for _, sentinel := range []error{
		services.ErrCouponInvalidInput,
		services.ErrCouponNotFound,
		services.ErrCouponInactive,
		services.ErrCouponNotStarted,
		services.ErrCouponExpired,
		services.ErrCouponMinOrder,
		services.ErrCouponNotApplicable,
		services.ErrCouponExhausted,
		services.ErrCouponUnavailable,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
