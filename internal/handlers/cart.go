package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/platform/auth"
	"github.com/merakistore/api/internal/platform/httpx"
	"github.com/merakistore/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers serves the authenticated cart surface.
type CartHandlers struct {
	authn   *auth.Authenticator
	cart    services.CartService
	coupons services.CouponService
}

// NewCartHandlers wires the cart and coupon services into HTTP routes.
func NewCartHandlers(authn *auth.Authenticator, cart services.CartService, coupons services.CouponService) *CartHandlers {
	return &CartHandlers{authn: authn, cart: cart, coupons: coupons}
}

// Routes registers the cart endpoints. All routes require authentication.
func (h *CartHandlers) Routes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/merge", h.mergeCart)
	r.Post("/coupon/preview", h.previewCoupon)
}

type cartItemPayload struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	Quantity       int64  `json:"quantity"`
	UnitPrice      int64  `json:"unitPrice"`
	SelectedSize   string `json:"selectedSize,omitempty"`
	SelectedColor  string `json:"selectedColor,omitempty"`
	ShippingAmount int64  `json:"shippingAmount"`
	TaxAmount      int64  `json:"taxAmount"`
	LineTotal      int64  `json:"lineTotal"`
}

type cartTotalsPayload struct {
	Subtotal      int64 `json:"subtotal"`
	ShippingTotal int64 `json:"shippingTotal"`
	TaxTotal      int64 `json:"taxTotal"`
	TotalAmount   int64 `json:"totalAmount"`
	TotalItems    int64 `json:"totalItems"`
}

type cartPayload struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Currency  string            `json:"currency"`
	Items     []cartItemPayload `json:"items"`
	Totals    cartTotalsPayload `json:"totals"`
	UpdatedAt string            `json:"updatedAt,omitempty"`
}

type addItemRequest struct {
	ProductID     string `json:"productId"`
	Quantity      int64  `json:"quantity"`
	SelectedSize  string `json:"selectedSize"`
	SelectedColor string `json:"selectedColor"`
}

type updateItemRequest struct {
	Quantity int64 `json:"quantity"`
}

type mergeCartRequest struct {
	Items []addItemRequest `json:"items"`
}

type previewCouponRequest struct {
	Code string `json:"code"`
}

type previewCouponResponse struct {
	Code         string `json:"code"`
	DiscountType string `json:"discountType"`
	Discount     int64  `json:"discount"`
	CartTotal    int64  `json:"cartTotal"`
	PayableTotal int64  `json:"payableTotal"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	cart, err := h.cart.GetOrCreateCart(r.Context(), services.CartQuery{
		UserID: identity.UID,
		Role:   identity.PricingRole(),
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.cart.Clear(r.Context(), identity.UID); err != nil {
		writeCartError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cart, err := h.cart.AddItem(r.Context(), services.AddCartItemCommand{
		UserID:        identity.UID,
		Role:          identity.PricingRole(),
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		SelectedSize:  req.SelectedSize,
		SelectedColor: req.SelectedColor,
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cart, err := h.cart.UpdateItem(r.Context(), services.UpdateCartItemCommand{
		UserID:   identity.UID,
		Role:     identity.PricingRole(),
		ItemID:   chi.URLParam(r, "itemID"),
		Quantity: req.Quantity,
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.cart.RemoveItem(r.Context(), services.RemoveCartItemCommand{
		UserID: identity.UID,
		Role:   identity.PricingRole(),
		ItemID: chi.URLParam(r, "itemID"),
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) mergeCart(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req mergeCartRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cmd := services.MergeCartCommand{
		UserID: identity.UID,
		Role:   identity.PricingRole(),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.MergeCartLine{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			SelectedSize:  item.SelectedSize,
			SelectedColor: item.SelectedColor,
		})
	}

	cart, err := h.cart.Merge(r.Context(), cmd)
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(cart))
}

func (h *CartHandlers) previewCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req previewCouponRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cart, err := h.cart.GetOrCreateCart(ctx, services.CartQuery{
		UserID: identity.UID,
		Role:   identity.PricingRole(),
	})
	if err != nil {
		writeCartError(w, r, err)
		return
	}
	if len(cart.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to apply a coupon to", http.StatusBadRequest))
		return
	}
	if !domain.PolicyForRole(identity.PricingRole()).CouponsAllowed() {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_allowed", "coupons do not apply to wholesale pricing", http.StatusForbidden))
		return
	}

	lines := make([]services.CouponLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, services.CouponLine{
			ProductID: item.ProductID,
			Amount:    item.UnitPrice * item.Quantity,
		})
	}

	// Quoted against the merchandise subtotal, the same base order
	// placement uses.
	quote, err := h.coupons.Quote(ctx, services.ValidateCouponCommand{
		Code:      req.Code,
		CartTotal: cart.Totals.Subtotal,
		Lines:     lines,
	})
	if err != nil {
		writeCouponError(w, r, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, previewCouponResponse{
		Code:         quote.Coupon.Code,
		DiscountType: string(quote.Coupon.DiscountType),
		Discount:     quote.Discount,
		CartTotal:    cart.Totals.TotalAmount,
		PayableTotal: cart.Totals.TotalAmount - quote.Discount,
	})
}

func buildCartPayload(cart domain.Cart) cartPayload {
	payload := cartPayload{
		ID:       cart.ID,
		UserID:   cart.UserID,
		Currency: cart.Currency,
		Items:    make([]cartItemPayload, 0, len(cart.Items)),
		Totals: cartTotalsPayload{
			Subtotal:      cart.Totals.Subtotal,
			ShippingTotal: cart.Totals.ShippingTotal,
			TaxTotal:      cart.Totals.TaxTotal,
			TotalAmount:   cart.Totals.TotalAmount,
			TotalItems:    cart.Totals.TotalItems,
		},
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			Image:          item.Image,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			SelectedSize:   item.SelectedSize,
			SelectedColor:  item.SelectedColor,
			ShippingAmount: item.ShippingAmount,
			TaxAmount:      item.TaxAmount,
			LineTotal:      item.UnitPrice*item.Quantity + item.ShippingAmount + item.TaxAmount,
		})
	}
	return payload
}

func writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductGone):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "a product in the cart is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "requested quantity exceeds available stock", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart was modified concurrently, retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
