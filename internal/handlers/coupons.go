package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/platform/auth"
	"github.com/merakistore/api/internal/platform/httpx"
	"github.com/merakistore/api/internal/platform/pagination"
	"github.com/merakistore/api/internal/services"
)

const maxCouponBodySize = 16 * 1024

// CouponHandlers serves admin coupon management.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
}

// NewCouponHandlers wires the coupon service into HTTP routes.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{authn: authn, coupons: coupons}
}

// AdminRoutes registers admin-only coupon endpoints.
func (h *CouponHandlers) AdminRoutes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Post("/", h.createCoupon)
	r.Get("/", h.listCoupons)
	r.Put("/{code}", h.updateCoupon)
}

type couponPayload struct {
	ID                 string   `json:"id"`
	Code               string   `json:"code"`
	DiscountType       string   `json:"discountType"`
	DiscountValue      int64    `json:"discountValue"`
	MaxDiscount        int64    `json:"maxDiscount,omitempty"`
	Scope              string   `json:"scope"`
	ApplicableProducts []string `json:"applicableProducts,omitempty"`
	MinOrderValue      int64    `json:"minOrderValue,omitempty"`
	StartDate          string   `json:"startDate,omitempty"`
	ExpirationDate     string   `json:"expirationDate"`
	IsActive           bool     `json:"isActive"`
	UsageLimit         int64    `json:"usageLimit,omitempty"`
	UsedCount          int64    `json:"usedCount"`
	CreatedAt          string   `json:"createdAt,omitempty"`
	UpdatedAt          string   `json:"updatedAt,omitempty"`
}

type couponListResponse struct {
	Coupons       []couponPayload `json:"coupons"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

type upsertCouponRequest struct {
	Code               string     `json:"code"`
	DiscountType       string     `json:"discountType"`
	DiscountValue      int64      `json:"discountValue"`
	MaxDiscount        int64      `json:"maxDiscount"`
	Scope              string     `json:"scope"`
	ApplicableProducts []string   `json:"applicableProducts"`
	MinOrderValue      int64      `json:"minOrderValue"`
	StartDate          *time.Time `json:"startDate"`
	ExpirationDate     time.Time  `json:"expirationDate"`
	IsActive           bool       `json:"isActive"`
	UsageLimit         int64      `json:"usageLimit"`
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req upsertCouponRequest
	if err := decodeJSONBody(r, maxCouponBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	coupon, err := h.coupons.CreateCoupon(r.Context(), req.toCommand(""))
	if err != nil {
		writeCouponError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildCouponPayload(coupon))
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	var req upsertCouponRequest
	if err := decodeJSONBody(r, maxCouponBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	coupon, err := h.coupons.UpdateCoupon(r.Context(), req.toCommand(chi.URLParam(r, "code")))
	if err != nil {
		writeCouponError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: 50,
		MaxPageSize:     100,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	activeOnly := false
	if raw := r.URL.Query().Get("activeOnly"); raw != "" {
		parsed, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", "activeOnly must be a boolean", http.StatusBadRequest))
			return
		}
		activeOnly = parsed
	}

	page, err := h.coupons.ListCoupons(ctx, services.CouponListQuery{
		ActiveOnly: activeOnly,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeCouponError(w, r, err)
		return
	}

	resp := couponListResponse{
		Coupons:       make([]couponPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, coupon := range page.Items {
		resp.Coupons = append(resp.Coupons, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (r upsertCouponRequest) toCommand(codeOverride string) services.UpsertCouponCommand {
	code := r.Code
	if codeOverride != "" {
		code = codeOverride
	}
	return services.UpsertCouponCommand{
		Code:               code,
		DiscountType:       r.DiscountType,
		DiscountValue:      r.DiscountValue,
		MaxDiscount:        r.MaxDiscount,
		Scope:              r.Scope,
		ApplicableProducts: r.ApplicableProducts,
		MinOrderValue:      r.MinOrderValue,
		StartDate:          r.StartDate,
		ExpirationDate:     r.ExpirationDate,
		IsActive:           r.IsActive,
		UsageLimit:         r.UsageLimit,
	}
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		ID:                 coupon.ID,
		Code:               coupon.Code,
		DiscountType:       string(coupon.DiscountType),
		DiscountValue:      coupon.DiscountValue,
		MaxDiscount:        coupon.MaxDiscount,
		Scope:              string(coupon.Scope),
		ApplicableProducts: coupon.ApplicableProducts,
		MinOrderValue:      coupon.MinOrderValue,
		StartDate:          formatTimePtr(coupon.StartDate),
		ExpirationDate:     formatTime(coupon.ExpirationDate),
		IsActive:           coupon.IsActive,
		UsageLimit:         coupon.UsageLimit,
		UsedCount:          coupon.UsedCount,
		CreatedAt:          formatTime(coupon.CreatedAt),
		UpdatedAt:          formatTime(coupon.UpdatedAt),
	}
}

func writeCouponError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_coupon", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponInactive):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_inactive", "coupon is not active", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotStarted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_started", "coupon is not yet valid", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon has expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponMinOrder):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_min_order", "order total is below the coupon minimum", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotApplicable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_applicable", "coupon does not apply to these items", http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_exhausted", "coupon usage limit reached", http.StatusConflict))
	case errors.Is(err, services.ErrCouponCodeTaken):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_code_taken", "a coupon with this code already exists", http.StatusConflict))
	case errors.Is(err, services.ErrCouponUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_unavailable", "coupons are temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
