package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/platform/auth"
	"github.com/merakistore/api/internal/platform/httpx"
	"github.com/merakistore/api/internal/platform/pagination"
	"github.com/merakistore/api/internal/services"
)

const maxProductBodySize = 64 * 1024

// ProductHandlers serves the public catalog and admin product management.
type ProductHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewProductHandlers wires the catalog service into HTTP routes.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{authn: authn, catalog: catalog}
}

// Routes registers the public, unauthenticated catalog endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

// AdminRoutes registers admin-only product write endpoints.
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Post("/", h.createProduct)
	r.Put("/{productID}", h.updateProduct)
}

type roleRatesPayload struct {
	ShippingCost  int64   `json:"shippingCost"`
	TaxPercentage float64 `json:"taxPercentage"`
}

type productVariantPayload struct {
	ColorName string `json:"colorName"`
	Size      string `json:"size,omitempty"`
	Stock     int64  `json:"stock"`
}

type productPayload struct {
	ID                 string                  `json:"id"`
	Kind               string                  `json:"kind"`
	Name               string                  `json:"name"`
	Category           string                  `json:"category,omitempty"`
	Description        string                  `json:"description,omitempty"`
	Image              string                  `json:"image,omitempty"`
	Currency           string                  `json:"currency"`
	Price              int64                   `json:"price"`
	WholesalePrice     int64                   `json:"wholesalePrice,omitempty"`
	Stock              int64                   `json:"stock"`
	DiscountPercentage int                     `json:"discountPercentage,omitempty"`
	DiscountStart      string                  `json:"discountStart,omitempty"`
	DiscountEnd        string                  `json:"discountEnd,omitempty"`
	DiscountActive     bool                    `json:"discountActive"`
	Retail             roleRatesPayload        `json:"retail"`
	Wholesale          roleRatesPayload        `json:"wholesale"`
	Variants           []productVariantPayload `json:"variants,omitempty"`
	CreatedAt          string                  `json:"createdAt,omitempty"`
	UpdatedAt          string                  `json:"updatedAt,omitempty"`
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type upsertProductRequest struct {
	Kind               string                  `json:"kind"`
	Name               string                  `json:"name"`
	Category           string                  `json:"category"`
	Description        string                  `json:"description"`
	Image              string                  `json:"image"`
	Currency           string                  `json:"currency"`
	Price              int64                   `json:"price"`
	WholesalePrice     int64                   `json:"wholesalePrice"`
	Stock              int64                   `json:"stock"`
	DiscountPercentage int                     `json:"discountPercentage"`
	DiscountStart      *time.Time              `json:"discountStart"`
	DiscountEnd        *time.Time              `json:"discountEnd"`
	Retail             roleRatesPayload        `json:"retail"`
	Wholesale          roleRatesPayload        `json:"wholesale"`
	Variants           []productVariantPayload `json:"variants"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: 50,
		MaxPageSize:     100,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListProducts(ctx, services.ProductListQuery{
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Kind:     strings.TrimSpace(r.URL.Query().Get("kind")),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeProductError(w, r, err)
		return
	}

	resp := productListResponse{
		Products:      make([]productPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	now := time.Now().UTC()
	for _, product := range page.Items {
		resp.Products = append(resp.Products, buildProductPayload(product, now))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	product, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		writeProductError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product, time.Now().UTC()))
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, "")
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, chi.URLParam(r, "productID"))
}

func (h *ProductHandlers) upsertProduct(w http.ResponseWriter, r *http.Request, productID string) {
	var req upsertProductRequest
	if err := decodeJSONBody(r, maxProductBodySize, &req); err != nil {
		writeBodyError(w, r, err)
		return
	}

	cmd := services.UpsertProductCommand{
		ID:                 productID,
		Kind:               req.Kind,
		Name:               req.Name,
		Category:           req.Category,
		Description:        req.Description,
		Image:              req.Image,
		Currency:           req.Currency,
		Price:              req.Price,
		WholesalePrice:     req.WholesalePrice,
		Stock:              req.Stock,
		DiscountPercentage: req.DiscountPercentage,
		DiscountStart:      req.DiscountStart,
		DiscountEnd:        req.DiscountEnd,
		Retail: services.RoleRates{
			ShippingCost:  req.Retail.ShippingCost,
			TaxPercentage: req.Retail.TaxPercentage,
		},
		Wholesale: services.RoleRates{
			ShippingCost:  req.Wholesale.ShippingCost,
			TaxPercentage: req.Wholesale.TaxPercentage,
		},
	}
	for _, variant := range req.Variants {
		cmd.Variants = append(cmd.Variants, services.ProductVariant{
			ColorName: variant.ColorName,
			Size:      variant.Size,
			Stock:     variant.Stock,
		})
	}

	product, err := h.catalog.UpsertProduct(r.Context(), cmd)
	if err != nil {
		writeProductError(w, r, err)
		return
	}

	status := http.StatusOK
	if productID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, buildProductPayload(product, time.Now().UTC()))
}

func buildProductPayload(product domain.Product, now time.Time) productPayload {
	payload := productPayload{
		ID:                 product.ID,
		Kind:               string(product.Kind),
		Name:               product.Name,
		Category:           product.Category,
		Description:        product.Description,
		Image:              product.Image,
		Currency:           product.Currency,
		Price:              product.Price,
		WholesalePrice:     product.WholesalePrice,
		Stock:              product.Stock,
		DiscountPercentage: product.DiscountPercentage,
		DiscountActive:     product.DiscountActive(now),
		Retail: roleRatesPayload{
			ShippingCost:  product.Retail.ShippingCost,
			TaxPercentage: product.Retail.TaxPercentage,
		},
		Wholesale: roleRatesPayload{
			ShippingCost:  product.Wholesale.ShippingCost,
			TaxPercentage: product.Wholesale.TaxPercentage,
		},
		CreatedAt: formatTime(product.CreatedAt),
		UpdatedAt: formatTime(product.UpdatedAt),
	}
	payload.DiscountStart = formatTimePtr(product.DiscountStart)
	payload.DiscountEnd = formatTimePtr(product.DiscountEnd)
	for _, variant := range product.Variants {
		payload.Variants = append(payload.Variants, productVariantPayload{
			ColorName: variant.ColorName,
			Size:      variant.Size,
			Stock:     variant.Stock,
		})
	}
	return payload
}

func writeProductError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_product", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
