package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/services"
)

type stubCatalogService struct {
	getFn    func(ctx context.Context, productID string) (services.Product, error)
	listFn   func(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error)
	upsertFn func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, services.ErrProductNotFound
}

func (s *stubCatalogService) ListProducts(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, cmd)
	}
	return services.Product{}, services.ErrCatalogInvalidInput
}

func sampleProduct() services.Product {
	return services.Product{
		ID:       "prod-1",
		Kind:     domain.ProductKindApparel,
		Name:     "Block Print Kurta",
		Category: "apparel",
		Currency: "INR",
		Price:    159900,
		Stock:    24,
		Retail:   services.RoleRates{ShippingCost: 4900, TaxPercentage: 5},
		Variants: []services.ProductVariant{
			{ColorName: "indigo", Size: "M", Stock: 10},
		},
		CreatedAt: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func newProductRouter(catalog services.CatalogService) chi.Router {
	handler := NewProductHandlers(nil, catalog)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	router.Route("/admin/products", handler.AdminRoutes)
	return router
}

func TestProductHandlersListProducts(t *testing.T) {
	catalog := &stubCatalogService{
		listFn: func(_ context.Context, query services.ProductListQuery) (domain.CursorPage[services.Product], error) {
			if query.Kind != "apparel" {
				t.Fatalf("expected kind filter apparel, got %q", query.Kind)
			}
			if query.Pagination.PageSize != 20 {
				t.Fatalf("expected page size 20, got %d", query.Pagination.PageSize)
			}
			return domain.CursorPage[services.Product]{
				Items:         []services.Product{sampleProduct()},
				NextPageToken: "token-2",
			}, nil
		},
	}

	router := newProductRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/products?kind=apparel&pageSize=20", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(resp.Products))
	}
	if resp.Products[0].ID != "prod-1" || resp.Products[0].Kind != "apparel" {
		t.Fatalf("unexpected product payload %+v", resp.Products[0])
	}
	if resp.NextPageToken != "token-2" {
		t.Fatalf("expected next page token token-2, got %q", resp.NextPageToken)
	}
}

func TestProductHandlersListProductsInvalidPageSize(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})

	req := httptest.NewRequest(http.MethodGet, "/products?pageSize=abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersGetProduct(t *testing.T) {
	catalog := &stubCatalogService{
		getFn: func(_ context.Context, productID string) (services.Product, error) {
			if productID != "prod-1" {
				t.Fatalf("unexpected product id %q", productID)
			}
			return sampleProduct(), nil
		},
	}

	router := newProductRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/products/prod-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Name != "Block Print Kurta" {
		t.Fatalf("unexpected product name %q", resp.Name)
	}
	if len(resp.Variants) != 1 || resp.Variants[0].ColorName != "indigo" {
		t.Fatalf("unexpected variants %v", resp.Variants)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})

	req := httptest.NewRequest(http.MethodGet, "/products/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "product_not_found" {
		t.Fatalf("expected error code product_not_found, got %v", resp["error"])
	}
}

func TestProductHandlersCreateProduct(t *testing.T) {
	catalog := &stubCatalogService{
		upsertFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			if cmd.ID != "" {
				t.Fatalf("expected empty id on create, got %q", cmd.ID)
			}
			if cmd.Name != "Block Print Kurta" || cmd.Price != 159900 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			product := sampleProduct()
			return product, nil
		},
	}

	router := newProductRouter(catalog)

	body := `{"kind":"apparel","name":"Block Print Kurta","category":"apparel","currency":"INR","price":159900,"stock":24,"retail":{"shippingCost":4900,"taxPercentage":5}}`
	req := httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
}

func TestProductHandlersUpdateProductPassesID(t *testing.T) {
	catalog := &stubCatalogService{
		upsertFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			if cmd.ID != "prod-1" {
				t.Fatalf("expected id prod-1, got %q", cmd.ID)
			}
			return sampleProduct(), nil
		},
	}

	router := newProductRouter(catalog)

	body := `{"kind":"apparel","name":"Block Print Kurta","currency":"INR","price":159900}`
	req := httptest.NewRequest(http.MethodPut, "/admin/products/prod-1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestProductHandlersCreateProductEmptyBody(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})

	req := httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader("  "))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersCreateProductInvalid(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})

	body := `{"kind":"apparel","name":""}`
	req := httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
