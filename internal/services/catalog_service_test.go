package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/repositories"
)

type repoError struct {
	message  string
	notFound bool
	conflict bool
	unavail  bool
}

func (e repoError) Error() string {
	return e.message
}

func (e repoError) IsNotFound() bool {
	return e.notFound
}

func (e repoError) IsConflict() bool {
	return e.conflict
}

func (e repoError) IsUnavailable() bool {
	return e.unavail
}

type stubProductRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
	upserted []domain.Product
	listFn   func(repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)

	deductFn     func(repositories.StockDeductionRequest) error
	restoreFn    func(repositories.StockRestoreRequest) error
	restoreCalls []repositories.StockRestoreRequest
}

func (s *stubProductRepository) Upsert(_ context.Context, product domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.products == nil {
		s.products = map[string]domain.Product{}
	}
	s.products[product.ID] = product
	s.upserted = append(s.upserted, product)
	return product, nil
}

func (s *stubProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, repoError{message: "product missing", notFound: true}
	}
	return product, nil
}

func (s *stubProductRepository) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok {
			found[id] = product
		}
	}
	return found, nil
}

func (s *stubProductRepository) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(filter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	page := domain.CursorPage[domain.Product]{}
	for _, product := range s.products {
		page.Items = append(page.Items, product)
	}
	return page, nil
}

func (s *stubProductRepository) DeductStock(_ context.Context, req repositories.StockDeductionRequest) error {
	if s.deductFn != nil {
		return s.deductFn(req)
	}
	return nil
}

func (s *stubProductRepository) RestoreStock(_ context.Context, req repositories.StockRestoreRequest) error {
	s.mu.Lock()
	s.restoreCalls = append(s.restoreCalls, req)
	s.mu.Unlock()
	if s.restoreFn != nil {
		return s.restoreFn(req)
	}
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCatalogServiceUpsertProductCreates(t *testing.T) {
	repo := &stubProductRepository{}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewCatalogService(CatalogServiceDeps{Repository: repo, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	product, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{
		Name:     "Brass Diya",
		Category: "Decor",
		Price:    24900,
		Stock:    12,
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if product.ID == "" {
		t.Fatal("expected generated product id")
	}
	if product.Kind != domain.ProductKindStandard {
		t.Fatalf("expected standard kind default, got %s", product.Kind)
	}
	if product.Currency != "INR" {
		t.Fatalf("expected INR currency default, got %s", product.Currency)
	}
	if !product.CreatedAt.Equal(now) {
		t.Fatalf("expected created at %s, got %s", now, product.CreatedAt)
	}
}

func TestCatalogServiceUpsertProductPreservesCreatedAt(t *testing.T) {
	created := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubProductRepository{products: map[string]domain.Product{
		"prod-1": {ID: "prod-1", Name: "Old name", Price: 10000, CreatedAt: created},
	}}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc, err := NewCatalogService(CatalogServiceDeps{Repository: repo, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	product, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{
		ID:    "prod-1",
		Name:  "New name",
		Price: 12000,
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if !product.CreatedAt.Equal(created) {
		t.Fatalf("expected original created at preserved, got %s", product.CreatedAt)
	}
	if !product.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated at %s, got %s", now, product.UpdatedAt)
	}
}

func TestCatalogServiceUpsertProductValidation(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Repository: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  UpsertProductCommand
	}{
		{"missing name", UpsertProductCommand{Price: 100}},
		{"zero price", UpsertProductCommand{Name: "x", Price: 0}},
		{"negative stock", UpsertProductCommand{Name: "x", Price: 100, Stock: -1}},
		{"discount out of range", UpsertProductCommand{Name: "x", Price: 100, DiscountPercentage: 120}},
		{"unknown kind", UpsertProductCommand{Name: "x", Price: 100, Kind: "grocery"}},
		{"variant without colour", UpsertProductCommand{Name: "x", Price: 100, Variants: []ProductVariant{{Size: "M", Stock: 3}}}},
	}
	for _, tc := range cases {
		if _, err := svc.UpsertProduct(ctx, tc.cmd); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}
}

func TestCatalogServiceGetProductNotFound(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Repository: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceListProductsDefaultsPageSize(t *testing.T) {
	var captured repositories.ProductListFilter
	repo := &stubProductRepository{listFn: func(filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
		captured = filter
		return domain.CursorPage[domain.Product]{}, nil
	}}
	svc, err := NewCatalogService(CatalogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}

	if _, err := svc.ListProducts(context.Background(), ProductListQuery{Kind: "apparel"}); err != nil {
		t.Fatalf("list products: %v", err)
	}
	if captured.Pagination.PageSize != 50 {
		t.Fatalf("expected default page size 50, got %d", captured.Pagination.PageSize)
	}
	if captured.Kind == nil || *captured.Kind != domain.ProductKindApparel {
		t.Fatal("expected apparel kind filter")
	}

	if _, err := svc.ListProducts(context.Background(), ProductListQuery{Kind: "grocery"}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid kind error, got %v", err)
	}
}
