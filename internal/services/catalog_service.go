package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/platform/textutil"
	"github.com/merakistore/api/internal/repositories"
)

// ErrCatalogInvalidInput indicates the caller supplied invalid product data.
var ErrCatalogInvalidInput = errors.New("catalog service: invalid input")

// ErrProductNotFound indicates the requested product does not exist.
var ErrProductNotFound = errors.New("catalog service: product not found")

// ErrCatalogUnavailable indicates the catalog backend cannot fulfil the request.
var ErrCatalogUnavailable = errors.New("catalog service: unavailable")

var productKinds = map[domain.ProductKind]struct{}{
	domain.ProductKindStandard: {},
	domain.ProductKindApparel:  {},
	domain.ProductKindBook:     {},
}

// CatalogServiceDeps wires the repository and clock for catalog operations.
type CatalogServiceDeps struct {
	Repository      repositories.ProductRepository
	Clock           func() time.Time
	DefaultCurrency string
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
}

type catalogService struct {
	repo     repositories.ProductRepository
	now      func() time.Time
	currency string
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService constructs a CatalogService enforcing dependency validation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("catalog service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "INR"
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		repo:     deps.Repository,
		now:      func() time.Time { return clock().UTC() },
		currency: currency,
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogUnavailable
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, ErrCatalogInvalidInput
	}
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, ErrCatalogUnavailable
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[Product], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Product]{}, ErrCatalogUnavailable
	}

	filter := repositories.ProductListFilter{Pagination: query.Pagination}
	if category := strings.TrimSpace(query.Category); category != "" {
		filter.Category = &category
	}
	if kindValue := strings.TrimSpace(strings.ToLower(query.Kind)); kindValue != "" {
		kind := domain.ProductKind(kindValue)
		if _, ok := productKinds[kind]; !ok {
			return domain.CursorPage[Product]{}, fmt.Errorf("%w: unknown product kind %q", ErrCatalogInvalidInput, kindValue)
		}
		filter.Kind = &kind
	}
	if filter.Pagination.PageSize <= 0 {
		filter.Pagination.PageSize = 50
	}

	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, ErrCatalogUnavailable
	}
	return page, nil
}

func (s *catalogService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s == nil || s.repo == nil {
		return Product{}, ErrCatalogUnavailable
	}

	product, err := s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}

	if product.ID == "" {
		product.ID = s.newID()
		product.CreatedAt = s.now()
	} else {
		existing, err := s.repo.FindByID(ctx, product.ID)
		if err != nil {
			if isRepoNotFound(err) {
				return Product{}, ErrProductNotFound
			}
			return Product{}, ErrCatalogUnavailable
		}
		product.CreatedAt = existing.CreatedAt
	}
	product.UpdatedAt = s.now()

	saved, err := s.repo.Upsert(ctx, product)
	if err != nil {
		return Product{}, ErrCatalogUnavailable
	}
	s.logger(ctx, "catalog.product_upserted", map[string]any{
		"productId": saved.ID,
		"kind":      string(saved.Kind),
	})
	return saved, nil
}

func (s *catalogService) buildProduct(cmd UpsertProductCommand) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if cmd.Price <= 0 {
		return Product{}, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	}
	if cmd.WholesalePrice < 0 {
		return Product{}, fmt.Errorf("%w: wholesale price must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.Stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrCatalogInvalidInput)
	}
	if cmd.DiscountPercentage < 0 || cmd.DiscountPercentage > 100 {
		return Product{}, fmt.Errorf("%w: discount percentage must be between 0 and 100", ErrCatalogInvalidInput)
	}
	if cmd.DiscountStart != nil && cmd.DiscountEnd != nil && cmd.DiscountEnd.Before(*cmd.DiscountStart) {
		return Product{}, fmt.Errorf("%w: discount window end precedes start", ErrCatalogInvalidInput)
	}

	kind := domain.ProductKind(strings.TrimSpace(strings.ToLower(cmd.Kind)))
	if kind == "" {
		kind = domain.ProductKindStandard
	}
	if _, ok := productKinds[kind]; !ok {
		return Product{}, fmt.Errorf("%w: unknown product kind %q", ErrCatalogInvalidInput, cmd.Kind)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}

	variants := make([]ProductVariant, 0, len(cmd.Variants))
	for _, v := range cmd.Variants {
		colorName := strings.TrimSpace(v.ColorName)
		if colorName == "" {
			return Product{}, fmt.Errorf("%w: variant colour name is required", ErrCatalogInvalidInput)
		}
		if v.Stock < 0 {
			return Product{}, fmt.Errorf("%w: variant stock must not be negative", ErrCatalogInvalidInput)
		}
		variants = append(variants, ProductVariant{
			ColorName: colorName,
			Size:      strings.TrimSpace(v.Size),
			Stock:     v.Stock,
		})
	}

	product := Product{
		ID:                 strings.TrimSpace(cmd.ID),
		Kind:               kind,
		Name:               textutil.SanitizePlain(name),
		Category:           textutil.SanitizePlain(strings.TrimSpace(cmd.Category)),
		Description:        textutil.SanitizeDescription(cmd.Description),
		Image:              strings.TrimSpace(cmd.Image),
		Currency:           currency,
		Price:              cmd.Price,
		WholesalePrice:     cmd.WholesalePrice,
		Stock:              cmd.Stock,
		DiscountPercentage: cmd.DiscountPercentage,
		Retail:             cmd.Retail,
		Wholesale:          cmd.Wholesale,
		Variants:           variants,
	}
	if cmd.DiscountStart != nil {
		start := cmd.DiscountStart.UTC()
		product.DiscountStart = &start
	}
	if cmd.DiscountEnd != nil {
		end := cmd.DiscountEnd.UTC()
		product.DiscountEnd = &end
	}
	return product, nil
}
