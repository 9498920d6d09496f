package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/merakistore/api/internal/domain"
	pfirestore "github.com/merakistore/api/internal/platform/firestore"
	"github.com/merakistore/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists catalog documents and owns the transactional
// stock mutations used by order placement and cancellation.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Repository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewRepository[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Upsert writes the full product snapshot under its ID.
func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc := encodeProductDocument(product)
	result, err := r.base.Set(ctx, productID, doc)
	if err != nil {
		return domain.Product{}, err
	}
	stored := doc.toDomain(productID)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = result.UpdateTime
	}
	stored.UpdatedAt = result.UpdateTime
	return stored, nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := doc.Data.toDomain(doc.ID)
	if product.CreatedAt.IsZero() {
		product.CreatedAt = doc.CreateTime
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = doc.UpdateTime
	}
	return product, nil
}

// FindByIDs resolves the given products in one round trip. Missing IDs are
// simply absent from the result map.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(productsCollection).Doc(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.find_by_ids", err)
	}
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		out[snap.Ref.ID] = doc.toDomain(snap.Ref.ID)
	}
	return out, nil
}

// List returns a page of products ordered by creation time, newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	var category string
	if filter.Category != nil {
		category = strings.TrimSpace(*filter.Category)
	}
	var kind string
	if filter.Kind != nil {
		kind = strings.TrimSpace(string(*filter.Kind))
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category != "" {
			q = q.Where("category", "==", category)
		}
		if kind != "" {
			q = q.Where("kind", "==", kind)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Product, 0, len(valueDocs))
	for _, doc := range valueDocs {
		product := doc.Data.toDomain(doc.ID)
		if product.CreatedAt.IsZero() {
			product.CreatedAt = doc.CreateTime
		}
		items = append(items, product)
	}
	return domain.CursorPage[domain.Product]{Items: items, NextPageToken: nextToken}, nil
}

// DeductStock decrements stock for every line inside one transaction. The
// whole request fails with a StockError when any line lacks availability, so
// no partial deduction can ever commit.
func (r *ProductRepository) DeductStock(ctx context.Context, req repositories.StockDeductionRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(req.Lines) == 0 {
		return nil
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return deductStockInTx(ctx, tx, r.base, req.Lines, now)
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return stockErr
		}
		return pfirestore.WrapError("products.deduct_stock", err)
	}
	return nil
}

// RestoreStock adds every line's quantity back, the inverse of DeductStock.
// Products that were removed from the catalog since the order was created are
// skipped rather than failing the restore.
func (r *ProductRepository) RestoreStock(ctx context.Context, req repositories.StockRestoreRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(req.Lines) == 0 {
		return nil
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs := make(map[string]*productDocument, len(req.Lines))
		refs := make(map[string]*firestore.DocumentRef, len(req.Lines))

		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" || line.Quantity <= 0 {
				continue
			}
			doc, ok := docs[productID]
			if !ok {
				ref, err := r.base.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(ref)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						continue
					}
					return err
				}
				var decoded productDocument
				if err := snap.DataTo(&decoded); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				doc = &decoded
				docs[productID] = doc
				refs[productID] = ref
			}

			doc.Stock += line.Quantity
			if line.ColorName != "" {
				doc.restoreVariant(line.ColorName, line.Size, line.Quantity)
			}
			doc.UpdatedAt = now
		}

		for productID, doc := range docs {
			if err := tx.Set(refs[productID], *doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("products.restore_stock", err)
	}
	return nil
}

// deductStockInTx reads every line's product inside the transaction, checks
// availability, and stages the decremented documents. It is shared with the
// order placement transaction so stock checks and order creation commit as
// one unit.
func deductStockInTx(ctx context.Context, tx *firestore.Transaction, base *pfirestore.Repository[productDocument], lines []repositories.StockLine, now time.Time) error {
	docs := make(map[string]*productDocument, len(lines))
	refs := make(map[string]*firestore.DocumentRef, len(lines))

	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return repositories.NewStockError(repositories.StockErrorUnknown, "", "product id is required", nil)
		}
		if line.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorUnknown, productID, "quantity must be positive", nil)
		}

		doc, ok := docs[productID]
		if !ok {
			ref, err := base.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, "product not found", err)
				}
				return err
			}
			var decoded productDocument
			if err := snap.DataTo(&decoded); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			doc = &decoded
			docs[productID] = doc
			refs[productID] = ref
		}

		if doc.Stock < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient, productID,
				fmt.Sprintf("insufficient stock: have %d, need %d", doc.Stock, line.Quantity), nil)
		}
		doc.Stock -= line.Quantity

		if line.ColorName != "" {
			if !doc.deductVariant(line.ColorName, line.Size, line.Quantity) {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, productID,
					fmt.Sprintf("variant %s/%s not found", line.ColorName, line.Size), nil)
			}
		}
		doc.UpdatedAt = now
	}

	for productID, doc := range docs {
		if err := tx.Set(refs[productID], *doc); err != nil {
			return err
		}
	}
	return nil
}

type roleRatesDocument struct {
	ShippingCost  int64   `firestore:"shippingCost"`
	TaxPercentage float64 `firestore:"taxPercentage"`
}

type productVariantDocument struct {
	ColorName string `firestore:"colorName"`
	Size      string `firestore:"size,omitempty"`
	Stock     int64  `firestore:"stock"`
}

type productDocument struct {
	Kind               string                   `firestore:"kind"`
	Name               string                   `firestore:"name"`
	Category           string                   `firestore:"category"`
	Description        string                   `firestore:"description,omitempty"`
	Image              string                   `firestore:"image,omitempty"`
	Currency           string                   `firestore:"currency"`
	Price              int64                    `firestore:"price"`
	WholesalePrice     int64                    `firestore:"wholesalePrice"`
	Stock              int64                    `firestore:"stock"`
	DiscountPercentage int                      `firestore:"discountPercentage"`
	DiscountStart      *time.Time               `firestore:"discountStart,omitempty"`
	DiscountEnd        *time.Time               `firestore:"discountEnd,omitempty"`
	Retail             roleRatesDocument        `firestore:"retail"`
	Wholesale          roleRatesDocument        `firestore:"wholesale"`
	Variants           []productVariantDocument `firestore:"variants,omitempty"`
	CreatedAt          time.Time                `firestore:"createdAt"`
	UpdatedAt          time.Time                `firestore:"updatedAt"`
}

func (d *productDocument) deductVariant(colorName, size string, quantity int64) bool {
	for i := range d.Variants {
		v := &d.Variants[i]
		if v.ColorName != colorName {
			continue
		}
		if size != "" && v.Size != size {
			continue
		}
		v.Stock -= quantity
		if v.Stock < 0 {
			v.Stock = 0
		}
		return true
	}
	return false
}

func (d *productDocument) restoreVariant(colorName, size string, quantity int64) {
	for i := range d.Variants {
		v := &d.Variants[i]
		if v.ColorName != colorName {
			continue
		}
		if size != "" && v.Size != size {
			continue
		}
		v.Stock += quantity
		return
	}
}

func encodeProductDocument(product domain.Product) productDocument {
	doc := productDocument{
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
		Retail: roleRatesDocument{
			ShippingCost:  product.Retail.ShippingCost,
			TaxPercentage: product.Retail.TaxPercentage,
		},
		Wholesale: roleRatesDocument{
			ShippingCost:  product.Wholesale.ShippingCost,
			TaxPercentage: product.Wholesale.TaxPercentage,
		},
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: product.UpdatedAt.UTC(),
	}
	if product.DiscountStart != nil {
		value := product.DiscountStart.UTC()
		doc.DiscountStart = &value
	}
	if product.DiscountEnd != nil {
		value := product.DiscountEnd.UTC()
		doc.DiscountEnd = &value
	}
	for _, v := range product.Variants {
		doc.Variants = append(doc.Variants, productVariantDocument{
			ColorName: v.ColorName,
			Size:      v.Size,
			Stock:     v.Stock,
		})
	}
	return doc
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:                 id,
		Kind:               domain.ProductKind(d.Kind),
		Name:               d.Name,
		Category:           d.Category,
		Description:        d.Description,
		Image:              d.Image,
		Currency:           d.Currency,
		Price:              d.Price,
		WholesalePrice:     d.WholesalePrice,
		Stock:              d.Stock,
		DiscountPercentage: d.DiscountPercentage,
		Retail: domain.RoleRates{
			ShippingCost:  d.Retail.ShippingCost,
			TaxPercentage: d.Retail.TaxPercentage,
		},
		Wholesale: domain.RoleRates{
			ShippingCost:  d.Wholesale.ShippingCost,
			TaxPercentage: d.Wholesale.TaxPercentage,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if product.Kind == "" {
		product.Kind = domain.ProductKindStandard
	}
	if d.DiscountStart != nil {
		value := *d.DiscountStart
		product.DiscountStart = &value
	}
	if d.DiscountEnd != nil {
		value := *d.DiscountEnd
		product.DiscountEnd = &value
	}
	for _, v := range d.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant{
			ColorName: v.ColorName,
			Size:      v.Size,
			Stock:     v.Stock,
		})
	}
	return product
}
