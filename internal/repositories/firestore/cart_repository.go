package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/merakistore/api/internal/domain"
	pfirestore "github.com/merakistore/api/internal/platform/firestore"
)

const cartsCollection = "carts"

// CartRepository persists one cart document per user, items inline.
type CartRepository struct {
	base *pfirestore.Repository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository: firestore provider is required")
	}
	base := pfirestore.NewRepository[cartDocument](provider, cartsCollection)
	return &CartRepository{base: base}, nil
}

// UpsertCart persists the cart using the user ID as document identifier.
// A non-zero cart.UpdatedAt is treated as the revision the caller read and is
// enforced as a last-update-time precondition; a stale write surfaces as a
// conflict RepositoryError.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" {
		userID = strings.TrimSpace(cart.ID)
	}
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	doc := encodeCartDocument(cart, now)

	saved := cart
	saved.ID = userID
	saved.UserID = userID

	if cart.UpdatedAt.IsZero() {
		result, err := r.base.Set(ctx, userID, doc)
		if err != nil {
			return domain.Cart{}, err
		}
		saved.CreatedAt = doc.CreatedAt
		saved.UpdatedAt = result.UpdateTime
		return saved, nil
	}

	updates := []firestore.Update{
		{Path: "currency", Value: doc.Currency},
		{Path: "items", Value: doc.Items},
		{Path: "totals", Value: doc.Totals},
		{Path: "itemsCount", Value: doc.ItemsCount},
		{Path: "updatedAt", Value: now},
	}
	result, err := r.base.Update(ctx, userID, updates, firestore.LastUpdateTime(cart.UpdatedAt.UTC()))
	if err != nil {
		return domain.Cart{}, err
	}
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the user's cart. The returned UpdatedAt carries the document
// revision needed for a subsequent optimistic write.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := doc.Data.toDomain(doc.ID)
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = doc.CreateTime
	}
	cart.UpdatedAt = doc.UpdateTime
	return cart, nil
}

// DeleteCart removes the user's cart document. Deleting an absent cart is a
// no-op.
func (r *CartRepository) DeleteCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("cart repository: user id is required")
	}
	ref, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

type cartItemDocument struct {
	ID             string `firestore:"id"`
	ProductID      string `firestore:"productId"`
	Name           string `firestore:"name"`
	Image          string `firestore:"image,omitempty"`
	Quantity       int64  `firestore:"quantity"`
	UnitPrice      int64  `firestore:"unitPrice"`
	SelectedSize   string `firestore:"selectedSize,omitempty"`
	SelectedColor  string `firestore:"selectedColor,omitempty"`
	ShippingAmount int64  `firestore:"shippingAmount"`
	TaxAmount      int64  `firestore:"taxAmount"`
}

type cartTotalsDocument struct {
	Subtotal      int64 `firestore:"subtotal"`
	ShippingTotal int64 `firestore:"shippingTotal"`
	TaxTotal      int64 `firestore:"taxTotal"`
	TotalAmount   int64 `firestore:"totalAmount"`
	TotalItems    int64 `firestore:"totalItems"`
}

type cartDocument struct {
	Currency   string             `firestore:"currency"`
	Items      []cartItemDocument `firestore:"items"`
	Totals     cartTotalsDocument `firestore:"totals"`
	ItemsCount int                `firestore:"itemsCount"`
	CreatedAt  time.Time          `firestore:"createdAt"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

func encodeCartDocument(cart domain.Cart, now time.Time) cartDocument {
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	doc := cartDocument{
		Currency:   strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:      make([]cartItemDocument, 0, len(cart.Items)),
		ItemsCount: len(cart.Items),
		Totals: cartTotalsDocument{
			Subtotal:      cart.Totals.Subtotal,
			ShippingTotal: cart.Totals.ShippingTotal,
			TaxTotal:      cart.Totals.TaxTotal,
			TotalAmount:   cart.Totals.TotalAmount,
			TotalItems:    cart.Totals.TotalItems,
		},
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
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
		})
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:       id,
		UserID:   id,
		Currency: d.Currency,
		Totals: domain.CartTotals{
			Subtotal:      d.Totals.Subtotal,
			ShippingTotal: d.Totals.ShippingTotal,
			TaxTotal:      d.Totals.TaxTotal,
			TotalAmount:   d.Totals.TotalAmount,
			TotalItems:    d.Totals.TotalItems,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
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
		})
	}
	return cart
}
