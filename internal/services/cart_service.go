package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/repositories"
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart backend cannot fulfil the request.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart was modified concurrently and the
// bounded retries were exhausted.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartItemNotFound indicates no cart line matched the given id.
var ErrCartItemNotFound = errors.New("cart service: item not found")

// ErrCartProductGone indicates a cart line referenced a product that no
// longer exists. The line has been dropped from the persisted cart.
var ErrCartProductGone = errors.New("cart service: product no longer available")

// ErrCartInsufficientStock indicates the requested quantity exceeds the
// available stock for the product or the selected variant.
var ErrCartInsufficientStock = errors.New("cart service: insufficient stock")

const (
	maxCartLineQuantity = 999
	cartWriteAttempts   = 3
)

// CartServiceDeps wires the repositories and clock for cart operations.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Products        repositories.ProductRepository
	Clock           func() time.Time
	DefaultCurrency string
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	now      func() time.Time
	currency string
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
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
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now:      func() time.Time { return clock().UTC() },
		currency: currency,
		newID:    idGen,
		logger:   logger,
	}, nil
}

func (s *cartService) GetOrCreateCart(ctx context.Context, cmd CartQuery) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if !isRepoNotFound(err) {
			return Cart{}, ErrCartUnavailable
		}
		fresh := s.newCart(userID)
		saved, err := s.carts.UpsertCart(ctx, fresh)
		if err != nil {
			return Cart{}, s.translateCartRepoError(err)
		}
		return saved, nil
	}

	// Reprice on read so cached line prices never go stale.
	policy := domain.PolicyForRole(cmd.Role)
	if _, err := s.reprice(ctx, &cart, policy); err != nil {
		return Cart{}, err
	}
	saved, err := s.carts.UpsertCart(ctx, cart)
	if err != nil {
		if isRepoConflict(err) {
			// A concurrent writer beat the refresh; their view is as good.
			current, getErr := s.carts.GetCart(ctx, userID)
			if getErr != nil {
				return Cart{}, s.translateCartRepoError(getErr)
			}
			return current, nil
		}
		return Cart{}, s.translateCartRepoError(err)
	}
	return saved, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartProductGone
		}
		return Cart{}, ErrCartUnavailable
	}
	color := strings.TrimSpace(cmd.SelectedColor)
	size := strings.TrimSpace(cmd.SelectedSize)
	if color != "" {
		if _, ok := product.Variant(color, size); !ok {
			return Cart{}, fmt.Errorf("%w: unknown variant %s/%s", ErrCartInvalidInput, color, size)
		}
	}

	return s.mutate(ctx, userID, cmd.Role, func(cart *Cart) error {
		for i := range cart.Items {
			item := &cart.Items[i]
			if item.ProductID == productID && item.SelectedColor == color && item.SelectedSize == size {
				want := item.Quantity + cmd.Quantity
				if want > maxCartLineQuantity {
					want = maxCartLineQuantity
				}
				if err := checkStock(product, color, size, want); err != nil {
					return err
				}
				item.Quantity = want
				return nil
			}
		}
		if err := checkStock(product, color, size, cmd.Quantity); err != nil {
			return err
		}
		cart.Items = append(cart.Items, CartItem{
			ID:            s.newID(),
			ProductID:     productID,
			Name:          product.Name,
			Image:         product.Image,
			Quantity:      cmd.Quantity,
			SelectedSize:  size,
			SelectedColor: color,
		})
		return nil
	})
}

// UpdateItem changes a line's quantity. The item id matches either the line
// id or the product id; quantity zero removes the line. When the referenced
// product no longer exists the line is dropped and ErrCartProductGone is
// returned after the drop has been persisted.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity < 0 || cmd.Quantity > maxCartLineQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}

	productGone := false
	cart, err := s.mutate(ctx, userID, cmd.Role, func(cart *Cart) error {
		idx := -1
		for i := range cart.Items {
			if cart.Items[i].ID == itemID || cart.Items[i].ProductID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrCartItemNotFound
		}
		if cmd.Quantity == 0 {
			cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
			return nil
		}

		productID := cart.Items[idx].ProductID
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			if isRepoNotFound(err) {
				cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
				productGone = true
				return nil
			}
			return ErrCartUnavailable
		}
		if err := checkStock(product, cart.Items[idx].SelectedColor, cart.Items[idx].SelectedSize, cmd.Quantity); err != nil {
			return err
		}
		cart.Items[idx].Quantity = cmd.Quantity
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	if productGone {
		return cart, ErrCartProductGone
	}
	return cart, nil
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	return s.mutate(ctx, userID, cmd.Role, func(cart *Cart) error {
		for i := range cart.Items {
			if cart.Items[i].ID == itemID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
		return ErrCartItemNotFound
	})
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	if s == nil || s.carts == nil {
		return ErrCartUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrCartInvalidInput
	}
	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return ErrCartUnavailable
	}
	return nil
}

// Merge folds guest-cart lines into the owner's cart. Lines whose product no
// longer exists are skipped.
func (s *cartService) Merge(ctx context.Context, cmd MergeCartCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}
	if len(cmd.Items) == 0 {
		return s.GetOrCreateCart(ctx, CartQuery{UserID: userID, Role: cmd.Role})
	}

	ids := make([]string, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		if id := strings.TrimSpace(line.ProductID); id != "" {
			ids = append(ids, id)
		}
	}
	known, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return Cart{}, ErrCartUnavailable
	}

	return s.mutate(ctx, userID, cmd.Role, func(cart *Cart) error {
		for _, line := range cmd.Items {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" || line.Quantity <= 0 {
				continue
			}
			product, ok := known[productID]
			if !ok {
				continue
			}
			color := strings.TrimSpace(line.SelectedColor)
			size := strings.TrimSpace(line.SelectedSize)
			merged := false
			for i := range cart.Items {
				item := &cart.Items[i]
				if item.ProductID == productID && item.SelectedColor == color && item.SelectedSize == size {
					item.Quantity += line.Quantity
					if item.Quantity > maxCartLineQuantity {
						item.Quantity = maxCartLineQuantity
					}
					merged = true
					break
				}
			}
			if !merged {
				quantity := line.Quantity
				if quantity > maxCartLineQuantity {
					quantity = maxCartLineQuantity
				}
				cart.Items = append(cart.Items, CartItem{
					ID:            s.newID(),
					ProductID:     productID,
					Name:          product.Name,
					Image:         product.Image,
					Quantity:      quantity,
					SelectedSize:  size,
					SelectedColor: color,
				})
			}
		}
		return nil
	})
}

// checkStock verifies the absolute quantity wanted for a line fits the
// product pool, and the variant pool when a color is selected.
func checkStock(product domain.Product, color, size string, want int64) error {
	if want > product.Stock {
		return fmt.Errorf("%w: %d of %s requested, %d available", ErrCartInsufficientStock, want, product.ID, product.Stock)
	}
	if color != "" {
		if variant, ok := product.Variant(color, size); ok && want > variant.Stock {
			return fmt.Errorf("%w: %d of %s %s/%s requested, %d available", ErrCartInsufficientStock, want, product.ID, color, size, variant.Stock)
		}
	}
	return nil
}

// mutate loads the cart, applies fn, reprices, and writes back under the
// optimistic precondition, retrying a bounded number of times on conflict.
func (s *cartService) mutate(ctx context.Context, userID, role string, fn func(cart *Cart) error) (Cart, error) {
	policy := domain.PolicyForRole(role)

	var lastErr error
	for attempt := 0; attempt < cartWriteAttempts; attempt++ {
		cart, err := s.carts.GetCart(ctx, userID)
		if err != nil {
			if isRepoNotFound(err) {
				cart = s.newCart(userID)
			} else {
				return Cart{}, ErrCartUnavailable
			}
		}

		if err := fn(&cart); err != nil {
			return Cart{}, err
		}
		if _, err := s.reprice(ctx, &cart, policy); err != nil {
			return Cart{}, err
		}

		saved, err := s.carts.UpsertCart(ctx, cart)
		if err != nil {
			if isRepoConflict(err) {
				lastErr = err
				continue
			}
			return Cart{}, s.translateCartRepoError(err)
		}
		return saved, nil
	}
	s.logger(ctx, "cart.write_conflict", map[string]any{"userId": userID, "error": fmt.Sprint(lastErr)})
	return Cart{}, ErrCartConflict
}

// reprice rewrites every cached per-line price through the policy and
// recomputes the derived totals. Lines whose product vanished are dropped.
// Reports whether any line was dropped.
func (s *cartService) reprice(ctx context.Context, cart *Cart, policy domain.PricingPolicy) (bool, error) {
	now := s.now()

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return false, ErrCartUnavailable
	}

	kept := cart.Items[:0]
	dropped := false
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			dropped = true
			continue
		}
		quote := policy.Quote(product, now)
		item.Name = product.Name
		item.Image = product.Image
		item.UnitPrice = quote.UnitPrice
		item.ShippingAmount = quote.ShippingCost
		item.TaxAmount = domain.PercentOf(quote.UnitPrice*item.Quantity, int64(quote.TaxPercentage))
		kept = append(kept, item)
	}
	cart.Items = kept
	cart.Totals = recalculateTotals(cart.Items)
	if cart.Currency == "" {
		cart.Currency = s.currency
	}
	return dropped, nil
}

// recalculateTotals derives the cached aggregates from the lines. Tax is
// computed per line but the cart-level total is currently zeroed; the field
// stays so the policy can be turned back on without a schema change.
func recalculateTotals(items []CartItem) CartTotals {
	var totals CartTotals
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		totals.Subtotal += item.UnitPrice * item.Quantity
		totals.ShippingTotal += item.ShippingAmount
		totals.TotalItems += item.Quantity
	}
	totals.TaxTotal = 0
	totals.TotalAmount = totals.Subtotal + totals.ShippingTotal + totals.TaxTotal
	return totals
}

func (s *cartService) newCart(userID string) Cart {
	now := s.now()
	return Cart{
		ID:        userID,
		UserID:    userID,
		Currency:  s.currency,
		Items:     nil,
		CreatedAt: now,
	}
}

func (s *cartService) translateCartRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return ErrCartUnavailable
}
