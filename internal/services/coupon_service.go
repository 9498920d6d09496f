package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/repositories"
)

// ErrCouponInvalidInput indicates the caller supplied an invalid coupon definition.
var ErrCouponInvalidInput = errors.New("coupon service: invalid input")

// ErrCouponNotFound indicates no coupon exists for the code.
var ErrCouponNotFound = errors.New("coupon service: not found")

// ErrCouponInactive indicates the coupon has been switched off.
var ErrCouponInactive = errors.New("coupon service: coupon inactive")

// ErrCouponNotStarted indicates the coupon's start date is in the future.
var ErrCouponNotStarted = errors.New("coupon service: coupon not started")

// ErrCouponExpired indicates the coupon's expiration date has passed.
var ErrCouponExpired = errors.New("coupon service: coupon expired")

// ErrCouponMinOrder indicates the cart total is below the coupon's minimum.
var ErrCouponMinOrder = errors.New("coupon service: order below coupon minimum")

// ErrCouponExhausted indicates the usage limit has been fully consumed.
var ErrCouponExhausted = errors.New("coupon service: usage limit reached")

// ErrCouponNotApplicable indicates none of the cart lines fall inside the
// coupon's scope.
var ErrCouponNotApplicable = errors.New("coupon service: not applicable to these items")

// ErrCouponCodeTaken indicates another coupon already uses the code.
var ErrCouponCodeTaken = errors.New("coupon service: code already exists")

// ErrCouponUnavailable indicates the coupon backend cannot fulfil the request.
var ErrCouponUnavailable = errors.New("coupon service: unavailable")

// CouponServiceDeps wires the repository and clock for coupon operations.
type CouponServiceDeps struct {
	Repository repositories.CouponRepository
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type couponService struct {
	repo   repositories.CouponRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCouponService constructs a CouponService enforcing dependency validation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Repository == nil {
		return nil, errors.New("coupon service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		repo:   deps.Repository,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Validate resolves the coupon and checks every gate except scope: activity,
// schedule, minimum order value, and the usage limit.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return Coupon{}, ErrCouponInvalidInput
	}

	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, ErrCouponUnavailable
	}

	now := s.now()
	switch {
	case !coupon.IsActive:
		return Coupon{}, ErrCouponInactive
	case coupon.StartDate != nil && now.Before(*coupon.StartDate):
		return Coupon{}, ErrCouponNotStarted
	case !coupon.ExpirationDate.IsZero() && !now.Before(coupon.ExpirationDate):
		return Coupon{}, ErrCouponExpired
	case coupon.Exhausted():
		return Coupon{}, ErrCouponExhausted
	case coupon.MinOrderValue > 0 && cmd.CartTotal < coupon.MinOrderValue:
		return Coupon{}, ErrCouponMinOrder
	}
	return coupon, nil
}

// Quote validates the coupon and computes the discount it would grant.
func (s *couponService) Quote(ctx context.Context, cmd ValidateCouponCommand) (CouponQuote, error) {
	coupon, err := s.Validate(ctx, cmd)
	if err != nil {
		return CouponQuote{}, err
	}
	discount, err := ComputeDiscount(coupon, cmd.CartTotal, cmd.Lines)
	if err != nil {
		return CouponQuote{}, err
	}
	return CouponQuote{Coupon: coupon, Discount: discount}, nil
}

// ComputeDiscount applies the coupon to the cart. Scope all discounts the
// whole total; scope specific discounts only the eligible line subtotal, and
// an empty eligible subset is an error, never a silent zero.
func ComputeDiscount(coupon Coupon, cartTotal int64, lines []CouponLine) (int64, error) {
	base := cartTotal
	if coupon.Scope == domain.CouponScopeSpecific {
		eligible := make(map[string]struct{}, len(coupon.ApplicableProducts))
		for _, id := range coupon.ApplicableProducts {
			eligible[id] = struct{}{}
		}
		base = 0
		for _, line := range lines {
			if _, ok := eligible[line.ProductID]; ok {
				base += line.Amount
			}
		}
		if base <= 0 {
			return 0, ErrCouponNotApplicable
		}
	}
	return coupon.DiscountAmount(base), nil
}

// Redeem consumes one use of the coupon. The repository re-checks the usage
// limit inside its transaction, so a race past the limit comes back as
// ErrCouponExhausted.
func (s *couponService) Redeem(ctx context.Context, code string) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Coupon{}, ErrCouponInvalidInput
	}

	coupon, err := s.repo.Redeem(ctx, code, s.now())
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			switch couponErr.Code {
			case repositories.CouponErrorExhausted:
				return Coupon{}, ErrCouponExhausted
			case repositories.CouponErrorInactive:
				return Coupon{}, ErrCouponInactive
			}
		}
		if isRepoNotFound(err) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, ErrCouponUnavailable
	}
	s.logger(ctx, "coupon.redeemed", map[string]any{
		"code":      coupon.Code,
		"usedCount": coupon.UsedCount,
	})
	return coupon, nil
}

func (s *couponService) Release(ctx context.Context, code string) error {
	if s == nil || s.repo == nil {
		return ErrCouponUnavailable
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ErrCouponInvalidInput
	}
	if err := s.repo.Release(ctx, code, s.now()); err != nil {
		return ErrCouponUnavailable
	}
	s.logger(ctx, "coupon.released", map[string]any{"code": code})
	return nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	coupon, err := s.buildCoupon(cmd)
	if err != nil {
		return Coupon{}, err
	}
	coupon.CreatedAt = s.now()
	coupon.UpdatedAt = coupon.CreatedAt

	saved, err := s.repo.Insert(ctx, coupon)
	if err != nil {
		if isRepoConflict(err) {
			return Coupon{}, ErrCouponCodeTaken
		}
		return Coupon{}, ErrCouponUnavailable
	}
	return saved, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	if s == nil || s.repo == nil {
		return Coupon{}, ErrCouponUnavailable
	}
	coupon, err := s.buildCoupon(cmd)
	if err != nil {
		return Coupon{}, err
	}
	coupon.UpdatedAt = s.now()

	saved, err := s.repo.Update(ctx, coupon)
	if err != nil {
		if isRepoNotFound(err) {
			return Coupon{}, ErrCouponNotFound
		}
		return Coupon{}, ErrCouponUnavailable
	}
	return saved, nil
}

func (s *couponService) ListCoupons(ctx context.Context, query CouponListQuery) (domain.CursorPage[Coupon], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[Coupon]{}, ErrCouponUnavailable
	}
	filter := repositories.CouponListFilter{
		ActiveOnly: query.ActiveOnly,
		Pagination: query.Pagination,
	}
	if filter.Pagination.PageSize <= 0 {
		filter.Pagination.PageSize = 50
	}
	page, err := s.repo.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, ErrCouponUnavailable
	}
	return page, nil
}

func (s *couponService) buildCoupon(cmd UpsertCouponCommand) (Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	discountType := domain.CouponDiscountType(strings.TrimSpace(strings.ToLower(cmd.DiscountType)))
	switch discountType {
	case domain.CouponDiscountPercentage:
		if cmd.DiscountValue <= 0 || cmd.DiscountValue > 100 {
			return Coupon{}, fmt.Errorf("%w: percentage value must be between 1 and 100", ErrCouponInvalidInput)
		}
	case domain.CouponDiscountFixed:
		if cmd.DiscountValue <= 0 {
			return Coupon{}, fmt.Errorf("%w: fixed value must be positive", ErrCouponInvalidInput)
		}
	default:
		return Coupon{}, fmt.Errorf("%w: unknown discount type %q", ErrCouponInvalidInput, cmd.DiscountType)
	}

	scope := domain.CouponScope(strings.TrimSpace(strings.ToLower(cmd.Scope)))
	if scope == "" {
		scope = domain.CouponScopeAll
	}
	switch scope {
	case domain.CouponScopeAll:
	case domain.CouponScopeSpecific:
		if len(cmd.ApplicableProducts) == 0 {
			return Coupon{}, fmt.Errorf("%w: specific scope requires applicable products", ErrCouponInvalidInput)
		}
	default:
		return Coupon{}, fmt.Errorf("%w: unknown scope %q", ErrCouponInvalidInput, cmd.Scope)
	}

	if cmd.MaxDiscount < 0 || cmd.MinOrderValue < 0 || cmd.UsageLimit < 0 {
		return Coupon{}, fmt.Errorf("%w: money and limit fields must not be negative", ErrCouponInvalidInput)
	}
	if cmd.ExpirationDate.IsZero() {
		return Coupon{}, fmt.Errorf("%w: expiration date is required", ErrCouponInvalidInput)
	}
	if cmd.StartDate != nil && cmd.ExpirationDate.Before(*cmd.StartDate) {
		return Coupon{}, fmt.Errorf("%w: expiration precedes start", ErrCouponInvalidInput)
	}

	products := make([]string, 0, len(cmd.ApplicableProducts))
	for _, id := range cmd.ApplicableProducts {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			products = append(products, trimmed)
		}
	}

	coupon := Coupon{
		ID:                 code,
		Code:               code,
		DiscountType:       discountType,
		DiscountValue:      cmd.DiscountValue,
		MaxDiscount:        cmd.MaxDiscount,
		Scope:              scope,
		ApplicableProducts: products,
		MinOrderValue:      cmd.MinOrderValue,
		ExpirationDate:     cmd.ExpirationDate.UTC(),
		IsActive:           cmd.IsActive,
		UsageLimit:         cmd.UsageLimit,
	}
	if cmd.StartDate != nil {
		start := cmd.StartDate.UTC()
		coupon.StartDate = &start
	}
	return coupon, nil
}
