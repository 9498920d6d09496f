package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/merakistore/api/internal/domain"
	"github.com/merakistore/api/internal/repositories"
)

type stubCouponRepository struct {
	findFn   func(code string) (domain.Coupon, error)
	insertFn func(coupon domain.Coupon) (domain.Coupon, error)
	updateFn func(coupon domain.Coupon) (domain.Coupon, error)
	redeemFn func(code string, now time.Time) (domain.Coupon, error)
	listFn   func(filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	released []string
}

func (s *stubCouponRepository) Insert(_ context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if s.insertFn != nil {
		return s.insertFn(coupon)
	}
	return coupon, nil
}

func (s *stubCouponRepository) Update(_ context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if s.updateFn != nil {
		return s.updateFn(coupon)
	}
	return coupon, nil
}

func (s *stubCouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	if s.findFn != nil {
		return s.findFn(code)
	}
	return domain.Coupon{}, repoError{message: "coupon missing", notFound: true}
}

func (s *stubCouponRepository) List(_ context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(filter)
	}
	return domain.CursorPage[domain.Coupon]{}, nil
}

func (s *stubCouponRepository) Redeem(_ context.Context, code string, now time.Time) (domain.Coupon, error) {
	if s.redeemFn != nil {
		return s.redeemFn(code, now)
	}
	return domain.Coupon{}, repoError{message: "coupon missing", notFound: true}
}

func (s *stubCouponRepository) Release(_ context.Context, code string, _ time.Time) error {
	s.released = append(s.released, code)
	return nil
}

func newCouponFixture(t *testing.T, repo *stubCouponRepository, now time.Time) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{Repository: repo, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	return svc
}

func activeCoupon() domain.Coupon {
	return domain.Coupon{
		ID:             "WELCOME10",
		Code:           "WELCOME10",
		DiscountType:   domain.CouponDiscountPercentage,
		DiscountValue:  10,
		Scope:          domain.CouponScopeAll,
		ExpirationDate: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		IsActive:       true,
	}
}

func TestCouponServiceValidateNormalisesCode(t *testing.T) {
	var requested string
	repo := &stubCouponRepository{findFn: func(code string) (domain.Coupon, error) {
		requested = code
		return activeCoupon(), nil
	}}
	svc := newCouponFixture(t, repo, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	coupon, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "  welcome10 ", CartTotal: 50000})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if requested != "WELCOME10" {
		t.Fatalf("expected uppercase lookup, got %q", requested)
	}
	if coupon.Code != "WELCOME10" {
		t.Fatalf("unexpected coupon %q", coupon.Code)
	}
}

func TestCouponServiceValidateGates(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*domain.Coupon)
		want   error
	}{
		{"inactive", func(c *domain.Coupon) { c.IsActive = false }, ErrCouponInactive},
		{"not started", func(c *domain.Coupon) { c.StartDate = &future }, ErrCouponNotStarted},
		{"expired", func(c *domain.Coupon) { c.ExpirationDate = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }, ErrCouponExpired},
		{"expired at the boundary", func(c *domain.Coupon) { c.ExpirationDate = now }, ErrCouponExpired},
		{"exhausted", func(c *domain.Coupon) { c.UsageLimit = 5; c.UsedCount = 5 }, ErrCouponExhausted},
		{"below minimum", func(c *domain.Coupon) { c.MinOrderValue = 100000 }, ErrCouponMinOrder},
	}
	for _, tc := range cases {
		coupon := activeCoupon()
		tc.mutate(&coupon)
		repo := &stubCouponRepository{findFn: func(string) (domain.Coupon, error) { return coupon, nil }}
		svc := newCouponFixture(t, repo, now)

		_, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "WELCOME10", CartTotal: 50000})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCouponServiceQuotePercentageWithCap(t *testing.T) {
	coupon := activeCoupon()
	coupon.MaxDiscount = 3000
	repo := &stubCouponRepository{findFn: func(string) (domain.Coupon, error) { return coupon, nil }}
	svc := newCouponFixture(t, repo, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	quote, err := svc.Quote(context.Background(), ValidateCouponCommand{Code: "WELCOME10", CartTotal: 50000})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Discount != 3000 {
		t.Fatalf("expected discount capped at 3000, got %d", quote.Discount)
	}
}

func TestComputeDiscountSpecificScope(t *testing.T) {
	coupon := activeCoupon()
	coupon.Scope = domain.CouponScopeSpecific
	coupon.ApplicableProducts = []string{"prod-1"}

	lines := []CouponLine{
		{ProductID: "prod-1", Amount: 40000},
		{ProductID: "prod-2", Amount: 60000},
	}
	discount, err := ComputeDiscount(coupon, 100000, lines)
	if err != nil {
		t.Fatalf("compute discount: %v", err)
	}
	if discount != 4000 {
		t.Fatalf("expected discount over eligible lines only, got %d", discount)
	}

	coupon.ApplicableProducts = []string{"prod-3"}
	if _, err := ComputeDiscount(coupon, 100000, lines); !errors.Is(err, ErrCouponNotApplicable) {
		t.Fatalf("expected not applicable, got %v", err)
	}
}

func TestComputeDiscountFixedNeverExceedsBase(t *testing.T) {
	coupon := activeCoupon()
	coupon.DiscountType = domain.CouponDiscountFixed
	coupon.DiscountValue = 80000

	discount, err := ComputeDiscount(coupon, 50000, nil)
	if err != nil {
		t.Fatalf("compute discount: %v", err)
	}
	if discount != 50000 {
		t.Fatalf("expected discount clamped to base, got %d", discount)
	}
}

func TestCouponServiceRedeemMapsRepositoryErrors(t *testing.T) {
	repo := &stubCouponRepository{redeemFn: func(string, time.Time) (domain.Coupon, error) {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorExhausted, "FEST10", "limit reached", nil)
	}}
	svc := newCouponFixture(t, repo, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	if _, err := svc.Redeem(context.Background(), "welcome10"); !errors.Is(err, ErrCouponExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}

	repo.redeemFn = func(string, time.Time) (domain.Coupon, error) {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorInactive, "FEST10", "switched off", nil)
	}
	if _, err := svc.Redeem(context.Background(), "welcome10"); !errors.Is(err, ErrCouponInactive) {
		t.Fatalf("expected inactive, got %v", err)
	}
}

func TestCouponServiceCreateCouponConflict(t *testing.T) {
	repo := &stubCouponRepository{insertFn: func(domain.Coupon) (domain.Coupon, error) {
		return domain.Coupon{}, repoError{message: "code taken", conflict: true}
	}}
	svc := newCouponFixture(t, repo, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	_, err := svc.CreateCoupon(context.Background(), UpsertCouponCommand{
		Code:           "WELCOME10",
		DiscountType:   "percentage",
		DiscountValue:  10,
		ExpirationDate: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		IsActive:       true,
	})
	if !errors.Is(err, ErrCouponCodeTaken) {
		t.Fatalf("expected code taken, got %v", err)
	}
}

func TestCouponServiceCreateCouponValidation(t *testing.T) {
	svc := newCouponFixture(t, &stubCouponRepository{}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	expiry := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		cmd  UpsertCouponCommand
	}{
		{"missing code", UpsertCouponCommand{DiscountType: "percentage", DiscountValue: 10, ExpirationDate: expiry}},
		{"percentage over 100", UpsertCouponCommand{Code: "X", DiscountType: "percentage", DiscountValue: 150, ExpirationDate: expiry}},
		{"zero fixed value", UpsertCouponCommand{Code: "X", DiscountType: "fixed", DiscountValue: 0, ExpirationDate: expiry}},
		{"unknown type", UpsertCouponCommand{Code: "X", DiscountType: "bogo", DiscountValue: 10, ExpirationDate: expiry}},
		{"specific without products", UpsertCouponCommand{Code: "X", DiscountType: "percentage", DiscountValue: 10, Scope: "specific", ExpirationDate: expiry}},
		{"missing expiration", UpsertCouponCommand{Code: "X", DiscountType: "percentage", DiscountValue: 10}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateCoupon(ctx, tc.cmd); !errors.Is(err, ErrCouponInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}
}

func TestCouponServiceReleaseNormalisesCode(t *testing.T) {
	repo := &stubCouponRepository{}
	svc := newCouponFixture(t, repo, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	if err := svc.Release(context.Background(), " fest10 "); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(repo.released) != 1 || repo.released[0] != "FEST10" {
		t.Fatalf("expected uppercase release, got %v", repo.released)
	}

	if err := svc.Release(context.Background(), "  "); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
