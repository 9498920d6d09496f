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

const couponsCollection = "coupons"

// CouponRepository stores coupon definitions keyed by their normalised code
// and owns the transactional redemption counter.
type CouponRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Repository[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository: firestore provider is required")
	}
	base := pfirestore.NewRepository[couponDocument](provider, couponsCollection)
	return &CouponRepository{provider: provider, base: base}, nil
}

// Insert creates the coupon. Codes are unique; inserting an existing code
// surfaces as a conflict RepositoryError.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code := normaliseCouponCode(coupon.Code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}
	ref, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	doc := encodeCouponDocument(coupon)
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.insert", err)
	}
	return doc.toDomain(code), nil
}

// Update replaces the stored coupon definition. UsedCount is preserved as
// stored so an admin edit cannot reset redemption history.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code := normaliseCouponCode(coupon.Code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}

	var saved domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored couponDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode coupon %s: %w", code, err)
		}
		doc := encodeCouponDocument(coupon)
		doc.UsedCount = stored.UsedCount
		doc.CreatedAt = stored.CreatedAt
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(code)
		return nil
	})
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError("coupons.update", err)
	}
	return saved, nil
}

// FindByCode loads a coupon by its code, case-insensitively.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = normaliseCouponCode(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon := doc.Data.toDomain(doc.ID)
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = doc.CreateTime
	}
	if coupon.UpdatedAt.IsZero() {
		coupon.UpdatedAt = doc.UpdateTime
	}
	return coupon, nil
}

// List returns a page of coupons ordered by creation time, newest first.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
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
			return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("coupon repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
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
		return domain.CursorPage[domain.Coupon]{}, err
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

	items := make([]domain.Coupon, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Coupon]{Items: items, NextPageToken: nextToken}, nil
}

// Redeem increments the coupon's used count inside a transaction, re-checking
// activity and the usage limit against the stored state so concurrent
// checkouts can never push the counter past the limit.
func (r *CouponRepository) Redeem(ctx context.Context, code string, now time.Time) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = normaliseCouponCode(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}
	now = now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var redeemed domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.WrapError("coupons.redeem", err)
			}
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", code, err)
		}
		if !doc.IsActive {
			return repositories.NewCouponError(repositories.CouponErrorInactive, code, "coupon is not active", nil)
		}
		if doc.UsageLimit > 0 && doc.UsedCount >= doc.UsageLimit {
			return repositories.NewCouponError(repositories.CouponErrorExhausted, code, "coupon usage limit reached", nil)
		}
		doc.UsedCount++
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		redeemed = doc.toDomain(code)
		return nil
	})
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			return domain.Coupon{}, couponErr
		}
		return domain.Coupon{}, pfirestore.WrapError("coupons.redeem", err)
	}
	return redeemed, nil
}

// Release undoes one redeemed use. Missing coupons are treated as released
// so a compensation retry never fails on a concurrently deleted coupon.
func (r *CouponRepository) Release(ctx context.Context, code string, now time.Time) error {
	code = normaliseCouponCode(code)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}
	now = now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		var doc couponDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode coupon %s: %w", code, err)
		}
		if doc.UsedCount <= 0 {
			return nil
		}
		doc.UsedCount--
		doc.UpdatedAt = now
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("coupons.release", err)
	}
	return nil
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type couponDocument struct {
	Code               string     `firestore:"code"`
	DiscountType       string     `firestore:"discountType"`
	DiscountValue      int64      `firestore:"discountValue"`
	MaxDiscount        int64      `firestore:"maxDiscount"`
	Scope              string     `firestore:"scope"`
	ApplicableProducts []string   `firestore:"applicableProducts,omitempty"`
	MinOrderValue      int64      `firestore:"minOrderValue"`
	StartDate          *time.Time `firestore:"startDate,omitempty"`
	ExpirationDate     time.Time  `firestore:"expirationDate"`
	IsActive           bool       `firestore:"isActive"`
	UsageLimit         int64      `firestore:"usageLimit"`
	UsedCount          int64      `firestore:"usedCount"`
	CreatedAt          time.Time  `firestore:"createdAt"`
	UpdatedAt          time.Time  `firestore:"updatedAt"`
}

func encodeCouponDocument(coupon domain.Coupon) couponDocument {
	doc := couponDocument{
		Code:               normaliseCouponCode(coupon.Code),
		DiscountType:       string(coupon.DiscountType),
		DiscountValue:      coupon.DiscountValue,
		MaxDiscount:        coupon.MaxDiscount,
		Scope:              string(coupon.Scope),
		ApplicableProducts: append([]string(nil), coupon.ApplicableProducts...),
		MinOrderValue:      coupon.MinOrderValue,
		ExpirationDate:     coupon.ExpirationDate.UTC(),
		IsActive:           coupon.IsActive,
		UsageLimit:         coupon.UsageLimit,
		UsedCount:          coupon.UsedCount,
		CreatedAt:          coupon.CreatedAt.UTC(),
		UpdatedAt:          coupon.UpdatedAt.UTC(),
	}
	if doc.Scope == "" {
		doc.Scope = string(domain.CouponScopeAll)
	}
	if coupon.StartDate != nil {
		value := coupon.StartDate.UTC()
		doc.StartDate = &value
	}
	return doc
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	coupon := domain.Coupon{
		ID:                 id,
		Code:               d.Code,
		DiscountType:       domain.CouponDiscountType(d.DiscountType),
		DiscountValue:      d.DiscountValue,
		MaxDiscount:        d.MaxDiscount,
		Scope:              domain.CouponScope(d.Scope),
		ApplicableProducts: append([]string(nil), d.ApplicableProducts...),
		MinOrderValue:      d.MinOrderValue,
		ExpirationDate:     d.ExpirationDate,
		IsActive:           d.IsActive,
		UsageLimit:         d.UsageLimit,
		UsedCount:          d.UsedCount,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if coupon.Code == "" {
		coupon.Code = id
	}
	if coupon.Scope == "" {
		coupon.Scope = domain.CouponScopeAll
	}
	if d.StartDate != nil {
		value := *d.StartDate
		coupon.StartDate = &value
	}
	return coupon
}
