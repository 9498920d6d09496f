package domain

import "time"

// Caller roles recognised by the pricing layer.
const (
	RoleCustomer = "customer"
	RoleReseller = "reseller"
	RoleAdmin    = "admin"
)

// PriceQuote is the outcome of resolving a product for one role at one
// instant: the effective unit price, the shipping charge per line, and the
// tax rate to apply.
type PriceQuote struct {
	UnitPrice     int64
	ShippingCost  int64
	TaxPercentage float64
}

// PricingPolicy resolves role-dependent pricing. A policy is selected once
// per request and passed explicitly; components never branch on the raw role
// string themselves.
type PricingPolicy interface {
	Role() string
	Quote(p Product, now time.Time) PriceQuote
	CouponsAllowed() bool
}

// PolicyForRole selects the pricing policy for the caller's role. Resellers
// get wholesale pricing; everyone else, including admins acting as buyers,
// gets retail pricing.
func PolicyForRole(role string) PricingPolicy {
	if role == RoleReseller {
		return wholesalePolicy{}
	}
	return retailPolicy{}
}

type retailPolicy struct{}

func (retailPolicy) Role() string { return RoleCustomer }

func (retailPolicy) CouponsAllowed() bool { return true }

// Quote returns the discount-adjusted retail price when the product's
// discount window covers now, otherwise the base price.
func (retailPolicy) Quote(p Product, now time.Time) PriceQuote {
	unit := p.Price
	if p.DiscountActive(now) {
		unit = PercentOf(p.Price, int64(100-p.DiscountPercentage))
	}
	return PriceQuote{
		UnitPrice:     unit,
		ShippingCost:  p.Retail.ShippingCost,
		TaxPercentage: p.Retail.TaxPercentage,
	}
}

type wholesalePolicy struct{}

func (wholesalePolicy) Role() string { return RoleReseller }

func (wholesalePolicy) CouponsAllowed() bool { return false }

// Quote returns the wholesale price when one is set, falling back to the
// base price. Retail discount windows never apply to wholesale buyers.
func (wholesalePolicy) Quote(p Product, _ time.Time) PriceQuote {
	unit := p.Price
	if p.WholesalePrice > 0 {
		unit = p.WholesalePrice
	}
	return PriceQuote{
		UnitPrice:     unit,
		ShippingCost:  p.Wholesale.ShippingCost,
		TaxPercentage: p.Wholesale.TaxPercentage,
	}
}

// PercentOf applies a whole-number percentage to an amount of minor currency
// units, rounding half-up. Non-positive inputs yield zero.
func PercentOf(amount, pct int64) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	return (amount*pct + 50) / 100
}
