package enums

import "fmt"

// CouponScope says whether a coupon applies to one vendor group or the whole cart.
type CouponScope string

const (
	CouponScopeVendor CouponScope = "vendor"
	CouponScopeGlobal CouponScope = "global"
)

var validCouponScopes = []CouponScope{
	CouponScopeVendor,
	CouponScopeGlobal,
}

// String implements fmt.Stringer.
func (c CouponScope) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CouponScope.
func (c CouponScope) IsValid() bool {
	for _, candidate := range validCouponScopes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCouponScope converts raw input into a CouponScope.
func ParseCouponScope(value string) (CouponScope, error) {
	for _, candidate := range validCouponScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon scope %q", value)
}
