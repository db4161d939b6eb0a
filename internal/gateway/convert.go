package gateway

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
)

func decimalFromFloat(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

func formatMenuItemID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func couponPayloadFrom(coupon cart.Coupon) CouponPayload {
	percent, _ := coupon.DiscountPercent.Float64()
	minOrder, _ := coupon.MinOrderAmount.Float64()
	return CouponPayload{
		Code:            coupon.Code,
		DiscountPercent: percent,
		MinOrderAmount:  minOrder,
		Scope:           coupon.Scope.String(),
	}
}

func couponFromPayload(payload CouponPayload) (cart.Coupon, error) {
	scope, err := enums.ParseCouponScope(payload.Scope)
	if err != nil {
		return cart.Coupon{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "coupon scope from backend")
	}
	coupon := cart.Coupon{
		Code:            payload.Code,
		DiscountPercent: decimalFromFloat(payload.DiscountPercent),
		MinOrderAmount:  decimalFromFloat(payload.MinOrderAmount),
		Scope:           scope,
	}
	if err := coupon.Validate(); err != nil {
		return cart.Coupon{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "coupon from backend")
	}
	return coupon, nil
}

// BuildCalculateRequest assembles the checkout-calculate payload for one
// vendor group. Coupon precedence follows the app: the cart-level coupon
// wins over a vendor coupon for the couponCode hint.
func BuildCalculateRequest(id Identity, group cart.VendorGroup, globalCoupon *cart.Coupon) CalculateRequest {
	branchID, _ := strconv.ParseInt(group.VendorID, 10, 64)
	req := CalculateRequest{
		UserID:           id.CustomerID.String(),
		VendorBranchID:   branchID,
		DeliveryAddress:  id.Address,
		DeliveryLocation: id.Location,
		PaymentMethod:    id.PaymentMethod.String(),
	}
	for _, item := range group.Items {
		req.Items = append(req.Items, CalculateItem{
			MenuItemID:          item.MenuItemID,
			Quantity:            item.Quantity,
			SpecialInstructions: item.SpecialInstructions,
		})
	}
	switch {
	case globalCoupon != nil:
		req.CouponCode = globalCoupon.Code
	case len(group.Coupons) > 0:
		req.CouponCode = group.Coupons[0].Code
	}
	return req
}
