// Package pricing reconciles locally computed estimates with authoritative
// quotes from the backend. Every quote is stamped with the cart version it
// was fetched for; a quote whose stamp no longer matches the live cart is
// never shown as authoritative, no matter when it arrives.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/pkg/enums"
	"github.com/nashtto/cart-engine/pkg/money"
)

// Quote is a priced view of one vendor group.
type Quote struct {
	VendorID    string
	Source      enums.QuoteSource
	SessionID   string
	CartVersion uint64
	FetchedAt   time.Time

	ItemTotal   decimal.Decimal
	DeliveryFee decimal.Decimal
	PlatformFee decimal.Decimal
	GST         decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Authoritative reports whether the quote came from the backend.
func (q Quote) Authoritative() bool {
	return q.Source == enums.QuoteSourceAuthoritative
}

// DisplayTotal renders the payable amount rounded to two places.
func (q Quote) DisplayTotal() string {
	return money.Display(q.Total)
}

// fallbackQuote estimates pricing locally from cart contents. The estimate
// mirrors the backend's published formula so the user sees a plausible total
// while the authoritative quote is in flight.
func fallbackQuote(group cart.VendorGroup, globalCoupon *cart.Coupon, gstRate, platformFee decimal.Decimal, version uint64, now time.Time) Quote {
	itemTotal := group.ItemTotal()
	gst := itemTotal.Mul(gstRate)

	discount := decimal.Zero
	applicable := make([]cart.Coupon, 0, len(group.Coupons)+1)
	applicable = append(applicable, group.Coupons...)
	if globalCoupon != nil {
		applicable = append(applicable, *globalCoupon)
	}
	for _, coupon := range applicable {
		if itemTotal.LessThan(coupon.MinOrderAmount) {
			continue
		}
		discount = discount.Add(money.Percent(itemTotal, coupon.DiscountPercent))
	}

	total := itemTotal.
		Add(group.DeliveryFeeBase).
		Add(gst).
		Add(platformFee).
		Sub(discount)

	return Quote{
		VendorID:    group.VendorID,
		Source:      enums.QuoteSourceFallback,
		CartVersion: version,
		FetchedAt:   now,
		ItemTotal:   itemTotal,
		DeliveryFee: group.DeliveryFeeBase,
		PlatformFee: platformFee,
		GST:         gst,
		Discount:    discount,
		Total:       money.ClampZero(total),
	}
}
