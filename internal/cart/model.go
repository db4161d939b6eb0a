package cart

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/types"
)

// Coupon is a discount the backend issued. DiscountPercent is 0-100; the
// discount applies only when the relevant subtotal reaches MinOrderAmount.
type Coupon struct {
	Code            string            `json:"code"`
	DiscountPercent decimal.Decimal   `json:"discountPercent"`
	MinOrderAmount  decimal.Decimal   `json:"minOrderAmount"`
	Scope           enums.CouponScope `json:"scope"`
}

// Validate rejects coupons the backend would never issue.
func (c Coupon) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return fmt.Errorf("coupon: missing code")
	}
	if c.DiscountPercent.IsNegative() || c.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("coupon %s: discount percent %s out of range", c.Code, c.DiscountPercent)
	}
	if c.MinOrderAmount.IsNegative() {
		return fmt.Errorf("coupon %s: negative min order amount", c.Code)
	}
	if !c.Scope.IsValid() {
		return fmt.Errorf("coupon %s: invalid scope %q", c.Code, c.Scope)
	}
	return nil
}

// Item is a cart line after ingestion. UnitPrice is the single canonical
// price field; upstream shape differences are resolved in ItemPayload.
type Item struct {
	MenuItemID          int64
	Name                string
	Quantity            int
	UnitPrice           decimal.Decimal
	SpecialInstructions string
}

// LineTotal is UnitPrice times Quantity at full precision.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemPayload is the upstream shape for a cart line. Menus and older cart
// snapshots disagree on the price field (price, unitPrice, or subtotal), so
// the payload carries all three and Normalize resolves them exactly once.
type ItemPayload struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	Quantity            int      `json:"quantity"`
	Price               *float64 `json:"price,omitempty"`
	UnitPrice           *float64 `json:"unitPrice,omitempty"`
	Subtotal            *float64 `json:"subtotal,omitempty"`
	SpecialInstructions string   `json:"specialInstructions,omitempty"`
}

// Normalize produces the canonical Item. Downstream code never looks at the
// raw price fields again.
func (p ItemPayload) Normalize() (Item, error) {
	menuItemID, err := strconv.ParseInt(strings.TrimSpace(p.ID), 10, 64)
	if err != nil {
		return Item{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item id %q is not a menu item id", p.ID))
	}
	if p.Quantity < 1 {
		return Item{}, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be at least 1")
	}

	unitPrice, err := p.resolveUnitPrice()
	if err != nil {
		return Item{}, err
	}

	return Item{
		MenuItemID:          menuItemID,
		Name:                p.Name,
		Quantity:            p.Quantity,
		UnitPrice:           unitPrice,
		SpecialInstructions: p.SpecialInstructions,
	}, nil
}

func (p ItemPayload) resolveUnitPrice() (decimal.Decimal, error) {
	var unit decimal.Decimal
	switch {
	case p.Price != nil:
		unit = decimal.NewFromFloat(*p.Price)
	case p.UnitPrice != nil:
		unit = decimal.NewFromFloat(*p.UnitPrice)
	case p.Subtotal != nil:
		unit = decimal.NewFromFloat(*p.Subtotal).Div(decimal.NewFromInt(int64(p.Quantity)))
	default:
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %q carries no price field", p.ID))
	}
	if unit.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("item %q has a negative price", p.ID))
	}
	return unit, nil
}

// VendorRef is the vendor metadata needed when a group is first created.
type VendorRef struct {
	ID          string          `json:"restaurantId"`
	Name        string          `json:"restaurantName"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
}

// VendorGroup is the slice of the cart belonging to one restaurant.
type VendorGroup struct {
	VendorID            string
	VendorName          string
	Items               []Item
	DeliveryFeeBase     decimal.Decimal
	SpecialInstructions string
	Coupons             []Coupon
}

// ItemTotal sums line totals at full precision.
func (g VendorGroup) ItemTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range g.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (g VendorGroup) findItem(menuItemID int64) int {
	for i, item := range g.Items {
		if item.MenuItemID == menuItemID {
			return i
		}
	}
	return -1
}

func (g VendorGroup) clone() VendorGroup {
	out := g
	out.Items = append([]Item(nil), g.Items...)
	out.Coupons = append([]Coupon(nil), g.Coupons...)
	return out
}

// Cart is the canonical in-memory cart. Version increments on every mutation
// and stamps price quotes so stale ones can be recognized.
type Cart struct {
	Groups          []VendorGroup
	GlobalCoupon    *Coupon
	DeliveryAddress *types.Address
	Version         uint64
}

// Group returns the vendor group for the given vendor, if present.
func (c Cart) Group(vendorID string) (VendorGroup, bool) {
	for _, group := range c.Groups {
		if group.VendorID == vendorID {
			return group, true
		}
	}
	return VendorGroup{}, false
}

// IsEmpty reports whether the cart holds no items at all.
func (c Cart) IsEmpty() bool {
	for _, group := range c.Groups {
		if len(group.Items) > 0 {
			return false
		}
	}
	return true
}

func (c Cart) clone() Cart {
	out := c
	out.Groups = make([]VendorGroup, len(c.Groups))
	for i, group := range c.Groups {
		out.Groups[i] = group.clone()
	}
	if c.GlobalCoupon != nil {
		coupon := *c.GlobalCoupon
		out.GlobalCoupon = &coupon
	}
	if c.DeliveryAddress != nil {
		addr := *c.DeliveryAddress
		out.DeliveryAddress = &addr
	}
	return out
}
