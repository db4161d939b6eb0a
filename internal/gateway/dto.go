package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/pkg/enums"
	"github.com/nashtto/cart-engine/pkg/types"
)

// Identity is everything about the customer a checkout payload needs. The
// host app resolves it; the engine only forwards it.
type Identity struct {
	CustomerID    uuid.UUID
	Address       types.Address
	Location      types.GeoPoint
	PaymentMethod enums.PaymentMethod
}

// IdentityProvider yields the current customer identity.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// StaticIdentity is an IdentityProvider for a fixed customer, useful in dev
// and tests.
type StaticIdentity struct {
	Value Identity
}

// Identity implements IdentityProvider.
func (s StaticIdentity) Identity(ctx context.Context) (Identity, error) {
	return s.Value, nil
}

// CartEnvelope wraps cart replies from the backend.
type CartEnvelope struct {
	Cart CartSnapshot `json:"cart"`
}

// CartSnapshot is the grouped-by-vendor wire shape for a cart.
type CartSnapshot struct {
	Items           []VendorGroupPayload `json:"items"`
	GlobalCoupon    *CouponPayload       `json:"globalCoupon,omitempty"`
	DeliveryAddress *types.Address       `json:"deliveryAddress,omitempty"`
}

// VendorGroupPayload is one restaurant's slice of the cart on the wire.
type VendorGroupPayload struct {
	RestaurantID        string             `json:"restaurantId"`
	RestaurantName      string             `json:"restaurantName"`
	DeliveryFee         float64            `json:"deliveryFee"`
	SpecialInstructions string             `json:"specialInstructions,omitempty"`
	Items               []cart.ItemPayload `json:"items"`
	Coupons             []CouponPayload    `json:"coupons,omitempty"`
}

// CouponPayload is a coupon on the wire.
type CouponPayload struct {
	Code            string  `json:"code"`
	DiscountPercent float64 `json:"discountPercent"`
	MinOrderAmount  float64 `json:"minOrderAmount"`
	Scope           string  `json:"scope"`
}

// ApplyCouponRequest targets the cart coupon endpoint.
type ApplyCouponRequest struct {
	VendorID string `json:"vendorId,omitempty"`
	Code     string `json:"code" validate:"required"`
}

// CalculateRequest is the body for POST /checkout/calculate.
type CalculateRequest struct {
	UserID           string          `json:"userId" validate:"required"`
	VendorBranchID   int64           `json:"vendorBranchId" validate:"required,min=1"`
	DeliveryAddress  types.Address   `json:"deliveryAddress"`
	DeliveryLocation types.GeoPoint  `json:"deliveryLocation"`
	Items            []CalculateItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod    string          `json:"paymentMethod" validate:"required"`
	CouponCode       string          `json:"couponCode,omitempty"`
}

// CalculateItem is one resolved menu line on the calculate payload.
type CalculateItem struct {
	MenuItemID          int64  `json:"menuItemId" validate:"required,min=1"`
	Quantity            int    `json:"quantity" validate:"required,min=1"`
	SpecialInstructions string `json:"specialInstructions,omitempty"`
}

// PricingBreakdown is the backend's quote. Floats here are a wire concern;
// they convert to decimals the moment they enter the engine.
type PricingBreakdown struct {
	ItemTotal       float64 `json:"itemTotal"`
	DeliveryCharges float64 `json:"deliveryCharges"`
	PlatformFee     float64 `json:"platformFee"`
	GST             float64 `json:"gst"`
	Discount        float64 `json:"discount"`
	TotalAmount     float64 `json:"totalAmount"`
}

// CalculateResponse is the reply to calculate: a priced session handle.
type CalculateResponse struct {
	CheckoutSessionID string           `json:"checkoutSessionId"`
	Pricing           PricingBreakdown `json:"pricing"`
}

// CommitRequest is the body for POST /checkout/commit.
type CommitRequest struct {
	CheckoutSessionID string `json:"checkoutSessionId" validate:"required"`
	PaymentToken      string `json:"paymentToken" validate:"required"`
}

// OrderItem is one line on a committed order.
type OrderItem struct {
	MenuItemID int64   `json:"menuItemId"`
	Name       string  `json:"name"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unitPrice"`
}

// Order is the backend's view of a committed order.
type Order struct {
	OrderID       string           `json:"orderId"`
	OrderNumber   string           `json:"orderNumber"`
	State         enums.OrderState `json:"state"`
	VendorID      string           `json:"vendorId"`
	TotalAmount   float64          `json:"totalAmount"`
	Pricing       PricingBreakdown `json:"pricing"`
	Items         []OrderItem      `json:"items"`
	PaymentStatus string           `json:"paymentStatus,omitempty"`
	CreatedAt     string           `json:"createdAt,omitempty"`
}

// CancelOrderRequest carries the user's cancellation reason.
type CancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

// OrdersQuery filters and pages an order listing. Cursor is the opaque
// value from a previous page's NextCursor.
type OrdersQuery struct {
	State  string
	Limit  int
	Cursor string
}

// OrdersPage is one page of order history.
type OrdersPage struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// snapshotFromCart converts the engine model into the wire shape.
func snapshotFromCart(c cart.Cart) CartSnapshot {
	snapshot := CartSnapshot{
		DeliveryAddress: c.DeliveryAddress,
	}
	if c.GlobalCoupon != nil {
		coupon := couponPayloadFrom(*c.GlobalCoupon)
		snapshot.GlobalCoupon = &coupon
	}
	for _, group := range c.Groups {
		fee, _ := group.DeliveryFeeBase.Float64()
		payload := VendorGroupPayload{
			RestaurantID:        group.VendorID,
			RestaurantName:      group.VendorName,
			DeliveryFee:         fee,
			SpecialInstructions: group.SpecialInstructions,
		}
		for _, item := range group.Items {
			unit, _ := item.UnitPrice.Float64()
			payload.Items = append(payload.Items, cart.ItemPayload{
				ID:                  formatMenuItemID(item.MenuItemID),
				Name:                item.Name,
				Quantity:            item.Quantity,
				Price:               &unit,
				SpecialInstructions: item.SpecialInstructions,
			})
		}
		for _, coupon := range group.Coupons {
			payload.Coupons = append(payload.Coupons, couponPayloadFrom(coupon))
		}
		snapshot.Items = append(snapshot.Items, payload)
	}
	return snapshot
}

// cartFromSnapshot converts a backend snapshot into the engine model,
// normalizing every item price exactly once at ingestion.
func cartFromSnapshot(snapshot CartSnapshot) (*cart.Cart, error) {
	out := &cart.Cart{DeliveryAddress: snapshot.DeliveryAddress}
	if snapshot.GlobalCoupon != nil {
		coupon, err := couponFromPayload(*snapshot.GlobalCoupon)
		if err != nil {
			return nil, err
		}
		out.GlobalCoupon = &coupon
	}
	for _, payload := range snapshot.Items {
		group := cart.VendorGroup{
			VendorID:            payload.RestaurantID,
			VendorName:          payload.RestaurantName,
			DeliveryFeeBase:     decimalFromFloat(payload.DeliveryFee),
			SpecialInstructions: payload.SpecialInstructions,
		}
		for _, itemPayload := range payload.Items {
			item, err := itemPayload.Normalize()
			if err != nil {
				return nil, err
			}
			group.Items = append(group.Items, item)
		}
		for _, couponPayload := range payload.Coupons {
			coupon, err := couponFromPayload(couponPayload)
			if err != nil {
				return nil, err
			}
			group.Coupons = append(group.Coupons, coupon)
		}
		out.Groups = append(out.Groups, group)
	}
	return out, nil
}
