package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/logger"
	"github.com/nashtto/cart-engine/pkg/metrics"
	"github.com/nashtto/cart-engine/pkg/types"
)

// Op names a cart store mutation.
type Op string

const (
	OpAddItem         Op = "add_item"
	OpSetQuantity     Op = "set_quantity"
	OpRemoveItem      Op = "remove_item"
	OpClearVendor     Op = "clear_vendor"
	OpClearAll        Op = "clear_all"
	OpApplyCoupon     Op = "apply_coupon"
	OpSetInstructions Op = "set_instructions"
	OpSetAddress      Op = "set_address"
	OpRefresh         Op = "refresh"
)

// Event describes a completed mutation. It carries a full snapshot so
// subscribers never have to call back into the store during notification.
type Event struct {
	Op           Op
	VendorID     string
	Version      uint64
	GroupRemoved bool
	Cart         Cart
}

// Subscriber receives events synchronously, in mutation order, before the
// mutation is mirrored to the backend.
type Subscriber func(Event)

// Remote mirrors cart state to the backend, which is the system of record
// when reachable.
type Remote interface {
	UpsertCart(ctx context.Context, snapshot Cart) error
	ApplyCoupon(ctx context.Context, vendorID, code string) error
	ClearCart(ctx context.Context) error
	FetchCart(ctx context.Context) (*Cart, error)
}

// Store owns the canonical in-memory cart. All mutations go through it; it
// serializes them, bumps the version counter, notifies subscribers, and then
// mirrors the change to the backend under the optimistic-write policy: a
// failed mirror is reported but the local mutation is never rolled back.
type Store struct {
	mu   sync.Mutex
	cart Cart
	subs []Subscriber

	remote  Remote
	log     *logger.Logger
	metrics *metrics.EngineMetrics

	retryBackoff time.Duration
}

// NewStore builds the cart store. remote may be nil for a purely local cart.
func NewStore(remote Remote, logg *logger.Logger, m *metrics.EngineMetrics) (*Store, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Store{
		remote:       remote,
		log:          logg,
		metrics:      m,
		retryBackoff: 200 * time.Millisecond,
	}, nil
}

// Subscribe registers a synchronous observer. Subscribers must not mutate
// the store from within the callback.
func (s *Store) Subscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// Snapshot returns a deep copy of the current cart.
func (s *Store) Snapshot() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.clone()
}

// Version returns the current mutation counter.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Version
}

// AddItem adds the normalized item to the vendor's group, creating the group
// on first contact with a vendor. Adding an item that is already present
// increments its quantity instead of duplicating the line.
func (s *Store) AddItem(ctx context.Context, vendor VendorRef, payload ItemPayload) error {
	item, err := payload.Normalize()
	if err != nil {
		return err
	}

	snapshot, err := s.mutate(OpAddItem, vendor.ID, func(c *Cart) error {
		for i := range c.Groups {
			if c.Groups[i].VendorID != vendor.ID {
				continue
			}
			group := &c.Groups[i]
			if idx := group.findItem(item.MenuItemID); idx >= 0 {
				group.Items[idx].Quantity += item.Quantity
				group.Items[idx].UnitPrice = item.UnitPrice
			} else {
				group.Items = append(group.Items, item)
			}
			return nil
		}
		c.Groups = append(c.Groups, VendorGroup{
			VendorID:        vendor.ID,
			VendorName:      vendor.Name,
			DeliveryFeeBase: vendor.DeliveryFee,
			Items:           []Item{item},
		})
		return nil
	})
	if err != nil {
		return err
	}
	return s.mirrorSnapshot(ctx, snapshot)
}

// SetQuantity sets the line quantity. A quantity at or below zero removes
// the item, and removing the last item destroys the vendor group.
func (s *Store) SetQuantity(ctx context.Context, vendorID string, menuItemID int64, qty int) error {
	if qty <= 0 {
		return s.RemoveItem(ctx, vendorID, menuItemID)
	}

	snapshot, err := s.mutate(OpSetQuantity, vendorID, func(c *Cart) error {
		for i := range c.Groups {
			if c.Groups[i].VendorID != vendorID {
				continue
			}
			group := &c.Groups[i]
			idx := group.findItem(menuItemID)
			if idx < 0 {
				break
			}
			group.Items[idx].Quantity = qty
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("item %d not in cart for vendor %s", menuItemID, vendorID))
	})
	if err != nil {
		return err
	}
	return s.mirrorSnapshot(ctx, snapshot)
}

// RemoveItem deletes the line and destroys the vendor group if it empties.
func (s *Store) RemoveItem(ctx context.Context, vendorID string, menuItemID int64) error {
	snapshot, err := s.mutate(OpRemoveItem, vendorID, func(c *Cart) error {
		for i := range c.Groups {
			if c.Groups[i].VendorID != vendorID {
				continue
			}
			group := &c.Groups[i]
			idx := group.findItem(menuItemID)
			if idx < 0 {
				break
			}
			group.Items = append(group.Items[:idx], group.Items[idx+1:]...)
			if len(group.Items) == 0 {
				c.Groups = append(c.Groups[:i], c.Groups[i+1:]...)
			}
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("item %d not in cart for vendor %s", menuItemID, vendorID))
	})
	if err != nil {
		return err
	}
	return s.mirrorSnapshot(ctx, snapshot)
}

// ClearVendor drops the whole vendor group.
func (s *Store) ClearVendor(ctx context.Context, vendorID string) error {
	snapshot, err := s.mutate(OpClearVendor, vendorID, func(c *Cart) error {
		for i := range c.Groups {
			if c.Groups[i].VendorID == vendorID {
				c.Groups = append(c.Groups[:i], c.Groups[i+1:]...)
				return nil
			}
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no cart group for vendor %s", vendorID))
	})
	if err != nil {
		return err
	}
	return s.mirrorSnapshot(ctx, snapshot)
}

// ClearAll empties the cart. The delivery address survives; it belongs to
// the session, not to the cart contents.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.mutate(OpClearAll, "", func(c *Cart) error {
		c.Groups = nil
		c.GlobalCoupon = nil
		return nil
	})
	if err != nil {
		return err
	}
	if s.remote == nil {
		return nil
	}
	return s.withMirrorRetry(ctx, func(ctx context.Context) error {
		return s.remote.ClearCart(ctx)
	})
}

// ApplyCoupon attaches the coupon at its declared scope. For vendor-scoped
// coupons the vendor group must exist. A coupon with the same code replaces
// the earlier application instead of stacking with itself.
func (s *Store) ApplyCoupon(ctx context.Context, vendorID string, coupon Coupon) error {
	if err := coupon.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coupon")
	}

	_, err := s.mutate(OpApplyCoupon, vendorID, func(c *Cart) error {
		if coupon.Scope == enums.CouponScopeGlobal {
			c.GlobalCoupon = &coupon
			return nil
		}
		for i := range c.Groups {
			if c.Groups[i].VendorID != vendorID {
				continue
			}
			group := &c.Groups[i]
			for j := range group.Coupons {
				if group.Coupons[j].Code == coupon.Code {
					group.Coupons[j] = coupon
					return nil
				}
			}
			group.Coupons = append(group.Coupons, coupon)
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no cart group for vendor %s", vendorID))
	})
	if err != nil {
		return err
	}
	if s.remote == nil {
		return nil
	}
	return s.withMirrorRetry(ctx, func(ctx context.Context) error {
		return s.remote.ApplyCoupon(ctx, vendorID, coupon.Code)
	})
}

// SetSpecialInstructions sets free-text instructions on a vendor group.
func (s *Store) SetSpecialInstructions(ctx context.Context, vendorID, text string) error {
	snapshot, err := s.mutate(OpSetInstructions, vendorID, func(c *Cart) error {
		for i := range c.Groups {
			if c.Groups[i].VendorID == vendorID {
				c.Groups[i].SpecialInstructions = text
				return nil
			}
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no cart group for vendor %s", vendorID))
	})
	if err != nil {
		return err
	}
	return s.mirrorSnapshot(ctx, snapshot)
}

// SetDeliveryAddress records the address checkout payloads will carry.
func (s *Store) SetDeliveryAddress(ctx context.Context, addr types.Address) error {
	if err := addr.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery address")
	}
	snapshot, err := s.mutate(OpSetAddress, "", func(c *Cart) error {
		c.DeliveryAddress = &addr
		return nil
	})
	if err != nil {
		return err
	}
	return s.mirrorSnapshot(ctx, snapshot)
}

// Refresh replaces local state with the backend's canonical cart. Called on
// screen focus to reconcile after any unsynced optimistic writes.
func (s *Store) Refresh(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	canonical, err := s.remote.FetchCart(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch canonical cart")
	}
	_, err = s.mutate(OpRefresh, "", func(c *Cart) error {
		version := c.Version
		*c = canonical.clone()
		c.Version = version
		return nil
	})
	return err
}

// mutate applies fn under the lock, bumps the version, and notifies
// subscribers synchronously in call order. It returns the post-mutation
// snapshot for mirroring.
func (s *Store) mutate(op Op, vendorID string, fn func(*Cart) error) (Cart, error) {
	s.mu.Lock()
	_, hadGroup := s.cart.Group(vendorID)
	if err := fn(&s.cart); err != nil {
		s.mu.Unlock()
		return Cart{}, err
	}
	s.cart.Version++
	_, hasGroup := s.cart.Group(vendorID)
	evt := Event{
		Op:           op,
		VendorID:     vendorID,
		Version:      s.cart.Version,
		GroupRemoved: hadGroup && !hasGroup,
		Cart:         s.cart.clone(),
	}
	subs := append([]Subscriber(nil), s.subs...)

	// Notify while still holding the lock so two concurrent mutations cannot
	// deliver events out of version order. Subscribers only read the event.
	for _, sub := range subs {
		sub(evt)
	}
	s.mu.Unlock()

	s.metrics.IncCartMutation(string(op))
	return evt.Cart, nil
}

func (s *Store) mirrorSnapshot(ctx context.Context, snapshot Cart) error {
	if s.remote == nil {
		return nil
	}
	return s.withMirrorRetry(ctx, func(ctx context.Context) error {
		if snapshot.IsEmpty() {
			return s.remote.ClearCart(ctx)
		}
		return s.remote.UpsertCart(ctx, snapshot)
	})
}

// withMirrorRetry runs the mirror call, retrying once on retryable failures.
// The local mutation is already committed; a failure here only means the
// backend copy lags until the next Refresh.
func (s *Store) withMirrorRetry(ctx context.Context, call func(context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(s.retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := call(ctx)
		if err == nil {
			return nil
		}
		if typed := pkgerrors.As(err); typed != nil && !pkgerrors.MetadataFor(typed.Code()).Retryable {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		s.log.Warn(ctx, "cart mirror failed; local state kept, will reconcile on next refresh")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart not synced to backend")
	}
	return nil
}
