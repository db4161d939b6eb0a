// Package checkout drives the two-phase checkout protocol: calculate turns
// the selected vendor group into a priced, idempotent session, and commit
// turns that session plus a payment token into an order. The controller is
// a state machine; every transition is guarded so the UI can only pay for
// exactly what it was quoted.
package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/internal/gateway"
	"github.com/nashtto/cart-engine/internal/selection"
	"github.com/nashtto/cart-engine/pkg/config"
	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/logger"
	"github.com/nashtto/cart-engine/pkg/metrics"
	"github.com/nashtto/cart-engine/pkg/money"
)

// Gateway is the slice of the backend client checkout needs.
type Gateway interface {
	CalculateCheckout(ctx context.Context, req gateway.CalculateRequest) (*gateway.CalculateResponse, error)
	CommitCheckout(ctx context.Context, req gateway.CommitRequest) (*gateway.Order, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*gateway.CalculateResponse, error)
}

// Totals is the session's quoted breakdown in engine decimals.
type Totals struct {
	ItemTotal   decimal.Decimal
	DeliveryFee decimal.Decimal
	PlatformFee decimal.Decimal
	GST         decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// DisplayTotal renders the payable amount rounded to two places.
func (t Totals) DisplayTotal() string {
	return money.Display(t.Total)
}

// Session is a point-in-time copy of the controller's state.
type Session struct {
	ID          string
	State       enums.SessionState
	VendorID    string
	CartVersion uint64
	Totals      Totals
	CreatedAt   time.Time
	Order       *gateway.Order
	LastErr     error
}

// Controller owns the checkout session. There is at most one session at a
// time; starting a new one replaces whatever came before.
type Controller struct {
	mu      sync.Mutex
	session Session

	store     *cart.Store
	selection *selection.Manager
	gw        Gateway
	identity  gateway.IdentityProvider

	sessionTTL time.Duration

	log     *logger.Logger
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

// NewController builds the controller and subscribes it to cart mutations.
func NewController(store *cart.Store, sel *selection.Manager, gw Gateway, identity gateway.IdentityProvider, cfg config.CheckoutConfig, logg *logger.Logger, m *metrics.EngineMetrics) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if sel == nil {
		return nil, fmt.Errorf("selection manager required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity provider required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &Controller{
		session:    Session{State: enums.SessionStateIdle},
		store:      store,
		selection:  sel,
		gw:         gw,
		identity:   identity,
		sessionTTL: ttl,
		log:        logg,
		metrics:    m,
		now:        time.Now,
	}
	store.Subscribe(c.onCartEvent)
	return c, nil
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Reset abandons the current session. Committing cannot be abandoned; the
// commit call is already on the wire.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.State == enums.SessionStateCommitting {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "commit in flight")
	}
	c.session = Session{State: enums.SessionStateIdle}
	return nil
}

// Start runs the calculate phase for the selected vendor group. Local
// preconditions fail before any network call: the cart must not be empty
// and exactly one vendor must be selected. A Failed session for the same
// vendor and cart version is revived to Quoted without repricing, since
// the backend quote it holds is still accurate.
func (c *Controller) Start(ctx context.Context) (Session, error) {
	snapshot := c.store.Snapshot()

	group, err := c.selection.ResolveForCheckout()
	if err != nil {
		return c.Session(), err
	}
	if snapshot.IsEmpty() {
		return c.Session(), pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	c.mu.Lock()
	switch c.session.State {
	case enums.SessionStateCalculating, enums.SessionStateCommitting:
		state := c.session.State
		c.mu.Unlock()
		return c.Session(), pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("checkout already %s", state))
	case enums.SessionStateFailed:
		prior := c.session
		if prior.VendorID == group.VendorID &&
			prior.CartVersion == snapshot.Version &&
			c.now().Sub(prior.CreatedAt) < c.sessionTTL {
			c.session.State = enums.SessionStateQuoted
			c.session.LastErr = nil
			session := c.session
			c.mu.Unlock()
			return session, nil
		}
	}
	c.session = Session{
		State:       enums.SessionStateCalculating,
		VendorID:    group.VendorID,
		CartVersion: snapshot.Version,
	}
	c.mu.Unlock()

	id, err := c.identity.Identity(ctx)
	if err != nil {
		return c.failCalculate(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolve identity"))
	}

	req := gateway.BuildCalculateRequest(id, group, snapshot.GlobalCoupon)
	resp, err := c.gw.CalculateCheckout(ctx, req)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeQuoteFetch, err, "calculate checkout")
		}
		return c.failCalculate(err)
	}

	current := c.store.Version()
	c.mu.Lock()
	defer c.mu.Unlock()
	if current != snapshot.Version {
		c.session = Session{State: enums.SessionStateIdle}
		return c.session, pkgerrors.New(pkgerrors.CodeStaleQuote, "cart changed while pricing")
	}
	c.session = Session{
		ID:          resp.CheckoutSessionID,
		State:       enums.SessionStateQuoted,
		VendorID:    group.VendorID,
		CartVersion: snapshot.Version,
		Totals:      totalsFrom(resp.Pricing),
		CreatedAt:   c.now(),
	}
	return c.session, nil
}

// Commit runs the commit phase. Only a Quoted session commits, exactly
// once; a failed commit is never retried automatically because the backend
// may have partially processed it. Idempotency by session id is the
// backend's protection for a user-initiated retry.
func (c *Controller) Commit(ctx context.Context, paymentToken string) (Session, error) {
	currentVersion := c.store.Version()

	c.mu.Lock()
	if c.session.State != enums.SessionStateQuoted {
		state := c.session.State
		c.mu.Unlock()
		return c.Session(), pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot commit from %s", state))
	}
	if c.now().Sub(c.session.CreatedAt) >= c.sessionTTL {
		c.session.State = enums.SessionStateExpired
		session := c.session
		c.mu.Unlock()
		c.metrics.IncCheckoutResult("expired")
		return session, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session expired")
	}
	if c.session.CartVersion != currentVersion {
		c.session = Session{State: enums.SessionStateIdle}
		session := c.session
		c.mu.Unlock()
		return session, pkgerrors.New(pkgerrors.CodeStaleQuote, "cart changed since quote")
	}
	c.session.State = enums.SessionStateCommitting
	sessionID := c.session.ID
	vendorID := c.session.VendorID
	c.mu.Unlock()

	order, err := c.gw.CommitCheckout(ctx, gateway.CommitRequest{
		CheckoutSessionID: sessionID,
		PaymentToken:      paymentToken,
	})

	c.mu.Lock()
	if err != nil {
		c.session.State = enums.SessionStateFailed
		c.session.LastErr = err
		session := c.session
		c.mu.Unlock()
		c.metrics.IncCheckoutResult("failed")
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeCommit, err, "commit checkout")
		}
		return session, err
	}
	c.session.State = enums.SessionStateCommitted
	c.session.Order = order
	c.session.LastErr = nil
	session := c.session
	c.mu.Unlock()
	c.metrics.IncCheckoutResult("committed")

	// Only the ordered vendor's group leaves the cart; other vendors keep
	// their items. The session is already Committed, so the mutation below
	// does not invalidate it.
	if err := c.store.ClearVendor(ctx, vendorID); err != nil {
		c.log.Warn(ctx, fmt.Sprintf("clearing vendor %s after commit: %v", vendorID, err))
	}
	return session, nil
}

// Resume re-adopts an existing session by id, for the user re-entering the
// payment screen. The revived session is stamped with the current cart
// version; any later mutation invalidates it like any other quote.
func (c *Controller) Resume(ctx context.Context, sessionID string) (Session, error) {
	c.mu.Lock()
	if c.session.State == enums.SessionStateCalculating || c.session.State == enums.SessionStateCommitting {
		state := c.session.State
		c.mu.Unlock()
		return c.Session(), pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("checkout already %s", state))
	}
	c.mu.Unlock()

	resp, err := c.gw.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return c.Session(), err
	}

	group, err := c.selection.ResolveForCheckout()
	if err != nil {
		return c.Session(), err
	}
	version := c.store.Version()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = Session{
		ID:          resp.CheckoutSessionID,
		State:       enums.SessionStateQuoted,
		VendorID:    group.VendorID,
		CartVersion: version,
		Totals:      totalsFrom(resp.Pricing),
		CreatedAt:   c.now(),
	}
	return c.session, nil
}

// onCartEvent invalidates quotes the cart has moved out from under. Only
// Quoted and Failed sessions are vulnerable; Calculating is revalidated at
// install time and terminal successes are immutable.
func (c *Controller) onCartEvent(event cart.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.session.State {
	case enums.SessionStateQuoted, enums.SessionStateFailed:
		if event.Version != c.session.CartVersion {
			c.session = Session{State: enums.SessionStateIdle}
		}
	}
}

func (c *Controller) failCalculate(err error) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = Session{State: enums.SessionStateIdle}
	return c.session, err
}

func totalsFrom(pricing gateway.PricingBreakdown) Totals {
	return Totals{
		ItemTotal:   money.FromFloat(pricing.ItemTotal),
		DeliveryFee: money.FromFloat(pricing.DeliveryCharges),
		PlatformFee: money.FromFloat(pricing.PlatformFee),
		GST:         money.FromFloat(pricing.GST),
		Discount:    money.FromFloat(pricing.Discount),
		Total:       money.FromFloat(pricing.TotalAmount),
	}
}
