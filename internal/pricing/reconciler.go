package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/internal/gateway"
	"github.com/nashtto/cart-engine/pkg/config"
	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/logger"
	"github.com/nashtto/cart-engine/pkg/metrics"
	"github.com/nashtto/cart-engine/pkg/money"
)

const refreshTimeout = 30 * time.Second

// QuoteFetcher is the slice of the gateway the reconciler depends on.
type QuoteFetcher interface {
	CalculateCheckout(ctx context.Context, req gateway.CalculateRequest) (*gateway.CalculateResponse, error)
}

type refreshState struct {
	timer    *time.Timer
	inFlight bool
	queued   bool
}

// Reconciler keeps one best-known quote per vendor group. Cart mutations
// schedule a debounced authoritative refresh; until a fresh backend quote
// lands, callers get a locally computed fallback.
//
// Lock ordering: the reconciler is a cart subscriber and is invoked while
// the store lock is held, so no method may call back into the store while
// holding r.mu.
type Reconciler struct {
	mu      sync.Mutex
	quotes  map[string]Quote
	pending map[string]*refreshState
	closed  bool

	store    *cart.Store
	fetcher  QuoteFetcher
	identity gateway.IdentityProvider

	gstRate     decimal.Decimal
	platformFee decimal.Decimal
	debounce    time.Duration
	quoteTTL    time.Duration

	log     *logger.Logger
	metrics *metrics.EngineMetrics
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewReconciler builds the reconciler and subscribes it to the cart store.
func NewReconciler(store *cart.Store, fetcher QuoteFetcher, identity gateway.IdentityProvider, cfg config.PricingConfig, logg *logger.Logger, m *metrics.EngineMetrics) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("quote fetcher required")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity provider required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	gstRate, err := decimal.NewFromString(cfg.GSTRate)
	if err != nil || gstRate.IsNegative() {
		return nil, fmt.Errorf("invalid gst rate %q", cfg.GSTRate)
	}
	platformFee, err := decimal.NewFromString(cfg.PlatformFee)
	if err != nil || platformFee.IsNegative() {
		return nil, fmt.Errorf("invalid platform fee %q", cfg.PlatformFee)
	}

	r := &Reconciler{
		quotes:      make(map[string]Quote),
		pending:     make(map[string]*refreshState),
		store:       store,
		fetcher:     fetcher,
		identity:    identity,
		gstRate:     gstRate,
		platformFee: platformFee,
		debounce:    cfg.DebounceInterval,
		quoteTTL:    cfg.QuoteTTL,
		log:         logg,
		metrics:     m,
		now:         time.Now,
	}
	store.Subscribe(r.onCartEvent)
	return r, nil
}

// Close stops pending refresh timers and waits for in-flight refreshes.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	for _, st := range r.pending {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.queued = false
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Quote returns the best currently known quote for the vendor. An
// authoritative quote counts only while its cart-version stamp matches the
// live cart and it is younger than the quote TTL; otherwise the caller gets
// a fallback estimate computed from the current cart.
func (r *Reconciler) Quote(vendorID string) (Quote, error) {
	snapshot := r.store.Snapshot()
	group, ok := snapshot.Group(vendorID)
	if !ok {
		return Quote{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("vendor %s not in cart", vendorID))
	}

	r.mu.Lock()
	cached, has := r.quotes[vendorID]
	r.mu.Unlock()

	if has && cached.CartVersion == snapshot.Version && r.now().Sub(cached.FetchedAt) < r.quoteTTL {
		return cached, nil
	}
	return fallbackQuote(group, snapshot.GlobalCoupon, r.gstRate, r.platformFee, snapshot.Version, r.now()), nil
}

// Refresh fetches an authoritative quote for the vendor right now, skipping
// the debounce window. The install-or-discard rule still applies.
func (r *Reconciler) Refresh(ctx context.Context, vendorID string) error {
	return r.refreshOnce(ctx, vendorID)
}

// RefreshAll refreshes every vendor group in the cart, collecting failures.
func (r *Reconciler) RefreshAll(ctx context.Context) error {
	snapshot := r.store.Snapshot()
	var combined error
	for _, group := range snapshot.Groups {
		if err := r.refreshOnce(ctx, group.VendorID); err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	return combined
}

func (r *Reconciler) onCartEvent(event cart.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	switch {
	case event.Op == cart.OpClearAll, event.Op == cart.OpRefresh, event.Op == cart.OpSetAddress:
		// Whole-cart changes. Every cached quote is now mis-stamped; drop
		// them and reprice whatever groups remain.
		r.quotes = make(map[string]Quote)
		for _, group := range event.Cart.Groups {
			r.scheduleLocked(group.VendorID)
		}
	case event.GroupRemoved:
		delete(r.quotes, event.VendorID)
		if st, ok := r.pending[event.VendorID]; ok {
			if st.timer != nil {
				st.timer.Stop()
				st.timer = nil
			}
			st.queued = false
		}
	case event.VendorID != "":
		r.scheduleLocked(event.VendorID)
	}
}

// scheduleLocked arms or extends the debounce timer. Caller holds r.mu.
func (r *Reconciler) scheduleLocked(vendorID string) {
	st, ok := r.pending[vendorID]
	if !ok {
		st = &refreshState{}
		r.pending[vendorID] = st
	}
	if st.timer != nil {
		st.timer.Reset(r.debounce)
		return
	}
	st.timer = time.AfterFunc(r.debounce, func() {
		r.fire(vendorID)
	})
}

// fire transitions an elapsed debounce timer into a refresh. At most one
// refresh per vendor runs at a time; a second trigger while one is in
// flight queues exactly one follow-up.
func (r *Reconciler) fire(vendorID string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	st, ok := r.pending[vendorID]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.timer = nil
	if st.inFlight {
		st.queued = true
		r.mu.Unlock()
		return
	}
	st.inFlight = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runRefresh(vendorID)
}

func (r *Reconciler) runRefresh(vendorID string) {
	defer r.wg.Done()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		err := r.refreshOnce(ctx, vendorID)
		cancel()
		if err != nil {
			r.log.Warn(context.Background(), fmt.Sprintf("quote refresh for vendor %s failed: %v", vendorID, err))
		}

		r.mu.Lock()
		st := r.pending[vendorID]
		if st != nil && st.queued && !r.closed {
			st.queued = false
			r.mu.Unlock()
			continue
		}
		if st != nil {
			st.inFlight = false
		}
		r.mu.Unlock()
		return
	}
}

// refreshOnce fetches one authoritative quote and installs it under the
// version-stamp rule: the quote is stamped with the cart version it was
// built from, and discarded if the cart moved on while the call was in
// flight. A discarded quote immediately queues a re-fetch.
func (r *Reconciler) refreshOnce(ctx context.Context, vendorID string) error {
	snapshot := r.store.Snapshot()
	group, ok := snapshot.Group(vendorID)
	if !ok {
		r.mu.Lock()
		delete(r.quotes, vendorID)
		r.mu.Unlock()
		return nil
	}
	fetchedFor := snapshot.Version

	id, err := r.identity.Identity(ctx)
	if err != nil {
		r.metrics.IncQuoteRefresh("failed")
		return pkgerrors.Wrap(pkgerrors.CodeQuoteFetch, err, "resolve identity")
	}

	req := gateway.BuildCalculateRequest(id, group, snapshot.GlobalCoupon)
	resp, err := r.fetcher.CalculateCheckout(ctx, req)
	if err != nil {
		r.metrics.IncQuoteRefresh("failed")
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeQuoteFetch, err, "calculate quote")
	}

	quote := quoteFromResponse(vendorID, resp, fetchedFor, r.now())

	current := r.store.Version()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if current != fetchedFor {
		r.metrics.IncStaleDiscard()
		r.metrics.IncQuoteRefresh("discarded")
		r.scheduleLocked(vendorID)
		return nil
	}
	r.quotes[vendorID] = quote
	r.metrics.IncQuoteRefresh("installed")
	return nil
}

func quoteFromResponse(vendorID string, resp *gateway.CalculateResponse, version uint64, now time.Time) Quote {
	pricing := resp.Pricing
	return Quote{
		VendorID:    vendorID,
		Source:      enums.QuoteSourceAuthoritative,
		SessionID:   resp.CheckoutSessionID,
		CartVersion: version,
		FetchedAt:   now,
		ItemTotal:   money.FromFloat(pricing.ItemTotal),
		DeliveryFee: money.FromFloat(pricing.DeliveryCharges),
		PlatformFee: money.FromFloat(pricing.PlatformFee),
		GST:         money.FromFloat(pricing.GST),
		Discount:    money.FromFloat(pricing.Discount),
		Total:       money.FromFloat(pricing.TotalAmount),
	}
}
