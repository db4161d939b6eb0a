package pricing

import (
	"context"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/internal/gateway"
	"github.com/nashtto/cart-engine/pkg/config"
	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/logger"
)

type stubFetcher struct {
	mu        sync.Mutex
	calls     int
	err       error
	resp      *gateway.CalculateResponse
	blockedOn chan struct{}
	release   chan struct{}
}

func (s *stubFetcher) CalculateCheckout(ctx context.Context, req gateway.CalculateRequest) (*gateway.CalculateResponse, error) {
	s.mu.Lock()
	s.calls++
	blocked, release := s.blockedOn, s.release
	s.mu.Unlock()

	if blocked != nil {
		blocked <- struct{}{}
		<-release
	}
	if s.err != nil {
		return nil, s.err
	}
	resp := *s.resp
	return &resp, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pricingConfig(debounce time.Duration) config.PricingConfig {
	return config.PricingConfig{
		GSTRate:          "0.05",
		PlatformFee:      "0",
		DebounceInterval: debounce,
		QuoteTTL:         10 * time.Minute,
	}
}

func newTestReconciler(t *testing.T, store *cart.Store, fetcher QuoteFetcher) *Reconciler {
	t.Helper()
	return newTestReconcilerDebounce(t, store, fetcher, 5*time.Millisecond)
}

func newTestReconcilerDebounce(t *testing.T, store *cart.Store, fetcher QuoteFetcher, debounce time.Duration) *Reconciler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	r, err := NewReconciler(store, fetcher, gateway.StaticIdentity{}, pricingConfig(debounce), logg, nil)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func newTestStore(t *testing.T) *cart.Store {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	store, err := cart.NewStore(nil, logg, nil)
	require.NoError(t, err)
	return store
}

func addItem(t *testing.T, store *cart.Store, vendorID string, menuItemID int64, qty int, price float64) {
	t.Helper()
	vendor := cart.VendorRef{ID: vendorID, Name: "Vendor " + vendorID, DeliveryFee: decimal.NewFromInt(40)}
	payload := cart.ItemPayload{
		ID:       strconv.FormatInt(menuItemID, 10),
		Name:     "Item",
		Quantity: qty,
		Price:    &price,
	}
	require.NoError(t, store.AddItem(context.Background(), vendor, payload))
}

func TestFallbackQuoteFormula(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, &stubFetcher{err: pkgerrors.New(pkgerrors.CodeDependency, "down")})

	// 2 x 20 + 1 x 30 = 70 item total, 40 delivery, 5% GST of items = 3.50.
	addItem(t, store, "12", 1, 2, 20)
	addItem(t, store, "12", 2, 1, 30)

	quote, err := r.Quote("12")
	require.NoError(t, err)

	assert.Equal(t, enums.QuoteSourceFallback, quote.Source)
	assert.Equal(t, "70.00", quote.ItemTotal.StringFixed(2))
	assert.Equal(t, "40.00", quote.DeliveryFee.StringFixed(2))
	assert.Equal(t, "3.50", quote.GST.StringFixed(2))
	assert.Equal(t, "113.50", quote.DisplayTotal())
}

func TestFallbackCouponGatedOnMinOrder(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, &stubFetcher{err: pkgerrors.New(pkgerrors.CodeDependency, "down")})

	addItem(t, store, "12", 1, 2, 20)
	addItem(t, store, "12", 2, 1, 30)

	ctx := context.Background()
	require.NoError(t, store.ApplyCoupon(ctx, "12", cart.Coupon{
		Code:            "SAVE20",
		DiscountPercent: decimal.NewFromInt(20),
		MinOrderAmount:  decimal.NewFromInt(50),
		Scope:           enums.CouponScopeVendor,
	}))

	quote, err := r.Quote("12")
	require.NoError(t, err)
	assert.Equal(t, "14.00", quote.Discount.StringFixed(2))
	assert.Equal(t, "99.50", quote.DisplayTotal())

	// A second coupon below its minimum contributes nothing.
	require.NoError(t, store.ApplyCoupon(ctx, "12", cart.Coupon{
		Code:            "BIG100",
		DiscountPercent: decimal.NewFromInt(50),
		MinOrderAmount:  decimal.NewFromInt(100),
		Scope:           enums.CouponScopeVendor,
	}))

	quote, err = r.Quote("12")
	require.NoError(t, err)
	assert.Equal(t, "14.00", quote.Discount.StringFixed(2))
}

func TestFallbackNeverNegative(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, &stubFetcher{err: pkgerrors.New(pkgerrors.CodeDependency, "down")})

	vendor := cart.VendorRef{ID: "9", Name: "Vendor 9", DeliveryFee: decimal.Zero}
	price := 10.0
	require.NoError(t, store.AddItem(context.Background(), vendor, cart.ItemPayload{
		ID: "1", Name: "Item", Quantity: 1, Price: &price,
	}))

	require.NoError(t, store.ApplyCoupon(context.Background(), "9", cart.Coupon{
		Code:            "HALF",
		DiscountPercent: decimal.NewFromInt(100),
		Scope:           enums.CouponScopeVendor,
	}))
	require.NoError(t, store.ApplyCoupon(context.Background(), "9", cart.Coupon{
		Code:            "MORE",
		DiscountPercent: decimal.NewFromInt(100),
		Scope:           enums.CouponScopeVendor,
	}))

	quote, err := r.Quote("9")
	require.NoError(t, err)
	assert.True(t, quote.Total.IsZero(), "total clamps at zero, got %s", quote.Total)
}

func TestQuoteUnknownVendor(t *testing.T) {
	store := newTestStore(t)
	r := newTestReconciler(t, store, &stubFetcher{})

	_, err := r.Quote("missing")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestRefreshInstallsAuthoritativeQuote(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{resp: &gateway.CalculateResponse{
		CheckoutSessionID: "cs-7",
		Pricing: gateway.PricingBreakdown{
			ItemTotal:       70,
			DeliveryCharges: 40,
			GST:             3.5,
			TotalAmount:     113.5,
		},
	}}
	r := newTestReconciler(t, store, fetcher)

	addItem(t, store, "12", 1, 2, 20)
	addItem(t, store, "12", 2, 1, 30)

	require.NoError(t, r.Refresh(context.Background(), "12"))

	quote, err := r.Quote("12")
	require.NoError(t, err)
	assert.True(t, quote.Authoritative())
	assert.Equal(t, "cs-7", quote.SessionID)
	assert.Equal(t, "113.50", quote.DisplayTotal())
}

func TestAuthoritativeQuoteInvalidatedByMutation(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{resp: &gateway.CalculateResponse{
		CheckoutSessionID: "cs-8",
		Pricing:           gateway.PricingBreakdown{ItemTotal: 40, TotalAmount: 42},
	}}
	r := newTestReconciler(t, store, fetcher)

	addItem(t, store, "12", 1, 2, 20)
	require.NoError(t, r.Refresh(context.Background(), "12"))

	quote, err := r.Quote("12")
	require.NoError(t, err)
	require.True(t, quote.Authoritative())

	// Any mutation bumps the version; the cached quote is mis-stamped now.
	addItem(t, store, "12", 2, 1, 30)

	quote, err = r.Quote("12")
	require.NoError(t, err)
	assert.Equal(t, enums.QuoteSourceFallback, quote.Source)
}

func TestStaleInFlightQuoteDiscarded(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{
		resp:      &gateway.CalculateResponse{CheckoutSessionID: "cs-9", Pricing: gateway.PricingBreakdown{TotalAmount: 42}},
		blockedOn: make(chan struct{}),
		release:   make(chan struct{}),
	}
	r := newTestReconcilerDebounce(t, store, fetcher, 200*time.Millisecond)

	addItem(t, store, "12", 1, 1, 20)

	done := make(chan error, 1)
	go func() {
		done <- r.Refresh(context.Background(), "12")
	}()

	// Wait until the calculate call is in flight, then mutate the cart so
	// the reply arrives stamped with a dead version.
	<-fetcher.blockedOn
	fetcher.mu.Lock()
	fetcher.blockedOn = nil
	fetcher.mu.Unlock()
	addItem(t, store, "12", 2, 1, 30)
	close(fetcher.release)

	require.NoError(t, <-done)

	quote, err := r.Quote("12")
	require.NoError(t, err)
	assert.Equal(t, enums.QuoteSourceFallback, quote.Source, "stale reply must not surface")

	// The discard queues a follow-up fetch.
	require.Eventually(t, func() bool {
		return fetcher.callCount() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncedRefreshCollapsesBurst(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{resp: &gateway.CalculateResponse{
		CheckoutSessionID: "cs-10",
		Pricing:           gateway.PricingBreakdown{TotalAmount: 99},
	}}
	r := newTestReconciler(t, store, fetcher)

	for i := int64(1); i <= 5; i++ {
		addItem(t, store, "12", i, 1, 10)
	}

	require.Eventually(t, func() bool {
		quote, err := r.Quote("12")
		return err == nil && quote.Authoritative()
	}, time.Second, 5*time.Millisecond)

	// Five rapid mutations should have coalesced into far fewer fetches.
	assert.Less(t, fetcher.callCount(), 5)
}

func TestRefreshAllAggregatesFailures(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{err: pkgerrors.New(pkgerrors.CodeDependency, "down")}
	r := newTestReconciler(t, store, fetcher)

	addItem(t, store, "1", 1, 1, 10)
	addItem(t, store, "2", 2, 1, 10)

	err := r.RefreshAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestGroupRemovalDropsQuote(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{resp: &gateway.CalculateResponse{
		CheckoutSessionID: "cs-11",
		Pricing:           gateway.PricingBreakdown{TotalAmount: 10},
	}}
	r := newTestReconciler(t, store, fetcher)

	addItem(t, store, "12", 1, 1, 10)
	require.NoError(t, r.Refresh(context.Background(), "12"))

	require.NoError(t, store.RemoveItem(context.Background(), "12", 1))

	_, err := r.Quote("12")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}
