package checkout

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/internal/gateway"
	"github.com/nashtto/cart-engine/internal/selection"
	"github.com/nashtto/cart-engine/pkg/config"
	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/logger"
)

type stubGateway struct {
	mu             sync.Mutex
	calculateCalls int
	commitCalls    int
	calculateErr   error
	commitErr      error
	calculateResp  *gateway.CalculateResponse
	order          *gateway.Order
	sessionResp    *gateway.CalculateResponse

	beforeReply func()
}

func (s *stubGateway) CalculateCheckout(ctx context.Context, req gateway.CalculateRequest) (*gateway.CalculateResponse, error) {
	s.mu.Lock()
	s.calculateCalls++
	hook := s.beforeReply
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if s.calculateErr != nil {
		return nil, s.calculateErr
	}
	resp := *s.calculateResp
	return &resp, nil
}

func (s *stubGateway) CommitCheckout(ctx context.Context, req gateway.CommitRequest) (*gateway.Order, error) {
	s.mu.Lock()
	s.commitCalls++
	s.mu.Unlock()
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	order := *s.order
	return &order, nil
}

func (s *stubGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*gateway.CalculateResponse, error) {
	if s.sessionResp == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no such session")
	}
	resp := *s.sessionResp
	return &resp, nil
}

type fixture struct {
	store      *cart.Store
	selection  *selection.Manager
	gateway    *stubGateway
	controller *Controller
}

func quotedResponse() *gateway.CalculateResponse {
	return &gateway.CalculateResponse{
		CheckoutSessionID: "cs-1",
		Pricing: gateway.PricingBreakdown{
			ItemTotal:       70,
			DeliveryCharges: 40,
			GST:             3.5,
			TotalAmount:     113.5,
		},
	}
}

func newFixture(t *testing.T, gw *stubGateway) *fixture {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	store, err := cart.NewStore(nil, logg, nil)
	require.NoError(t, err)

	sel, err := selection.NewManager(store)
	require.NoError(t, err)

	ctrl, err := NewController(store, sel, gw, gateway.StaticIdentity{}, config.CheckoutConfig{SessionTTL: time.Minute}, logg, nil)
	require.NoError(t, err)

	return &fixture{store: store, selection: sel, gateway: gw, controller: ctrl}
}

func (f *fixture) addItem(t *testing.T, vendorID, itemID string, qty int, price float64) {
	t.Helper()
	err := f.store.AddItem(context.Background(), cart.VendorRef{
		ID:          vendorID,
		Name:        "Vendor " + vendorID,
		DeliveryFee: decimal.NewFromInt(40),
	}, cart.ItemPayload{ID: itemID, Name: "Item " + itemID, Quantity: qty, Price: &price})
	require.NoError(t, err)
}

func (f *fixture) quoted(t *testing.T) Session {
	t.Helper()
	f.addItem(t, "12", "1", 2, 20)
	f.addItem(t, "12", "2", 1, 30)
	require.NoError(t, f.selection.Toggle("12"))

	session, err := f.controller.Start(context.Background())
	require.NoError(t, err)
	require.Equal(t, enums.SessionStateQuoted, session.State)
	return session
}

func TestStartQuotesSelectedVendor(t *testing.T) {
	f := newFixture(t, &stubGateway{calculateResp: quotedResponse()})

	session := f.quoted(t)

	assert.Equal(t, "cs-1", session.ID)
	assert.Equal(t, "12", session.VendorID)
	assert.Equal(t, "113.50", session.Totals.DisplayTotal())
	assert.Equal(t, f.store.Version(), session.CartVersion)
}

func TestStartFailsLocallyWithoutSelection(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)
	f.addItem(t, "12", "1", 1, 20)

	_, err := f.controller.Start(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 0, gw.calculateCalls, "local validation must not hit the network")
}

func TestStartFailsLocallyOnEmptyCart(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)

	_, err := f.controller.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, gw.calculateCalls)
}

func TestStartRejectsTwoVendors(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)
	f.addItem(t, "1", "1", 1, 20)
	f.addItem(t, "2", "2", 1, 20)
	f.selection.SelectAll()

	_, err := f.controller.Start(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeMultiVendor))
	assert.Equal(t, 0, gw.calculateCalls)
}

func TestStartDiscardsQuoteIfCartMovedDuringCalculate(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)
	f.addItem(t, "12", "1", 2, 20)
	require.NoError(t, f.selection.Toggle("12"))

	gw.beforeReply = func() {
		gw.beforeReply = nil
		f.addItem(t, "12", "9", 1, 5)
	}

	session, err := f.controller.Start(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStaleQuote))
	assert.Equal(t, enums.SessionStateIdle, session.State)
}

func TestCommitPlacesOrderAndClearsVendorGroup(t *testing.T) {
	gw := &stubGateway{
		calculateResp: quotedResponse(),
		order: &gateway.Order{
			OrderID:     "o-1",
			OrderNumber: "NA-1001",
			State:       enums.OrderStateConfirmed,
			VendorID:    "12",
			TotalAmount: 113.5,
		},
	}
	f := newFixture(t, gw)
	f.quoted(t)
	f.addItem(t, "99", "7", 1, 10)

	// The extra vendor bumped the version after quoting, so re-quote.
	f.selection.Clear()
	require.NoError(t, f.selection.Toggle("12"))
	_, err := f.controller.Start(context.Background())
	require.NoError(t, err)

	session, err := f.controller.Commit(context.Background(), "tok-1")
	require.NoError(t, err)

	assert.Equal(t, enums.SessionStateCommitted, session.State)
	require.NotNil(t, session.Order)
	assert.Equal(t, "o-1", session.Order.OrderID)

	snapshot := f.store.Snapshot()
	_, stillThere := snapshot.Group("12")
	assert.False(t, stillThere, "committed vendor group must leave the cart")
	_, otherKept := snapshot.Group("99")
	assert.True(t, otherKept, "other vendors keep their items")

	// The clear of the committed group must not invalidate the session.
	assert.Equal(t, enums.SessionStateCommitted, f.controller.Session().State)
}

func TestCommitOnlyFromQuoted(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)

	_, err := f.controller.Commit(context.Background(), "tok-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 0, gw.commitCalls)
}

func TestCommitFailureIsNotRetried(t *testing.T) {
	gw := &stubGateway{
		calculateResp: quotedResponse(),
		commitErr:     pkgerrors.New(pkgerrors.CodeDependency, "backend down"),
	}
	f := newFixture(t, gw)
	f.quoted(t)

	session, err := f.controller.Commit(context.Background(), "tok-1")
	require.Error(t, err)
	assert.Equal(t, 1, gw.commitCalls, "commit must go out exactly once")
	assert.Equal(t, enums.SessionStateFailed, session.State)
	assert.Error(t, session.LastErr)
}

func TestFailedSessionRevivedWithoutRepricing(t *testing.T) {
	gw := &stubGateway{
		calculateResp: quotedResponse(),
		commitErr:     pkgerrors.New(pkgerrors.CodeDependency, "backend down"),
	}
	f := newFixture(t, gw)
	f.quoted(t)

	_, err := f.controller.Commit(context.Background(), "tok-1")
	require.Error(t, err)
	calculatesBefore := gw.calculateCalls

	session, err := f.controller.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enums.SessionStateQuoted, session.State)
	assert.Equal(t, "cs-1", session.ID)
	assert.Equal(t, calculatesBefore, gw.calculateCalls, "revival must not reprice")

	// Second commit attempt reuses the same session id; backend idempotency
	// guards against double orders.
	gw.commitErr = nil
	gw.order = &gateway.Order{OrderID: "o-2", VendorID: "12", State: enums.OrderStateConfirmed}
	session, err = f.controller.Commit(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, enums.SessionStateCommitted, session.State)
	assert.Equal(t, 2, gw.commitCalls)
}

func TestMutationInvalidatesQuotedSession(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)
	f.quoted(t)

	f.addItem(t, "12", "3", 1, 15)

	assert.Equal(t, enums.SessionStateIdle, f.controller.Session().State)

	_, err := f.controller.Commit(context.Background(), "tok-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 0, gw.commitCalls)
}

func TestExpiredSessionCannotCommit(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)
	f.quoted(t)

	f.controller.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	session, err := f.controller.Commit(context.Background(), "tok-1")
	require.Error(t, err)
	assert.Equal(t, enums.SessionStateExpired, session.State)
	assert.Equal(t, 0, gw.commitCalls)
}

func TestResumeAdoptsExistingSession(t *testing.T) {
	gw := &stubGateway{
		calculateResp: quotedResponse(),
		sessionResp: &gateway.CalculateResponse{
			CheckoutSessionID: "cs-old",
			Pricing:           gateway.PricingBreakdown{ItemTotal: 40, TotalAmount: 45},
		},
	}
	f := newFixture(t, gw)
	f.addItem(t, "12", "1", 2, 20)
	require.NoError(t, f.selection.Toggle("12"))

	session, err := f.controller.Resume(context.Background(), "cs-old")
	require.NoError(t, err)
	assert.Equal(t, "cs-old", session.ID)
	assert.Equal(t, enums.SessionStateQuoted, session.State)
	assert.Equal(t, "45.00", session.Totals.DisplayTotal())
}

func TestResetAbandonsSession(t *testing.T) {
	gw := &stubGateway{calculateResp: quotedResponse()}
	f := newFixture(t, gw)
	f.quoted(t)

	require.NoError(t, f.controller.Reset())
	assert.Equal(t, enums.SessionStateIdle, f.controller.Session().State)
}
