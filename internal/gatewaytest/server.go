// Package gatewaytest is an in-memory stand-in for the Nashtto backend,
// faithful enough to exercise the whole engine over real HTTP: carts are
// stored, calculate issues priced sessions, and commit is idempotent by
// session id.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nashtto/cart-engine/internal/gateway"
	"github.com/nashtto/cart-engine/pkg/enums"
	"github.com/nashtto/cart-engine/pkg/pagination"
	"github.com/nashtto/cart-engine/pkg/types"
)

// CouponDef is a coupon the fake backend will honor.
type CouponDef struct {
	Code            string
	DiscountPercent decimal.Decimal
	MinOrderAmount  decimal.Decimal
}

type session struct {
	id       string
	request  gateway.CalculateRequest
	pricing  gateway.PricingBreakdown
	consumed bool
	orderID  string
}

// Server is the fake backend. Zero value is not usable; call NewServer.
type Server struct {
	mu       sync.Mutex
	cart     gateway.CartSnapshot
	hasCart  bool
	coupons  map[string]CouponDef
	sessions map[string]*session
	orders   map[string]*gateway.Order
	orderLog []string
	orderSeq int

	gstRate decimal.Decimal

	// FailCalculate and FailCommit make the next matching call return 503.
	FailCalculate bool
	FailCommit    bool

	router chi.Router
}

// NewServer builds the fake backend with a 5% GST rate.
func NewServer() *Server {
	s := &Server{
		coupons:  make(map[string]CouponDef),
		sessions: make(map[string]*session),
		orders:   make(map[string]*gateway.Order),
		gstRate:  decimal.NewFromFloat(0.05),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.getCart)
			r.Put("/", s.putCart)
			r.Delete("/", s.deleteCart)
			r.Post("/coupon", s.applyCoupon)
		})
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/calculate", s.calculate)
			r.Post("/commit", s.commit)
			r.Get("/session/{sessionID}", s.getSession)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.listOrders)
			r.Get("/{orderID}", s.getOrder)
			r.Post("/{orderID}/cancel", s.cancelOrder)
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RegisterCoupon teaches the backend a coupon code.
func (s *Server) RegisterCoupon(def CouponDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[def.Code] = def
}

// OrderCount reports how many orders have been placed.
func (s *Server) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// StoredCart returns the last mirrored snapshot.
func (s *Server) StoredCart() (gateway.CartSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart, s.hasCart
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	snapshot := s.cart
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, gateway.CartEnvelope{Cart: snapshot})
}

func (s *Server) putCart(w http.ResponseWriter, r *http.Request) {
	var snapshot gateway.CartSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "malformed cart snapshot")
		return
	}
	s.mu.Lock()
	s.cart = snapshot
	s.hasCart = true
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.cart = gateway.CartSnapshot{}
	s.hasCart = false
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req gateway.ApplyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "malformed coupon request")
		return
	}
	s.mu.Lock()
	_, known := s.coupons[req.Code]
	s.mu.Unlock()
	if !known {
		writeError(w, http.StatusNotFound, "COUPON_UNKNOWN", "no such coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.FailCalculate {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "pricing unavailable")
		return
	}
	s.mu.Unlock()

	var req gateway.CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "malformed calculate request")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "EMPTY_CART", "no items to price")
		return
	}

	pricing := s.price(req)
	sess := &session{
		id:      uuid.NewString(),
		request: req,
		pricing: pricing,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, gateway.CalculateResponse{
		CheckoutSessionID: sess.id,
		Pricing:           pricing,
	})
}

// price applies the published formula: items + delivery + 5% GST of items,
// minus the coupon discount when the item total clears the coupon minimum.
// The fake has no menu, so unit prices come from the mirrored cart.
func (s *Server) price(req gateway.CalculateRequest) gateway.PricingBreakdown {
	s.mu.Lock()
	snapshot := s.cart
	coupon, hasCoupon := s.coupons[req.CouponCode]
	s.mu.Unlock()

	prices := make(map[int64]decimal.Decimal)
	delivery := decimal.Zero
	for _, group := range snapshot.Items {
		for _, item := range group.Items {
			line, err := item.Normalize()
			if err != nil {
				continue
			}
			prices[line.MenuItemID] = line.UnitPrice
		}
		if group.RestaurantID == strconv.FormatInt(req.VendorBranchID, 10) {
			delivery = decimal.NewFromFloat(group.DeliveryFee)
		}
	}

	itemTotal := decimal.Zero
	for _, item := range req.Items {
		price := prices[item.MenuItemID]
		itemTotal = itemTotal.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	gst := itemTotal.Mul(s.gstRate)
	discount := decimal.Zero
	if hasCoupon && !itemTotal.LessThan(coupon.MinOrderAmount) {
		discount = itemTotal.Mul(coupon.DiscountPercent).Div(decimal.NewFromInt(100))
	}
	total := itemTotal.Add(delivery).Add(gst).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return gateway.PricingBreakdown{
		ItemTotal:       toFloat(itemTotal),
		DeliveryCharges: toFloat(delivery),
		GST:             toFloat(gst),
		Discount:        toFloat(discount),
		TotalAmount:     toFloat(total),
	}
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.FailCommit {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "order intake unavailable")
		return
	}
	s.mu.Unlock()

	var req gateway.CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", "malformed commit request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[req.CheckoutSessionID]
	if !ok {
		writeError(w, http.StatusNotFound, "SESSION_UNKNOWN", "no such checkout session")
		return
	}
	if sess.consumed {
		// Idempotent replay: same session id returns the same order.
		writeJSON(w, http.StatusOK, s.orders[sess.orderID])
		return
	}

	s.orderSeq++
	order := &gateway.Order{
		OrderID:     uuid.NewString(),
		OrderNumber: "NA-" + strconv.Itoa(1000+s.orderSeq),
		State:       enums.OrderStateConfirmed,
		VendorID:    strconv.FormatInt(sess.request.VendorBranchID, 10),
		TotalAmount: sess.pricing.TotalAmount,
		Pricing:     sess.pricing,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	sess.consumed = true
	sess.orderID = order.OrderID
	s.orders[order.OrderID] = order
	s.orderLog = append(s.orderLog, order.OrderID)
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "SESSION_UNKNOWN", "no such checkout session")
		return
	}
	writeJSON(w, http.StatusOK, gateway.CalculateResponse{
		CheckoutSessionID: sess.id,
		Pricing:           sess.pricing,
	})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	stateFilter := r.URL.Query().Get("state")
	limit := pagination.NormalizeLimit(atoiDefault(r.URL.Query().Get("limit")))
	cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_CURSOR", "malformed cursor")
		return
	}

	s.mu.Lock()
	filtered := make([]gateway.Order, 0, len(s.orderLog))
	for _, id := range s.orderLog {
		order := s.orders[id]
		if stateFilter != "" && order.State.String() != stateFilter {
			continue
		}
		filtered = append(filtered, *order)
	}
	s.mu.Unlock()

	start := 0
	if cursor != nil {
		for i, order := range filtered {
			if order.OrderID == cursor.OrderID.String() {
				start = i + 1
				break
			}
		}
	}

	page := gateway.OrdersPage{Orders: []gateway.Order{}}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	if start < len(filtered) {
		page.Orders = filtered[start:end]
	}
	if end < len(filtered) && len(page.Orders) > 0 {
		last := page.Orders[len(page.Orders)-1]
		placedAt, _ := time.Parse(time.RFC3339Nano, last.CreatedAt)
		id, parseErr := uuid.Parse(last.OrderID)
		if parseErr == nil {
			page.NextCursor = pagination.EncodeCursor(pagination.Cursor{PlacedAt: placedAt, OrderID: id})
		}
	}
	writeJSON(w, http.StatusOK, page)
}

func atoiDefault(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	s.mu.Lock()
	order, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "ORDER_UNKNOWN", "no such order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		writeError(w, http.StatusNotFound, "ORDER_UNKNOWN", "no such order")
		return
	}
	if order.State.IsTerminal() {
		writeError(w, http.StatusConflict, "ORDER_FINAL", "order can no longer be cancelled")
		return
	}
	order.State = enums.OrderStateCancelled
	writeJSON(w, http.StatusOK, order)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorEnvelope{Error: types.APIError{Code: code, Message: message}})
}
