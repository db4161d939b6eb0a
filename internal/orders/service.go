// Package orders exposes the customer's order history over the gateway.
package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/nashtto/cart-engine/internal/gateway"
	"github.com/nashtto/cart-engine/pkg/enums"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/logger"
	"github.com/nashtto/cart-engine/pkg/pagination"
)

// Gateway is the slice of the backend client this service needs.
type Gateway interface {
	ListOrders(ctx context.Context, query gateway.OrdersQuery) (*gateway.OrdersPage, error)
	GetOrder(ctx context.Context, orderID string) (*gateway.Order, error)
	CancelOrder(ctx context.Context, orderID string, req gateway.CancelOrderRequest) (*gateway.Order, error)
}

// History splits orders the way the orders screen renders them: still-moving
// orders on top, finished ones below.
type History struct {
	Active []gateway.Order
	Past   []gateway.Order
}

// Service reads and cancels orders.
type Service interface {
	List(ctx context.Context, state enums.OrderState, page pagination.Params) (*gateway.OrdersPage, error)
	Get(ctx context.Context, orderID string) (*gateway.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (*gateway.Order, error)
	History(ctx context.Context) (History, error)
}

type service struct {
	gw  Gateway
	log *logger.Logger
}

// NewService builds the orders service.
func NewService(gw Gateway, logg *logger.Logger) (Service, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{gw: gw, log: logg}, nil
}

// List returns one page of orders, optionally filtered by state. An empty
// state means no filter.
func (s *service) List(ctx context.Context, state enums.OrderState, page pagination.Params) (*gateway.OrdersPage, error) {
	if state != "" && !state.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order state %q", state))
	}
	return s.gw.ListOrders(ctx, gateway.OrdersQuery{
		State:  state.String(),
		Limit:  page.Limit,
		Cursor: page.Cursor,
	})
}

// Get fetches one order by id.
func (s *service) Get(ctx context.Context, orderID string) (*gateway.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.gw.GetOrder(ctx, orderID)
}

// Cancel asks the backend to cancel the order. Whether cancellation is still
// possible is the backend's call; a refusal comes back as a state conflict.
func (s *service) Cancel(ctx context.Context, orderID, reason string) (*gateway.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.gw.CancelOrder(ctx, orderID, gateway.CancelOrderRequest{Reason: reason})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, fmt.Sprintf("order %s cancelled", orderID))
	return order, nil
}

// History fetches the order list page by page and splits it on terminal
// state.
func (s *service) History(ctx context.Context) (History, error) {
	var history History
	cursor := ""
	for {
		page, err := s.gw.ListOrders(ctx, gateway.OrdersQuery{Cursor: cursor})
		if err != nil {
			return History{}, err
		}
		for _, order := range page.Orders {
			if order.State.IsTerminal() {
				history.Past = append(history.Past, order)
			} else {
				history.Active = append(history.Active, order)
			}
		}
		if page.NextCursor == "" {
			return history, nil
		}
		cursor = page.NextCursor
	}
}
