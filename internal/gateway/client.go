// Package gateway talks to the Nashtto backend. The backend is the source of
// truth for cart state and pricing whenever it is reachable; this client is
// deliberately thin and leaves policy (fallbacks, debouncing, state machines)
// to the domain packages.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"

	"github.com/nashtto/cart-engine/internal/cart"
	"github.com/nashtto/cart-engine/pkg/auth"
	"github.com/nashtto/cart-engine/pkg/config"
	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
	"github.com/nashtto/cart-engine/pkg/instance"
	"github.com/nashtto/cart-engine/pkg/logger"
	"github.com/nashtto/cart-engine/pkg/pagination"
	"github.com/nashtto/cart-engine/pkg/metrics"
	"github.com/nashtto/cart-engine/pkg/types"
)

const maxErrorBodyBytes = 4 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Client is the HTTP client for the backend gateway.
type Client struct {
	baseURL *url.URL
	version string
	http    *http.Client
	tokens  auth.TokenSource
	log     *logger.Logger
	metrics *metrics.EngineMetrics
}

// New builds the gateway client.
func New(cfg config.GatewayConfig, tokens auth.TokenSource, logg *logger.Logger, m *metrics.EngineMetrics) (*Client, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway base url must be http or https")
	}
	version := cfg.APIVersion
	if version == "" {
		version = "v1"
	}
	return &Client{
		baseURL: base,
		version: version,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		log:     logg,
		metrics: m,
	}, nil
}

// FetchCart pulls the canonical cart snapshot.
func (c *Client) FetchCart(ctx context.Context) (*cart.Cart, error) {
	var envelope CartEnvelope
	if err := c.doIdempotent(ctx, http.MethodGet, c.path("cart"), nil, &envelope); err != nil {
		return nil, err
	}
	return cartFromSnapshot(envelope.Cart)
}

// UpsertCart mirrors the full cart snapshot.
func (c *Client) UpsertCart(ctx context.Context, snapshot cart.Cart) error {
	body := snapshotFromCart(snapshot)
	return c.doIdempotent(ctx, http.MethodPut, c.path("cart"), body, nil)
}

// ApplyCoupon applies a coupon code server-side. vendorID is empty for
// cart-level coupons.
func (c *Client) ApplyCoupon(ctx context.Context, vendorID, code string) error {
	body := ApplyCouponRequest{VendorID: vendorID, Code: code}
	if err := validate.Struct(body); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "apply coupon payload")
	}
	return c.do(ctx, http.MethodPost, c.path("cart", "coupon"), body, nil)
}

// ClearCart empties the server-side cart.
func (c *Client) ClearCart(ctx context.Context) error {
	return c.doIdempotent(ctx, http.MethodDelete, c.path("cart"), nil, nil)
}

// CalculateCheckout runs phase one of checkout: it validates the cart and
// returns a priced, idempotent session. Safe to retry for the same logical
// cart content, so transient failures get a second attempt.
func (c *Client) CalculateCheckout(ctx context.Context, req CalculateRequest) (*CalculateResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "calculate payload")
	}
	var resp CalculateResponse
	if err := c.doIdempotent(ctx, http.MethodPost, c.path("checkout", "calculate"), req, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.CheckoutSessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "backend returned a quote without a session id")
	}
	return &resp, nil
}

// CommitCheckout runs phase two: sessionId plus payment token become an
// order. Never retried here; only the backend's idempotency by sessionId
// protects a user-initiated retry.
func (c *Client) CommitCheckout(ctx context.Context, req CommitRequest) (*Order, error) {
	if err := validate.Struct(req); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "commit payload")
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, c.path("checkout", "commit"), req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetCheckoutSession re-fetches an existing session, used when the user
// re-enters the payment screen.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*CalculateResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	var resp CalculateResponse
	if err := c.doIdempotent(ctx, http.MethodGet, c.path("checkout", "session", sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOrders returns one page of the customer's orders, optionally
// filtered by state.
func (c *Client) ListOrders(ctx context.Context, query OrdersQuery) (*OrdersPage, error) {
	params := url.Values{}
	if query.State != "" {
		params.Set("state", query.State)
	}
	params.Set("limit", strconv.Itoa(pagination.NormalizeLimit(query.Limit)))
	if query.Cursor != "" {
		if _, err := pagination.ParseCursor(query.Cursor); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "orders cursor")
		}
		params.Set("cursor", query.Cursor)
	}

	endpoint := c.path("orders") + "?" + params.Encode()
	var page OrdersPage
	if err := c.doIdempotent(ctx, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetOrder fetches one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var order Order
	if err := c.doIdempotent(ctx, http.MethodGet, c.path("orders", orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder asks the backend to cancel, which it allows only from
// cancellable states.
func (c *Client) CancelOrder(ctx context.Context, orderID string, req CancelOrderRequest) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var order Order
	if err := c.do(ctx, http.MethodPost, c.path("orders", orderID, "cancel"), req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) path(parts ...string) string {
	return "/api/" + c.version + "/" + strings.Join(parts, "/")
}

// doIdempotent wraps do with a single constant-backoff retry, reserved for
// calls that are safe to repeat.
func (c *Client) doIdempotent(ctx context.Context, method, endpoint string, body, out any) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(150*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.do(ctx, method, endpoint, body, out)
		if err == nil {
			return nil
		}
		if typed := pkgerrors.As(err); typed != nil && !pkgerrors.MetadataFor(typed.Code()).Retryable {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(instance.Header, instance.GetID())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "access token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.ObserveGatewayDuration(method+" "+endpoint, time.Since(started))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.errorFromResponse(ctx, method, endpoint, resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s %s reply", method, endpoint))
	}
	return nil
}

func (c *Client) errorFromResponse(ctx context.Context, method, endpoint string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	cause := &transportError{
		status:   resp.StatusCode,
		endpoint: fmt.Sprintf("%s %s", method, endpoint),
		body:     string(raw),
	}

	message := fmt.Sprintf("backend replied %d", resp.StatusCode)
	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}

	c.log.Warn(ctx, fmt.Sprintf("gateway error: %s %s -> %d", method, endpoint, resp.StatusCode))
	return pkgerrors.Wrap(codeForStatus(resp.StatusCode), cause, message)
}
