package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/pkg/fn"
	"github.com/go-resty/resty/v2"
)

// StatusError is a non-2xx answer from the inventory API.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string { return fmt.Sprintf("inventory: %s: status %d", e.URL, e.Code) }

// retryable retries transport failures and server-side errors.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// HTTP reads vehicles from the host REST API:
//
//	GET {base}/vehicles?in_stock=true -> [Vehicle] or {"vehicles": [Vehicle]}
//	GET {base}/vehicles/{id}          -> Vehicle, 404 when unknown
type HTTP struct {
	base   string
	client *resty.Client
	retry  fn.RetryOpts
	log    *slog.Logger
}

// HTTPOption configures an HTTP inventory.
type HTTPOption func(*HTTP)

// WithToken sends a bearer token with every request.
func WithToken(token string) HTTPOption {
	return func(h *HTTP) { h.client.SetAuthToken(token) }
}

// WithRetry overrides the retry policy.
func WithRetry(o fn.RetryOpts) HTTPOption { return func(h *HTTP) { h.retry = o } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption { return func(h *HTTP) { h.client.SetTimeout(d) } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption { return func(h *HTTP) { h.log = l } }

// NewHTTP creates an inventory client for the API rooted at base.
func NewHTTP(base string, opts ...HTTPOption) *HTTP {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetHeader("Accept", "application/json")
	h := &HTTP{
		base:   strings.TrimRight(base, "/"),
		client: client,
		retry:  fn.DefaultRetry,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	h.retry.Retryable = retryable
	return h
}

// InStock implements Inventory.
func (h *HTTP) InStock(ctx context.Context) ([]domain.Vehicle, error) {
	body, err := h.get(ctx, h.base+"/vehicles?in_stock=true")
	if err != nil {
		return nil, err
	}
	var vehicles []domain.Vehicle
	if strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		var wrapped struct {
			Vehicles []domain.Vehicle `json:"vehicles"`
		}
		err = json.Unmarshal(body, &wrapped)
		vehicles = wrapped.Vehicles
	} else {
		err = json.Unmarshal(body, &vehicles)
	}
	if err != nil {
		return nil, fmt.Errorf("inventory: decode vehicles: %w", err)
	}
	return fn.Filter(vehicles, func(v domain.Vehicle) bool { return v.InStock }), nil
}

// Get implements Inventory.
func (h *HTTP) Get(ctx context.Context, id string) (domain.Vehicle, bool, error) {
	var v domain.Vehicle
	body, err := h.get(ctx, h.base+"/vehicles/"+url.PathEscape(id))
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, false, fmt.Errorf("inventory: decode vehicle %s: %w", id, err)
	}
	return v, true, nil
}

func (h *HTTP) get(ctx context.Context, u string) ([]byte, error) {
	attempt := 0
	return fn.Retry(ctx, h.retry, func(ctx context.Context) fn.Result[[]byte] {
		attempt++
		resp, err := h.client.R().SetContext(ctx).Get(u)
		if err != nil {
			h.log.Warn("inventory: request failed", "url", u, "attempt", attempt, "error", err)
			return fn.Err[[]byte](fmt.Errorf("inventory: get %s: %w", u, err))
		}
		if resp.IsError() {
			return fn.Err[[]byte](&StatusError{Code: resp.StatusCode(), URL: u})
		}
		return fn.Ok(resp.Body())
	}).Unwrap()
}
