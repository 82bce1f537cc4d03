// Package source provides the data sources the synchronization layer
// hydrates from: the backend's CRUD HTTP API and, for deployments
// colocated with the restaurant database, a direct Postgres read.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnthonyL1996/ai-resto/internal/clock"
	"github.com/AnthonyL1996/ai-resto/internal/domain"
	"github.com/AnthonyL1996/ai-resto/internal/logger"
	"github.com/AnthonyL1996/ai-resto/internal/normalize"
)

// Source is what hydration needs: one full fetch of the collection.
type Source interface {
	Orders(ctx context.Context) ([]domain.Order, error)
}

// HydrationError marks a failed full-collection fetch. Recoverable:
// the collection stays in its last known good state and the caller may
// retry.
type HydrationError struct {
	Err error
}

func (e *HydrationError) Error() string { return "hydration failed: " + e.Err.Error() }
func (e *HydrationError) Unwrap() error { return e.Err }

const defaultHTTPTimeout = 10 * time.Second

type ClientConfig struct {
	// BaseURL of the CRUD API, e.g. "http://localhost:8000".
	BaseURL string

	// Timeout bounds each request. Default 10s.
	Timeout time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     *logger.Logger
}

// Client talks to the backend's order CRUD endpoints. Responses are
// decoded leniently (the API speaks the backend's field names, not
// ours) and returned as canonical orders, so write-path responses can
// be fed straight back into the core as authoritative snapshots.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	clk     clock.Clock
	lg      *logger.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("orders-api")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		clk:     cfg.Clock,
		lg:      cfg.Logger,
	}
}

// Orders fetches the full collection.
func (c *Client) Orders(ctx context.Context) ([]domain.Order, error) {
	raw, err := c.do(ctx, http.MethodGet, "/orders", nil)
	if err != nil {
		return nil, err
	}
	orders, ok := normalize.Orders(raw, c.clk.Now())
	if !ok {
		return nil, fmt.Errorf("source: GET /orders: response is not an order array")
	}
	return orders, nil
}

// Order fetches one order by ID.
func (c *Client) Order(ctx context.Context, id string) (domain.Order, error) {
	raw, err := c.do(ctx, http.MethodGet, "/orders/"+id, nil)
	if err != nil {
		return domain.Order{}, err
	}
	return c.decodeOrder(raw, "GET /orders/"+id)
}

// Create posts a new order and returns the server's authoritative
// snapshot of it.
func (c *Client) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	raw, err := c.do(ctx, http.MethodPost, "/orders", o)
	if err != nil {
		return domain.Order{}, err
	}
	return c.decodeOrder(raw, "POST /orders")
}

// Update replaces an order and returns the authoritative snapshot.
func (c *Client) Update(ctx context.Context, id string, o domain.Order) (domain.Order, error) {
	raw, err := c.do(ctx, http.MethodPut, "/orders/"+id, o)
	if err != nil {
		return domain.Order{}, err
	}
	return c.decodeOrder(raw, "PUT /orders/"+id)
}

// UpdateStatus advances an order's status and returns the
// authoritative snapshot.
func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	raw, err := c.do(ctx, http.MethodPatch, "/orders/"+id+"/status", map[string]string{"status": string(status)})
	if err != nil {
		return domain.Order{}, err
	}
	return c.decodeOrder(raw, "PATCH /orders/"+id+"/status")
}

// Delete removes an order.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/"+id, nil)
	return err
}

func (c *Client) decodeOrder(raw []byte, op string) (domain.Order, error) {
	o, ok := normalize.Order(raw, c.clk.Now())
	if !ok {
		return domain.Order{}, fmt.Errorf("source: %s: response carries no order", op)
	}
	return o, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("source: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source: %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("source: %s %s: HTTP %d", method, path, resp.StatusCode)
	}
	return raw, nil
}
