package dmc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"order-chatbot/internal/metrics"
)

const (
	defaultListPath    = "/order/v1/orders/list"
	defaultReleasePath = "/order/v1/orders/release"

	endpointList    = "list"
	endpointRelease = "release"
)

// ErrRemoteCall matches every *RemoteCallError via errors.Is.
var ErrRemoteCall = errors.New("order api call failed")

// RemoteCallError reports a non-success answer (or no answer) from the order API.
type RemoteCallError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order api %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("order api %s failed: status=%d body=%s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRemoteCall) match.
func (e *RemoteCallError) Is(target error) bool { return target == ErrRemoteCall }

// Config holds order API client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	ListPath    string
	ReleasePath string
}

// Client provides typed access to the manufacturing order API.
type Client struct {
	logger      *slog.Logger
	baseURL     string
	listPath    string
	releasePath string
	http        *http.Client
	metrics     *metrics.Metrics
}

// New creates an order API client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	listPath := cfg.ListPath
	if listPath == "" {
		listPath = defaultListPath
	}
	releasePath := cfg.ReleasePath
	if releasePath == "" {
		releasePath = defaultReleasePath
	}
	return &Client{
		logger:      logger.With("component", "order_api"),
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		listPath:    listPath,
		releasePath: releasePath,
		http:        &http.Client{Timeout: timeout},
		metrics:     metrics,
	}
}

// ListOrders fetches the orders of a plant.
func (c *Client) ListOrders(ctx context.Context, token, plant string) ([]Order, error) {
	query := url.Values{}
	query.Set("plant", plant)

	body, err := c.do(ctx, endpointList, http.MethodGet, c.listPath+"?"+query.Encode(), token, nil)
	if err != nil {
		return nil, err
	}

	orders, err := parseOrderList(body)
	if err != nil {
		return nil, fmt.Errorf("parse order list: %w", err)
	}
	c.logger.Debug("orders listed", "plant", plant, "count", len(orders))
	return orders, nil
}

// ReleaseRequest is the body of a release call.
type ReleaseRequest struct {
	Order             string  `json:"order"`
	Plant             string  `json:"plant"`
	QuantityToRelease float64 `json:"quantityToRelease"`
}

// ReleaseOrder asks the API to release an order. Any 2xx answer is success.
func (c *Client) ReleaseOrder(ctx context.Context, token string, req ReleaseRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal release request: %w", err)
	}
	if _, err := c.do(ctx, endpointRelease, http.MethodPost, c.releasePath, token, payload); err != nil {
		return err
	}
	c.logger.Info("order released", "order", req.Order, "plant", req.Plant, "quantity", req.QuantityToRelease)
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path, token string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "order-chatbot/order-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		return nil, &RemoteCallError{Endpoint: endpoint, Err: err}
	}
	defer res.Body.Close()
	c.observe(endpoint, fmt.Sprintf("%d", res.StatusCode), start)

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &RemoteCallError{Endpoint: endpoint, StatusCode: res.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet := strings.TrimSpace(string(respBody))
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		c.logger.Warn("order api rejected request", "endpoint", endpoint, "status", res.StatusCode)
		return nil, &RemoteCallError{Endpoint: endpoint, StatusCode: res.StatusCode, Body: snippet}
	}
	return respBody, nil
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.OrderAPIRequests.WithLabelValues(endpoint, status).Inc()
	c.metrics.OrderAPILatency.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}
