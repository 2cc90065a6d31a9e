package magento

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"flowoms/internal/util"

	"go.uber.org/zap"
)

const maxResponseBytes = 10 << 20

// ClientConfig configures the Magento REST client
type ClientConfig struct {
	BaseURL      string
	AccessToken  string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client is a bearer-token REST client for the Magento API. Transient
// failures (network errors, 5xx) are retried up to MaxRetries extra
// attempts; 4xx responses are mapped to typed errors immediately.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewClient creates a new Magento API client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		token:        cfg.AccessToken,
		httpClient:   &http.Client{Timeout: timeout},
		maxRetries:   cfg.MaxRetries,
		retryBackoff: backoff,
		logger:       util.GetLogger(),
	}
}

// GetOrdersSince fetches one page of orders created at or after since.
func (c *Client) GetOrdersSince(ctx context.Context, since time.Time, page, pageSize int) (*OrdersResult, error) {
	query := searchQuery("created_at", since.UTC().Format(TimeLayout), "gteq", page, pageSize)

	var result OrdersResult
	if err := c.getJSON(ctx, "orders_search", "/orders", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOrdersLastDays fetches one page of orders created in the last N days.
func (c *Client) GetOrdersLastDays(ctx context.Context, days, page, pageSize int) (*OrdersResult, error) {
	since := time.Now().AddDate(0, 0, -days)
	return c.GetOrdersSince(ctx, since, page, pageSize)
}

// GetOrder fetches a single order by its Magento entity id.
func (c *Client) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	var order Order
	if err := c.getJSON(ctx, "order_get", fmt.Sprintf("/orders/%d", orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetInvoicesForOrder fetches all invoices belonging to an order.
func (c *Client) GetInvoicesForOrder(ctx context.Context, orderID int64) ([]Invoice, error) {
	query := searchQuery("order_id", strconv.FormatInt(orderID, 10), "eq", 1, 100)

	var result InvoicesResult
	if err := c.getJSON(ctx, "invoices_search", "/invoices", query, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// GetShipmentsForOrder fetches all shipments belonging to an order.
func (c *Client) GetShipmentsForOrder(ctx context.Context, orderID int64) ([]Shipment, error) {
	query := searchQuery("order_id", strconv.FormatInt(orderID, 10), "eq", 1, 100)

	var result ShipmentsResult
	if err := c.getJSON(ctx, "shipments_search", "/shipments", query, &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

// CancelOrder cancels an order on the platform. Business conflicts (already
// shipped, already canceled) surface as *BusinessRuleError, network problems
// as *ConnectionError.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) (*CancelResult, error) {
	status, body, err := c.do(ctx, "order_cancel", http.MethodPost, fmt.Sprintf("/orders/%d/cancel", orderID), nil)
	if err != nil {
		return nil, err
	}
	return &CancelResult{StatusCode: status, Body: string(body)}, nil
}

// TestConnection verifies credentials and connectivity by fetching the store
// configuration.
func (c *Client) TestConnection(ctx context.Context) (*StoreConfig, error) {
	var configs []StoreConfig
	if err := c.getJSON(ctx, "store_configs", "/store/storeConfigs", nil, &configs); err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, &HTTPError{StatusCode: http.StatusOK, Body: "empty store config list"}
	}
	return &configs[0], nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out interface{}) error {
	_, body, err := c.do(ctx, endpoint, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("magento: failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// do executes one API call with bounded retries on transient failures.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values) (int, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		status, body, err := c.doOnce(ctx, endpoint, method, u)
		if err == nil {
			return status, body, nil
		}
		if !IsRetryable(err) {
			return 0, nil, err
		}
		lastErr = err

		if attempt >= c.maxRetries {
			util.MagentoRequestErrorsTotal.WithLabelValues(endpoint, "exhausted").Inc()
			return 0, nil, lastErr
		}

		backoff := c.retryBackoff << attempt
		c.logger.Warn("Magento request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return 0, nil, &ConnectionError{Err: ctx.Err()}
		case <-time.After(backoff):
		}
	}
}

func (c *Client) doOnce(ctx context.Context, endpoint, method, u string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("magento: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	util.MagentoRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		util.MagentoRequestErrorsTotal.WithLabelValues(endpoint, "connection").Inc()
		return 0, nil, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		util.MagentoRequestErrorsTotal.WithLabelValues(endpoint, "read").Inc()
		return 0, nil, &ConnectionError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, body, nil
	}

	util.MagentoRequestErrorsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return 0, nil, mapErrorResponse(resp.StatusCode, body)
}

func mapErrorResponse(status int, body []byte) error {
	msg := errorMessage(body)

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case status == http.StatusBadRequest || status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return &BusinessRuleError{StatusCode: status, Message: msg}
	default:
		return &HTTPError{StatusCode: status, Body: msg}
	}
}

// errorMessage extracts Magento's {"message": "..."} error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	return string(body)
}

// searchQuery builds a single-filter Magento searchCriteria query.
func searchQuery(field, value, condition string, page, pageSize int) url.Values {
	q := url.Values{}
	q.Set("searchCriteria[filterGroups][0][filters][0][field]", field)
	q.Set("searchCriteria[filterGroups][0][filters][0][value]", value)
	q.Set("searchCriteria[filterGroups][0][filters][0][conditionType]", condition)
	q.Set("searchCriteria[pageSize]", strconv.Itoa(pageSize))
	q.Set("searchCriteria[currentPage]", strconv.Itoa(page))
	return q
}
