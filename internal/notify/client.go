package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"flowoms/internal/util"

	"go.uber.org/zap"
)

// Result is the outcome of one delivery, covering every attempt made.
type Result struct {
	Success    bool
	StatusCode int
	Body       string
	Error      string
	RetryCount int
}

// ClientConfig tunes the notification client.
type ClientConfig struct {
	// Env gates the HTTPS requirement; anything but "development" and
	// "test" is treated as production-like.
	Env              string
	RequestTimeout   time.Duration
	RetryBackoff     time.Duration
	MaxBodyBytes     int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client delivers webhook notifications with bounded retries and a
// per-endpoint circuit breaker. On 5xx or network errors the request is
// retried up to 2 more times with exponential backoff; 4xx responses fail
// immediately. Response bodies are truncated past MaxBodyBytes.
type Client struct {
	httpClient *http.Client
	breaker    *Breaker
	cfg        ClientConfig
	logger     *zap.Logger
}

const maxAttempts = 3

// NewClient creates a notification client over the given counter store
func NewClient(cfg ClientConfig, counters CounterStore) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    NewBreaker(counters, cfg.BreakerThreshold, cfg.BreakerCooldown),
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// Send posts one payload to the endpoint. A validation failure or an open
// circuit short-circuits with zero network calls.
func (c *Client) Send(ctx context.Context, endpoint string, payload interface{}, kind string) *Result {
	ctx, span := util.StartSpan(ctx, "NotifyClient.Send")
	defer span.End()

	if err := c.validateEndpoint(endpoint); err != nil {
		util.NotificationAttemptsTotal.WithLabelValues(kind, "invalid_endpoint").Inc()
		return &Result{Error: err.Error()}
	}

	if !c.breaker.Allow(ctx, endpoint) {
		util.CircuitBreakerOpenTotal.Inc()
		util.NotificationAttemptsTotal.WithLabelValues(kind, "breaker_open").Inc()
		c.logger.Warn("Notification short-circuited, circuit breaker open",
			zap.String("kind", kind))
		return &Result{Error: "circuit breaker open for endpoint"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		util.NotificationAttemptsTotal.WithLabelValues(kind, "bad_payload").Inc()
		return &Result{Error: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	result := c.deliver(ctx, endpoint, body, kind)

	if result.Success {
		c.breaker.RecordSuccess(ctx, endpoint)
	} else {
		c.breaker.RecordFailure(ctx, endpoint)
	}
	return result
}

// deliver runs the attempt loop. Only retryable failures consume extra
// attempts; a 4xx returns at once.
func (c *Client) deliver(ctx context.Context, endpoint string, body []byte, kind string) *Result {
	result := &Result{}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			result.RetryCount++
			util.NotificationRetriesTotal.Inc()

			backoff := c.cfg.RetryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				result.Error = ctx.Err().Error()
				util.NotificationAttemptsTotal.WithLabelValues(kind, "canceled").Inc()
				return result
			case <-time.After(backoff):
			}
		}

		status, respBody, err := c.post(ctx, endpoint, body)
		switch {
		case err != nil:
			// drop the status and body of any earlier attempt: the
			// result must describe this failure, not a stale response
			result.StatusCode = 0
			result.Body = ""
			result.Error = err.Error()
			util.NotificationAttemptsTotal.WithLabelValues(kind, "network_error").Inc()
			// network and timeout errors are retryable
			continue
		case status >= 500:
			result.StatusCode = status
			result.Body = respBody
			result.Error = fmt.Sprintf("server error %d", status)
			util.NotificationAttemptsTotal.WithLabelValues(kind, "server_error").Inc()
			continue
		case status >= 400:
			result.StatusCode = status
			result.Body = respBody
			result.Error = fmt.Sprintf("client error %d", status)
			util.NotificationAttemptsTotal.WithLabelValues(kind, "client_error").Inc()
			return result
		default:
			result.Success = true
			result.StatusCode = status
			result.Body = respBody
			result.Error = ""
			util.NotificationAttemptsTotal.WithLabelValues(kind, "success").Inc()
			return result
		}
	}

	return result
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.cfg.MaxBodyBytes)+1))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response: %w", err)
	}

	respBody := string(raw)
	if len(raw) > c.cfg.MaxBodyBytes {
		respBody = string(raw[:c.cfg.MaxBodyBytes]) + " (truncated)"
	}
	return resp.StatusCode, respBody, nil
}

// validateEndpoint rejects malformed URLs, and plain HTTP outside
// development environments.
func (c *Client) validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook endpoint %q", endpoint)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if c.cfg.Env == "development" || c.cfg.Env == "test" {
			return nil
		}
		return fmt.Errorf("insecure webhook endpoint %q: HTTPS is required", endpoint)
	default:
		return fmt.Errorf("invalid webhook endpoint %q", endpoint)
	}
}
