package magento

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a 404 from the Magento API
var ErrNotFound = errors.New("magento: resource not found")

// ErrPermissionDenied reports a 401/403 from the Magento API
var ErrPermissionDenied = errors.New("magento: permission denied")

// BusinessRuleError reports a non-retryable business conflict, such as
// cancelling an order that has already shipped.
type BusinessRuleError struct {
	StatusCode int
	Message    string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("magento: business rule violation (status %d): %s", e.StatusCode, e.Message)
}

// ConnectionError reports a network-level failure reaching the API
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("magento: connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HTTPError reports an unexpected HTTP status
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("magento: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether an error should be retried at the client layer
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	return false
}
