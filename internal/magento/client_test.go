package magento

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		BaseURL:      srv.URL,
		AccessToken:  "test-token",
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	return client, srv
}

func TestGetOrderRetriesTransientErrors(t *testing.T) {
	var attempts int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"entity_id": 500, "increment_id": "000000500", "grand_total": 120.00}`)
	}))

	order, err := client.GetOrder(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), order.EntityID)
	assert.Equal(t, "000000500", order.IncrementID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGetOrderExhaustsRetries(t *testing.T) {
	var attempts int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.GetOrder(context.Background(), 500)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	// initial attempt plus MaxRetries
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestGetOrderNotFound(t *testing.T) {
	var attempts int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Requested entity doesn't exist"}`)
	}))

	_, err := client.GetOrder(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
	// 4xx is never retried
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestPermissionDenied(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "The consumer isn't authorized"}`)
	}))

	_, err := client.TestConnection(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCancelOrderBusinessConflict(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/77/cancel", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message": "The order cannot be canceled because it has shipped"}`)
	}))

	_, err := client.CancelOrder(context.Background(), 77)
	var bizErr *BusinessRuleError
	require.ErrorAs(t, err, &bizErr)
	assert.Contains(t, bizErr.Message, "has shipped")
	assert.False(t, IsRetryable(err))
}

func TestCancelOrderSuccess(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "true")
	}))

	result, err := client.CancelOrder(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "true", result.Body)
}

func TestCancelOrderConnectionError(t *testing.T) {
	client := NewClient(ClientConfig{
		BaseURL:      "http://127.0.0.1:1",
		AccessToken:  "test-token",
		Timeout:      200 * time.Millisecond,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	})

	_, err := client.CancelOrder(context.Background(), 77)
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestGetOrdersSincePagination(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "created_at", r.URL.Query().Get("searchCriteria[filterGroups][0][filters][0][field]"))
		assert.Equal(t, "gteq", r.URL.Query().Get("searchCriteria[filterGroups][0][filters][0][conditionType]"))
		assert.Equal(t, "2", r.URL.Query().Get("searchCriteria[currentPage]"))
		assert.Equal(t, "50", r.URL.Query().Get("searchCriteria[pageSize]"))
		fmt.Fprint(w, `{"items": [{"entity_id": 1}], "total_count": 51}`)
	}))

	result, err := client.GetOrdersSince(context.Background(), time.Now(), 2, 50)
	require.NoError(t, err)
	assert.Equal(t, 51, result.TotalCount)
	assert.Len(t, result.Items, 1)
}

func TestTestConnection(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/store/storeConfigs", r.URL.Path)
		fmt.Fprint(w, `[{"id": 1, "code": "default", "base_currency_code": "USD"}]`)
	}))

	cfg, err := client.TestConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Code)
	assert.Equal(t, "USD", cfg.BaseCurrencyCode)
}

func TestOrderCustomerName(t *testing.T) {
	assert.Equal(t, "Jane Doe", (&Order{CustomerFirstname: "Jane", CustomerLastname: "Doe"}).CustomerName())
	assert.Equal(t, "Jane", (&Order{CustomerFirstname: "Jane"}).CustomerName())
	assert.Equal(t, "Guest", (&Order{}).CustomerName())
}

func TestParseTime(t *testing.T) {
	ts, err := ParseTime("2024-03-01 10:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), *ts)

	ts, err = ParseTime("")
	require.NoError(t, err)
	assert.Nil(t, ts)

	_, err = ParseTime("not-a-date")
	assert.Error(t, err)
}

func TestPagerWalksUntilTotal(t *testing.T) {
	var requests int32
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		page := r.URL.Query().Get("searchCriteria[currentPage]")
		switch page {
		case "1":
			fmt.Fprint(w, `{"items": [{"entity_id": 1}, {"entity_id": 2}], "total_count": 3}`)
		default:
			fmt.Fprint(w, `{"items": [{"entity_id": 3}], "total_count": 3}`)
		}
	}))

	pager := NewOrderPager(client, PagerConfig{Since: time.Now(), PageSize: 2})

	page1, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page1)
	assert.Equal(t, 1, page1.Number)
	assert.Len(t, page1.Orders, 2)

	page2, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page2)
	assert.Equal(t, 2, page2.Number)
	assert.Len(t, page2.Orders, 1)

	page3, err := pager.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, page3)
	// exhaustion is decided by the cursor, not another fetch
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestPagerStopsOnEchoingServer(t *testing.T) {
	// A misbehaving server that always returns a full page must not loop
	// the pager forever.
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": [{"entity_id": 9}, {"entity_id": 10}], "total_count": 2}`)
	}))

	pager := NewOrderPager(client, PagerConfig{Since: time.Now(), PageSize: 2})

	page, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page)

	page, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestPagerResumesFromStartPage(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("searchCriteria[currentPage]"))
		fmt.Fprint(w, `{"items": [{"entity_id": 5}], "total_count": 5}`)
	}))

	pager := NewOrderPager(client, PagerConfig{Since: time.Now(), PageSize: 2, StartPage: 3})

	page, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, 3, page.Number)

	page, err = pager.Next(context.Background())
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&ConnectionError{Err: errors.New("timeout")}))
	assert.True(t, IsRetryable(&HTTPError{StatusCode: 503}))
	assert.False(t, IsRetryable(&HTTPError{StatusCode: 418}))
	assert.False(t, IsRetryable(&BusinessRuleError{StatusCode: 400}))
	assert.False(t, IsRetryable(ErrNotFound))
}
