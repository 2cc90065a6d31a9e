package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(threshold int) (*Client, *MemoryCounterStore) {
	counters := NewMemoryCounterStore()
	client := NewClient(ClientConfig{
		Env:              "test",
		RequestTimeout:   2 * time.Second,
		RetryBackoff:     time.Millisecond,
		MaxBodyBytes:     64,
		BreakerThreshold: threshold,
		BreakerCooldown:  time.Minute,
	}, counters)
	return client, counters
}

func TestSendRetriesServerErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&attempts, 1) {
		case 1, 2:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer server.Close()

	client, _ := testClient(5)
	result := client.Send(context.Background(), server.URL, map[string]string{"k": "v"}, "warning")

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts), "exactly 3 HTTP attempts")
	assert.Empty(t, result.Error)
}

func TestSendClientErrorNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, _ := testClient(5)
	result := client.Send(context.Background(), server.URL, nil, "warning")

	assert.False(t, result.Success)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Zero(t, result.RetryCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "exactly 1 HTTP attempt")
	assert.Contains(t, result.Error, "client error")
}

func TestSendExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := testClient(5)
	result := client.Send(context.Background(), server.URL, nil, "warning")

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestNetworkErrorClearsEarlierResponse(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("upstream exploded"))
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		conn.Close()
	}))
	defer server.Close()

	client, _ := testClient(5)
	result := client.Send(context.Background(), server.URL, nil, "warning")

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)
	assert.Contains(t, result.Error, "request failed")
	assert.Zero(t, result.StatusCode, "the earlier 500 must not leak into the final result")
	assert.Empty(t, result.Body)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := testClient(2)

	// two failed sends reach the threshold
	client.Send(context.Background(), server.URL, nil, "warning")
	client.Send(context.Background(), server.URL, nil, "warning")
	before := atomic.LoadInt32(&attempts)

	result := client.Send(context.Background(), server.URL, nil, "warning")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "circuit breaker open")
	assert.Zero(t, result.RetryCount)
	assert.Equal(t, before, atomic.LoadInt32(&attempts), "open circuit makes zero network calls")
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	client, counters := testClient(2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// seed the endpoint with failures just below the threshold
	key := breakerKey(server.URL)
	_, err := counters.Increment(context.Background(), key, time.Minute)
	require.NoError(t, err)

	result := client.Send(context.Background(), server.URL, nil, "warning")
	require.True(t, result.Success)

	count, err := counters.Count(context.Background(), key)
	require.NoError(t, err)
	assert.Zero(t, count, "success resets the failure counter")
}

func TestBreakerCooldownExpiresCounter(t *testing.T) {
	counters := NewMemoryCounterStore()
	breaker := NewBreaker(counters, 1, 10*time.Millisecond)

	breaker.RecordFailure(context.Background(), "https://hooks.example.com")
	assert.False(t, breaker.Allow(context.Background(), "https://hooks.example.com"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, breaker.Allow(context.Background(), "https://hooks.example.com"),
		"cooldown expiry closes the circuit")
}

func TestInsecureEndpointShortCircuits(t *testing.T) {
	counters := NewMemoryCounterStore()
	client := NewClient(ClientConfig{
		Env:              "production",
		RequestTimeout:   time.Second,
		RetryBackoff:     time.Millisecond,
		MaxBodyBytes:     64,
		BreakerThreshold: 5,
		BreakerCooldown:  time.Minute,
	}, counters)

	result := client.Send(context.Background(), "http://hooks.example.com/oms", nil, "warning")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "HTTPS is required")
	assert.Zero(t, result.StatusCode)

	// a validation failure must not count against the breaker
	count, err := counters.Count(context.Background(), breakerKey("http://hooks.example.com/oms"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMalformedEndpointRejected(t *testing.T) {
	client, _ := testClient(5)

	for _, endpoint := range []string{"", "not a url", "ftp://example.com"} {
		result := client.Send(context.Background(), endpoint, nil, "warning")
		assert.False(t, result.Success, "endpoint %q", endpoint)
		assert.Contains(t, result.Error, "invalid webhook endpoint")
	}
}

func TestResponseBodyTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer server.Close()

	client, _ := testClient(5)
	result := client.Send(context.Background(), server.URL, nil, "warning")

	require.True(t, result.Success)
	assert.True(t, strings.HasSuffix(result.Body, " (truncated)"))
	assert.Equal(t, strings.Repeat("x", 64)+" (truncated)", result.Body)
}

func TestSendPostsJSON(t *testing.T) {
	var gotContentType string
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, _ := testClient(5)
	result := client.Send(context.Background(), server.URL, map[string]string{"event_type": "warning"}, "warning")

	require.True(t, result.Success)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"event_type":"warning"}`, gotBody)
}
