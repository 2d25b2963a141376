package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/server/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions(m *metrics.Metrics) Options {
	return Options{
		Timeout:     time.Second,
		MaxAttempts: 4,
		Slot:        time.Millisecond,
		Metrics:     m,
	}
}

// scriptedServer answers with the given statuses in order, then 200.
func scriptedServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{418, false},
		{408, true},
		{425, true},
		{429, true},
		{500, true},
		{501, true},
		{502, true},
		{503, true},
		{504, true},
		{522, true},
		{524, true},
		{598, true},
		{599, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRetryableStatus(tt.code), "status %d", tt.code)
	}
}

func TestRoundTrip_RecoversAfterRetryableStatuses(t *testing.T) {
	srv, hits := scriptedServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	client := NewHTTPClient(fastOptions(m))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.EqualValues(t, 3, hits.Load())

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP wallet_rpc_attempts_total Outbound RPC attempts, including retries.
# TYPE wallet_rpc_attempts_total counter
wallet_rpc_attempts_total 3
# HELP wallet_rpc_retries_total Outbound RPC retries by reason.
# TYPE wallet_rpc_retries_total counter
wallet_rpc_retries_total{reason="429"} 1
wallet_rpc_retries_total{reason="503"} 1
`), "wallet_rpc_attempts_total", "wallet_rpc_retries_total"))
}

func TestRoundTrip_ExhaustsAttempts(t *testing.T) {
	srv, hits := scriptedServer(t, 502, 502, 502, 502, 502)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	client := NewHTTPClient(fastOptions(m))

	resp, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.EqualValues(t, 4, hits.Load())

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
	assert.Equal(t, 4, terr.Attempts)
	assert.True(t, terr.Retryable)
	assert.True(t, terr.Exhausted)
	assert.ErrorIs(t, err, common.ErrTransportRetryable)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP wallet_rpc_exhausted_total Outbound RPC calls that ran out of attempts.
# TYPE wallet_rpc_exhausted_total counter
wallet_rpc_exhausted_total 1
# HELP wallet_rpc_retries_total Outbound RPC retries by reason.
# TYPE wallet_rpc_retries_total counter
wallet_rpc_retries_total{reason="502"} 3
`), "wallet_rpc_exhausted_total", "wallet_rpc_retries_total"))
}

func TestRoundTrip_PassesThroughTerminalStatus(t *testing.T) {
	srv, hits := scriptedServer(t, http.StatusBadRequest)
	client := NewHTTPClient(fastOptions(nil))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.EqualValues(t, 1, hits.Load())
}

func TestRoundTrip_ReplaysBody(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	payload := `{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`
	client := NewHTTPClient(fastOptions(nil))
	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	echo, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(echo))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{payload, payload}, bodies)
}

func TestRoundTrip_PerAttemptTimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(srv.Close)

	opts := fastOptions(nil)
	opts.Timeout = 100 * time.Millisecond
	client := NewHTTPClient(opts)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 2, hits.Load())
}

type fakeRoundTripper struct {
	calls int
	fn    func(call int, r *http.Request) (*http.Response, error)
}

func (f *fakeRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	f.calls++
	return f.fn(f.calls, r)
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     http.Header{},
	}
}

func TestRoundTrip_NetworkErrorIsRetried(t *testing.T) {
	base := &fakeRoundTripper{fn: func(call int, r *http.Request) (*http.Response, error) {
		if call == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return okResponse(), nil
	}}
	opts := fastOptions(nil)
	opts.Base = base

	req := httptest.NewRequest(http.MethodGet, "http://rpc.invalid/", nil)
	resp, err := New(opts).RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 2, base.calls)
}

func TestRoundTrip_NetworkErrorExhausted(t *testing.T) {
	netErr := errors.New("dial tcp: connection refused")
	base := &fakeRoundTripper{fn: func(int, *http.Request) (*http.Response, error) {
		return nil, netErr
	}}
	opts := fastOptions(nil)
	opts.MaxAttempts = 2
	opts.Base = base

	req := httptest.NewRequest(http.MethodGet, "http://rpc.invalid/", nil)
	_, err := New(opts).RoundTrip(req)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 0, terr.StatusCode)
	assert.Equal(t, 2, terr.Attempts)
	assert.True(t, terr.Exhausted)
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, 2, base.calls)
}

func TestRoundTrip_CallerCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &fakeRoundTripper{fn: func(int, *http.Request) (*http.Response, error) {
		cancel()
		return nil, context.Canceled
	}}
	opts := fastOptions(nil)
	opts.Base = base

	req := httptest.NewRequest(http.MethodGet, "http://rpc.invalid/", nil).WithContext(ctx)
	_, err := New(opts).RoundTrip(req)

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, common.ErrTransportRetryable)
	assert.Equal(t, 1, base.calls)
}

func TestNew_Defaults(t *testing.T) {
	rt := New(Options{})
	assert.Equal(t, DefaultTimeout, rt.opts.Timeout)
	assert.Equal(t, DefaultMaxAttempts, rt.opts.MaxAttempts)
	assert.Equal(t, DefaultSlot, rt.opts.Slot)
	assert.Equal(t, http.DefaultTransport, rt.opts.Base)
	assert.NotNil(t, rt.opts.Logger)
}

func TestError_Message(t *testing.T) {
	e := &Error{StatusCode: 503, Attempts: 4, Retryable: true, Exhausted: true, Err: errors.New("boom")}
	assert.Equal(t, "rpc transport: gave up after 4 attempts: status 503: boom", e.Error())
	assert.NotErrorIs(t, &Error{Err: errors.New("x")}, common.ErrTransportRetryable)
}
