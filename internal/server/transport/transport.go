// Package transport provides the retrying http.RoundTripper that every
// outbound blockchain RPC call goes through.
//
// Each attempt gets its own timeout. Network failures, per-attempt timeouts
// and retryable HTTP statuses are retried with slot-based exponential backoff
// until the attempt budget is spent, after which the caller receives an
// *Error marked Exhausted. Other responses are returned untouched so the RPC
// layer can interpret them.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/slkzgm/beezie-backend/internal/common"
	"github.com/slkzgm/beezie-backend/internal/logging"
	"github.com/slkzgm/beezie-backend/internal/server/metrics"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxAttempts   = 4
	DefaultSlot          = 250 * time.Millisecond
	DefaultJitterPercent = 20
)

// retryableStatuses lists the non-5xx codes worth retrying together with the
// gateway codes seen from RPC providers. Every 5xx is retried regardless.
var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusTooEarly:            {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
	522:                            {},
	524:                            {},
	598:                            {},
	599:                            {},
}

// IsRetryableStatus reports whether an HTTP status should be retried.
func IsRetryableStatus(code int) bool {
	if code >= 500 && code <= 599 {
		return true
	}
	_, ok := retryableStatuses[code]
	return ok
}

// Error is returned when a request could not be completed.
type Error struct {
	StatusCode int // last HTTP status, 0 for network failures
	Attempts   int
	Retryable  bool
	Exhausted  bool
	Err        error
}

func (e *Error) Error() string {
	msg := "rpc transport"
	if e.Exhausted {
		msg += fmt.Sprintf(": gave up after %d attempts", e.Attempts)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes a retryable transport failure match common.ErrTransportRetryable.
func (e *Error) Is(target error) bool {
	return target == common.ErrTransportRetryable && e.Retryable
}

type Options struct {
	Timeout       time.Duration
	MaxAttempts   int
	Slot          time.Duration
	JitterPercent uint64
	Base          http.RoundTripper
	Logger        logging.Logger
	Metrics       *metrics.Metrics
}

type RoundTripper struct {
	opts Options
}

// New fills unset options with the defaults.
func New(opts Options) *RoundTripper {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Slot <= 0 {
		opts.Slot = DefaultSlot
	}
	if opts.JitterPercent == 0 {
		opts.JitterPercent = DefaultJitterPercent
	}
	if opts.Base == nil {
		opts.Base = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	opts.Logger = opts.Logger.With("module", "transport")
	return &RoundTripper{opts: opts}
}

// NewHTTPClient returns a client whose only timeout is the per-attempt one.
func NewHTTPClient(opts Options) *http.Client {
	return &http.Client{Transport: New(opts)}
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return "unexpected status " + strconv.Itoa(e.code) }

func (t *RoundTripper) backoff() retry.Backoff {
	b := retry.NewExponential(t.opts.Slot)
	b = retry.WithJitterPercent(t.opts.JitterPercent, b)
	return retry.WithMaxRetries(uint64(t.opts.MaxAttempts-1), b)
}

func (t *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := drainBody(req)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("read request body: %w", err)}
	}

	parent := req.Context()
	var (
		resp       *http.Response
		attempts   int
		lastStatus int
		lastErr    error
	)

	err = retry.Do(parent, t.backoff(), func(ctx context.Context) error {
		attempts++
		t.opts.Metrics.RPCAttempt()

		r, err := t.attempt(ctx, req, body)
		if err != nil {
			if parent.Err() != nil {
				return parent.Err()
			}
			lastStatus, lastErr = 0, err
			t.noteFailure(ctx, attempts, "network", err)
			return retry.RetryableError(err)
		}

		if IsRetryableStatus(r.StatusCode) {
			_, _ = io.Copy(io.Discard, r.Body)
			_ = r.Body.Close()
			lastStatus, lastErr = r.StatusCode, &statusError{code: r.StatusCode}
			t.noteFailure(ctx, attempts, strconv.Itoa(r.StatusCode), lastErr)
			return retry.RetryableError(lastErr)
		}

		resp = r
		return nil
	})

	switch {
	case err == nil:
		return resp, nil
	case parent.Err() != nil && errors.Is(err, parent.Err()):
		return nil, &Error{StatusCode: lastStatus, Attempts: attempts, Err: err}
	default:
		t.opts.Metrics.RPCExhausted()
		t.opts.Logger.Warn(parent, "rpc attempts exhausted",
			"url", req.URL.Redacted(), "attempts", attempts, "status", lastStatus)
		return nil, &Error{
			StatusCode: lastStatus,
			Attempts:   attempts,
			Retryable:  true,
			Exhausted:  true,
			Err:        lastErr,
		}
	}
}

func (t *RoundTripper) noteFailure(ctx context.Context, attempt int, reason string, err error) {
	if attempt >= t.opts.MaxAttempts {
		return
	}
	t.opts.Metrics.RPCRetry(reason)
	t.opts.Logger.Warn(ctx, "rpc attempt failed, retrying",
		"attempt", attempt, "max_attempts", t.opts.MaxAttempts, "reason", reason, "error", err)
}

// attempt sends one copy of req bounded by the per-attempt timeout. The
// timeout stays armed until the returned body is closed.
func (t *RoundTripper) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	actx, cancel := context.WithTimeout(ctx, t.opts.Timeout)

	r := req.Clone(actx)
	if body != nil {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := t.opts.Base.RoundTrip(r)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
