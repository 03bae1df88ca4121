package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/evmindex/pkg/config"
)

// Request is a JSON-RPC 2.0 request object. ErrorPassThrough never travels
// over the wire; it only tells this client how to treat a non-2xx response
// to this particular call.
type Request struct {
	JSONRPC          string `json:"jsonrpc"`
	ID               int64  `json:"id"`
	Method           string `json:"method"`
	Params           []any  `json:"params,omitempty"`
	ErrorPassThrough bool   `json:"-"`
}

// Response is a JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the JSON-RPC error payload.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrorData implements go-ethereum's rpc.DataError so callers can use
// IsTooManyResultsError against errors returned by this client.
func (e *ResponseError) ErrorData() any {
	return e.Data
}

// BatchElem is a single call within a batch request, mirroring go-ethereum's
// rpc.BatchElem so callers can build batches the same way.
type BatchElem struct {
	Method string
	Args   []any
	Result any
	Error  error
}

// Transport-level sentinels. errTooManyRequests itself is declared in
// errors.go alongside IsTooManyResultsError.
var (
	// ErrThrottleRequested lets a response inspector force the same
	// wait-and-retry path an HTTP 429 takes, without an actual 429 status.
	ErrThrottleRequested = errors.New("rpc: throttle requested")

	// ErrServerError wraps a connection-level failure that produced no HTTP
	// response at all (dial failure, read timeout mid-body, ...).
	ErrServerError = errors.New("rpc: server error")
)

// tooManyRequestsError carries a concrete Retry-After wait alongside the
// errTooManyRequests sentinel, so errors.Is(err, errTooManyRequests) still
// matches while the caller can still recover the wait via errors.As.
type tooManyRequestsError struct {
	retryAfter time.Duration
	hasHeader  bool
}

func (e *tooManyRequestsError) Error() string { return errTooManyRequests.Error() }
func (e *tooManyRequestsError) Is(target error) bool {
	return target == errTooManyRequests //nolint:errorlint
}

// PassThroughError carries a non-2xx response body back to a caller that
// issued CallPassThrough, instead of the client raising an opaque
// transport error for it.
type PassThroughError struct {
	StatusCode int
	Body       []byte
}

func (e *PassThroughError) Error() string {
	return fmt.Sprintf("rpc: non-2xx response (status %d)", e.StatusCode)
}

// Caller is the surface internal/chain needs from a pooled connection: a
// single call and a batch call. *Client and *Coalescer both implement it, so
// a pool can hand out either transparently.
type Caller interface {
	Call(ctx context.Context, v any, method string, args ...any) error
	BatchCall(ctx context.Context, elems []BatchElem) error
	URL() string
}

// Client is a raw JSON-RPC 2.0 transport against a single upstream endpoint.
// It knows nothing about Ethereum semantics; internal/chain builds the
// chain-specific API on top of it.
type Client struct {
	url        string
	httpClient *http.Client
	cfg        *config.RPCConfig
	idSeq      atomic.Int64
	adaptive   *adaptiveBatcher
	inspect    func(status int, body []byte) error
}

// NewClient builds a Client bound to a single endpoint URL. Redirects are
// never followed automatically by the underlying http.Client; doRequest
// follows at most one, GET-only, https-only, per spec.
func NewClient(url string, cfg *config.RPCConfig) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout.Duration,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:      cfg,
		adaptive: newAdaptiveBatcher(cfg.MaxBatchSize),
	}
}

// URL returns the endpoint this client is bound to.
func (c *Client) URL() string {
	return c.url
}

// SetInspector installs a response inspector consulted after every response
// that isn't already a 429: returning ErrThrottleRequested routes the call
// through the same wait-and-retry path an HTTP 429 takes.
func (c *Client) SetInspector(fn func(status int, body []byte) error) {
	c.inspect = fn
}

func (c *Client) retryConfig() *config.RetryConfig {
	if c.cfg.Retry != nil {
		return c.cfg.Retry
	}
	return &config.RetryConfig{ThrottleLimit: 1}
}

// Call issues a single JSON-RPC request and decodes the result into v.
func (c *Client) Call(ctx context.Context, v any, method string, args ...any) error {
	start := time.Now()
	RPCMethodInc(method)

	err := c.callWithRetry(ctx, method, func(ctx context.Context) error {
		return c.doCall(ctx, v, method, args)
	})

	RPCMethodDuration(method, time.Since(start))
	if err != nil {
		RPCMethodError(method, classifyError(err))
	}
	return err
}

// CallPassThrough behaves like Call, but a non-2xx response is returned to
// the caller as a *PassThroughError carrying the raw body instead of being
// turned into an opaque transport error, per Request.ErrorPassThrough.
func (c *Client) CallPassThrough(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.callWithRetry(ctx, method, func(ctx context.Context) error {
		req := Request{JSONRPC: "2.0", ID: c.idSeq.Add(1), Method: method, Params: args, ErrorPassThrough: true}
		body, merr := json.Marshal(req)
		if merr != nil {
			return fmt.Errorf("marshal request: %w", merr)
		}

		respBody, status, derr := c.doRequest(ctx, body)
		if derr != nil {
			return derr
		}
		if status != http.StatusOK {
			return &PassThroughError{StatusCode: status, Body: respBody}
		}
		raw = respBody
		return nil
	})
	return raw, err
}

func (c *Client) doCall(ctx context.Context, v any, method string, args []any) error {
	req := Request{
		JSONRPC: "2.0",
		ID:      c.idSeq.Add(1),
		Method:  method,
		Params:  args,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, status, err := c.doRequest(ctx, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("http status %d: %s", status, string(respBody))
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.Error != nil {
		return resp.Error
	}

	if v != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, v); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}

// BatchCall issues several calls in one JSON-RPC batch request, splitting it
// into sub-batches bounded by the adaptive batcher's current ceiling.
func (c *Client) BatchCall(ctx context.Context, elems []BatchElem) error {
	if len(elems) == 0 {
		return nil
	}

	ceiling := c.adaptive.ceiling()
	for start := 0; start < len(elems); start += ceiling {
		end := min(start+ceiling, len(elems))
		chunk := elems[start:end]

		err := c.callWithRetry(ctx, "batch", func(ctx context.Context) error {
			return c.doBatch(ctx, chunk)
		})
		if err != nil {
			c.adaptive.onFailure()
			return fmt.Errorf("batch call [%d:%d]: %w", start, end, err)
		}
		c.adaptive.onSuccess()
	}

	RPCAdaptiveCeilingSet(c.adaptive.ceiling())
	return nil
}

func (c *Client) doBatch(ctx context.Context, elems []BatchElem) error {
	reqs := make([]Request, len(elems))
	for i, el := range elems {
		reqs[i] = Request{
			JSONRPC: "2.0",
			ID:      c.idSeq.Add(1),
			Method:  el.Method,
			Params:  el.Args,
		}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return fmt.Errorf("marshal batch request: %w", err)
	}

	RPCBatchSizeObserve(len(elems))

	respBody, status, err := c.doRequest(ctx, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("http status %d: %s", status, string(respBody))
	}

	var resps []Response
	if err := json.Unmarshal(respBody, &resps); err != nil {
		return fmt.Errorf("unmarshal batch response (malformed): %w", err)
	}
	if len(resps) != len(reqs) {
		return fmt.Errorf("batch response length mismatch: got %d, want %d", len(resps), len(reqs))
	}

	byID := make(map[int64]*Response, len(resps))
	for i := range resps {
		byID[resps[i].ID] = &resps[i]
	}

	for i, req := range reqs {
		resp, ok := byID[req.ID]
		if !ok {
			elems[i].Error = fmt.Errorf("batch element %d: no matching response", i)
			continue
		}
		if resp.Error != nil {
			elems[i].Error = resp.Error
			continue
		}
		if elems[i].Result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, elems[i].Result); err != nil {
				elems[i].Error = fmt.Errorf("unmarshal batch element %d result: %w", i, err)
			}
		}
	}

	return nil
}

// callWithRetry wraps ctx in the configured wall-clock timeout and retries
// fn up to ThrottleLimit attempts: an HTTP 429, a processor-requested
// throttle, and a transient transport error all take the same
// wait-and-retry path, honoring Retry-After when the error carries one and
// falling back to slotInterval*rand(0,2^attempt) otherwise.
func (c *Client) callWithRetry(ctx context.Context, method string, fn func(context.Context) error) error {
	cfg := c.retryConfig()

	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = 120 * time.Second //nolint:mnd
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := cfg.ThrottleLimit
	if limit < 1 {
		limit = 1
	}

	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				RPCRetryInc(method)
			}
			return nil
		}
		lastErr = err

		throttled := errors.Is(err, errTooManyRequests) || errors.Is(err, ErrThrottleRequested)
		if !throttled && !retryableError(err) {
			return err
		}
		if attempt >= limit {
			break
		}

		wait := slotBackoff(attempt, cfg)
		var tmr *tooManyRequestsError
		if errors.As(err, &tmr) && tmr.hasHeader {
			wait = tmr.retryAfter
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("rpc %s: %w", method, ctx.Err())
		}
		RPCRetryInc(method)
	}

	return fmt.Errorf("rpc %s: throttle limit (%d) exhausted: %w", method, limit, lastErr)
}

// doRequest performs one HTTP round trip against the endpoint (GET when
// body is empty, POST otherwise), follows at most one https-only 301/302
// redirect (GET only), and translates a 429 into errTooManyRequests (or a
// tooManyRequestsError carrying its Retry-After). It never treats a
// non-2xx status as an error itself; callers decide from the status code.
func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, int, error) {
	method := http.MethodPost
	if len(body) == 0 {
		method = http.MethodGet
	}

	respBody, status, header, err := c.roundTrip(ctx, method, c.url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrServerError, err) //nolint:errorlint
	}

	if method == http.MethodGet && (status == http.StatusMovedPermanently || status == http.StatusFound) {
		if loc := header.Get("Location"); loc != "" {
			if u, perr := url.Parse(loc); perr == nil && u.Scheme == "https" {
				respBody, status, header, err = c.roundTrip(ctx, http.MethodGet, loc, nil)
				if err != nil {
					return nil, 0, fmt.Errorf("%w: %v", ErrServerError, err) //nolint:errorlint
				}
			}
		}
	}

	if status == http.StatusTooManyRequests {
		return nil, status, retryAfterError(header.Get("Retry-After"))
	}

	if c.inspect != nil {
		if ierr := c.inspect(status, respBody); ierr != nil {
			return nil, status, ierr
		}
	}

	return respBody, status, nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte) ([]byte, int, http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, resp.StatusCode, resp.Header, nil
}

// retryAfterError reports a 429 as errTooManyRequests, or as a
// tooManyRequestsError carrying the concrete wait when Retry-After is a
// positive integer of seconds, exactly as spec.md §4.1 requires (an
// HTTP-date Retry-After is not honored; the slot-interval formula applies).
func retryAfterError(header string) error {
	if header == "" {
		return errTooManyRequests
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return &tooManyRequestsError{retryAfter: time.Duration(secs) * time.Second, hasHeader: true}
	}
	return errTooManyRequests
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, errTooManyRequests) || errors.Is(err, ErrThrottleRequested) {
		return "rate_limited"
	}
	if errors.Is(err, ErrServerError) {
		return "server_error"
	}
	if ok, _ := IsTooManyResultsError(err); ok {
		return "too_many_results"
	}
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return "rpc_error"
	}
	return "transport_error"
}
