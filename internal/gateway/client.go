// Package gateway translates dashboard operations into HTTP calls against the
// cluster/anomaly/remediation REST backend and turns the responses into typed
// records or typed errors.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every backend call unless overridden with WithTimeout.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response is kept in GatewayError.Message.
const maxErrorBody = 512

// Client talks to the dashboard REST backend.
type Client struct {
	url        string
	token      string
	anonKey    string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	tracer     trace.Tracer
	log        *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit bounds outgoing requests to perSec with the given burst.
// A non-positive perSec disables limiting.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTracerProvider records call spans on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewClient creates a gateway client. token is the session credential checked
// by the auth gate; anonKey is sent as the Supabase apikey header when set.
func NewClient(baseURL, token, anonKey string, opts ...Option) *Client {
	c := &Client{
		url:        strings.TrimRight(baseURL, "/"),
		token:      token,
		anonKey:    anonKey,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		tracer:     otel.Tracer(tracerName),
		log:        slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// errorBody is the uniform failure shape returned by every endpoint.
type errorBody struct {
	Error string `json:"error"`
}

// do performs one request with the per-call timeout and decodes a 2xx JSON
// body into out (when out is non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	ctx, span := c.startSpan(ctx, op, method, path)
	start := time.Now()
	status, err := c.roundTrip(ctx, op, method, path, in, out)
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	requestsTotal.WithLabelValues(op, outcome(err)).Inc()
	endSpan(span, status, err)
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) (int, error) {
	budget := c.timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < budget {
		budget = time.Until(dl)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(callCtx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return 0, fmt.Errorf("%s: %w", op, ctx.Err())
			}
			// the limiter refuses waits that would overrun the call deadline
			return 0, &TimeoutError{Op: op, After: budget}
		}
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, method, c.url+path, body)
	if err != nil {
		return 0, fmt.Errorf("%s: create request: %w", op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.anonKey != "" {
		httpReq.Header.Set("apikey", c.anonKey)
	}
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	otel.GetTextMapPropagator().Inject(callCtx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, c.transportError(ctx, callCtx, op, budget, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, c.transportError(ctx, callCtx, op, budget, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &GatewayError{Op: op, Status: resp.StatusCode, Message: errorMessage(respBody, resp.Status)}
		c.log.Debug("backend rejected request", "op", op, "status", resp.StatusCode, "error", gwErr.Message)
		if resp.StatusCode == http.StatusConflict {
			return resp.StatusCode, &ConflictError{GatewayError: gwErr}
		}
		return resp.StatusCode, gwErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &GatewayError{Op: op, Status: resp.StatusCode, Message: fmt.Sprintf("parse response: %v", err)}
		}
	}
	return resp.StatusCode, nil
}

// transportError separates deadlines from caller cancellation and plain
// network failures. A deadline is a timeout whether it came from this client
// or from the caller, such as the cache fetch budget.
func (c *Client) transportError(parent, callCtx context.Context, op string, budget time.Duration, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, parent.Err())
	}
	var netErr net.Error
	if callCtx.Err() != nil || (errors.As(err, &netErr) && netErr.Timeout()) {
		c.log.Warn("backend call timed out", "op", op, "after", budget)
		return &TimeoutError{Op: op, After: budget}
	}
	return &GatewayError{Op: op, Message: err.Error()}
}

func errorMessage(body []byte, fallback string) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fallback
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return msg
}
