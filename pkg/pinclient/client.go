// Package pinclient is the Go client of the pin service. One Client is meant
// to be created per process and shared; it is safe for concurrent use.
package pinclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/packrat/pinserver/pkg/api"
	"github.com/packrat/pinserver/pkg/errcode"
	"github.com/packrat/pinserver/pkg/identity"
)

// Config holds client settings.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:50051.
	BaseURL string
	// Timeout bounds one attempt.
	Timeout time.Duration
	// RetryMax is the number of retries of a read after the first attempt.
	// Writes are never retried.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// User is sent as X-Remote-User when set.
	User string
	// Token is sent as a bearer token when set.
	Token string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:50051",
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
}

// ConfigFromEnv reads PINS_SERVER, PINS_TOKEN and PINS_CLIENT_RETRIES over
// the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("PINS_SERVER"); v != "" {
		cfg.BaseURL = v
	}
	cfg.Token = os.Getenv("PINS_TOKEN")
	if v := os.Getenv("PINS_CLIENT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryMax = n
		}
	}
	return cfg
}

type retryableKey struct{}

// Client calls pin service operations.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	logger *slog.Logger
}

// New creates a Client. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	hc := retryablehttp.NewClient()
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = cfg.RetryWaitMin
	hc.RetryWaitMax = cfg.RetryWaitMax
	hc.Logger = logger
	hc.CheckRetry = checkRetry
	// Hand the final response back so the server's error body can be decoded.
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{cfg: cfg, http: hc, logger: logger}
}

// checkRetry retries reads on transport errors and on replies that signal a
// transient condition. Writes are attempted once.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if ok, _ := ctx.Value(retryableKey{}).(bool); !ok {
		return false, nil
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true, nil
	}
	return false, nil
}

// call posts req to an operation and decodes the reply into T.
func call[T any](ctx context.Context, c *Client, op string, retry bool, req any) (T, error) {
	var out T
	body, err := json.Marshal(req)
	if err != nil {
		return out, errcode.WithOp(op, errcode.Wrap(errcode.Internal, fmt.Errorf("marshal request: %w", err)))
	}

	ctx = context.WithValue(ctx, retryableKey{}, retry)
	r, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+api.BasePath+"/"+op, bytes.NewReader(body))
	if err != nil {
		return out, errcode.WithOp(op, errcode.Wrap(errcode.Internal, fmt.Errorf("create request: %w", err)))
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Request-Id", uuid.NewString())
	c.authorize(r.Header)

	resp, err := c.http.Do(r)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return out, errcode.WithOp(op, errcode.Wrap(errcode.Internal, fmt.Errorf("request failed: %w", err)))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, decodeError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, errcode.WithOp(op, errcode.Wrap(errcode.Internal, fmt.Errorf("decode reply: %w", err)))
	}
	return out, nil
}

func (c *Client) authorize(h http.Header) {
	if c.cfg.User != "" {
		h.Set(identity.HeaderUser, c.cfg.User)
	}
	if c.cfg.Token != "" {
		h.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// decodeError rebuilds the server's classified error from a failed reply.
func decodeError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var body api.ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Code.Valid() {
		if body.Operation != "" {
			op = body.Operation
		}
		return &errcode.Error{Code: body.Code, Op: op, Err: errors.New(body.Message)}
	}
	return &errcode.Error{
		Code: errcode.FromHTTPStatus(resp.StatusCode),
		Op:   op,
		Err:  fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
	}
}

// Operations lists the operations the server serves.
func (c *Client) Operations(ctx context.Context) ([]api.Operation, error) {
	var out struct {
		Operations []api.Operation `json:"operations"`
	}
	if err := c.get(ctx, api.BasePath+"/", &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// Health returns the server's liveness report.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if err := c.get(ctx, "/healthz", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ready returns the server's readiness report. A server that cannot reach its
// database fails with errcode.ResourceUnavailable.
func (c *Client) Ready(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.get(ctx, "/readyz", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	ctx = context.WithValue(ctx, retryableKey{}, true)
	r, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return errcode.Wrap(errcode.Internal, fmt.Errorf("create request: %w", err))
	}
	r.Header.Set("X-Request-Id", uuid.NewString())
	c.authorize(r.Header)
	resp, err := c.http.Do(r)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return errcode.Wrap(errcode.Internal, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError("", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errcode.Wrap(errcode.Internal, fmt.Errorf("decode reply: %w", err))
	}
	return nil
}
