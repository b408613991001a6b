// Package httpclient implements domain.Writer over a JSON HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/devblac/signal-ingest/internal/domain"
)

// StatusError is a non-2xx response the client did not map to a domain error.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the domain-write API.
type Client struct {
	base       *url.URL
	token      string
	client     *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

var _ domain.Writer = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout bounds a single HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithMaxRetries caps retries of transient failures. Zero disables retrying.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = uint64(n)
		}
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = fn }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithLogger sets the logger used for retry notices.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New builds a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("domain api base url required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s): %s", baseURL)
	}
	c := &Client{
		base:       u,
		client:     &http.Client{Timeout: 8 * time.Second},
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreatePredictor posts to /predictors.
func (c *Client) CreatePredictor(ctx context.Context, in domain.NewPredictor) error {
	return c.do(ctx, http.MethodPost, "/predictors", in)
}

// CreateReceiptFromPurchase posts to /receipts.
func (c *Client) CreateReceiptFromPurchase(ctx context.Context, in domain.NewReceipt) error {
	return c.do(ctx, http.MethodPost, "/receipts", in)
}

// SetBlacklistStatus puts the flag to /predictors/{address}/blacklist.
func (c *Client) SetBlacklistStatus(ctx context.Context, address string, blacklisted bool) error {
	body := struct {
		Blacklisted bool `json:"blacklisted"`
	}{blacklisted}
	return c.do(ctx, http.MethodPut, "/predictors/"+url.PathEscape(address)+"/blacklist", body)
}

// Ping checks the API health endpoint once, without retries.
func (c *Client) Ping(ctx context.Context) error {
	return c.attempt(ctx, http.MethodGet, "/health", nil)
}

func (c *Client) do(ctx context.Context, method, path string, in any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	op := func() error {
		err := c.attempt(ctx, method, path, payload)
		if err == nil || (ctx.Err() == nil && retryable(err)) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("domain api retry", "method", method, "path", path, "wait", wait, "err", err)
	}
	return backoff.RetryNotify(op, b, notify)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrAlreadyExists)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
	default:
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
}

// retryable reports transport failures and 5xx/429 responses.
func retryable(err error) bool {
	if domain.IsBenign(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
