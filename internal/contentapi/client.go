// Package contentapi fetches exercise text from an external content service.
package contentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/park285/typerace/internal/contest"
	"github.com/park285/typerace/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// HeaderProvider supplies per-request headers such as an API key.
type HeaderProvider func() map[string]string

type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	timeout  time.Duration
	retryMax int
	backoff  time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

func WithRetry(attempts int) Option {
	return func(c *Client) { c.retryMax = attempts }
}

// WithBackoff sets the first retry delay; later retries double it.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithDial replaces the transport dialer, e.g. with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 32},
		timeout:  5 * time.Second,
		retryMax: 3,
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type exerciseResponse struct {
	ID       int64  `json:"id"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// GetExercise returns nil, nil when the service answers 404.
func (c *Client) GetExercise(ctx context.Context, id int64) (*contest.Exercise, error) {
	var out exerciseResponse
	status, err := c.getJSON(ctx, "/exercises/"+strconv.FormatInt(id, 10), &out)
	if err != nil {
		return nil, err
	}
	if status == fasthttp.StatusNotFound {
		return nil, nil
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, fmt.Errorf("exercise %d: empty text", id)
	}
	if out.ID == 0 {
		out.ID = id
	}
	return &contest.Exercise{ID: out.ID, Text: out.Text, Language: out.Language}, nil
}

// Ping checks that the service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	status, err := c.getJSON(ctx, "/healthz", nil)
	if err != nil {
		return err
	}
	if status == fasthttp.StatusNotFound {
		return errors.New("content api: health endpoint not found")
	}
	return nil
}

// getJSON returns the final status. 404 is reported through the status, not
// as an error; 5xx and transport failures are retried with backoff.
func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, c.backoffFor(attempt-1)); err != nil {
				return 0, lastErr
			}
		}
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("content api request: %w", err)
			obslog.L().Debug("content_api_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == fasthttp.StatusNotFound:
			return status, nil
		case status >= 200 && status < 300:
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return status, fmt.Errorf("decode response: %w", err)
				}
			}
			return status, nil
		case retryable(status):
			lastErr = fmt.Errorf("content api error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
			obslog.L().Debug("content_api_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Int("status", status))
			continue
		default:
			return status, fmt.Errorf("content api error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
		}
	}
	if lastErr == nil {
		lastErr = errors.New("content api: no attempts made")
	}
	return 0, lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func (c *Client) backoffFor(retry int) time.Duration {
	if retry > 6 {
		retry = 6
	}
	return c.backoff * time.Duration(1<<uint(retry-1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
