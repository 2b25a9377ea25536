// Package account credits match rewards to the account service over HTTP.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/obslog"
	"github.com/park285/pawnline-match-server/internal/pvpmatch"
)

// StatusError is a non-2xx answer from the account service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("account service returned %d: %s", e.Status, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	switch e.Status {
	case fasthttp.StatusTooManyRequests,
		fasthttp.StatusInternalServerError,
		fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable,
		fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

type Client struct {
	base     string
	apiKey   string
	hc       *fasthttp.Client
	log      *zap.Logger
	timeout  time.Duration
	attempts int
}

type Option func(*Client)

// WithTimeout bounds each attempt. The caller's context deadline still applies.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIKey sends key as X-API-Key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithAttempts sets how many times a temporary failure is tried in total.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc: &fasthttp.Client{
			Name:            "pawnline-match-server",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 32,
		},
		log:      obslog.L(),
		timeout:  5 * time.Second,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreditRequest is the body of POST /v1/users/{id}/match-rewards.
type CreditRequest struct {
	MatchID string `json:"matchId"`
	Coins   int    `json:"coins"`
	Outcome string `json:"outcome"`
}

// Credit pays a participant's reward and records the outcome. The match and user ids form
// the idempotency key, so retries and sweeper re-finalization never pay twice.
func (c *Client) Credit(ctx context.Context, cr pvpmatch.Credit) error {
	if strings.TrimSpace(cr.UserID) == "" {
		return errors.New("account: user id required")
	}
	body, err := json.Marshal(CreditRequest{MatchID: cr.MatchID, Coins: cr.Coins, Outcome: string(cr.Outcome)})
	if err != nil {
		return err
	}
	path := "/v1/users/" + url.PathEscape(cr.UserID) + "/match-rewards"
	key := cr.MatchID + ":" + cr.UserID // 멱등 키: 같은 경기/유저 조합은 한 번만 지급

	err = c.retry(ctx, path, func() error {
		return c.post(ctx, path, key, body)
	})
	if err != nil {
		return fmt.Errorf("credit %s for %s: %w", cr.UserID, cr.MatchID, err)
	}
	c.log.Info("account_credit",
		zap.String("match_id", cr.MatchID),
		zap.String("user_id", cr.UserID),
		zap.Int("coins", cr.Coins),
		zap.String("outcome", string(cr.Outcome)),
	)
	return nil
}

// post sends one JSON POST and maps a non-2xx answer to *StatusError.
func (c *Client) post(ctx context.Context, path, idempotencyKey string, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.SetBodyRaw(body)

	// 시도별 타임아웃과 ctx 마감 중 빠른 쪽 사용
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.hc.DoDeadline(req, resp, deadline); err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code > 299 {
		b := resp.Body()
		if len(b) > 256 {
			b = b[:256]
		}
		return &StatusError{Status: code, Body: string(b)}
	}
	return nil
}

// retry runs fn until it succeeds, fails permanently, or attempts run out.
// Transport errors and temporary statuses are retried with capped exponential backoff.
func (c *Client) retry(ctx context.Context, path string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || attempt >= c.attempts || !retryable(err) {
			return err
		}
		// 일시적 오류만 재시도
		c.log.Warn("account_retry",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		t := time.NewTimer(backoffDuration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// backoffDuration is 100ms doubling per attempt, capped at the sixth.
func backoffDuration(attempt int) time.Duration {
	attempt = max(1, min(attempt, 6))
	return (100 * time.Millisecond) << (attempt - 1)
}

// Nop drops credits. Used when no account service is configured.
type Nop struct{}

func (Nop) Credit(context.Context, pvpmatch.Credit) error { return nil }

var (
	_ pvpmatch.CoinLedger = (*Client)(nil)
	_ pvpmatch.CoinLedger = Nop{}
)
