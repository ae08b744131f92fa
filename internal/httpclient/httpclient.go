// Package httpclient provides the single pooled HTTP client shared by every
// upstream call, plus bounded retry for transport-level failures.
package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	MaxConnections     int
	MaxIdleConnections int
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration

	RetryAttempts   int
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
}

// Client wraps one pooled http.Client. Callers must share a single instance;
// constructing a transport per call defeats connection reuse.
type Client struct {
	http       *http.Client
	maxRetries uint64
	minBackoff time.Duration
	maxBackoff time.Duration
}

func New(cfg Config) *Client {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.MaxIdleConnections <= 0 {
		cfg.MaxIdleConnections = 20
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryMinBackoff <= 0 {
		cfg.RetryMinBackoff = 1 * time.Second
	}
	if cfg.RetryMaxBackoff <= 0 {
		cfg.RetryMaxBackoff = 10 * time.Second
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:       cfg.MaxConnections,
		MaxIdleConns:          cfg.MaxConnections,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnections,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: cfg.WriteTimeout,
		ForceAttemptHTTP2:     true,
	}

	return &Client{
		http:       &http.Client{Transport: transport},
		maxRetries: uint64(cfg.RetryAttempts - 1),
		minBackoff: cfg.RetryMinBackoff,
		maxBackoff: cfg.RetryMaxBackoff,
	}
}

// Do executes the request, retrying with exponential backoff on transport
// failures only: connection refused/reset, connect timeout, read timeout.
// A received HTTP response is returned as-is regardless of status; exhausting
// the attempt budget returns the last failure.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	operation := func() error {
		if attempt > 0 {
			if req.GetBody == nil {
				return backoff.Permanent(errors.New("request body is not replayable"))
			}
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Body = body
		}
		attempt++

		r, err := c.http.Do(req)
		if err != nil {
			if retryable(req.Context(), err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.minBackoff
	policy.MaxInterval = c.maxBackoff
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("url", req.URL.Host).
			Dur("wait", wait).
			Int("attempt", attempt).
			Msg("transient upstream failure, retrying")
	}

	err := backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), req.Context()),
		notify,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Raw exposes the pooled client without retry, for best-effort calls.
func (c *Client) Raw() *http.Client {
	return c.http
}

// Close releases pooled keep-alive connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func retryable(ctx context.Context, err error) bool {
	// A caller-initiated cancellation or deadline is never retried.
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// A connection dropped mid-exchange surfaces as an unexpected EOF.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
