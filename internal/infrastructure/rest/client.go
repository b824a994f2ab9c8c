package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/davarch/regsync/internal/domain"
)

const maxErrorBody = 4 << 10

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, e.Body)
}

// Client sends JSON requests with bounded exponential backoff. 5xx, 429 and
// transport errors are retried; 404 maps to domain.ErrNotFound.
type Client struct {
	hc   *http.Client
	auth func(*http.Request)

	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func New(timeout time.Duration, auth func(*http.Request)) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		hc:              &http.Client{Transport: tr, Timeout: timeout},
		auth:            auth,
		InitialInterval: 300 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// Do sends in as JSON body (when not nil) and decodes the response into out
// (when not nil).
func (c *Client) Do(ctx context.Context, method, url string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	op := func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.auth != nil {
			c.auth(req)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			if sec, _ := strconv.Atoi(resp.Header.Get("Retry-After")); sec > 0 {
				select {
				case <-time.After(time.Duration(sec) * time.Second):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
				return fmt.Errorf("%s %s: retry after due to 429", method, url)
			}
			return fmt.Errorf("%s %s: 429", method, url)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s %s: %s", method, url, resp.Status)
		}

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%s %s: %w", method, url, domain.ErrNotFound))
		}

		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return backoff.Permanent(&StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: string(b)})
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, url, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.MaxInterval = c.MaxInterval
	bo.MaxElapsedTime = c.MaxElapsedTime

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}
