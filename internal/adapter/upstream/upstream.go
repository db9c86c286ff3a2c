// Package upstream holds the response and error handling shared by the HTTP
// clients that talk to the LLM provider and the ML sidecar.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

// MaxResponseBytes caps how much of a response body is read.
const MaxResponseBytes = 32 << 20

const snippetBytes = 512

// StatusError is a non-2xx reply from an upstream service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Retryable reports whether the call may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ReadResponse reads resp and turns non-2xx replies into a *StatusError.
// Client errors other than 429 are marked permanent for backoff.Retry.
func ReadResponse(service string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", service, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	se := &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       snippet(body),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
	if !se.Retryable() {
		return nil, backoff.Permanent(se)
	}
	return nil, se
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Unparseable values yield 0.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Sentinel maps a transport or status failure onto the domain taxonomy.
func Sentinel(err error) error {
	var se *StatusError
	var ne net.Error
	switch {
	case errors.Is(err, domain.ErrUpstreamTimeout),
		errors.Is(err, domain.ErrUpstreamRateLimit),
		errors.Is(err, domain.ErrSchemaInvalid),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrUpstream):
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ErrUpstreamTimeout
	case errors.As(err, &ne) && ne.Timeout():
		return domain.ErrUpstreamTimeout
	case errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests:
		return domain.ErrUpstreamRateLimit
	case errors.As(err, &se) && se.StatusCode == http.StatusGatewayTimeout:
		return domain.ErrUpstreamTimeout
	default:
		return domain.ErrUpstream
	}
}

// Wrap prefixes err with op and the matching domain sentinel.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if s := Sentinel(err); s != nil {
		return fmt.Errorf("op=%s: %w: %w", op, s, err)
	}
	return fmt.Errorf("op=%s: %w", op, err)
}

// Class is a short label for metrics.
func Class(err error) string {
	var se *StatusError
	var ne net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, domain.ErrSchemaInvalid):
		return "schema"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests:
		return "rate_limit"
	case errors.As(err, &se):
		return strconv.Itoa(se.StatusCode/100) + "xx"
	case errors.Is(err, domain.ErrUpstreamTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		return "timeout"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return "rate_limit"
	default:
		return "transport"
	}
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > snippetBytes {
		s = s[:snippetBytes]
	}
	return s
}
