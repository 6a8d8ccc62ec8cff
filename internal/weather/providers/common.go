package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// delay returns the pause before retry number attempt (zero based).
func (b BackoffConfig) delay(attempt int) time.Duration {
	d := b.InitialInterval << attempt
	if b.MaxInterval > 0 && (d > b.MaxInterval || d <= 0) {
		d = b.MaxInterval
	}
	return d
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// upstream is one provider endpoint guarded by retries and a circuit breaker.
type upstream struct {
	client  *http.Client
	backoff BackoffConfig
	breaker *gobreaker.CircuitBreaker
}

func newUpstream(name string, client *http.Client) *upstream {
	return &upstream{
		client: client,
		backoff: BackoffConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     2 * time.Minute,
		}),
	}
}

// get performs the request built by build until it yields a 2xx response,
// the retries are exhausted, the breaker opens, or ctx ends. The caller owns
// the returned body.
func (u *upstream) get(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	if u.client == nil {
		return nil, errNoHTTPClient
	}
	if u.backoff.MaxRetries < 0 || u.backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		out, err := u.breaker.Execute(func() (interface{}, error) {
			resp, err := u.client.Do(req)
			if err != nil {
				return nil, err
			}
			if serr := statusError(resp.StatusCode); serr != nil {
				resp.Body.Close()
				return nil, serr
			}
			return resp, nil
		})
		if err == nil {
			return out.(*http.Response), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if attempt >= u.backoff.MaxRetries {
			return nil, err
		}

		timer := time.NewTimer(u.backoff.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func statusError(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return errRateLimited
	case code >= 500:
		return errServerError
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: %d", errUnexpected, code)
	default:
		return nil
	}
}
