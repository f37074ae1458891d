// Package provider holds the pieces shared by the vendor adapters: the
// credential consumption surface and the resilient HTTP fetch client.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"example.com/biosync/internal/domain"
	"example.com/biosync/internal/observability"
)

// Credential is the per-subject authorization material for one source. The
// sealed storage of this material belongs to account management; adapters
// only ever see the unwrapped tokens.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token needs a refresh.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CredentialSource is how adapters read and refresh tokens.
type CredentialSource interface {
	// Credential returns (nil, nil) when the subject has not linked the source.
	Credential(ctx context.Context, subjectID string, source domain.Source) (*Credential, error)
	StoreToken(ctx context.Context, subjectID string, source domain.Source, accessToken string, expiresAt time.Time) error
}

// FetchConfig tunes a FetchClient.
type FetchConfig struct {
	Timeout        time.Duration // per-call HTTP timeout
	RequestsPerSec float64       // client-side rate limit
	MaxRetries     uint64        // bounded retries for transient failures
}

func (c *FetchConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RequestsPerSec <= 0 {
		c.RequestsPerSec = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}
}

// FetchClient wraps provider HTTP calls with a client-side rate limiter, a
// circuit breaker, and bounded exponential retry. Classification:
// 401/403 surface as domain.ErrCredentialsRevoked, 429/5xx and transport
// errors as *domain.RetryableFetchError after retries are exhausted.
type FetchClient struct {
	source     domain.Source
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	maxRetries uint64
}

// NewFetchClient builds the shared fetch plumbing for one provider.
func NewFetchClient(source domain.Source, cfg FetchConfig) *FetchClient {
	cfg.applyDefaults()

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        string(source) + "-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})

	return &FetchClient{
		source:     source,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
	}
}

// GetJSON performs an authorized GET and returns the response body. Transient
// failures are retried with exponential backoff up to the configured cap.
func (c *FetchClient) GetJSON(ctx context.Context, url, bearerToken string) ([]byte, error) {
	operation := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		observability.RecordProviderCall(string(c.source))
		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.doOnce(ctx, http.MethodGet, url, bearerToken, nil, "")
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Breaker refusals behave like upstream rate limiting.
			return nil, &domain.RetryableFetchError{Source: c.source, Err: err}
		}
		return body, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	body, err := backoff.RetryWithData(operation, policy)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// PostForm performs an unauthenticated POST (token refresh) without breaker
// or retry involvement; refresh failures are resolved by the caller.
func (c *FetchClient) PostForm(ctx context.Context, url string, form io.Reader, contentType string) ([]byte, error) {
	return c.doOnce(ctx, http.MethodPost, url, "", form, contentType)
}

func (c *FetchClient) doOnce(ctx context.Context, method, url, bearerToken string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, &domain.RetryableFetchError{Source: c.source, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, backoff.Permanent(domain.ErrCredentialsRevoked)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &domain.RetryableFetchError{Source: c.source, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 300:
		data, _ := io.ReadAll(resp.Body)
		return nil, backoff.Permanent(fmt.Errorf("%s: unexpected status %d: %s", c.source, resp.StatusCode, data))
	}

	return io.ReadAll(resp.Body)
}
