// Package whoop adapts the WHOOP recovery-tracker API to the sync engine.
package whoop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"example.com/biosync/internal/domain"
	"example.com/biosync/internal/provider"
)

// Adapter implements domain.Adapter for WHOOP.
type Adapter struct {
	baseURL string
	creds   provider.CredentialSource
	fetch   *provider.FetchClient
	logger  *log.Logger
	now     func() time.Time
}

// Option configures optional behaviour for the Adapter.
type Option func(*Adapter)

// WithLogger overrides the adapter's logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithClock overrides the time source, for token-expiry tests.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New constructs an Adapter against the given API base URL.
func New(baseURL string, creds provider.CredentialSource, cfg provider.FetchConfig, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		fetch:   provider.NewFetchClient(domain.SourceWhoop, cfg),
		logger:  log.New(log.Writer(), "[whoop] ", log.LstdFlags),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Source identifies the provider.
func (a *Adapter) Source() domain.Source { return domain.SourceWhoop }

// Authenticate reports whether the subject holds a usable token, refreshing
// an expired one first. A revoked refresh token surfaces as
// domain.ErrCredentialsRevoked so the subject can be prompted to re-link.
func (a *Adapter) Authenticate(ctx context.Context, subjectID string) (bool, error) {
	cred, err := a.creds.Credential(ctx, subjectID, domain.SourceWhoop)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, nil
	}
	if !cred.Expired(a.now()) {
		return true, nil
	}
	if err := a.refreshToken(ctx, subjectID, cred.RefreshToken); err != nil {
		if errors.Is(err, domain.ErrCredentialsRevoked) {
			return false, err
		}
		a.logger.Printf("token refresh failed (subject=%s): %v", subjectID, err)
		return false, err
	}
	return true, nil
}

// FetchRange retrieves daily records for the covering date span. Days with
// no upstream data are simply absent from the result.
func (a *Adapter) FetchRange(ctx context.Context, subjectID string, r domain.DateRange) ([]domain.RawPayload, error) {
	cred, err := a.creds.Credential(ctx, subjectID, domain.SourceWhoop)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.ErrNotLinked
	}

	endpoint := fmt.Sprintf("%s/v1/daily?start=%s&end=%s", a.baseURL, r.Start, r.End)
	body, err := a.fetch.GetJSON(ctx, endpoint, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("whoop: malformed range response: %w", err)
	}

	payloads := make([]domain.RawPayload, 0, len(envelope.Records))
	for _, raw := range envelope.Records {
		var header struct {
			Date string `json:"date"`
		}
		if err := json.Unmarshal(raw, &header); err != nil || header.Date == "" {
			a.logger.Printf("dropping record without date (subject=%s)", subjectID)
			continue
		}
		day, err := domain.ParseDate(header.Date)
		if err != nil {
			a.logger.Printf("dropping record with bad date %q (subject=%s)", header.Date, subjectID)
			continue
		}
		payloads = append(payloads, domain.RawPayload{
			Source: domain.SourceWhoop,
			Date:   day,
			Body:   append(json.RawMessage(nil), raw...),
		})
	}
	return payloads, nil
}

func (a *Adapter) refreshToken(ctx context.Context, subjectID, refreshToken string) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	body, err := a.fetch.PostForm(ctx, a.baseURL+"/oauth/token", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return fmt.Errorf("whoop: malformed token response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("whoop: token response missing access_token")
	}

	expiry := a.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return a.creds.StoreToken(ctx, subjectID, domain.SourceWhoop, token.AccessToken, expiry)
}
