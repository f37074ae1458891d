package whoop

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/biosync/internal/domain"
	"example.com/biosync/internal/provider"
)

var testClock = func() time.Time {
	return time.Date(2026, time.August, 30, 8, 0, 0, 0, time.UTC)
}

func testConfig() provider.FetchConfig {
	return provider.FetchConfig{Timeout: 2 * time.Second, RequestsPerSec: 1000, MaxRetries: 1}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestAuthenticateUnlinkedSubject(t *testing.T) {
	creds := &stubCreds{}
	adapter := New("http://unused", creds, testConfig(), WithLogger(quietLogger()), WithClock(testClock))

	ok, err := adapter.Authenticate(context.Background(), "subj-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuthenticateLiveToken(t *testing.T) {
	creds := &stubCreds{cred: &provider.Credential{
		AccessToken: "live",
		ExpiresAt:   testClock().Add(time.Hour),
	}}
	adapter := New("http://unused", creds, testConfig(), WithLogger(quietLogger()), WithClock(testClock))

	ok, err := adapter.Authenticate(context.Background(), "subj-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, creds.storedToken, "no refresh needed for a live token")
}

func TestAuthenticateRefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	creds := &stubCreds{cred: &provider.Credential{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    testClock().Add(-time.Minute),
	}}
	adapter := New(srv.URL, creds, testConfig(), WithLogger(quietLogger()), WithClock(testClock))

	ok, err := adapter.Authenticate(context.Background(), "subj-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fresh", creds.storedToken)
	require.Equal(t, testClock().Add(time.Hour), creds.storedExpiry)
}

func TestAuthenticateSurfacesRevokedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	creds := &stubCreds{cred: &provider.Credential{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    testClock().Add(-time.Minute),
	}}
	adapter := New(srv.URL, creds, testConfig(), WithLogger(quietLogger()), WithClock(testClock))

	ok, err := adapter.Authenticate(context.Background(), "subj-1")
	require.ErrorIs(t, err, domain.ErrCredentialsRevoked)
	require.False(t, ok)
}

func TestFetchRangeParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/daily", r.URL.Path)
		require.Equal(t, "2026-08-01", r.URL.Query().Get("start"))
		require.Equal(t, "2026-08-03", r.URL.Query().Get("end"))
		require.Equal(t, "Bearer live", r.Header.Get("Authorization"))
		w.Write([]byte(`{"records":[
			{"date":"2026-08-01","sleep":{"total_sleep_time_ms":3600000}},
			{"sleep":{"total_sleep_time_ms":1}},
			{"date":"08/02/2026","sleep":{}},
			{"date":"2026-08-03","recovery":{"recovery_score":80}}
		]}`))
	}))
	defer srv.Close()

	creds := &stubCreds{cred: &provider.Credential{
		AccessToken: "live",
		ExpiresAt:   testClock().Add(time.Hour),
	}}
	adapter := New(srv.URL, creds, testConfig(), WithLogger(quietLogger()), WithClock(testClock))

	r, err := domain.NewDateRange(domain.MustDate("2026-08-01"), domain.MustDate("2026-08-03"))
	require.NoError(t, err)

	payloads, err := adapter.FetchRange(context.Background(), "subj-1", r)
	require.NoError(t, err)
	require.Len(t, payloads, 2, "dateless and bad-date records are dropped")
	require.Equal(t, domain.MustDate("2026-08-01"), payloads[0].Date)
	require.Equal(t, domain.MustDate("2026-08-03"), payloads[1].Date)
	require.Contains(t, string(payloads[0].Body), "3600000")
}

func TestFetchRangeUnlinkedSubject(t *testing.T) {
	adapter := New("http://unused", &stubCreds{}, testConfig(), WithLogger(quietLogger()), WithClock(testClock))

	r, err := domain.NewDateRange(domain.MustDate("2026-08-01"), domain.MustDate("2026-08-03"))
	require.NoError(t, err)

	_, err = adapter.FetchRange(context.Background(), "subj-1", r)
	require.ErrorIs(t, err, domain.ErrNotLinked)
}

type stubCreds struct {
	cred         *provider.Credential
	storedToken  string
	storedExpiry time.Time
}

func (s *stubCreds) Credential(context.Context, string, domain.Source) (*provider.Credential, error) {
	return s.cred, nil
}

func (s *stubCreds) StoreToken(_ context.Context, _ string, _ domain.Source, accessToken string, expiresAt time.Time) error {
	s.storedToken = accessToken
	s.storedExpiry = expiresAt
	return nil
}
