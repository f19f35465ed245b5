package idp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1700000000, 0)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := Config{
		APIBaseURL:         srv.URL,
		RefreshPath:        "/api/v1/auth/refresh",
		StaticTokenPath:    "/api/v1/admin/token",
		StaticSecretHeader: "X-Admin-Token-Secret",
		IdentityBaseURL:    srv.URL,
		IdentityAPIKey:     "anon-key",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, srv.Client(), func() time.Time { return fixedNow })
}

func TestExchangeSendsRefreshTokenAndKeepsItWhenOmitted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/refresh", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r-1", body["refresh_token"])
		_, _ = io.WriteString(w, `{"access_token":"a-2","expires_in":3600}`)
	}, nil)

	tok, err := c.Exchange(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "a-2", tok.AccessToken)
	assert.Equal(t, "r-1", tok.RefreshToken)
	assert.Equal(t, fixedNow.Add(time.Hour), tok.Expiry)
}

func TestExchangePrefersExpiresAt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"r-2","expires_at":1700009999,"expires_in":5}`)
	}, nil)

	tok, err := c.Exchange(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, "r-2", tok.RefreshToken)
	assert.Equal(t, int64(1700009999), tok.Expiry.Unix())
}

func TestExchangeFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Refresh token expired"}`, func(t *testing.T, err error) {
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, http.StatusUnauthorized, se.Status)
			assert.Equal(t, "Refresh token expired", se.Detail)
		}},
		{"missing access token", http.StatusOK, `{"refresh_token":"r"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrMissingAccessToken)
		}},
		{"not json", http.StatusOK, `<html>`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrDecode)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}, nil)
			_, err := c.Exchange(context.Background(), "r-1")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestPasswordGrant(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		_, _ = io.WriteString(w, `{"access_token":"a","refresh_token":"r","expires_at":1700003600}`)
	}, nil)

	tok, err := c.PasswordGrant(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.Equal(t, int64(1700003600), tok.Expiry.Unix())
}

func TestPasswordGrantUnavailableWithPlaceholders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}, func(cfg *Config) {
		cfg.IdentityBaseURL = "__SUPABASE_URL__"
		cfg.IdentityAPIKey = "__SUPABASE_ANON_KEY__"
	})

	assert.False(t, c.SignInAvailable())
	_, err := c.PasswordGrant(context.Background(), "a@example.com", "pw")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestIssueStaticAcceptsEitherField(t *testing.T) {
	for _, body := range []string{`{"access_token":"s-1"}`, `{"token":"s-1"}`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "shh", r.Header.Get("X-Admin-Token-Secret"))
			_, _ = io.WriteString(w, body)
		}, nil)

		token, err := c.IssueStatic(context.Background(), "shh")
		require.NoError(t, err)
		assert.Equal(t, "s-1", token)
	}
}

func TestIssueStaticForbidden(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "req-9")
		w.WriteHeader(http.StatusForbidden)
	}, nil)

	_, err := c.IssueStatic(context.Background(), "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Status)
	assert.Equal(t, "req-9", se.RequestID)
}

func TestConfigured(t *testing.T) {
	assert.False(t, Configured(""))
	assert.False(t, Configured("   "))
	assert.False(t, Configured("__SUPABASE_URL__"))
	assert.True(t, Configured("https://project.supabase.co"))
}
