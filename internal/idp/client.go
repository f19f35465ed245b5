// Package idp talks to the three credential endpoints the portals depend on:
// the backend token exchange, the static admin token issuance and the
// identity provider's password grant.
//
// Results are returned as *oauth2.Token so the root package can hand them to
// oauth2-aware callers unchanged.
package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vejapro/portalauth/internal/detail"
	"github.com/vejapro/portalauth/jwt"
	"golang.org/x/oauth2"
)

var (
	// ErrUnavailable means the endpoint is not configured.
	ErrUnavailable = errors.New("endpoint not configured")
	// ErrMissingAccessToken means a 2xx body carried no access token.
	ErrMissingAccessToken = errors.New("response missing access_token")
	// ErrDecode means a 2xx body was not the expected JSON.
	ErrDecode = errors.New("malformed token response")
)

// StatusError is a non-2xx answer from an endpoint.
type StatusError struct {
	Status    int
	Detail    string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Detail)
}

// Config names the endpoints. Empty URLs disable the matching operation.
type Config struct {
	APIBaseURL      string
	RefreshPath     string
	StaticTokenPath string

	// StaticSecretHeader carries the optional issuance secret.
	StaticSecretHeader string

	IdentityBaseURL string
	IdentityAPIKey  string

	RequestIDHeader string
}

// Client performs the credential calls. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// New returns a Client. A nil hc uses http.DefaultClient.
func New(cfg Config, hc *http.Client, now func() time.Time) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if now == nil {
		now = time.Now
	}
	if cfg.RequestIDHeader == "" {
		cfg.RequestIDHeader = "X-Request-ID"
	}
	return &Client{cfg: cfg, http: hc, now: now}
}

type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	Token        string  `json:"token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresAt    float64 `json:"expires_at"`
	ExpiresIn    float64 `json:"expires_in"`
}

// Exchange trades refreshToken for a new token pair at the backend refresh
// endpoint. A response without refresh_token keeps the presented one.
func (c *Client) Exchange(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if c.cfg.APIBaseURL == "" || c.cfg.RefreshPath == "" {
		return nil, ErrUnavailable
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.cfg.APIBaseURL, c.cfg.RefreshPath), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}
	return c.toToken(tr), nil
}

// PasswordGrant signs in against the identity provider.
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*oauth2.Token, error) {
	if !c.SignInAvailable() {
		return nil, ErrUnavailable
	}

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	endpoint := joinURL(c.cfg.IdentityBaseURL, "/auth/v1/token") + "?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.IdentityAPIKey)

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, ErrMissingAccessToken
	}
	return c.toToken(tr), nil
}

// IssueStatic asks the backend for a static bearer token. secret may be empty.
func (c *Client) IssueStatic(ctx context.Context, secret string) (string, error) {
	if c.cfg.APIBaseURL == "" || c.cfg.StaticTokenPath == "" {
		return "", ErrUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(c.cfg.APIBaseURL, c.cfg.StaticTokenPath), nil)
	if err != nil {
		return "", err
	}
	if secret != "" && c.cfg.StaticSecretHeader != "" {
		req.Header.Set(c.cfg.StaticSecretHeader, secret)
	}

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return "", err
	}
	token := tr.AccessToken
	if token == "" {
		token = tr.Token
	}
	if token == "" {
		return "", ErrMissingAccessToken
	}
	return token, nil
}

// SignInAvailable reports whether the identity provider is configured.
func (c *Client) SignInAvailable() bool {
	return Configured(c.cfg.IdentityBaseURL) && Configured(c.cfg.IdentityAPIKey)
}

// Configured reports whether v is a real value and not an unreplaced
// "__PLACEHOLDER__" template marker.
func Configured(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	return !(strings.HasPrefix(v, "__") && strings.HasSuffix(v, "__"))
}

func (c *Client) do(req *http.Request, out *tokenResponse) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, detail.MaxBody))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := detail.Parse(body)
		return &StatusError{
			Status:    resp.StatusCode,
			Detail:    msg,
			RequestID: resp.Header.Get(c.cfg.RequestIDHeader),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

func (c *Client) toToken(tr tokenResponse) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    "Bearer",
	}

	switch {
	case tr.ExpiresAt > 0:
		tok.Expiry = time.Unix(int64(tr.ExpiresAt), 0)
	case tr.ExpiresIn > 0:
		tok.Expiry = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		if exp, ok := jwt.ExpiryOf(tr.AccessToken); ok {
			tok.Expiry = exp
		}
	}
	return tok
}

func joinURL(base, path string) string {
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
