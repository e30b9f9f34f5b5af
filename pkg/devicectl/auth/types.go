package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/oauth2"
)

const (
	deviceAuthPath = "/protocol/openid-connect/auth/device"
	tokenPath      = "/protocol/openid-connect/token"

	// DeviceCodeGrantType is the grant_type sent on every token poll.
	DeviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// RequiredScope is always part of the requested scope set.
	RequiredScope = "oidc"
)

// FlowConfig describes a single device authorization attempt.
type FlowConfig struct {
	// Endpoint is the realm base URL, e.g. https://<host>/realms/<realm>.
	Endpoint string
	ClientID string
	Scopes   []string
	// Interval is the wait between two token polls. Whole seconds.
	Interval time.Duration
	// Timeout bounds the polling phase, measured from the first poll. Whole seconds.
	Timeout  time.Duration
	Headless bool

	CAFile          string
	InsecureSkipTLS bool
}

func (c FlowConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" || strings.TrimSpace(c.ClientID) == "" {
		return errors.New("endpoint and client-id are required")
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least one second, got %s", c.Interval)
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least one second, got %s", c.Timeout)
	}
	return nil
}

func (c FlowConfig) baseURL() string {
	return strings.TrimRight(c.Endpoint, "/")
}

// OAuth2Endpoint returns the device authorization and token URLs derived from
// the realm endpoint.
func (c FlowConfig) OAuth2Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		DeviceAuthURL: c.baseURL() + deviceAuthPath,
		TokenURL:      c.baseURL() + tokenPath,
		AuthStyle:     oauth2.AuthStyleInParams,
	}
}

// NormalizeScopes returns the scopes in first-seen order without blanks or
// duplicates, with RequiredScope present exactly once.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes)+1)
	out := make([]string, 0, len(scopes)+1)
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if _, ok := seen[RequiredScope]; !ok {
		out = append(out, RequiredScope)
	}
	return out
}

// DeviceCodeGrant is the device authorization response.
type DeviceCodeGrant struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                *int   `json:"interval,omitempty"`
}

// BrowserURL is the page the user should open, preferring the URI that
// already carries the user code.
func (g *DeviceCodeGrant) BrowserURL() string {
	if g.VerificationURIComplete != "" {
		return g.VerificationURIComplete
	}
	return g.VerificationURI
}

// TokenResult holds the credentials obtained at the end of a successful flow.
type TokenResult struct {
	AccessToken      string     `json:"access_token" yaml:"access_token"`
	RefreshToken     string     `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	IDToken          string     `json:"id_token,omitempty" yaml:"id_token,omitempty"`
	ExpiresIn        int        `json:"expires_in" yaml:"expires_in"`
	RefreshExpiresIn int        `json:"refresh_expires_in,omitempty" yaml:"refresh_expires_in,omitempty"`
	TokenType        string     `json:"token_type,omitempty" yaml:"token_type,omitempty"`
	Scope            string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	SessionState     string     `json:"session_state,omitempty" yaml:"session_state,omitempty"`
	NotBefore        *time.Time `json:"not_before,omitempty" yaml:"not_before,omitempty"`

	// ObtainedAt is when the token endpoint answered. Used to derive expiry.
	ObtainedAt time.Time `json:"obtained_at" yaml:"obtained_at"`
}

// tokenPayload is the token endpoint body. Success and error fields share it
// since Keycloak answers both on the same endpoint.
type tokenPayload struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	IDToken          string `json:"id_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
	NotBeforePolicy  int64  `json:"not-before-policy"`
	SessionState     string `json:"session_state"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p *tokenPayload) result(obtainedAt time.Time) *TokenResult {
	res := &TokenResult{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		IDToken:          p.IDToken,
		ExpiresIn:        p.ExpiresIn,
		RefreshExpiresIn: p.RefreshExpiresIn,
		TokenType:        p.TokenType,
		Scope:            p.Scope,
		SessionState:     p.SessionState,
		ObtainedAt:       obtainedAt,
	}
	if p.NotBeforePolicy > 0 {
		notBefore := time.Unix(p.NotBeforePolicy, 0).UTC()
		res.NotBefore = &notBefore
	}
	return res
}

func (t *TokenResult) Expiry() time.Time {
	if t.ExpiresIn <= 0 || t.ObtainedAt.IsZero() {
		return time.Time{}
	}
	return t.ObtainedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// TokenSummary describes a TokenResult without exposing any credential.
type TokenSummary struct {
	Subject         string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	TokenType       string    `json:"tokenType,omitempty" yaml:"tokenType,omitempty"`
	Scope           string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	Expiry          time.Time `json:"expiry,omitzero" yaml:"expiry,omitempty"`
	HasRefreshToken bool      `json:"hasRefreshToken" yaml:"hasRefreshToken"`
	HasIDToken      bool      `json:"hasIDToken" yaml:"hasIDToken"`
}

func (t *TokenResult) Summary() TokenSummary {
	return TokenSummary{
		Subject:         t.Subject(),
		TokenType:       t.TokenType,
		Scope:           t.Scope,
		Expiry:          t.Expiry(),
		HasRefreshToken: t.RefreshToken != "",
		HasIDToken:      t.IDToken != "",
	}
}

// Subject returns the most readable identity claim of the ID token, or of the
// access token when no ID token was issued. Signatures are not verified.
func (t *TokenResult) Subject() string {
	token := t.IDToken
	if token == "" {
		token = t.AccessToken
	}
	if token == "" {
		return ""
	}
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}
	for _, key := range []string{"email", "preferred_username", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// String never prints credentials.
func (t *TokenResult) String() string {
	s := t.Summary()
	return fmt.Sprintf("TokenResult{subject=%q, type=%q, scope=%q, expiry=%s}",
		s.Subject, s.TokenType, s.Scope, s.Expiry.UTC().Format(time.RFC3339))
}
