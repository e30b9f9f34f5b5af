package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// Keycloak token fields that oauth2.Token only carries as extras.
const (
	extraIDToken          = "id_token"
	extraScope            = "scope"
	extraSessionState     = "session_state"
	extraRefreshExpiresIn = "refresh_expires_in"
	extraNotBefore        = "not_before"
)

// OAuth2Token converts the result into the form golang.org/x/oauth2 callers
// expect, e.g. for an oauth2.StaticTokenSource.
func (t *TokenResult) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry(),
		ExpiresIn:    int64(t.ExpiresIn),
	}
	extra := map[string]interface{}{
		extraScope:        t.Scope,
		extraSessionState: t.SessionState,
	}
	if t.IDToken != "" {
		extra[extraIDToken] = t.IDToken
	}
	if t.RefreshExpiresIn > 0 {
		extra[extraRefreshExpiresIn] = t.RefreshExpiresIn
	}
	if t.NotBefore != nil {
		extra[extraNotBefore] = *t.NotBefore
	}
	return tok.WithExtra(extra)
}

// Credentials is the machine readable form of an oauth2.Token printed by
// device-code -o json|yaml.
type Credentials struct {
	AccessToken      string     `json:"access_token" yaml:"access_token"`
	TokenType        string     `json:"token_type" yaml:"token_type"`
	RefreshToken     string     `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	IDToken          string     `json:"id_token,omitempty" yaml:"id_token,omitempty"`
	Expiry           *time.Time `json:"expiry,omitempty" yaml:"expiry,omitempty"`
	ExpiresIn        int64      `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	RefreshExpiresIn int        `json:"refresh_expires_in,omitempty" yaml:"refresh_expires_in,omitempty"`
	Scope            string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	SessionState     string     `json:"session_state,omitempty" yaml:"session_state,omitempty"`
	NotBefore        *time.Time `json:"not_before,omitempty" yaml:"not_before,omitempty"`
}

func NewCredentials(tok *oauth2.Token) Credentials {
	c := Credentials{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry.UTC()
		c.Expiry = &expiry
	}
	c.IDToken, _ = tok.Extra(extraIDToken).(string)
	c.Scope, _ = tok.Extra(extraScope).(string)
	c.SessionState, _ = tok.Extra(extraSessionState).(string)
	c.RefreshExpiresIn, _ = tok.Extra(extraRefreshExpiresIn).(int)
	if notBefore, ok := tok.Extra(extraNotBefore).(time.Time); ok {
		c.NotBefore = &notBefore
	}
	return c
}
