// Package credential resolves per-tenant OAuth credentials for the mail
// provider: persistence, transparent refresh and account linking.
package credential

import (
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ErrNotFound is returned by a Store when the tenant has no credential.
var ErrNotFound = errors.New("credential not found")

// Scopes requested when linking an account: full IMAP/SMTP access, read-only
// contacts, and the account's own address.
var Scopes = []string{
	"https://mail.google.com/",
	"https://www.googleapis.com/auth/contacts.readonly",
	"https://www.googleapis.com/auth/userinfo.email",
}

// OAuthConfig builds the provider OAuth client configuration.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     endpoints.Google,
		Scopes:       Scopes,
	}
}

// Credential is the bearer material authorizing mail access for one tenant,
// plus the tenant's own mailbox address.
type Credential struct {
	TenantID string        `json:"tenant_id"`
	Email    string        `json:"email"`
	Token    *oauth2.Token `json:"token"`
	Scopes   []string      `json:"scopes,omitempty"`
}

// AccessToken returns the current access token, or "" when there is none.
func (c *Credential) AccessToken() string {
	if c == nil || c.Token == nil {
		return ""
	}
	return c.Token.AccessToken
}

// HasRefreshToken reports whether the credential can be renewed without the user.
func (c *Credential) HasRefreshToken() bool {
	return c != nil && c.Token != nil && c.Token.RefreshToken != ""
}

// LogValue implements slog.LogValuer so tokens never reach the logs.
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{
		slog.String("tenant_id", c.TenantID),
		slog.String("email", c.Email),
		slog.String("token", "[REDACTED]"),
		slog.Bool("has_refresh_token", c.HasRefreshToken()),
	}
	if c.Token != nil && !c.Token.Expiry.IsZero() {
		attrs = append(attrs, slog.Time("expiry", c.Token.Expiry))
	}
	return slog.GroupValue(attrs...)
}

// State classifies the outcome of resolving a tenant's credential.
type State int

const (
	// Absent means the tenant never linked an account.
	Absent State = iota
	// Ready means the credential can be used right now.
	Ready
	// Unusable means a credential exists but cannot be used (expired without
	// a refresh token, revoked grant, failed refresh).
	Unusable
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Unusable:
		return "unusable"
	default:
		return "absent"
	}
}

// Resolution is the tagged result of Resolve and Check. Credential is set
// for Ready and, when one was stored, for Unusable. Err explains Unusable.
type Resolution struct {
	State      State
	Credential *Credential
	Err        error
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func splitScopes(s string) []string {
	return strings.Fields(s)
}
