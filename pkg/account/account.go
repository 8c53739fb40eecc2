// Package account manages the pool of authenticated Claude.ai accounts:
// load-balanced selection across sessions, rate-limit tracking and
// recovery probing, OAuth token refresh, and atomic persistence.
package account

import (
	"slices"
	"time"
)

// AuthType describes which credentials an account carries.
type AuthType string

const (
	AuthTypeCookieOnly AuthType = "cookie_only"
	AuthTypeOAuthOnly  AuthType = "oauth_only"
	AuthTypeBoth       AuthType = "both"
)

// Status is an account's lifecycle state.
type Status string

const (
	StatusValid       Status = "valid"
	StatusRateLimited Status = "rate_limited"
	StatusInvalid     Status = "invalid"
)

// OAuthToken is a first-party OAuth credential. ExpiresAt is seconds
// since epoch.
type OAuthToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Account is one authenticated Claude.ai identity. ResetsAt is set iff
// Status is rate_limited.
type Account struct {
	OrganizationUUID string      `json:"organization_uuid"`
	AuthType         AuthType    `json:"auth_type"`
	CookieValue      string      `json:"cookie_value,omitempty"`
	OAuthToken       *OAuthToken `json:"oauth_token,omitempty"`
	Capabilities     []string    `json:"capabilities,omitempty"`
	Status           Status      `json:"status"`
	ResetsAt         *time.Time  `json:"resets_at,omitempty"`
	LastUsed         time.Time   `json:"last_used"`
}

// IsPro reports whether the account has the pro capability.
func (a *Account) IsPro() bool {
	return slices.Contains(a.Capabilities, "pro")
}

// IsMax reports whether the account has the max capability.
func (a *Account) IsMax() bool {
	return slices.Contains(a.Capabilities, "max")
}

// HasCookie reports whether cookie auth is usable.
func (a *Account) HasCookie() bool {
	return a.AuthType == AuthTypeCookieOnly || a.AuthType == AuthTypeBoth
}

// HasOAuth reports whether OAuth is usable.
func (a *Account) HasOAuth() bool {
	return a.AuthType == AuthTypeOAuthOnly || a.AuthType == AuthTypeBoth
}

// ShortID returns a log-friendly prefix of the org UUID.
func (a *Account) ShortID() string {
	if len(a.OrganizationUUID) > 8 {
		return a.OrganizationUUID[:8]
	}
	return a.OrganizationUUID
}

// Clone returns a deep copy, used to read account fields outside the pool
// lock.
func (a *Account) Clone() *Account {
	clone := *a
	if a.OAuthToken != nil {
		tok := *a.OAuthToken
		clone.OAuthToken = &tok
	}
	if a.ResetsAt != nil {
		t := *a.ResetsAt
		clone.ResetsAt = &t
	}
	clone.Capabilities = slices.Clone(a.Capabilities)
	return &clone
}
