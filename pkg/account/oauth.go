package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/saffronlabs/saffron/pkg/claudeweb"
	"github.com/saffronlabs/saffron/pkg/httpclient"
)

// OAuth constants for the first-party client.
const (
	oauthClientID    = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	oauthTokenPath   = "/v1/oauth/token"
	oauthConsoleBase = "https://console.anthropic.com"
)

// Authenticator performs the network half of account management: identity
// lookup by cookie, token refresh, and cookie-to-OAuth enrollment. The
// pool holds it as an interface so tests can fake it.
type Authenticator interface {
	// GetOrganizationInfo resolves a cookie to its org UUID and
	// capability set. A rejected cookie yields *claudeweb.AuthenticationError.
	GetOrganizationInfo(ctx context.Context, cookie string) (orgUUID string, capabilities []string, err error)

	// RefreshToken exchanges a refresh token for a fresh token set.
	RefreshToken(ctx context.Context, token *OAuthToken) (*OAuthToken, error)

	// AuthenticateWithCookie attempts the OAuth authorization flow using
	// the account's web cookie, yielding an OAuth token on success.
	AuthenticateWithCookie(ctx context.Context, cookie, orgUUID string) (*OAuthToken, error)
}

// OAuthAuthenticator is the HTTP implementation of Authenticator.
type OAuthAuthenticator struct {
	webBaseURL  string
	consoleBase string
	http        *httpclient.Client
}

// NewOAuthAuthenticator creates an authenticator against the given
// Claude-web base URL.
func NewOAuthAuthenticator(webBaseURL string) *OAuthAuthenticator {
	return &OAuthAuthenticator{
		webBaseURL:  strings.TrimRight(webBaseURL, "/"),
		consoleBase: oauthConsoleBase,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		),
	}
}

type organizationInfo struct {
	UUID         string   `json:"uuid"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// GetOrganizationInfo lists the cookie's organizations and returns the
// first chat-capable one.
func (o *OAuthAuthenticator) GetOrganizationInfo(ctx context.Context, cookie string) (string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.webBaseURL+"/api/organizations", nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Cookie", cookieHeaderValue(cookie))

	resp, err := o.http.Do(req)
	if err != nil && resp == nil {
		return "", nil, fmt.Errorf("organization lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", nil, &claudeweb.AuthenticationError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("organization lookup failed: HTTP %d", resp.StatusCode)
	}

	var orgs []organizationInfo
	if err := json.NewDecoder(resp.Body).Decode(&orgs); err != nil {
		return "", nil, fmt.Errorf("failed to decode organizations: %w", err)
	}
	if len(orgs) == 0 {
		return "", nil, fmt.Errorf("cookie has no organizations")
	}

	for _, org := range orgs {
		for _, cap := range org.Capabilities {
			if cap == "chat" {
				return org.UUID, org.Capabilities, nil
			}
		}
	}
	return orgs[0].UUID, orgs[0].Capabilities, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshToken exchanges the refresh token at the console token endpoint.
func (o *OAuthAuthenticator) RefreshToken(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token")
	}

	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": token.RefreshToken,
		"client_id":     oauthClientID,
	}
	tok, err := o.postToken(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return tok, nil
}

// AuthenticateWithCookie runs the authorization-code flow against the web
// endpoint using the account's cookie, then exchanges the code.
func (o *OAuthAuthenticator) AuthenticateWithCookie(ctx context.Context, cookie, orgUUID string) (*OAuthToken, error) {
	body := map[string]any{
		"client_id":         oauthClientID,
		"organization_uuid": orgUUID,
		"response_type":     "code",
		"scope":             "user:inference user:profile",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authorize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.webBaseURL+"/api/oauth/authorize", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create authorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cookieHeaderValue(cookie))

	resp, err := o.http.Do(req)
	if err != nil && resp == nil {
		return nil, fmt.Errorf("authorize request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authorize request failed: HTTP %d", resp.StatusCode)
	}

	var authorized struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&authorized); err != nil {
		return nil, fmt.Errorf("failed to decode authorize response: %w", err)
	}
	if authorized.Code == "" {
		return nil, fmt.Errorf("authorize response carried no code")
	}

	tok, err := o.postToken(ctx, map[string]string{
		"grant_type": "authorization_code",
		"code":       authorized.Code,
		"client_id":  oauthClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return tok, nil
}

func (o *OAuthAuthenticator) postToken(ctx context.Context, payload map[string]string) (*OAuthToken, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.consoleBase+oauthTokenPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil && resp == nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response carried no access token")
	}

	return &OAuthToken{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Unix() + tr.ExpiresIn,
	}, nil
}

func cookieHeaderValue(value string) string {
	if strings.Contains(value, "=") {
		return value
	}
	return "sessionKey=" + value
}
