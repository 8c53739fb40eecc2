package account

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saffronlabs/saffron/pkg/claudeweb"
)

type fakeAuthenticator struct {
	mu           sync.Mutex
	orgInfoCalls int32
	orgUUID      string
	capabilities []string
	orgErr       error
	fetchDelay   time.Duration

	refreshToken *OAuthToken
	refreshErr   error

	enrollToken *OAuthToken
	enrollErr   error
}

func (f *fakeAuthenticator) GetOrganizationInfo(ctx context.Context, cookie string) (string, []string, error) {
	atomic.AddInt32(&f.orgInfoCalls, 1)
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orgErr != nil {
		return "", nil, f.orgErr
	}
	return f.orgUUID, f.capabilities, nil
}

func (f *fakeAuthenticator) RefreshToken(ctx context.Context, token *OAuthToken) (*OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshToken, nil
}

func (f *fakeAuthenticator) AuthenticateWithCookie(ctx context.Context, cookie, orgUUID string) (*OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	return f.enrollToken, nil
}

type fakeProber struct {
	outcome  ProbeOutcome
	resetsAt *time.Time
	calls    int32
}

func (f *fakeProber) Probe(ctx context.Context, acct *Account) (ProbeOutcome, *time.Time) {
	atomic.AddInt32(&f.calls, 1)
	return f.outcome, f.resetsAt
}

func newTestPool(t *testing.T, auth Authenticator, prober Prober) *Pool {
	t.Helper()
	if auth == nil {
		auth = &fakeAuthenticator{enrollErr: fmt.Errorf("enrollment disabled")}
	}
	return NewPool(Options{
		MaxSessionsPerAccount: 3,
		TaskInterval:          time.Minute,
		Store:                 NewStore(t.TempDir(), false),
		Authenticator:         auth,
		Prober:                prober,
	})
}

func seedAccount(p *Pool, orgUUID string, status Status, lastUsed time.Time) *Account {
	acct := &Account{
		OrganizationUUID: orgUUID,
		AuthType:         AuthTypeCookieOnly,
		CookieValue:      "cookie-" + orgUUID,
		Capabilities:     []string{"chat", "pro"},
		Status:           status,
		LastUsed:         lastUsed,
	}
	p.mu.Lock()
	p.accounts[orgUUID] = acct
	p.cookieToUUID[acct.CookieValue] = orgUUID
	p.mu.Unlock()
	return acct
}

func TestAccountForSessionPrefersFewestSessions(t *testing.T) {
	p := newTestPool(t, nil, nil)
	now := time.Now()
	seedAccount(p, "org-a", StatusValid, now)
	seedAccount(p, "org-b", StatusValid, now)

	first, err := p.AccountForSession("s1", Filter{})
	require.NoError(t, err)

	second, err := p.AccountForSession("s2", Filter{})
	require.NoError(t, err)
	assert.NotEqual(t, first.OrganizationUUID, second.OrganizationUUID)
}

func TestAccountForSessionTieBreaksByOldestLastUsed(t *testing.T) {
	p := newTestPool(t, nil, nil)
	now := time.Now()
	seedAccount(p, "org-recent", StatusValid, now)
	seedAccount(p, "org-stale", StatusValid, now.Add(-time.Hour))

	acct, err := p.AccountForSession("s1", Filter{})
	require.NoError(t, err)
	assert.Equal(t, "org-stale", acct.OrganizationUUID)
}

func TestAccountForSessionIsSticky(t *testing.T) {
	p := newTestPool(t, nil, nil)
	seedAccount(p, "org-a", StatusValid, time.Now())
	seedAccount(p, "org-b", StatusValid, time.Now())

	first, err := p.AccountForSession("s1", Filter{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := p.AccountForSession("s1", Filter{})
		require.NoError(t, err)
		assert.Equal(t, first.OrganizationUUID, again.OrganizationUUID)
	}
	assert.Equal(t, 1, p.SessionCount(first.OrganizationUUID))
}

func TestAccountForSessionRebindsWhenBoundAccountDegrades(t *testing.T) {
	p := newTestPool(t, nil, nil)
	a := seedAccount(p, "org-a", StatusValid, time.Now().Add(-time.Hour))
	seedAccount(p, "org-b", StatusValid, time.Now())

	first, err := p.AccountForSession("s1", Filter{})
	require.NoError(t, err)
	require.Equal(t, a.OrganizationUUID, first.OrganizationUUID)

	p.MarkInvalid(a.OrganizationUUID)

	second, err := p.AccountForSession("s1", Filter{})
	require.NoError(t, err)
	assert.Equal(t, "org-b", second.OrganizationUUID)
	assert.Equal(t, 0, p.SessionCount("org-a"))
}

func TestAccountForSessionRespectsSessionCap(t *testing.T) {
	p := newTestPool(t, nil, nil)
	seedAccount(p, "org-a", StatusValid, time.Now())

	for i := 0; i < p.maxSessionsPerAccount; i++ {
		_, err := p.AccountForSession(fmt.Sprintf("s%d", i), Filter{})
		require.NoError(t, err)
	}

	_, err := p.AccountForSession("overflow", Filter{})
	assert.ErrorIs(t, err, ErrNoAccountsAvailable)

	p.ReleaseSession("s0")
	_, err = p.AccountForSession("overflow", Filter{})
	assert.NoError(t, err)
}

func TestAccountForSessionCapabilityFilter(t *testing.T) {
	p := newTestPool(t, nil, nil)
	seedAccount(p, "org-pro", StatusValid, time.Now())
	free := seedAccount(p, "org-free", StatusValid, time.Now().Add(-time.Hour))
	p.mu.Lock()
	free.Capabilities = []string{"chat"}
	p.mu.Unlock()

	pro := true
	acct, err := p.AccountForSession("s1", Filter{IsPro: &pro})
	require.NoError(t, err)
	assert.Equal(t, "org-pro", acct.OrganizationUUID)
}

func TestAccountForOAuthPicksOldest(t *testing.T) {
	p := newTestPool(t, nil, nil)
	seedAccount(p, "org-cookie", StatusValid, time.Now().Add(-2*time.Hour))

	oauth := seedAccount(p, "org-oauth", StatusValid, time.Now().Add(-time.Hour))
	p.mu.Lock()
	oauth.AuthType = AuthTypeBoth
	oauth.OAuthToken = &OAuthToken{AccessToken: "tok"}
	p.mu.Unlock()

	acct, err := p.AccountForOAuth(Filter{})
	require.NoError(t, err)
	assert.Equal(t, "org-oauth", acct.OrganizationUUID)
}

func TestAddDeduplicatesByCookie(t *testing.T) {
	auth := &fakeAuthenticator{orgUUID: "org-1", capabilities: []string{"chat", "pro"}, enrollErr: fmt.Errorf("no enrollment")}
	p := newTestPool(t, auth, nil)

	first, err := p.Add(context.Background(), AddOptions{CookieValue: "sk-cookie"})
	require.NoError(t, err)
	assert.Equal(t, "org-1", first.OrganizationUUID)
	assert.Equal(t, AuthTypeCookieOnly, first.AuthType)

	second, err := p.Add(context.Background(), AddOptions{CookieValue: "sk-cookie"})
	require.NoError(t, err)
	assert.Equal(t, first.OrganizationUUID, second.OrganizationUUID)

	p.mu.Lock()
	count := len(p.accounts)
	p.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestAddConcurrentSameCookieCreatesOneAccount(t *testing.T) {
	auth := &fakeAuthenticator{
		orgUUID:      "org-1",
		capabilities: []string{"chat"},
		fetchDelay:   20 * time.Millisecond,
		enrollErr:    fmt.Errorf("no enrollment"),
	}
	p := newTestPool(t, auth, nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := p.Add(context.Background(), AddOptions{CookieValue: "sk-shared"})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	// The identity fetch is shared across the concurrent adds.
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.orgInfoCalls))

	p.mu.Lock()
	count := len(p.accounts)
	p.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestAddSwapsCookieForKnownOrganization(t *testing.T) {
	auth := &fakeAuthenticator{orgUUID: "org-1", enrollErr: fmt.Errorf("no enrollment")}
	p := newTestPool(t, auth, nil)

	_, err := p.Add(context.Background(), AddOptions{CookieValue: "old-cookie"})
	require.NoError(t, err)

	acct, err := p.Add(context.Background(), AddOptions{CookieValue: "new-cookie"})
	require.NoError(t, err)
	assert.Equal(t, "new-cookie", acct.CookieValue)

	p.mu.Lock()
	_, oldIndexed := p.cookieToUUID["old-cookie"]
	newUUID := p.cookieToUUID["new-cookie"]
	p.mu.Unlock()
	assert.False(t, oldIndexed)
	assert.Equal(t, "org-1", newUUID)
}

func TestAddOAuthOnlyGeneratesUUID(t *testing.T) {
	p := newTestPool(t, nil, nil)

	acct, err := p.Add(context.Background(), AddOptions{
		OAuthToken: &OAuthToken{AccessToken: "tok", RefreshToken: "ref"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, acct.OrganizationUUID)
	assert.Equal(t, AuthTypeOAuthOnly, acct.AuthType)
}

func TestAddRequiresCredentials(t *testing.T) {
	p := newTestPool(t, nil, nil)
	_, err := p.Add(context.Background(), AddOptions{})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestRemoveDropsSessionsAndIndex(t *testing.T) {
	p := newTestPool(t, nil, nil)
	seedAccount(p, "org-a", StatusValid, time.Now())

	_, err := p.AccountForSession("s1", Filter{})
	require.NoError(t, err)

	require.NoError(t, p.Remove("org-a"))
	assert.ErrorIs(t, p.Remove("org-a"), ErrAccountNotFound)

	p.mu.Lock()
	_, bound := p.sessionAccounts["s1"]
	_, indexed := p.cookieToUUID["cookie-org-a"]
	p.mu.Unlock()
	assert.False(t, bound)
	assert.False(t, indexed)
}

func TestBatchRemoveReportsPerAccount(t *testing.T) {
	p := newTestPool(t, nil, nil)
	seedAccount(p, "org-a", StatusValid, time.Now())
	seedAccount(p, "org-b", StatusValid, time.Now())

	result := p.BatchRemove([]string{"org-a", "missing", "org-b"})
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "missing", result.Failures[0].OrganizationUUID)
}

func TestRecoverRateLimited(t *testing.T) {
	p := newTestPool(t, nil, nil)
	now := time.Now()
	p.now = func() time.Time { return now }

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := seedAccount(p, "org-expired", StatusRateLimited, now)
	expired.ResetsAt = &past
	pending := seedAccount(p, "org-pending", StatusRateLimited, now)
	pending.ResetsAt = &future

	p.recoverRateLimited()

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, StatusValid, p.accounts["org-expired"].Status)
	assert.Nil(t, p.accounts["org-expired"].ResetsAt)
	assert.Equal(t, StatusRateLimited, p.accounts["org-pending"].Status)
}

func TestRefreshStatusTransitions(t *testing.T) {
	resetsAt := time.Now().Add(30 * time.Minute)

	tests := []struct {
		name         string
		status       Status
		orgErr       error
		probeOutcome ProbeOutcome
		probeResets  *time.Time
		wantStatus   Status
		wantProbed   bool
	}{
		{
			name:         "rate limited recovers when probe passes",
			status:       StatusRateLimited,
			probeOutcome: ProbeValid,
			wantStatus:   StatusValid,
			wantProbed:   true,
		},
		{
			name:         "rate limited stays with updated reset",
			status:       StatusRateLimited,
			probeOutcome: ProbeRateLimited,
			probeResets:  &resetsAt,
			wantStatus:   StatusRateLimited,
			wantProbed:   true,
		},
		{
			name:       "rate limited with dead cookie becomes invalid",
			status:     StatusRateLimited,
			orgErr:     &claudeweb.AuthenticationError{StatusCode: 401},
			wantStatus: StatusInvalid,
		},
		{
			name:       "rate limited unchanged on network error",
			status:     StatusRateLimited,
			orgErr:     fmt.Errorf("connection refused"),
			wantStatus: StatusRateLimited,
		},
		{
			name:       "invalid recovers when cookie validates",
			status:     StatusInvalid,
			wantStatus: StatusValid,
		},
		{
			name:       "invalid stays invalid on network error",
			status:     StatusInvalid,
			orgErr:     fmt.Errorf("timeout"),
			wantStatus: StatusInvalid,
		},
		{
			name:       "valid demoted when cookie rejected",
			status:     StatusValid,
			orgErr:     &claudeweb.AuthenticationError{StatusCode: 403},
			wantStatus: StatusInvalid,
		},
		{
			name:       "valid stays valid",
			status:     StatusValid,
			wantStatus: StatusValid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuthenticator{
				orgUUID:      "org-x",
				capabilities: []string{"chat", "pro"},
				orgErr:       tt.orgErr,
			}
			prober := &fakeProber{outcome: tt.probeOutcome, resetsAt: tt.probeResets}
			p := newTestPool(t, auth, prober)

			acct := seedAccount(p, "org-x", tt.status, time.Now())
			if tt.status == StatusRateLimited {
				old := time.Now().Add(10 * time.Minute)
				acct.ResetsAt = &old
			}

			result := p.RefreshStatus(context.Background(), "org-x")
			assert.Empty(t, result.Error)
			assert.Equal(t, string(tt.status), result.PreviousStatus)
			assert.Equal(t, string(tt.wantStatus), result.NewStatus)

			if tt.wantProbed {
				assert.Equal(t, int32(1), atomic.LoadInt32(&prober.calls))
			} else {
				assert.Zero(t, atomic.LoadInt32(&prober.calls))
			}

			p.mu.Lock()
			got := p.accounts["org-x"]
			if tt.probeOutcome == ProbeRateLimited && tt.probeResets != nil {
				assert.Equal(t, tt.probeResets.Unix(), got.ResetsAt.Unix())
			}
			if tt.wantStatus == StatusValid {
				assert.Nil(t, got.ResetsAt)
			}
			p.mu.Unlock()
		})
	}
}

func TestRefreshStatusUnknownAccount(t *testing.T) {
	p := newTestPool(t, nil, nil)
	result := p.RefreshStatus(context.Background(), "missing")
	assert.Equal(t, "account not found", result.Error)
	assert.Equal(t, "unknown", result.NewStatus)
}

func TestBatchRefreshAggregates(t *testing.T) {
	auth := &fakeAuthenticator{orgUUID: "ignored", capabilities: []string{"chat"}}
	p := newTestPool(t, auth, &fakeProber{outcome: ProbeValid})
	seedAccount(p, "org-a", StatusValid, time.Now())
	seedAccount(p, "org-b", StatusInvalid, time.Now())

	result := p.BatchRefresh(context.Background(), []string{"org-a", "org-b", "missing"}, 2)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "org-a", result.Results[0].OrganizationUUID)
}

func TestMarkRateLimited(t *testing.T) {
	p := newTestPool(t, nil, nil)
	seedAccount(p, "org-a", StatusValid, time.Now())

	resetsAt := time.Now().Add(time.Hour)
	p.MarkRateLimited("org-a", &resetsAt)

	assert.Nil(t, p.AccountByID("org-a"))
	p.mu.Lock()
	assert.Equal(t, StatusRateLimited, p.accounts["org-a"].Status)
	require.NotNil(t, p.accounts["org-a"].ResetsAt)
	p.mu.Unlock()
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, false)

	resetsAt := time.Now().Add(time.Hour).Truncate(time.Second)
	accounts := map[string]*Account{
		"org-cookie": {
			OrganizationUUID: "org-cookie",
			AuthType:         AuthTypeCookieOnly,
			CookieValue:      "sk-cookie",
			Capabilities:     []string{"chat", "pro"},
			Status:           StatusValid,
			LastUsed:         time.Now().Truncate(time.Second),
		},
		"org-both": {
			OrganizationUUID: "org-both",
			AuthType:         AuthTypeBoth,
			CookieValue:      "sk-both",
			OAuthToken:       &OAuthToken{AccessToken: "at", RefreshToken: "rt", ExpiresAt: 123},
			Status:           StatusRateLimited,
			ResetsAt:         &resetsAt,
			LastUsed:         time.Now().Truncate(time.Second),
		},
		"org-oauth": {
			OrganizationUUID: "org-oauth",
			AuthType:         AuthTypeOAuthOnly,
			OAuthToken:       &OAuthToken{AccessToken: "at2"},
			Status:           StatusInvalid,
			LastUsed:         time.Now().Truncate(time.Second),
		},
	}

	require.NoError(t, store.Save(accounts))
	loaded := store.Load()
	require.Len(t, loaded, 3)

	both := loaded["org-both"]
	require.NotNil(t, both)
	assert.Equal(t, AuthTypeBoth, both.AuthType)
	require.NotNil(t, both.OAuthToken)
	assert.Equal(t, "rt", both.OAuthToken.RefreshToken)
	require.NotNil(t, both.ResetsAt)
	assert.Equal(t, resetsAt.Unix(), both.ResetsAt.Unix())

	assert.Equal(t, StatusInvalid, loaded["org-oauth"].Status)
	assert.Empty(t, loaded["org-oauth"].CookieValue)
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(t.TempDir(), false)
	assert.Empty(t, store.Load())
}

func TestStoreNoFilesystemMode(t *testing.T) {
	store := NewStore(t.TempDir(), true)
	require.NoError(t, store.Save(map[string]*Account{"x": {OrganizationUUID: "x"}}))
	assert.Empty(t, store.Load())
}
