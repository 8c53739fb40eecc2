package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/saffronlabs/saffron/pkg/claudeweb"
)

// refreshLeeway is how close to expiry a token gets before the background
// loop refreshes it.
const refreshLeeway = 300 * time.Second

// detachedTaskTimeout bounds refresh and enrollment tasks spawned off the
// background tick.
const detachedTaskTimeout = 30 * time.Second

// maxBatchRefreshConcurrency caps batch refresh fan-out regardless of the
// caller's request.
const maxBatchRefreshConcurrency = 20

// Filter restricts account selection by capability. Nil fields match any.
type Filter struct {
	IsPro *bool
	IsMax *bool
}

func (f Filter) matches(a *Account) bool {
	if f.IsPro != nil && a.IsPro() != *f.IsPro {
		return false
	}
	if f.IsMax != nil && a.IsMax() != *f.IsMax {
		return false
	}
	return true
}

// Options configures a Pool.
type Options struct {
	MaxSessionsPerAccount int
	TaskInterval          time.Duration
	Store                 *Store
	Authenticator         Authenticator
	Prober                Prober
}

// Pool is the process-wide account registry. One mutex guards all of its
// maps; network and disk I/O happen outside the lock except for the
// persistence write, which stays inside so readers never observe a state
// newer than the file being written.
type Pool struct {
	mu              sync.Mutex
	accounts        map[string]*Account
	cookieToUUID    map[string]string
	sessionAccounts map[string]string
	accountSessions map[string]map[string]struct{}

	maxSessionsPerAccount int
	taskInterval          time.Duration
	store                 *Store
	auth                  Authenticator
	prober                Prober

	// fetchGroup collapses concurrent identity fetches for the same
	// cookie into one network call.
	fetchGroup singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// NewPool creates a pool and loads persisted accounts. The cookie index
// is rebuilt from the loaded state.
func NewPool(opts Options) *Pool {
	if opts.MaxSessionsPerAccount <= 0 {
		opts.MaxSessionsPerAccount = 3
	}
	if opts.TaskInterval <= 0 {
		opts.TaskInterval = time.Minute
	}

	p := &Pool{
		accounts:              make(map[string]*Account),
		cookieToUUID:          make(map[string]string),
		sessionAccounts:       make(map[string]string),
		accountSessions:       make(map[string]map[string]struct{}),
		maxSessionsPerAccount: opts.MaxSessionsPerAccount,
		taskInterval:          opts.TaskInterval,
		store:                 opts.Store,
		auth:                  opts.Authenticator,
		prober:                opts.Prober,
		now:                   time.Now,
	}

	if p.store != nil {
		p.accounts = p.store.Load()
		for orgUUID, acct := range p.accounts {
			if acct.CookieValue != "" {
				p.cookieToUUID[acct.CookieValue] = orgUUID
			}
		}
	}

	slog.Info("Account pool initialized", "accounts", len(p.accounts))
	return p
}

// AccountForSession returns the account bound to the session, binding one
// with load balancing if needed: valid, cookie-capable accounts under the
// session cap, preferring fewest sessions and breaking ties by oldest
// last-used. The returned account is a snapshot.
func (p *Pool) AccountForSession(sessionID string, f Filter) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if orgUUID, ok := p.sessionAccounts[sessionID]; ok {
		if acct, ok := p.accounts[orgUUID]; ok && acct.Status == StatusValid {
			return acct.Clone(), nil
		}
		p.unbindSessionLocked(sessionID)
	}

	var best *Account
	minSessions := p.maxSessionsPerAccount + 1

	for orgUUID, acct := range p.accounts {
		if acct.Status != StatusValid || !acct.HasCookie() || !f.matches(acct) {
			continue
		}
		count := len(p.accountSessions[orgUUID])
		if count >= p.maxSessionsPerAccount {
			continue
		}
		if count < minSessions || (count == minSessions && acct.LastUsed.Before(best.LastUsed)) {
			minSessions = count
			best = acct
		}
	}

	if best == nil {
		return nil, ErrNoAccountsAvailable
	}

	p.bindSessionLocked(sessionID, best.OrganizationUUID)
	best.LastUsed = p.now()

	slog.Debug("Assigned account to session",
		"session_id", sessionID,
		"account", best.ShortID(),
		"sessions", len(p.accountSessions[best.OrganizationUUID]))

	return best.Clone(), nil
}

// AccountForOAuth picks the OAuth-capable valid account with the oldest
// last-used time.
func (p *Pool) AccountForOAuth(f Filter) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var oldest *Account
	for _, acct := range p.accounts {
		if acct.Status != StatusValid || !acct.HasOAuth() || !f.matches(acct) {
			continue
		}
		if oldest == nil || acct.LastUsed.Before(oldest.LastUsed) {
			oldest = acct
		}
	}

	if oldest == nil {
		return nil, ErrNoAccountsAvailable
	}
	return oldest.Clone(), nil
}

// AccountByID returns a snapshot of a valid account, or nil when the
// account is missing or not valid.
func (p *Pool) AccountByID(orgUUID string) *Account {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[orgUUID]
	if !ok || acct.Status != StatusValid {
		return nil
	}
	return acct.Clone()
}

// ReleaseSession drops a session's account binding.
func (p *Pool) ReleaseSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unbindSessionLocked(sessionID)
}

// SessionCount reports the sessions currently bound to an account.
func (p *Pool) SessionCount(orgUUID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accountSessions[orgUUID])
}

func (p *Pool) bindSessionLocked(sessionID, orgUUID string) {
	p.sessionAccounts[sessionID] = orgUUID
	set, ok := p.accountSessions[orgUUID]
	if !ok {
		set = make(map[string]struct{})
		p.accountSessions[orgUUID] = set
	}
	set[sessionID] = struct{}{}
}

func (p *Pool) unbindSessionLocked(sessionID string) {
	orgUUID, ok := p.sessionAccounts[sessionID]
	if !ok {
		return
	}
	delete(p.sessionAccounts, sessionID)
	if set, ok := p.accountSessions[orgUUID]; ok {
		delete(set, sessionID)
	}
}

// AddOptions are the inputs to Add. At least one credential is required.
type AddOptions struct {
	CookieValue      string
	OAuthToken       *OAuthToken
	OrganizationUUID string
	Capabilities     []string
}

// Add registers an account, deduplicating by cookie and by org UUID.
//
// The identity fetch can take seconds, so Add uses double-checked
// locking: a fast locked check, the network fetch unlocked (concurrent
// adds of different cookies proceed in parallel), then a locked re-check
// and commit.
func (p *Pool) Add(ctx context.Context, opts AddOptions) (*Account, error) {
	if opts.CookieValue == "" && opts.OAuthToken == nil {
		return nil, ErrNoCredentials
	}

	// Phase 1: fast duplicate check.
	p.mu.Lock()
	if opts.CookieValue != "" {
		if orgUUID, ok := p.cookieToUUID[opts.CookieValue]; ok {
			acct := p.accounts[orgUUID].Clone()
			p.mu.Unlock()
			return acct, nil
		}
	}
	p.mu.Unlock()

	// Phase 2: identity fetch, no lock held. Concurrent adds of the same
	// cookie share one fetch.
	orgUUID := opts.OrganizationUUID
	capabilities := opts.Capabilities
	if p.auth != nil && opts.CookieValue != "" && (orgUUID == "" || capabilities == nil) {
		type identity struct {
			uuid string
			caps []string
		}
		v, err, _ := p.fetchGroup.Do(opts.CookieValue, func() (any, error) {
			fetchedUUID, fetchedCaps, err := p.auth.GetOrganizationInfo(ctx, opts.CookieValue)
			if err != nil {
				return nil, err
			}
			return identity{uuid: fetchedUUID, caps: fetchedCaps}, nil
		})
		if err != nil {
			return nil, err
		}
		id := v.(identity)
		if id.uuid != "" {
			orgUUID = id.uuid
		}
		capabilities = id.caps
	}

	// Phase 3: re-check and commit.
	p.mu.Lock()
	if opts.CookieValue != "" {
		if existing, ok := p.cookieToUUID[opts.CookieValue]; ok {
			acct := p.accounts[existing].Clone()
			p.mu.Unlock()
			return acct, nil
		}
	}

	if orgUUID != "" {
		if existing, ok := p.accounts[orgUUID]; ok {
			// Same org seen again, possibly with a fresher cookie.
			if opts.CookieValue != "" && existing.CookieValue != opts.CookieValue {
				if existing.CookieValue != "" {
					delete(p.cookieToUUID, existing.CookieValue)
				}
				existing.CookieValue = opts.CookieValue
				p.cookieToUUID[opts.CookieValue] = orgUUID
			}
			acct := existing.Clone()
			p.mu.Unlock()
			return acct, nil
		}
	}

	if orgUUID == "" {
		orgUUID = uuid.NewString()
		slog.Info("Generated new organization UUID", "account", orgUUID[:8])
	}

	authType := AuthTypeOAuthOnly
	switch {
	case opts.CookieValue != "" && opts.OAuthToken != nil:
		authType = AuthTypeBoth
	case opts.CookieValue != "":
		authType = AuthTypeCookieOnly
	}

	acct := &Account{
		OrganizationUUID: orgUUID,
		AuthType:         authType,
		CookieValue:      opts.CookieValue,
		OAuthToken:       opts.OAuthToken,
		Capabilities:     capabilities,
		Status:           StatusValid,
		LastUsed:         p.now(),
	}
	p.accounts[orgUUID] = acct
	if opts.CookieValue != "" {
		p.cookieToUUID[opts.CookieValue] = orgUUID
	}
	p.saveLocked()
	snapshot := acct.Clone()
	p.mu.Unlock()

	slog.Info("Added new account",
		"account", snapshot.ShortID(),
		"auth_type", authType,
		"has_oauth", opts.OAuthToken != nil)

	// Cookie-only accounts get a best-effort OAuth enrollment in the
	// background; failure leaves them cookie-only.
	if authType == AuthTypeCookieOnly && p.auth != nil {
		go p.attemptOAuthEnrollment(snapshot.OrganizationUUID)
	}

	return snapshot, nil
}

func (p *Pool) attemptOAuthEnrollment(orgUUID string) {
	ctx, cancel := context.WithTimeout(context.Background(), detachedTaskTimeout)
	defer cancel()

	p.mu.Lock()
	acct, ok := p.accounts[orgUUID]
	if !ok || acct.CookieValue == "" {
		p.mu.Unlock()
		return
	}
	cookie := acct.CookieValue
	p.mu.Unlock()

	slog.Info("Attempting OAuth enrollment", "account", orgUUID[:8])

	token, err := p.auth.AuthenticateWithCookie(ctx, cookie, orgUUID)
	if err != nil {
		slog.Warn("OAuth enrollment failed, keeping cookie-only", "account", orgUUID[:8], "error", err)
		return
	}

	p.mu.Lock()
	if acct, ok := p.accounts[orgUUID]; ok {
		acct.OAuthToken = token
		acct.AuthType = AuthTypeBoth
		p.saveLocked()
	}
	p.mu.Unlock()

	slog.Info("OAuth enrollment succeeded", "account", orgUUID[:8])
}

// Remove deletes an account, drops its session bindings and persists.
func (p *Pool) Remove(orgUUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.accounts[orgUUID]; !ok {
		return ErrAccountNotFound
	}
	p.removeLocked(orgUUID)
	p.saveLocked()
	return nil
}

// BatchFailure is one failed entry of a batch operation.
type BatchFailure struct {
	OrganizationUUID string `json:"organization_uuid"`
	Error            string `json:"error"`
}

// BatchRemoveResult aggregates a batch removal.
type BatchRemoveResult struct {
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	Failures     []BatchFailure `json:"failures"`
}

// BatchRemove removes several accounts with a single persistence write.
func (p *Pool) BatchRemove(orgUUIDs []string) BatchRemoveResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result BatchRemoveResult
	for _, orgUUID := range orgUUIDs {
		if _, ok := p.accounts[orgUUID]; !ok {
			result.Failures = append(result.Failures, BatchFailure{
				OrganizationUUID: orgUUID,
				Error:            "account not found",
			})
			continue
		}
		p.removeLocked(orgUUID)
		result.SuccessCount++
	}
	result.FailureCount = len(result.Failures)

	if result.SuccessCount > 0 {
		p.saveLocked()
	}

	slog.Info("Batch remove finished",
		"succeeded", result.SuccessCount, "failed", result.FailureCount)
	return result
}

func (p *Pool) removeLocked(orgUUID string) {
	acct, ok := p.accounts[orgUUID]
	if !ok {
		return
	}

	for sessionID := range p.accountSessions[orgUUID] {
		delete(p.sessionAccounts, sessionID)
	}
	delete(p.accountSessions, orgUUID)

	if acct.CookieValue != "" {
		delete(p.cookieToUUID, acct.CookieValue)
	}
	delete(p.accounts, orgUUID)

	slog.Info("Removed account", "account", acct.ShortID())
}

// Save persists the pool.
func (p *Pool) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveError()
}

func (p *Pool) saveLocked() {
	if err := p.saveError(); err != nil {
		slog.Error("Failed to save accounts", "error", err)
	}
}

func (p *Pool) saveError() error {
	if p.store == nil {
		return nil
	}
	return p.store.Save(p.accounts)
}

// Start launches the background maintenance loop: rate-limit recovery and
// token refresh every task interval. Stop (or ctx cancellation) ends it.
func (p *Pool) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Stop cancels the background loop and waits for it to exit.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

func (p *Pool) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.taskInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recoverRateLimited()
			p.refreshExpiringTokens()
		}
	}
}

// recoverRateLimited transitions rate-limited accounts whose reset time
// has passed back to valid.
func (p *Pool) recoverRateLimited() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, acct := range p.accounts {
		if acct.Status == StatusRateLimited && acct.ResetsAt != nil && !now.Before(*acct.ResetsAt) {
			acct.Status = StatusValid
			acct.ResetsAt = nil
			slog.Info("Recovered rate-limited account", "account", acct.ShortID())
		}
	}
}

// refreshExpiringTokens spawns a detached refresh for every OAuth token
// within the refresh leeway of expiry.
func (p *Pool) refreshExpiringTokens() {
	p.mu.Lock()
	var expiring []string
	now := p.now().Unix()
	for orgUUID, acct := range p.accounts {
		if acct.HasOAuth() && acct.OAuthToken != nil &&
			acct.OAuthToken.RefreshToken != "" && acct.OAuthToken.ExpiresAt != 0 &&
			acct.OAuthToken.ExpiresAt-now < int64(refreshLeeway/time.Second) {
			expiring = append(expiring, orgUUID)
		}
	}
	p.mu.Unlock()

	for _, orgUUID := range expiring {
		go p.refreshAccountToken(orgUUID)
	}
}

// refreshAccountToken refreshes one account's OAuth token. On failure a
// dual-credential account downgrades to cookie-only; an OAuth-only
// account becomes invalid.
func (p *Pool) refreshAccountToken(orgUUID string) {
	ctx, cancel := context.WithTimeout(context.Background(), detachedTaskTimeout)
	defer cancel()

	p.mu.Lock()
	acct, ok := p.accounts[orgUUID]
	if !ok || acct.OAuthToken == nil || p.auth == nil {
		p.mu.Unlock()
		return
	}
	token := *acct.OAuthToken
	p.mu.Unlock()

	slog.Info("Refreshing OAuth token", "account", orgUUID[:8])

	fresh, err := p.auth.RefreshToken(ctx, &token)

	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok = p.accounts[orgUUID]
	if !ok {
		return
	}

	if err == nil {
		acct.OAuthToken = fresh
		p.saveLocked()
		slog.Info("Refreshed OAuth token", "account", acct.ShortID())
		return
	}

	slog.Warn("OAuth token refresh failed", "account", acct.ShortID(), "error", err)
	if acct.AuthType == AuthTypeBoth {
		acct.AuthType = AuthTypeCookieOnly
		acct.OAuthToken = nil
	} else {
		acct.Status = StatusInvalid
		slog.Error("Account invalid after OAuth refresh failure", "account", acct.ShortID())
	}
	p.saveLocked()
}

// RefreshResult reports one account's deep status refresh.
type RefreshResult struct {
	OrganizationUUID string   `json:"organization_uuid"`
	PreviousStatus   string   `json:"previous_status"`
	NewStatus        string   `json:"new_status"`
	AuthType         string   `json:"auth_type"`
	Capabilities     []string `json:"capabilities,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// RefreshStatus deeply re-validates one account: cookie check against the
// identity endpoint, best-effort OAuth refresh, a rate-limit probe when
// applicable, then a locked status transition and persist. All network
// I/O happens outside the pool lock.
func (p *Pool) RefreshStatus(ctx context.Context, orgUUID string) RefreshResult {
	p.mu.Lock()
	acct, ok := p.accounts[orgUUID]
	var snapshot *Account
	if ok {
		snapshot = acct.Clone()
	}
	p.mu.Unlock()

	if !ok {
		return RefreshResult{
			OrganizationUUID: orgUUID,
			PreviousStatus:   "unknown",
			NewStatus:        "unknown",
			AuthType:         "unknown",
			Error:            "account not found",
		}
	}

	previousStatus := snapshot.Status

	// Phase 1, unlocked: cookie validation. Only an authentication error
	// is diagnostic; network failures leave cookieValid unknown.
	var cookieValid *bool
	var newCapabilities []string
	if p.auth != nil && snapshot.CookieValue != "" {
		_, caps, err := p.auth.GetOrganizationInfo(ctx, snapshot.CookieValue)
		var authErr *claudeweb.AuthenticationError
		switch {
		case err == nil:
			valid := true
			cookieValid = &valid
			newCapabilities = caps
		case errors.As(err, &authErr):
			valid := false
			cookieValid = &valid
		default:
			slog.Warn("Cookie validation inconclusive", "account", snapshot.ShortID(), "error", err)
		}
	}

	// Unlocked: best-effort OAuth refresh.
	if p.auth != nil && snapshot.HasOAuth() && snapshot.OAuthToken != nil && snapshot.OAuthToken.RefreshToken != "" {
		if fresh, err := p.auth.RefreshToken(ctx, snapshot.OAuthToken); err != nil {
			slog.Warn("OAuth refresh failed during status refresh", "account", snapshot.ShortID(), "error", err)
		} else {
			snapshot.OAuthToken = fresh
			p.mu.Lock()
			if acct, ok := p.accounts[orgUUID]; ok {
				acct.OAuthToken = fresh
			}
			p.mu.Unlock()
		}
	}

	// Phase 2, unlocked: rate-limit probe, only for rate-limited accounts
	// whose cookie just validated.
	var probeOutcome ProbeOutcome
	var probeResetsAt *time.Time
	probed := false
	if snapshot.Status == StatusRateLimited && cookieValid != nil && *cookieValid && p.prober != nil {
		probeOutcome, probeResetsAt = p.prober.Probe(ctx, snapshot)
		probed = true
	}

	// Locked: status transition and persist.
	p.mu.Lock()
	acct, ok = p.accounts[orgUUID]
	if !ok {
		p.mu.Unlock()
		return RefreshResult{
			OrganizationUUID: orgUUID,
			PreviousStatus:   string(previousStatus),
			NewStatus:        "unknown",
			AuthType:         "unknown",
			Error:            "account removed during refresh",
		}
	}

	switch acct.Status {
	case StatusRateLimited:
		switch {
		case cookieValid != nil && !*cookieValid:
			acct.Status = StatusInvalid
			acct.ResetsAt = nil
		case cookieValid != nil && *cookieValid:
			if len(newCapabilities) > 0 {
				acct.Capabilities = newCapabilities
			}
			if probed {
				switch probeOutcome {
				case ProbeValid:
					acct.Status = StatusValid
					acct.ResetsAt = nil
				case ProbeRateLimited:
					// Prefer the upstream reset instant; keep ours otherwise.
					if probeResetsAt != nil {
						acct.ResetsAt = probeResetsAt
					}
				}
				// ProbeError: unchanged.
			}
		}

	case StatusInvalid:
		if cookieValid != nil && *cookieValid {
			acct.Status = StatusValid
			acct.ResetsAt = nil
			if len(newCapabilities) > 0 {
				acct.Capabilities = newCapabilities
			}
		}

	case StatusValid:
		switch {
		case cookieValid != nil && !*cookieValid:
			acct.Status = StatusInvalid
		case cookieValid != nil && *cookieValid && len(newCapabilities) > 0:
			acct.Capabilities = newCapabilities
		}
	}

	p.saveLocked()
	result := RefreshResult{
		OrganizationUUID: orgUUID,
		PreviousStatus:   string(previousStatus),
		NewStatus:        string(acct.Status),
		AuthType:         string(acct.AuthType),
		Capabilities:     append([]string(nil), acct.Capabilities...),
	}
	p.mu.Unlock()

	slog.Info("Refreshed account status",
		"account", orgUUID[:min(8, len(orgUUID))],
		"previous", result.PreviousStatus,
		"new", result.NewStatus)
	return result
}

// BatchRefreshResult aggregates a batch status refresh.
type BatchRefreshResult struct {
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	Results      []RefreshResult `json:"results"`
}

// BatchRefresh fans RefreshStatus out over the given accounts, bounded by
// a semaphore of min(concurrency, 20).
func (p *Pool) BatchRefresh(ctx context.Context, orgUUIDs []string, concurrency int) BatchRefreshResult {
	if concurrency <= 0 {
		concurrency = 5
	}
	if concurrency > maxBatchRefreshConcurrency {
		concurrency = maxBatchRefreshConcurrency
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]RefreshResult, len(orgUUIDs))
	var wg sync.WaitGroup

	for i, orgUUID := range orgUUIDs {
		wg.Add(1)
		go func(i int, orgUUID string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = RefreshResult{
					OrganizationUUID: orgUUID,
					PreviousStatus:   "unknown",
					NewStatus:        "unknown",
					AuthType:         "unknown",
					Error:            err.Error(),
				}
				return
			}
			defer sem.Release(1)
			results[i] = p.RefreshStatus(ctx, orgUUID)
		}(i, orgUUID)
	}
	wg.Wait()

	var result BatchRefreshResult
	result.Results = results
	for _, r := range results {
		if r.Error == "" {
			result.SuccessCount++
		} else {
			result.FailureCount++
		}
	}
	return result
}

// MarkRateLimited transitions an account to rate_limited with the given
// reset instant. Called by the request path when the upstream returns 429.
func (p *Pool) MarkRateLimited(orgUUID string, resetsAt *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[orgUUID]
	if !ok {
		return
	}
	acct.Status = StatusRateLimited
	acct.ResetsAt = resetsAt
	p.saveLocked()

	slog.Warn("Account rate limited", "account", acct.ShortID())
}

// MarkInvalid transitions an account to invalid after a diagnostic
// authentication failure.
func (p *Pool) MarkInvalid(orgUUID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	acct, ok := p.accounts[orgUUID]
	if !ok {
		return
	}
	acct.Status = StatusInvalid
	acct.ResetsAt = nil
	p.saveLocked()

	slog.Warn("Account marked invalid", "account", acct.ShortID())
}

// AccountSummary is one account's admin-facing status line. Identifiers
// are truncated so status output never leaks credentials.
type AccountSummary struct {
	OrganizationUUID string  `json:"organization_uuid"`
	Cookie           string  `json:"cookie"`
	Status           string  `json:"status"`
	AuthType         string  `json:"auth_type"`
	Sessions         int     `json:"sessions"`
	LastUsed         string  `json:"last_used"`
	ResetsAt         *string `json:"resets_at"`
	HasOAuth         bool    `json:"has_oauth"`
	IsPro            bool    `json:"is_pro"`
	IsMax            bool    `json:"is_max"`
}

// PoolStatus is the admin-facing pool summary.
type PoolStatus struct {
	TotalAccounts       int              `json:"total_accounts"`
	ValidAccounts       int              `json:"valid_accounts"`
	RateLimitedAccounts int              `json:"rate_limited_accounts"`
	InvalidAccounts     int              `json:"invalid_accounts"`
	ActiveSessions      int              `json:"active_sessions"`
	Accounts            []AccountSummary `json:"accounts"`
}

// Status reports the pool's current state.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PoolStatus{
		TotalAccounts:  len(p.accounts),
		ActiveSessions: len(p.sessionAccounts),
	}

	for orgUUID, acct := range p.accounts {
		switch acct.Status {
		case StatusValid:
			status.ValidAccounts++
		case StatusRateLimited:
			status.RateLimitedAccounts++
		case StatusInvalid:
			status.InvalidAccounts++
		}

		cookie := "None"
		if acct.CookieValue != "" {
			cookie = truncate(acct.CookieValue, 20) + "..."
		}
		var resetsAt *string
		if acct.ResetsAt != nil {
			s := acct.ResetsAt.Format(time.RFC3339)
			resetsAt = &s
		}
		status.Accounts = append(status.Accounts, AccountSummary{
			OrganizationUUID: acct.ShortID() + "...",
			Cookie:           cookie,
			Status:           string(acct.Status),
			AuthType:         string(acct.AuthType),
			Sessions:         len(p.accountSessions[orgUUID]),
			LastUsed:         acct.LastUsed.Format(time.RFC3339),
			ResetsAt:         resetsAt,
			HasOAuth:         acct.OAuthToken != nil,
			IsPro:            acct.IsPro(),
			IsMax:            acct.IsMax(),
		})
	}
	return status
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
