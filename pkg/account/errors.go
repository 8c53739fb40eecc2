package account

import "errors"

// ErrNoAccountsAvailable means selection found no valid, compatible
// account with session capacity. Surfaces to callers as 503.
var ErrNoAccountsAvailable = errors.New("no accounts available")

// ErrAccountNotFound means the org UUID is not in the pool.
var ErrAccountNotFound = errors.New("account not found")

// ErrNoCredentials means an add was attempted with neither a cookie nor
// an OAuth token.
var ErrNoCredentials = errors.New("either cookie_value or oauth_token must be provided")
