package pipeline

import "errors"

// ErrNoValidMessages means the request carried no messages, or the merge
// produced an empty prompt. Surfaces to callers as 400.
var ErrNoValidMessages = errors.New("no valid messages in request")
