package automerge

import "errors"

// errChecksFailed aborts the status wait when a required check reached a
// failed terminal state.
var errChecksFailed = errors.New("status checks failed")
