package async

import "errors"

// ErrTimeout is returned by AwaitWithTimeout when the duration elapses
// before the future completes.
var ErrTimeout = errors.New("async: timeout waiting for future")

// ErrNoFutures is returned by ExecAny when called with no futures.
var ErrNoFutures = errors.New("async: no futures provided")
