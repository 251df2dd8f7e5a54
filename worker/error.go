package worker

import "errors"

var (
	// ErrNoSession is returned by Run when a Worker has no Session
	// configured to grab jobs from.
	ErrNoSession = errors.New("worker: no session configured")

	// ErrNoFuncs is returned by Run when no functions have been
	// registered.
	ErrNoFuncs = errors.New("worker: no functions registered")

	// ErrTimeout is the error result reported to the broker (as
	// WORK_EXCEPTION + WORK_FAIL) when a function's timeout elapses
	// before its handler returns.
	ErrTimeout = errors.New("worker: job execution timed out")

	// ErrUnknown stands in for a recovered panic whose value was not
	// itself an error.
	ErrUnknown = errors.New("worker: unknown internal error")
)

// ErrorHandler receives the failure of each executed job: handler errors
// and panics, timeouts, and unregistered functions. Session failures are
// not passed to it; they are returned by DoJob/DoJobs/Run.
type ErrorHandler func(error)
