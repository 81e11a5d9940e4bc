package rpcmutex

import (
	"fmt"

	"github.com/akriventsev/amqpgate/framework/core"
)

// Error codes for the kinds of failure the base protocol defines.
const (
	ErrCodeTimeout           = "RPCMUTEX_TIMEOUT"
	ErrCodePathNotFound      = "RPCMUTEX_PATH_NOT_FOUND"
	ErrCodeMethodNotPermitted = "RPCMUTEX_METHOD_NOT_PERMITTED"
	ErrCodeMutexError        = "RPCMUTEX_MUTEX_ERROR"
	ErrCodeMutexDropped      = "RPCMUTEX_MUTEX_DROPPED"
	ErrCodeDispatchError     = "RPCMUTEX_DISPATCH_ERROR"
	ErrCodeDuplicateEndpoint = "RPCMUTEX_DUPLICATE_ENDPOINT"
	ErrCodeDuplicateRoute    = "RPCMUTEX_DUPLICATE_ROUTE"
	ErrCodeResponseReuse     = "RPCMUTEX_RESPONSE_REUSE"
	ErrCodeConnectionLost    = "RPCMUTEX_CONNECTION_LOST"
)

// ErrTimeout is returned when a fetch or critical_section's timeout
// elapses before a reply arrives.
func ErrTimeout(op string) *core.FrameworkError {
	return core.NewError(ErrCodeTimeout, fmt.Sprintf("%s timed out waiting for a reply", op))
}

// ErrMutexTimeout is the critical_section-specific timeout message
// the base spec calls for verbatim.
func ErrMutexTimeout() *core.FrameworkError {
	return core.NewError(ErrCodeTimeout, "Timed out waiting for the mutex. Critical section did not run.")
}

// ErrQueueTimeout is returned to a queued (non-head) waiter whose
// wait_time elapsed before it reached the head of the queue.
func ErrQueueTimeout() *core.FrameworkError {
	return core.NewError(ErrCodeTimeout, "Timed out waiting in mutex queue")
}

// ErrPathNotFound is the server's 404 condition.
func ErrPathNotFound(path string) *core.FrameworkError {
	return core.NewError(ErrCodePathNotFound, fmt.Sprintf("no resource found at path %q", path))
}

// ErrMethodNotPermitted is the server's 400 condition.
func ErrMethodNotPermitted(op, path string) *core.FrameworkError {
	return core.NewError(ErrCodeMethodNotPermitted, fmt.Sprintf("method %s not permitted at path %q", op, path))
}

// ErrMutexError wraps a non-200 acquire reply observed by the client.
func ErrMutexError(status int, description string) *core.FrameworkError {
	return core.NewError(ErrCodeMutexError, fmt.Sprintf("Mutex error: (%d) %s", status, description))
}

// ErrMutexDropped is raised when the client observes its held
// acquisition settled by the remote side before it settled locally.
func ErrMutexDropped() *core.FrameworkError {
	return core.NewError(ErrCodeMutexDropped, "Mutex was dropped prematurely")
}

// ErrDispatch wraps a panic or error raised from inside a handler.
func ErrDispatch(cause error) *core.FrameworkError {
	return core.Wrap(cause, ErrCodeDispatchError, "handler dispatch failed")
}

// ErrDuplicateEndpoint is raised at construction time.
func ErrDuplicateEndpoint(class, address string) *core.FrameworkError {
	return core.NewError(ErrCodeDuplicateEndpoint, fmt.Sprintf("a %s endpoint already exists at address %q", class, address))
}

// ErrDuplicateRoute is raised when a path is registered twice.
func ErrDuplicateRoute(path string) *core.FrameworkError {
	return core.NewError(ErrCodeDuplicateRoute, fmt.Sprintf("route already registered at path %q", path))
}

// ErrResponseReuse is raised when a Response is used a second time.
func ErrResponseReuse() *core.FrameworkError {
	return core.NewError(ErrCodeResponseReuse, "response already sent")
}

// ErrConnectionLost terminates all in-flight entries when the
// underlying transport connection fails.
func ErrConnectionLost(cause error) *core.FrameworkError {
	return core.Wrap(cause, ErrCodeConnectionLost, "connection lost")
}
