package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds. A *Error wraps at most one of these, so callers can test with errors.Is.
var (
	// ErrTimeout means a watchdog fired before the operation finished.
	ErrTimeout = errors.New("TIMEOUT")
	// ErrConnectionTerminated means the connection was torn down under the request.
	ErrConnectionTerminated = errors.New("CONNECTION_TERMINATED")
	// ErrSendFailed means the frame could not be written to the socket.
	ErrSendFailed = errors.New("SEND_FAILED")
	// ErrMalformedResponse means the response could not be interpreted.
	ErrMalformedResponse = errors.New("MALFORMED_RESPONSE")
)

// JSON-RPC and CDP error codes that make retrying pointless.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeServerError    = -32000
)

// Error represents a CDP protocol error. Remote errors decode straight into it.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`

	// RequestID is the id of the offending request, zero when unknown.
	RequestID int64 `json:"-"`

	kind error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("cdp error")
	if e.kind != nil {
		fmt.Fprintf(&b, " %s", e.kind)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " %d", e.Code)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Data != "" {
		fmt.Fprintf(&b, " (%s)", e.Data)
	}
	if e.RequestID != 0 {
		fmt.Fprintf(&b, " [request %d]", e.RequestID)
	}
	return b.String()
}

// Unwrap exposes the error kind.
func (e *Error) Unwrap() error {
	return e.kind
}

func newTimeoutError(requestID int64, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), RequestID: requestID, kind: ErrTimeout}
}

func newTerminatedError(requestID int64, reason string) *Error {
	return &Error{Message: reason, RequestID: requestID, kind: ErrConnectionTerminated}
}

func newSendError(requestID int64, err error) *Error {
	return &Error{Message: err.Error(), RequestID: requestID, kind: ErrSendFailed}
}

func newMalformedError(requestID int64, format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), RequestID: requestID, kind: ErrMalformedResponse}
}

// remoteError attaches the request id to an error reported by the browser.
func remoteError(requestID int64, e *Error) *Error {
	out := *e
	out.RequestID = requestID
	return &out
}

// IsRetryable reports whether err may succeed on a later attempt.
// Errors with a code in the reserved JSON-RPC range or the generic
// execution-error code are final. Context cancellation and connection
// termination are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrConnectionTerminated) {
		return false
	}
	var cdpErr *Error
	if !errors.As(err, &cdpErr) {
		return true
	}
	code := cdpErr.Code
	if code >= codeParseError && code <= codeInvalidRequest {
		return false
	}
	return code != codeServerError
}

// resultTag classifies one attempt of a retried operation.
type resultTag int

const (
	tagOK resultTag = iota
	tagRetry
	tagFatal
)

// classify tags the outcome of an attempt. closed forces fatal. A termination
// while the connection is still open came from a socket teardown, and the next
// attempt runs on a fresh socket.
func classify(err error, closed bool) resultTag {
	switch {
	case err == nil:
		return tagOK
	case closed:
		return tagFatal
	case errors.Is(err, ErrConnectionTerminated):
		return tagRetry
	case !IsRetryable(err):
		return tagFatal
	default:
		return tagRetry
	}
}
