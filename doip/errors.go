package doip

import "fmt"

// ErrKind names the semantic category of a core error, independent of the
// Go type that carries it -- mirroring the teacher's doIPError/udsError
// pattern of a small closed enum with an Error() string switch.
type ErrKind int

const (
	// ErrGenericError is the catch-all for conditions not covered below.
	ErrGenericError ErrKind = iota
	ErrOpenFailed
	ErrBindingFailed
	ErrConnectFailed
	ErrEOF
	ErrInvalidProtocolVersion
	ErrInvalidPayloadLen
	ErrUnknownPayloadType
	ErrMalformed
	ErrTimeout
	ErrBusyProcessing
	ErrCanceled
	ErrResponsePendingOverflow
	ErrDisconnected
)

func (k ErrKind) String() string {
	switch k {
	case ErrOpenFailed:
		return "open failed"
	case ErrBindingFailed:
		return "binding failed"
	case ErrConnectFailed:
		return "connect failed"
	case ErrEOF:
		return "eof"
	case ErrInvalidProtocolVersion:
		return "invalid protocol version"
	case ErrInvalidPayloadLen:
		return "invalid payload length"
	case ErrUnknownPayloadType:
		return "unknown payload type"
	case ErrMalformed:
		return "malformed payload"
	case ErrTimeout:
		return "timeout"
	case ErrBusyProcessing:
		return "busy processing"
	case ErrCanceled:
		return "canceled"
	case ErrResponsePendingOverflow:
		return "response pending overflow"
	case ErrDisconnected:
		return "disconnected"
	default:
		return "generic error"
	}
}

// Error is the narrow error interface every error the core returns
// satisfies, grounded on the teacher's doIPError (Error/IsTimeout/
// IsDisconnected) and the uds package's udsError (Unrecoverable).
type Error interface {
	error
	Kind() ErrKind
	Timeout() bool
	Disconnected() bool
}

type coreError struct {
	kind ErrKind
	msg  string
	err  error
}

// NewError constructs an Error of the given kind with a formatted detail
// message and no wrapped cause; WrapError attaches one.
func NewError(kind ErrKind, format string, args ...interface{}) Error {
	return &coreError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapError constructs an Error of the given kind wrapping cause.
func WrapError(kind ErrKind, cause error, format string, args ...interface{}) Error {
	return &coreError{kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

func (e *coreError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("doip: %s: %s (%v)", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("doip: %s: %s", e.kind, e.msg)
}

func (e *coreError) Kind() ErrKind      { return e.kind }
func (e *coreError) Timeout() bool      { return e.kind == ErrTimeout }
func (e *coreError) Disconnected() bool { return e.kind == ErrDisconnected || e.kind == ErrCanceled }
func (e *coreError) Unwrap() error      { return e.err }

// IsTimeout reports whether err is a core Error of kind ErrTimeout.
func IsTimeout(err error) bool {
	e, ok := err.(Error)
	return ok && e.Timeout()
}

// IsDisconnected reports whether err is a core Error signalling the channel
// is no longer usable.
func IsDisconnected(err error) bool {
	e, ok := err.(Error)
	return ok && e.Disconnected()
}
