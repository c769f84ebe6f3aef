package mimir

import (
	"fmt"
)

// Kind classifies bridge errors into a closed taxonomy. Callers switch on
// the kind to distinguish invalid input from an unavailable engine.
type Kind int

const (
	// KindEngine means the engine rejected a well-formed request, for
	// example a duplicate primary key or a filter on a non-filterable
	// field. Code carries the engine's own error code.
	KindEngine Kind = iota

	// KindInstanceStartup means the engine failed to launch, bind its
	// address, or lock its data directory.
	KindInstanceStartup

	// KindInstanceNotFound means a handle was used after its instance was
	// destroyed, or the instance name is unknown.
	KindInstanceNotFound

	// KindEncoding means a document or query value shape is unsupported
	// by the wire encoding (for example a non-finite number).
	KindEncoding

	// KindTimeout means a startup or explicit wait exceeded its bound.
	KindTimeout

	// KindTransport means the channel to the engine is unreachable or
	// broken, as opposed to a business-logic rejection.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindEngine:
		return "engine"
	case KindInstanceStartup:
		return "instance_startup"
	case KindInstanceNotFound:
		return "instance_not_found"
	case KindEncoding:
		return "encoding"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned by every operation in this
// package. It preserves the engine's original code and message so callers
// can log or branch on them.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Code is the engine error code (e.g. "index_not_found") when the
	// engine reported one, or a bridge-assigned code otherwise.
	Code string

	// Message is the human-readable error message.
	Message string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mimir: %s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("mimir: %s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches by kind, and by code when the target specifies one. This lets
// errors.Is compare against &Error{Kind: KindEngine, Code: "index_not_found"}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func errorf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a mimir error of the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if me, ok := err.(*Error); ok {
			e = me
			break
		}
		err = unwrapOnce(err)
	}
	return e != nil && e.Kind == k
}

func unwrapOnce(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// errorEnvelope is the engine's wire error shape.
type errorEnvelope struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
	Link    string `json:"link,omitempty"`
}

// mapEngineError translates an engine error envelope into the closed
// taxonomy. Unknown codes stay KindEngine with the code preserved; they are
// never swallowed into a success.
func mapEngineError(status int, env errorEnvelope) *Error {
	code := env.Code
	if code == "" {
		code = "unknown"
	}
	msg := env.Message
	if msg == "" {
		msg = fmt.Sprintf("engine returned HTTP %d", status)
	}
	return newError(KindEngine, code, msg, nil)
}

func transportError(op string, cause error) *Error {
	return newError(KindTransport, "engine_unreachable",
		fmt.Sprintf("%s: %v", op, cause), cause)
}
