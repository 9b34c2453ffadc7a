package keybase

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure of the keybase adapter.
type Kind int

const (
	KindUnknown Kind = iota
	// KindBinaryNotFound means the keybase executable could not be located.
	// This is an installation problem, not a runtime failure.
	KindBinaryNotFound
	KindProcessSpawnFailed
	KindStdinWriteFailed
	// KindNonZeroExit means the child ran but reported failure. Stdout is
	// never inspected in that case.
	KindNonZeroExit
	KindInvalidTextEncoding
	KindMalformedStatusDocument
	// KindInvalidFieldEncoding means Device.status held something other
	// than the integer 0 or 1.
	KindInvalidFieldEncoding
)

func (k Kind) String() string {
	switch k {
	case KindBinaryNotFound:
		return "binary not found"
	case KindProcessSpawnFailed:
		return "process spawn failed"
	case KindStdinWriteFailed:
		return "stdin write failed"
	case KindNonZeroExit:
		return "non-zero exit"
	case KindInvalidTextEncoding:
		return "invalid text encoding"
	case KindMalformedStatusDocument:
		return "malformed status document"
	case KindInvalidFieldEncoding:
		return "invalid field encoding"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per Kind, for use with errors.Is.
var (
	ErrBinaryNotFound          = &Error{Kind: KindBinaryNotFound}
	ErrProcessSpawnFailed      = &Error{Kind: KindProcessSpawnFailed}
	ErrStdinWriteFailed        = &Error{Kind: KindStdinWriteFailed}
	ErrNonZeroExit             = &Error{Kind: KindNonZeroExit}
	ErrInvalidTextEncoding     = &Error{Kind: KindInvalidTextEncoding}
	ErrMalformedStatusDocument = &Error{Kind: KindMalformedStatusDocument}
	ErrInvalidFieldEncoding    = &Error{Kind: KindInvalidFieldEncoding}
)

// Error is the single error type returned by this package.
// Callers inspect it with errors.Is against the sentinels above,
// errors.As for the details, or KindOf.
type Error struct {
	Kind Kind
	// Op is the subcommand (or "find") that failed, e.g. "status".
	Op   string
	Path string
	// ExitCode is set for KindNonZeroExit; -1 when killed by a signal.
	ExitCode int
	// Stderr holds the tail of the child's stderr, diagnostics only.
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("keybase")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Kind == KindNonZeroExit {
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		b.WriteString(": ")
		b.WriteString(e.Stderr)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. This makes the
// package sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
