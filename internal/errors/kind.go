package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for the purpose of mapping it onto an HTTP
// response and deciding operator-facing severity. It is orthogonal to
// ErrorType: ErrorType says whether a caller should retry, Kind says
// what went wrong.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindInvalidState
	KindRateLimited
	KindAuth
	KindTimeout
	KindResourceExceeded
	KindExternal
	KindPathTraversal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	case KindResourceExceeded:
		return "resource_exceeded"
	case KindExternal:
		return "external"
	case KindPathTraversal:
		return "path_traversal"
	default:
		return "internal"
	}
}

// Error is a Kind-tagged, optionally coded error used at package
// boundaries (store, coordination, subprocess, scheduler) so the HTTP
// layer can map it onto a status code without string sniffing.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error wrapping cause. code is a short,
// machine-stable identifier (e.g. "task_not_found"); cause may be nil.
func New(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Err: cause}
}

// KindOf extracts the Kind from err, defaulting to KindInternal when err
// does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
