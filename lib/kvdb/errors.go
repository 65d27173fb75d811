package kvdb

import (
	"errors"
	"fmt"
	"syscall"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// Code identifies the cause of an Error
type Code uint32

const (
	CodeOK             Code = iota // 0: no error (only used on the wire)
	CodeInvalid                    // 1: Invalid argument or illegal state transition
	CodeExists                     // 2: KVDB or KVS already exists
	CodeNotFound                   // 3: KVDB, KVS, transaction or cursor does not exist (never a missing key)
	CodeConflict                   // 4: Write-write conflict, retry in a new transaction
	CodeTooLarge                   // 5: Key or value exceeds its limit
	CodeClosed                     // 6: The handle or its KVDB was closed
	CodeNotInitialized             // 7: Used outside the Init/Fini window
	CodeBusy                       // 8: Resource is in use (open KVDB, open KVS, double Init)
	CodeReadOnly                   // 9: Mutation on a read-only KVDB
	CodeEngine                     // 10: Error from the storage engine
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalid:
		return "Invalid"
	case CodeExists:
		return "Exists"
	case CodeNotFound:
		return "NotFound"
	case CodeConflict:
		return "Conflict"
	case CodeTooLarge:
		return "TooLarge"
	case CodeClosed:
		return "Closed"
	case CodeNotInitialized:
		return "NotInitialized"
	case CodeBusy:
		return "Busy"
	case CodeReadOnly:
		return "ReadOnly"
	case CodeEngine:
		return "Engine"
	default:
		return "Unknown"
	}
}

// Kind groups codes by how callers are expected to react
type Kind uint8

const (
	KindUsage    Kind = iota + 1 // Caller bug or illegal state, never retried
	KindConflict                 // Retryable in a fresh transaction epoch
	KindEngine                   // Originates below the core, propagated verbatim
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindConflict:
		return "conflict"
	case KindEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Kind returns the kind of the code
func (c Code) Kind() Kind {
	switch c {
	case CodeConflict:
		return KindConflict
	case CodeEngine:
		return KindEngine
	default:
		return KindUsage
	}
}

// Errno maps the code to the errno the original engine API reports for it
func (c Code) Errno() syscall.Errno {
	switch c {
	case CodeInvalid:
		return syscall.EINVAL
	case CodeExists:
		return syscall.EEXIST
	case CodeNotFound:
		return syscall.ENOENT
	case CodeConflict:
		return syscall.ECANCELED
	case CodeTooLarge:
		return syscall.E2BIG
	case CodeClosed:
		return syscall.EBADF
	case CodeNotInitialized:
		return syscall.ENXIO
	case CodeBusy:
		return syscall.EBUSY
	case CodeReadOnly:
		return syscall.EROFS
	case CodeEngine:
		return syscall.EIO
	default:
		return 0
	}
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is returned by every fallible operation of the package.
// Missing keys are never errors, they are reported through the found flag of the result.
type Error struct {
	Code Code   // The error code
	Op   string // The operation that failed, e.g. "kvs.put"
	Msg  string // Human readable context
	Err  error  // The wrapped engine error, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("kvdb (%s): %s", e.Code, msg)
	}
	return fmt.Sprintf("kvdb %s (%s): %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind returns the kind of the error code
func (e *Error) Kind() Kind { return e.Code.Kind() }

// Is matches errors with the same code, so errors.Is(err, &Error{Code: CodeConflict}) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Msg == ""
}

// NewError creates a new error with the given code and message
func NewError(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// engineError wraps an error from the storage engine
func engineError(op string, err error) *Error {
	return &Error{Code: CodeEngine, Op: op, Err: err}
}

var (
	ErrConflict       = &Error{Code: CodeConflict}
	ErrClosed         = &Error{Code: CodeClosed}
	ErrNotInitialized = &Error{Code: CodeNotInitialized}
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// CodeOf returns the code of err, CodeOK for nil and CodeEngine for foreign errors
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeEngine
}

// KindOf returns the kind of err (0 for nil)
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	return CodeOf(err).Kind()
}

// IsUsage reports if err is a usage error
func IsUsage(err error) bool { return err != nil && KindOf(err) == KindUsage }

// IsConflict reports if err is a retryable write-write conflict
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsEngine reports if err originates from the storage engine
func IsEngine(err error) bool { return err != nil && KindOf(err) == KindEngine }

// IsNotFound reports if err names a missing KVDB, KVS or handle
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// Errno returns the errno for err (0 for nil)
func Errno(err error) syscall.Errno {
	return CodeOf(err).Errno()
}
