package rpma

import (
	"errors"
	"fmt"

	"github.com/pmemlab/rpma/internal/errctx"
	"github.com/pmemlab/rpma/internal/fabric"
)

// Code is a stable negative error code identifying one taxonomy kind.
type Code int

const (
	CodeUnknown         Code = -100000
	CodeNotSupported    Code = -100001
	CodeProvider        Code = -100002
	CodeNoMemory        Code = -100003
	CodeInvalidArgument Code = -100004
)

// Error is the typed outcome of a failed rpma call. Provider errors carry
// the underlying provider errno alongside the taxonomy code.
type Error struct {
	code  Code
	errno int
	msg   string
}

// Sentinel values for errors.Is matching; comparison is by taxonomy code.
var (
	ErrUnknown         = &Error{code: CodeUnknown, msg: "unknown error"}
	ErrNotSupported    = &Error{code: CodeNotSupported, msg: "not supported"}
	ErrProvider        = &Error{code: CodeProvider, msg: "provider error"}
	ErrNoMemory        = &Error{code: CodeNoMemory, msg: "out of memory"}
	ErrInvalidArgument = &Error{code: CodeInvalidArgument, msg: "invalid argument"}
)

func (e *Error) Error() string {
	if e.errno != 0 {
		return fmt.Sprintf("rpma: %s (provider errno %d)", e.msg, e.errno)
	}

	return "rpma: " + e.msg
}

// Code returns the taxonomy code.
func (e *Error) Code() Code { return e.code }

// ProviderErrno returns the underlying provider errno, or zero for
// non-provider errors.
func (e *Error) ProviderErrno() int { return e.errno }

// Is matches errors of the same taxonomy code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.code == e.code
}

// LastProviderError returns the provider errno from the calling
// goroutine's most recent failure record.
func LastProviderError() int { return errctx.ProviderErrno() }

// LastErrorMessage returns the message from the calling goroutine's most
// recent failure record. The record is overwritten by the next failing call
// on this goroutine and is never cleared implicitly.
func LastErrorMessage() string { return errctx.Message() }

// failInval builds an invalid-argument error and records it for the
// calling goroutine.
func failInval(msg string) error {
	errctx.Set(0, msg)

	return &Error{code: CodeInvalidArgument, msg: msg}
}

// failProvider converts a fabric failure into the taxonomy. ENOMEM-class
// conditions map to CodeNoMemory; a fabric error without errno maps to
// CodeUnknown.
func failProvider(op string, err error) error {
	var fe *fabric.Error
	if !errors.As(err, &fe) {
		msg := op + ": " + err.Error()
		errctx.Set(0, msg)

		return &Error{code: CodeUnknown, msg: msg}
	}

	msg := op + ": " + fe.Error()

	if fe.Errno == fabric.ENOBUFS {
		errctx.Set(fe.Errno, msg)

		return &Error{code: CodeNoMemory, errno: fe.Errno, msg: msg}
	}

	errctx.Set(fe.Errno, msg)

	return &Error{code: CodeProvider, errno: fe.Errno, msg: msg}
}
