// Package errs carries the coded errors shared by the order and fulfillment services.
package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidRequest       Code = "INVALID_REQUEST"
	ProductNotFound      Code = "PRODUCT_NOT_FOUND"
	InsufficientStock    Code = "INSUFFICIENT_STOCK"
	OrderNotFound        Code = "ORDER_NOT_FOUND"
	InvalidStatus        Code = "INVALID_STATUS"
	TaskNotFound         Code = "TASK_NOT_FOUND"
	WorkerNotFound       Code = "WORKER_NOT_FOUND"
	WorkerMismatch       Code = "WORKER_MISMATCH"
	AlreadyProcessed     Code = "ALREADY_PROCESSED"
	InvalidTransition    Code = "INVALID_TRANSITION"
	FailedToUpdateStatus Code = "FAILED_TO_UPDATE_STATUS"
	AlreadyAssigned      Code = "ALREADY_ASSIGNED"
	NoAvailableWorkers   Code = "NO_AVAILABLE_WORKERS"
	FailedToAssign       Code = "FAILED_TO_ASSIGN"
)

// Error is a coded error. Two Errors match under errors.Is when their codes
// are equal, so package level sentinels keep working after wrapping.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a coded error that keeps cause reachable through errors.Is/As.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the innermost code found in err's chain, or "" when err
// carries none. The innermost code is the specific cause, e.g.
// NO_AVAILABLE_WORKERS inside FAILED_TO_ASSIGN.
func CodeOf(err error) Code {
	var code Code
	for err != nil {
		if e, ok := err.(*Error); ok {
			code = e.Code
		}
		err = errors.Unwrap(err)
	}
	return code
}

// OuterCode returns the first code in err's chain.
func OuterCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
