package flush

import (
	"errors"
	"fmt"
)

// Error represents a failure detected by the flush coordinator.
//
// Errors include:
//   - Invalid argument: a nil unit of work was registered
//   - Already flushed: Register or Flush called on a flushed controller
//   - Flush failed: a unit's Flush returned an error
//   - Flush panic: a unit's Flush panicked
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OperationID identifies the controller's logical operation.
	OperationID string

	// Unit names the failing unit of work (flush errors only).
	Unit string

	// Group is the failing unit's flush group, if any.
	Group string

	// Lane is the lane the failing flush ran on.
	Lane Lane

	// Err is the underlying failure, if any.
	Err error
}

// ErrorCode categorizes coordinator errors.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates a caller bug such as registering nil.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// ErrCodeAlreadyFlushed indicates the controller has left the collecting state.
	ErrCodeAlreadyFlushed ErrorCode = "ALREADY_FLUSHED"

	// ErrCodeFlushFailed indicates a unit's Flush returned an error.
	ErrCodeFlushFailed ErrorCode = "FLUSH_FAILED"

	// ErrCodeFlushPanic indicates a unit's Flush panicked.
	ErrCodeFlushPanic ErrorCode = "FLUSH_PANIC"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Unit != "" {
		if e.Group != "" {
			msg = fmt.Sprintf("%s (unit=%s, group=%s, lane=%s)", msg, e.Unit, e.Group, e.Lane)
		} else {
			msg = fmt.Sprintf("%s (unit=%s, lane=%s)", msg, e.Unit, e.Lane)
		}
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidArgument reports whether err is an invalid-argument error.
// Uses errors.As to handle wrapped errors.
func IsInvalidArgument(err error) bool {
	return hasCode(err, ErrCodeInvalidArgument)
}

// IsAlreadyFlushed reports whether err came from using a flushed controller.
func IsAlreadyFlushed(err error) bool {
	return hasCode(err, ErrCodeAlreadyFlushed)
}

// IsFlushFailure reports whether err is (or wraps) a unit flush failure,
// including recovered panics.
func IsFlushFailure(err error) bool {
	return hasCode(err, ErrCodeFlushFailed) || hasCode(err, ErrCodeFlushPanic)
}

func hasCode(err error, code ErrorCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

func newNilUnitError(operationID string) *Error {
	return &Error{
		Code:        ErrCodeInvalidArgument,
		Message:     "unit of work must not be nil",
		OperationID: operationID,
	}
}

func newAlreadyFlushedError(operationID, op string) *Error {
	return &Error{
		Code:        ErrCodeAlreadyFlushed,
		Message:     fmt.Sprintf("%s after flush", op),
		OperationID: operationID,
	}
}

// newFlushError builds a unit failure. s is nil when the item is flushed
// outside a controller.
func newFlushError(s *scope, item *Item, err error) *Error {
	fe := &Error{
		Code:    ErrCodeFlushFailed,
		Message: "unit of work flush failed",
		Unit:    item.Name(),
		Group:   item.Group(),
		Err:     err,
	}
	if s != nil {
		fe.OperationID = s.operationID
		fe.Lane = s.lane
	}
	return fe
}

func newPanicError(s *scope, item *Item, recovered any) *Error {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("%v", recovered)
	}
	fe := newFlushError(s, item, err)
	fe.Code = ErrCodeFlushPanic
	fe.Message = "unit of work flush panicked"
	return fe
}
