package services

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindConflict      ErrorKind = "conflict"
	KindNotFound      ErrorKind = "not_found"
	KindAuthorization ErrorKind = "authorization"
	KindCapacity      ErrorKind = "capacity"
	KindInternal      ErrorKind = "internal"
)

const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeRideNotFound        = "RIDE_NOT_FOUND"
	CodeDriverNotFound      = "DRIVER_NOT_FOUND"
	CodeRideCannotBeUpdated = "RIDE_CANNOT_BE_UPDATED"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeRideAlreadyAccepted = "RIDE_ALREADY_ACCEPTED"
	CodeDriverUnavailable   = "DRIVER_UNAVAILABLE"
	CodeInvalidOTP          = "INVALID_OTP"
	CodeNoDriversAvailable  = "NO_DRIVERS_AVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// DispatchError is returned by every service operation that fails for a
// reason the caller can act on.
type DispatchError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Is matches on Code so callers can compare against the sentinel values below.
func (e *DispatchError) Is(target error) bool {
	t, ok := target.(*DispatchError)
	return ok && t.Code == e.Code
}

var (
	ErrRideNotFound        = &DispatchError{Kind: KindNotFound, Code: CodeRideNotFound, Message: "ride not found"}
	ErrDriverNotFound      = &DispatchError{Kind: KindNotFound, Code: CodeDriverNotFound, Message: "driver not found"}
	ErrRideCannotBeUpdated = &DispatchError{Kind: KindConflict, Code: CodeRideCannotBeUpdated, Message: "ride can no longer be updated"}
	ErrInvalidTransition   = &DispatchError{Kind: KindConflict, Code: CodeInvalidTransition, Message: "status change not allowed from the current status"}
	ErrUnauthorized        = &DispatchError{Kind: KindAuthorization, Code: CodeUnauthorized, Message: "not allowed to perform this action on the ride"}
	ErrRideAlreadyAccepted = &DispatchError{Kind: KindConflict, Code: CodeRideAlreadyAccepted, Message: "ride was already accepted by another driver"}
	ErrDriverUnavailable   = &DispatchError{Kind: KindConflict, Code: CodeDriverUnavailable, Message: "driver is not available for a new ride"}
	ErrInvalidOTP          = &DispatchError{Kind: KindValidation, Code: CodeInvalidOTP, Message: "otp does not match"}
	ErrNoDriversAvailable  = &DispatchError{Kind: KindCapacity, Code: CodeNoDriversAvailable, Message: "no drivers nearby, try again shortly"}
)

func validationError(message string, err error) *DispatchError {
	return &DispatchError{Kind: KindValidation, Code: CodeValidation, Message: message, Err: err}
}

func internalError(message string, err error) *DispatchError {
	return &DispatchError{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// AsDispatchError unwraps err to a *DispatchError. Anything else is
// reported as internal.
func AsDispatchError(err error) *DispatchError {
	if err == nil {
		return nil
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return de
	}
	return internalError("unexpected failure", err)
}
