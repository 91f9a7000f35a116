package hostfuncs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reglet-dev/trapbridge/trap"
)

// ErrorResponse is a structured error returned to the guest as data.
// It does not abort the guest.
type ErrorResponse struct {
	// Error is a machine-readable type, e.g. "VALIDATION_ERROR".
	Error string `json:"error"`

	Message string `json:"message"`

	// Code follows HTTP status semantics.
	Code int `json:"code"`
}

// ToJSON serializes the ErrorResponse. It returns nil if serialization
// fails, which cannot happen for this type.
func (e ErrorResponse) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return data
}

// NewValidationError creates an error response for bad input.
func NewValidationError(message string) ErrorResponse {
	return ErrorResponse{
		Error:   "VALIDATION_ERROR",
		Message: message,
		Code:    400,
	}
}

// NewNotFoundError creates an error response for unknown handler names.
func NewNotFoundError(name string) ErrorResponse {
	return ErrorResponse{
		Error:   "NOT_FOUND",
		Message: "unknown host function: " + name,
		Code:    404,
	}
}

// NewInternalError creates an error response for unexpected failures.
func NewInternalError(message string) ErrorResponse {
	return ErrorResponse{
		Error:   "INTERNAL_ERROR",
		Message: message,
		Code:    500,
	}
}

// NewPanicError creates an error response for a recovered host panic.
func NewPanicError(panicValue any) ErrorResponse {
	var msg string
	switch v := panicValue.(type) {
	case error:
		msg = v.Error()
	case string:
		msg = v
	default:
		msg = fmt.Sprintf("%v", v)
	}
	return ErrorResponse{
		Error:   "INTERNAL_ERROR",
		Message: "panic: " + msg,
		Code:    500,
	}
}

// FaultFromError converts the error a handler returned into the trap
// that aborts the guest. A fault already carried by err is returned
// unchanged.
func FaultFromError(name string, err error) *trap.Fault {
	var f *trap.Fault
	if errors.As(err, &f) {
		return f
	}
	return trap.Newf(trap.HostFault, "%s: %v", name, err).WithCause(err)
}
