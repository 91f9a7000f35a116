package trap

import (
	stdErrors "errors"
	"fmt"
)

// ErrTrap matches every *Error via errors.Is.
var ErrTrap = stdErrors.New("guest call aborted by trap")

// Detail is the structured form of a trap error used in reports and wire
// responses.
type Detail struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	Addr      string `json:"addr,omitempty"`
	IsTimeout bool   `json:"is_timeout,omitempty"`
}

// Error is returned to the host when a guest call is aborted.
// Fault is nil when the call was aborted without recorded detail.
type Error struct {
	Fault *Fault

	// Guest names what was called (an export, a script, a function).
	Guest string
}

// NewError wraps a recorded fault. f may be nil.
func NewError(guest string, f *Fault) *Error {
	return &Error{Guest: guest, Fault: f}
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Fault != nil:
		msg = e.Fault.Error()
	default:
		msg = "guest trap at <unknown>"
	}
	if e.Guest != "" {
		return fmt.Sprintf("%s (in %s)", msg, e.Guest)
	}
	return msg
}

// Unwrap returns ErrTrap and, when present, the engine error behind the
// fault.
func (e *Error) Unwrap() []error {
	errs := []error{ErrTrap}
	if e.Fault != nil {
		if cause := e.Fault.Unwrap(); cause != nil {
			errs = append(errs, cause)
		}
	}
	return errs
}

// Code returns the trap code, or Unknown when no fault was recorded.
func (e *Error) Code() Code {
	if e.Fault == nil {
		return Unknown
	}
	return e.Fault.Code
}

// Timeout reports whether the guest was stopped by a watchdog.
func (e *Error) Timeout() bool {
	return e.Code() == Interrupted
}

// ToErrorDetail converts the error to its structured form.
func (e *Error) ToErrorDetail() *Detail {
	d := &Detail{
		Message:   e.Error(),
		Type:      "trap",
		Code:      e.Code().Slug(),
		IsTimeout: e.Timeout(),
	}
	if e.Fault != nil && e.Fault.HasAddr {
		d.Addr = fmt.Sprintf("%#x", e.Fault.Addr)
	}
	if d.IsTimeout {
		d.Type = "timeout"
	}
	return d
}

// CodeOf returns the trap code carried by err, and false if err is not
// a trap.
func CodeOf(err error) (Code, bool) {
	var te *Error
	if stdErrors.As(err, &te) {
		return te.Code(), true
	}
	return Unknown, false
}
