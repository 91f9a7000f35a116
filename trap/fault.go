// Package trap describes synchronous guest faults and the error a host
// receives when a guest call is aborted.
//
// Guest runtimes report a fault by calling Raise (or panicking with a
// *Fault) on the goroutine running the guest. The fault-diagnosis layer
// recognises the value, records it and unwinds the innermost guest call.
package trap

import (
	"context"
	"fmt"
)

// Fault is the detail captured when a fault is diagnosed. It is stored
// on the faulting thread before the unwind so the host can retrieve it
// after the call returns.
type Fault struct {
	// Cause is the recovered panic value or engine error, if any.
	Cause any

	// Message is extra context from the engine or the diagnoser.
	Message string

	// Stack is the goroutine stack at diagnosis time, when captured.
	Stack []byte

	// Addr is the faulting address. Only meaningful when HasAddr is set.
	Addr uintptr

	HasAddr bool

	Code Code
}

// New returns a fault with the given code and message.
func New(code Code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// Newf returns a fault with a formatted message.
func Newf(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches the underlying engine error or panic value.
func (f *Fault) WithCause(cause any) *Fault {
	f.Cause = cause
	return f
}

// WithAddr attaches the faulting address.
func (f *Fault) WithAddr(addr uintptr) *Fault {
	f.Addr = addr
	f.HasAddr = true
	return f
}

// Error implements error so a *Fault can travel as a panic value and
// through engines that wrap recovered panics.
func (f *Fault) Error() string {
	msg := "guest trap: " + f.Code.String()
	if f.Message != "" && f.Message != f.Code.String() {
		msg += ": " + f.Message
	}
	if f.HasAddr {
		msg = fmt.Sprintf("%s at %#x", msg, f.Addr)
	}
	return msg
}

// Unwrap exposes the cause when it is an error.
func (f *Fault) Unwrap() error {
	if err, ok := f.Cause.(error); ok {
		return err
	}
	return nil
}

// Raise reports a synchronous guest fault. It must be called on the
// goroutine running the guest, inside an active guest call. It never
// returns.
func Raise(code Code, message string) {
	panic(New(code, message))
}

// RaiseFault reports a prepared fault. It never returns.
func RaiseFault(f *Fault) {
	panic(f)
}

// CheckInterrupt raises an Interrupted fault when ctx is done. Native
// guests call it at loop back-edges so a watchdog can stop them.
func CheckInterrupt(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		panic(New(Interrupted, err.Error()).WithCause(err))
	}
}
