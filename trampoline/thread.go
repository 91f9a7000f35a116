package trampoline

import (
	"github.com/reglet-dev/trapbridge/internal/scope"
	"github.com/reglet-dev/trapbridge/trap"
	"go.uber.org/zap"
)

// FaultHandler diagnoses a panic that escaped a guest body.
//
// HandleFault runs on the faulting goroutine while the guest call is
// still active. If the fault is attributable to the guest it must call
// t.Unwind, which does not return. Returning declines the fault, and the
// original value is re-panicked as a host fault.
type FaultHandler interface {
	HandleFault(t *Thread, recovered any)
}

// FaultHandlerFunc adapts a function to FaultHandler.
type FaultHandlerFunc func(t *Thread, recovered any)

// HandleFault implements FaultHandler.
func (f FaultHandlerFunc) HandleFault(t *Thread, recovered any) {
	f(t, recovered)
}

// Thread is the per-goroutine state of the bridge: the scope registry of
// active guest calls plus the slot for the last diagnosed fault.
// A Thread is not safe for concurrent use.
type Thread struct {
	registry     scope.Registry[*ResumePoint]
	handler      FaultHandler
	logger       *zap.Logger
	fault        *trap.Fault
	afterUnwind  []func()
	panicOnFault bool
}

// Option configures a Thread.
type Option func(*Thread)

// WithFaultHandler sets the collaborator that decides whether a panic is
// a guest fault. Without one every panic is treated as a host fault.
func WithFaultHandler(h FaultHandler) Option {
	return func(t *Thread) {
		t.handler = h
	}
}

// WithLogger sets the logger used for the fatal misuse path.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Thread) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithPanicOnFault controls whether guest calls run with
// debug.SetPanicOnFault enabled (default true). Memory faults at
// non-nil addresses only reach the fault handler when it is enabled.
func WithPanicOnFault(enabled bool) Option {
	return func(t *Thread) {
		t.panicOnFault = enabled
	}
}

// NewThread creates the bridge state for the calling goroutine.
func NewThread(opts ...Option) *Thread {
	t := &Thread{
		logger:       zap.NewNop(),
		panicOnFault: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Depth returns the number of active guest calls on this thread.
func (t *Thread) Depth() int {
	return t.registry.Depth()
}

// Active reports whether a guest call is in progress.
func (t *Thread) Active() bool {
	return t.registry.Depth() > 0
}

// RecordFault stores the detail of the fault about to be unwound. Only
// the fault handler should call it, before Unwind.
func (t *Thread) RecordFault(f *trap.Fault) {
	t.fault = f
}

// TakeFault returns the last recorded fault and clears the slot.
func (t *Thread) TakeFault() *trap.Fault {
	f := t.fault
	t.fault = nil
	return f
}

// AfterUnwind schedules fn to run once the innermost aborted call has
// popped its resume point, before it returns Aborted. Fault handlers use
// it for work that is unsafe during the transfer itself.
func (t *Thread) AfterUnwind(fn func()) {
	t.afterUnwind = append(t.afterUnwind, fn)
}

func (t *Thread) runAfterUnwind() {
	pending := t.afterUnwind
	t.afterUnwind = nil
	for _, fn := range pending {
		fn()
	}
}
