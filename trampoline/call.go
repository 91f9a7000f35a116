package trampoline

import (
	"runtime/debug"
)

// Outcome is the result of a guest call.
type Outcome uint8

const (
	// Completed means the guest body returned normally.
	Completed Outcome = iota + 1
	// Aborted means a fault unwound the call before the body returned.
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "invalid"
	}
}

// noCopy is recognised by go vet's copylocks check.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// ResumePoint marks the trampoline frame an unwind returns to. Only the
// trampoline creates one and only Unwind consumes one.
type ResumePoint struct {
	_      noCopy
	signal unwindSignal
}

// unwindSignal is the panic value thrown by Unwind. It lives inside the
// ResumePoint so throwing it does not allocate.
type unwindSignal struct {
	point *ResumePoint
}

func (*unwindSignal) Error() string {
	return "trampoline: unwinding to guest call site"
}

// Call invokes a zero-argument guest entry point under a new scope.
func Call[C any](t *Thread, vmctx C, body func(C)) Outcome {
	return t.call(func() { body(vmctx) })
}

// CallWithArgs invokes a guest entry point that takes a packed argument
// block. values holds the parameters on entry; the body writes results
// back into it.
func CallWithArgs[C any](t *Thread, vmctx C, body func(C, []uint64), values []uint64) Outcome {
	return t.call(func() { body(vmctx, values) })
}

func (t *Thread) call(invoke func()) Outcome {
	outcome := t.enter(invoke)
	if outcome == Aborted {
		t.runAfterUnwind()
	}
	return outcome
}

// enter pushes a resume point, runs invoke and reports how control came
// back. The pop is deferred so it runs on the fall-through path, on the
// unwind path and when a host fault propagates through.
func (t *Thread) enter(invoke func()) (outcome Outcome) {
	rp := &ResumePoint{}
	rp.signal.point = rp

	tok := t.registry.Push(rp)
	if t.panicOnFault {
		prev := debug.SetPanicOnFault(true)
		defer debug.SetPanicOnFault(prev)
	}
	defer t.registry.Pop(tok)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if sig, ok := r.(*unwindSignal); ok && sig.point == rp {
			outcome = Aborted
			return
		}
		panic(r)
	}()

	t.deliver(invoke)
	return Completed
}

// deliver runs the guest body and routes any escaping panic to the fault
// handler, the way a signal handler would see a machine trap.
func (t *Thread) deliver(invoke func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(*unwindSignal); ok {
			panic(r)
		}
		if t.handler != nil {
			t.handler.HandleFault(t, r)
		}
		// Declined: a genuine host fault. Work the handler scheduled for
		// an unwind that never happened is dropped.
		t.afterUnwind = nil
		panic(r)
	}()
	invoke()
}
