package trampoline

import (
	"errors"
	"os"
)

// Unwind abandons the innermost guest call on this thread and resumes
// its trampoline, which then returns Aborted. It never returns.
//
// Only a FaultHandler may call Unwind, and only after it has decided the
// current fault belongs to guest code. Calling it with no active guest
// call means a fault was misattributed; the process is terminated.
func (t *Thread) Unwind() {
	rp, ok := t.registry.Top()
	if !ok {
		t.logger.Fatal("trampoline: unwind requested with no active guest call")
		// Fatal hooks installed by tests may return.
		os.Exit(2)
	}
	panic(&rp.signal)
}

// ForwardUnwind resumes an unwind that a guest engine intercepted and
// returned as an error. Engines that recover panics inside their own
// frames (wazero wraps them with %w) would otherwise end the transfer
// early. It is a no-op for any other error.
func ForwardUnwind(err error) {
	var sig *unwindSignal
	if errors.As(err, &sig) {
		panic(sig)
	}
}

// IsUnwinding reports whether a recovered panic value is an in-flight
// unwind. Code that recovers panics while guest calls may be active must
// re-panic such values.
func IsUnwinding(recovered any) bool {
	switch v := recovered.(type) {
	case *unwindSignal:
		return true
	case error:
		var sig *unwindSignal
		return errors.As(v, &sig)
	default:
		return false
	}
}
