// Package trampoline is the only way host code enters guest code.
//
// A guest call runs on the calling goroutine inside a scope that can be
// abandoned when the guest faults:
//
//	t := trampoline.NewThread(trampoline.WithFaultHandler(guard))
//	switch trampoline.Call(t, inst, runGuest) {
//	case trampoline.Completed:
//	    // guest returned normally
//	case trampoline.Aborted:
//	    f := t.TakeFault() // detail recorded by the fault handler, may be nil
//	}
//
// Each call pushes a ResumePoint onto the Thread's scope registry and runs
// the body in a delivery frame. A panic escaping the body is handed to the
// Thread's FaultHandler. If the handler attributes the fault to the guest
// it calls Unwind, which transfers control back to the innermost call and
// makes it return Aborted. Otherwise the panic continues as a host fault.
//
// The transfer is a Go panic, so deferred calls in the abandoned frames
// still run. Resources that must be released when a guest call is
// abandoned belong in a defer, or in AfterUnwind.
//
// A Thread belongs to a single goroutine. Concurrent guest calls need one
// Thread per goroutine.
package trampoline
