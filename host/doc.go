// Package host assembles the bridge for an embedding application.
//
// An Executor owns the configuration, the logger, the metrics, the fault
// guard, the host function registry and the guest engines. Each
// goroutine that calls into guests takes its own Thread from NewThread
// and passes it to every call it makes:
//
//	exec, err := host.NewExecutor(ctx, config.LoadOrDefault())
//	if err != nil {
//	    return err
//	}
//	defer exec.Close(ctx)
//
//	t := exec.NewThread()
//	rep, err := exec.RunWasm(ctx, t, wasm, "run")
//
// A guest fault aborts only the call it happened in. The returned error
// is a *trap.Error and the report records the trap.
package host
