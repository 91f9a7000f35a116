// Package wazero runs WebAssembly guests on the wazero runtime through
// the trampoline.
//
// Every exported-function call goes through trampoline.CallWithArgs with
// wazero's CallWithStack value block as the packed argument block. Wasm
// traps come back from wazero as errors on the guest goroutine; they are
// raised as *trap.Fault so the thread's fault handler unwinds the call,
// and the caller receives a *trap.Error.
//
// # Basic Usage
//
//	registry, err := hostfuncs.NewRegistry(
//	    hostfuncs.WithBundle(hostfuncs.CoreBundle(logger)),
//	)
//	if err != nil {
//	    return err
//	}
//
//	engine, err := wazero.NewEngine(ctx, wazero.WithRegistry(registry))
//	if err != nil {
//	    return err
//	}
//	defer engine.Close(ctx)
//
//	inst, err := engine.Instantiate(ctx, wasmBytes, "guest")
//	if err != nil {
//	    return err
//	}
//
//	t := trampoline.NewThread(trampoline.WithFaultHandler(faultguard.New()))
//	results, err := inst.Call(ctx, t, "run", 1, 2)
//
// # Host Functions
//
// Registry handlers are exported from the "trapbridge_host" module using
// a packed i64 pointer+length convention; the response buffer comes from
// the guest's "allocate" export. Handlers that do not fit that shape are
// added with WithCustomHandler.
package wazero
