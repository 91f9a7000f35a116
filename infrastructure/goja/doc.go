// Package goja runs JavaScript guests on the goja interpreter through the
// trampoline.
//
// Scripts run under trampoline.Call on the caller's goroutine. Uncaught
// exceptions, call-stack exhaustion and watchdog interrupts are raised as
// traps, so the thread's fault handler unwinds the call and the caller
// receives a *trap.Error. Go panics from host functions pass through
// goja untouched, which lets a host function abort its guest with
// trap.Raise.
package goja
