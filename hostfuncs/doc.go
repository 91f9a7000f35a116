// Package hostfuncs holds the host functions a guest may import.
//
// Handlers are plain Go: they take and return JSON bytes and know
// nothing about the engine calling them. Engine adapters read the
// request out of guest memory, call HandlerRegistry.Dispatch on the guest's
// goroutine and write the response back.
//
// A handler can abort the calling guest by raising a trap (trap.Raise or
// returning an error). Responses of type ErrorResponse are data for the
// guest to inspect and do not abort it.
package hostfuncs
