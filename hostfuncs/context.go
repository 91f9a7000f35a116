package hostfuncs

import (
	"context"

	"github.com/reglet-dev/trapbridge/trampoline"
)

// HostContext is the context a handler receives. It names the invoked
// function and gives access to the calling guest's thread.
type HostContext interface {
	context.Context

	// FunctionName returns the name of the host function being invoked.
	FunctionName() string

	// Thread returns the bridge state of the goroutine running the
	// guest, if the engine attached one. Handlers use it to make nested
	// guest calls.
	Thread() (*trampoline.Thread, bool)

	// SetValue stores a request-scoped value. Unlike context.WithValue it
	// mutates the HostContext.
	SetValue(key, value any)

	// GetValue retrieves a value stored by SetValue.
	GetValue(key any) (value any, ok bool)
}

type hostContext struct {
	context.Context
	values   map[any]any
	funcName string
}

// NewHostContext creates a HostContext wrapping ctx.
func NewHostContext(ctx context.Context, funcName string) HostContext {
	return &hostContext{
		Context:  ctx,
		funcName: funcName,
	}
}

func (c *hostContext) FunctionName() string {
	return c.funcName
}

func (c *hostContext) Thread() (*trampoline.Thread, bool) {
	return trampoline.ThreadFromContext(c.Context)
}

func (c *hostContext) SetValue(key, value any) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = value
}

func (c *hostContext) GetValue(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// HostContextFrom returns ctx if it already is a HostContext for
// funcName, and wraps it otherwise.
func HostContextFrom(ctx context.Context, funcName string) HostContext {
	if hc, ok := ctx.(HostContext); ok && hc.FunctionName() == funcName {
		return hc
	}
	return NewHostContext(ctx, funcName)
}
