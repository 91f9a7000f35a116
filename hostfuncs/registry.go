package hostfuncs

import (
	"context"
	"fmt"
	"sort"

	"github.com/reglet-dev/trapbridge/trap"
)

// DefaultMaxRequestSize limits the size of a request an engine adapter
// reads out of guest memory (1MB).
const DefaultMaxRequestSize = 1 * 1024 * 1024

// HandlerRegistry is an immutable collection of named host functions.
// It is safe for concurrent use by any number of guest threads.
type HandlerRegistry struct {
	handlers map[string]ByteHandler
	names    []string // sorted
}

type registryBuilder struct {
	handlers   map[string]ByteHandler
	middleware []Middleware
	errors     []error
}

// NewRegistry creates an immutable HandlerRegistry. It returns an error
// if a handler name is empty or registered twice.
//
//	registry, err := NewRegistry(
//	    WithMiddleware(PanicRecoveryMiddleware()),
//	    WithBundle(CoreBundle(logger)),
//	    WithHandler("custom", customHandler),
//	)
func NewRegistry(opts ...RegistryOption) (*HandlerRegistry, error) {
	b := &registryBuilder{
		handlers: make(map[string]ByteHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	names := make([]string, 0, len(b.handlers))
	wrapped := make(map[string]ByteHandler, len(b.handlers))
	for name, handler := range b.handlers {
		names = append(names, name)
		// Reverse order so the first middleware is outermost.
		for i := len(b.middleware) - 1; i >= 0; i-- {
			handler = b.middleware[i](handler)
		}
		wrapped[name] = handler
	}
	sort.Strings(names)

	return &HandlerRegistry{handlers: wrapped, names: names}, nil
}

// Invoke calls the named handler. An unknown name is answered with a
// NOT_FOUND ErrorResponse, not an error.
func (r *HandlerRegistry) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return NewNotFoundError(name).ToJSON(), nil
	}
	return handler(HostContextFrom(ctx, name), payload)
}

// Dispatch is Invoke for engine adapters running on a guest goroutine:
// a handler error raises a HostFault trap instead of being returned.
func (r *HandlerRegistry) Dispatch(ctx context.Context, name string, payload []byte) []byte {
	resp, err := r.Invoke(ctx, name, payload)
	if err != nil {
		trap.RaiseFault(FaultFromError(name, err))
	}
	return resp
}

// Has reports whether a handler is registered under name.
func (r *HandlerRegistry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered handler names in sorted order.
func (r *HandlerRegistry) Names() []string {
	result := make([]string, len(r.names))
	copy(result, r.names)
	return result
}

func (b *registryBuilder) addHandler(name string, handler ByteHandler) error {
	if name == "" {
		return fmt.Errorf("handler name cannot be empty")
	}
	if _, exists := b.handlers[name]; exists {
		return fmt.Errorf("duplicate handler name: %q", name)
	}
	b.handlers[name] = handler
	return nil
}

// RegistryOption configures a HandlerRegistry under construction.
type RegistryOption func(*registryBuilder)

// WithByteHandler registers a raw ByteHandler.
func WithByteHandler(name string, handler ByteHandler) RegistryOption {
	return func(b *registryBuilder) {
		if err := b.addHandler(name, handler); err != nil {
			b.errors = append(b.errors, err)
		}
	}
}

// WithHandler registers a typed host function behind NewJSONHandler.
func WithHandler[Req any, Resp any](name string, fn HostFunc[Req, Resp]) RegistryOption {
	return WithByteHandler(name, NewJSONHandler(fn))
}

// WithMiddleware adds middleware, applied in FIFO order (first added
// wraps outermost).
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
