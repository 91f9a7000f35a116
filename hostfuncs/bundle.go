package hostfuncs

import (
	"context"
	"fmt"

	"github.com/reglet-dev/trapbridge/trap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// HostFuncBundle is a set of related host functions registered together.
type HostFuncBundle interface {
	Handlers() map[string]ByteHandler
}

type staticBundle struct {
	handlers map[string]ByteHandler
}

func (b *staticBundle) Handlers() map[string]ByteHandler {
	return b.handlers
}

// LogRequest asks the host to log a message on the guest's behalf.
type LogRequest struct {
	Level   string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Message string `json:"message" validate:"required"`
}

// LogResponse acknowledges a LogRequest.
type LogResponse struct{}

// AbortRequest asks the host to abort the calling guest with a trap.
type AbortRequest struct {
	// Code is a trap code slug such as "unreachable".
	Code    string `json:"code" validate:"required"`
	Message string `json:"message,omitempty"`
}

// AbortResponse is never produced; abort does not return to the guest.
type AbortResponse struct{}

// EchoRequest is answered verbatim. Guests use it to test the transport.
type EchoRequest struct {
	Message string `json:"message"`
}

// EchoResponse carries the echoed message.
type EchoResponse struct {
	Message string `json:"message"`
}

// CoreBundle returns the host functions every guest may import:
// log, abort and echo.
func CoreBundle(logger *zap.Logger) HostFuncBundle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &staticBundle{
		handlers: map[string]ByteHandler{
			"log": NewJSONHandler(func(ctx context.Context, req LogRequest) (LogResponse, error) {
				level := zapcore.InfoLevel
				if req.Level != "" {
					if err := level.Set(req.Level); err != nil {
						return LogResponse{}, err
					}
				}
				logger.Log(level, req.Message, zap.String("source", "guest"))
				return LogResponse{}, nil
			}),
			"abort": NewJSONHandler(func(ctx context.Context, req AbortRequest) (AbortResponse, error) {
				var code trap.Code
				if err := code.UnmarshalText([]byte(req.Code)); err != nil {
					return AbortResponse{}, fmt.Errorf("abort: %w", err)
				}
				trap.Raise(code, req.Message)
				return AbortResponse{}, nil
			}),
			"echo": NewJSONHandler(func(ctx context.Context, req EchoRequest) (EchoResponse, error) {
				return EchoResponse(req), nil
			}),
		},
	}
}

type compositeBundle struct {
	bundles []HostFuncBundle
}

func (b *compositeBundle) Handlers() map[string]ByteHandler {
	result := make(map[string]ByteHandler)
	for _, bundle := range b.bundles {
		for name, handler := range bundle.Handlers() {
			result[name] = handler
		}
	}
	return result
}

// Bundles combines bundles into one. Later bundles win on name clashes.
func Bundles(bundles ...HostFuncBundle) HostFuncBundle {
	return &compositeBundle{bundles: bundles}
}

// WithBundle registers every handler of a bundle.
func WithBundle(bundle HostFuncBundle) RegistryOption {
	return func(b *registryBuilder) {
		for name, handler := range bundle.Handlers() {
			if err := b.addHandler(name, handler); err != nil {
				b.errors = append(b.errors, err)
			}
		}
	}
}
