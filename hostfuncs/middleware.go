package hostfuncs

import (
	"context"
	"time"

	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
	"go.uber.org/zap"
)

// Middleware wraps a ByteHandler (onion model).
type Middleware func(next ByteHandler) ByteHandler

// PanicRecoveryMiddleware converts host panics into an INTERNAL_ERROR
// response. Raised traps and in-flight unwinds are re-panicked: they are
// how a handler aborts its guest.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if _, isFault := r.(*trap.Fault); isFault || trampoline.IsUnwinding(r) {
					panic(r)
				}
				resp = NewPanicError(r).ToJSON()
				err = nil
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware logs each invocation at debug level and failures at
// warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			funcName := "unknown"
			if hc, ok := ctx.(HostContext); ok {
				funcName = hc.FunctionName()
			}
			start := time.Now()
			resp, err := next(ctx, payload)
			fields := []zap.Field{
				zap.String("function", funcName),
				zap.Int("request_bytes", len(payload)),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				logger.Warn("host function failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("host function completed", append(fields, zap.Int("response_bytes", len(resp)))...)
			}
			return resp, err
		}
	}
}

// InterruptMiddleware raises an Interrupted trap when the guest's
// context is done before the handler runs, so a watchdog deadline is
// observed at host call boundaries.
func InterruptMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			trap.CheckInterrupt(ctx)
			return next(ctx, payload)
		}
	}
}

// ObserverMiddleware reports the name, latency and error of every call.
func ObserverMiddleware(observe func(name string, elapsed time.Duration, err error)) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			name := "unknown"
			if hc, ok := ctx.(HostContext); ok {
				name = hc.FunctionName()
			}
			start := time.Now()
			resp, err := next(ctx, payload)
			observe(name, time.Since(start), err)
			return resp, err
		}
	}
}
