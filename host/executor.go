package host

import (
	"context"
	"fmt"

	"github.com/reglet-dev/trapbridge/config"
	"github.com/reglet-dev/trapbridge/faultguard"
	"github.com/reglet-dev/trapbridge/hostfuncs"
	gojaengine "github.com/reglet-dev/trapbridge/infrastructure/goja"
	wasmengine "github.com/reglet-dev/trapbridge/infrastructure/wazero"
	"github.com/reglet-dev/trapbridge/internal/logging"
	"github.com/reglet-dev/trapbridge/internal/metrics"
	"github.com/reglet-dev/trapbridge/trampoline"
	"go.uber.org/zap"
)

// Executor ties the fault guard, host functions and guest engines
// together. It is safe for concurrent use; Threads are not.
type Executor struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	guard    *faultguard.Guard
	registry *hostfuncs.HandlerRegistry
	wasm     *wasmengine.Engine
	hostOpts []hostfuncs.RegistryOption
}

// NewExecutor creates an executor from cfg. A nil cfg uses
// config.Default.
func NewExecutor(ctx context.Context, cfg *config.Config, opts ...Option) (*Executor, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		logger, err := logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		e.logger = logger
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}

	e.guard = faultguard.New(
		faultguard.WithLogger(e.logger),
		faultguard.WithObserver(e.metrics.RecordTrap),
		faultguard.WithArithmeticAttribution(cfg.Fault.ArithmeticAttribution),
		faultguard.WithStackCapture(cfg.Fault.CaptureStack),
	)

	registryOpts := []hostfuncs.RegistryOption{
		hostfuncs.WithMiddleware(
			hostfuncs.ObserverMiddleware(e.metrics.RecordHostCall),
			hostfuncs.LoggingMiddleware(e.logger),
			hostfuncs.PanicRecoveryMiddleware(),
			hostfuncs.InterruptMiddleware(),
		),
		hostfuncs.WithBundle(hostfuncs.CoreBundle(e.logger)),
	}
	registry, err := hostfuncs.NewRegistry(append(registryOpts, e.hostOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create host function registry: %w", err)
	}
	e.registry = registry

	e.wasm, err = wasmengine.NewEngine(ctx,
		wasmengine.WithRegistry(registry),
		wasmengine.WithLogger(e.logger),
		wasmengine.WithModuleName(cfg.Wasm.HostModule),
		wasmengine.WithMaxRequestSize(cfg.Wasm.MaxRequestSize),
		wasmengine.WithMemoryLimitPages(cfg.Wasm.MemoryLimitPages),
		wasmengine.WithInterpreter(cfg.Wasm.Interpreter),
	)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("executor ready",
		zap.Strings("host_functions", registry.Names()),
		zap.Bool("interpreter", cfg.Wasm.Interpreter),
	)
	return e, nil
}

// NewThread returns bridge state for the calling goroutine, wired to the
// executor's fault guard.
func (e *Executor) NewThread() *trampoline.Thread {
	return trampoline.NewThread(
		trampoline.WithFaultHandler(e.guard),
		trampoline.WithLogger(e.logger),
		trampoline.WithPanicOnFault(e.cfg.Fault.PanicOnFault),
	)
}

// NewScript creates a JavaScript runtime bound to the executor's host
// functions. opts are applied after the configured defaults.
func (e *Executor) NewScript(opts ...gojaengine.Option) (*gojaengine.Runtime, error) {
	base := []gojaengine.Option{
		gojaengine.WithRegistry(e.registry),
		gojaengine.WithLogger(e.logger),
		gojaengine.WithMaxCallStackSize(e.cfg.Script.MaxCallStackSize),
		gojaengine.WithTimeout(e.cfg.Timeout),
	}
	return gojaengine.New(append(base, opts...)...)
}

// Wasm returns the WebAssembly engine.
func (e *Executor) Wasm() *wasmengine.Engine {
	return e.wasm
}

// Guard returns the fault guard. Host code registers guarded memory
// with Guard().Watch.
func (e *Executor) Guard() *faultguard.Guard {
	return e.guard
}

// Registry returns the host function registry.
func (e *Executor) Registry() *hostfuncs.HandlerRegistry {
	return e.registry
}

// Metrics returns the executor's metrics.
func (e *Executor) Metrics() *metrics.Metrics {
	return e.metrics
}

// Logger returns the executor's logger.
func (e *Executor) Logger() *zap.Logger {
	return e.logger
}

// Close releases the engines and flushes the logger.
func (e *Executor) Close(ctx context.Context) error {
	err := e.wasm.Close(ctx)
	_ = e.logger.Sync()
	return err
}
