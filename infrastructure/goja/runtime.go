package goja

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/reglet-dev/trapbridge/hostfuncs"
	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
	"go.uber.org/zap"
)

// DefaultMaxCallStackSize bounds JavaScript recursion. goja's own default
// is unbounded, which would exhaust the goroutine stack instead.
const DefaultMaxCallStackSize = 1024

// Config holds the runtime configuration.
type Config struct {
	Registry *hostfuncs.HandlerRegistry
	Logger   *zap.Logger

	// Guest names the runtime in logs and errors.
	Guest string

	// RemovedGlobals are set to undefined before any script runs.
	RemovedGlobals []string

	// Timeout bounds every Run and Call. Zero relies on the context.
	Timeout time.Duration

	MaxCallStackSize int
}

// Option configures a Runtime.
type Option func(*Config)

// WithRegistry exposes host functions to scripts as methods of the
// global "host" object.
func WithRegistry(registry *hostfuncs.HandlerRegistry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// WithLogger sets the logger that also receives console output.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithGuest names the runtime.
func WithGuest(name string) Option {
	return func(c *Config) {
		c.Guest = name
	}
}

// WithTimeout sets the watchdog timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithMaxCallStackSize sets the JavaScript call depth limit.
func WithMaxCallStackSize(size int) Option {
	return func(c *Config) {
		c.MaxCallStackSize = size
	}
}

// WithRemovedGlobals adds globals to remove.
func WithRemovedGlobals(names ...string) Option {
	return func(c *Config) {
		c.RemovedGlobals = append(c.RemovedGlobals, names...)
	}
}

// Runtime is a JavaScript guest. It is not safe for concurrent use, but
// host functions may re-enter it on the same thread.
type Runtime struct {
	vm     *goja.Runtime
	logger *zap.Logger
	// ctx is the context of the innermost active call, handed to host
	// functions.
	ctx context.Context
	// active holds the contexts of calls in progress, outermost first.
	active []context.Context
	cfg    Config
}

// New creates a runtime with globals restricted and host functions bound.
func New(opts ...Option) (*Runtime, error) {
	cfg := Config{
		Logger:           zap.NewNop(),
		Guest:            "script",
		RemovedGlobals:   []string{"require", "process", "module", "exports"},
		MaxCallStackSize: DefaultMaxCallStackSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Runtime{
		vm:     goja.New(),
		logger: cfg.Logger.With(zap.String("guest", cfg.Guest)),
		ctx:    context.Background(),
		cfg:    cfg,
	}
	r.vm.SetMaxCallStackSize(cfg.MaxCallStackSize)

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) setupGlobals() error {
	for _, name := range r.cfg.RemovedGlobals {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("removing global %q: %w", name, err)
		}
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return fmt.Errorf("setting console.%s: %w", level, err)
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return fmt.Errorf("setting console: %w", err)
	}

	if r.cfg.Registry == nil {
		return nil
	}
	host := r.vm.NewObject()
	for _, name := range r.cfg.Registry.Names() {
		if err := host.Set(name, r.makeHostFunc(name)); err != nil {
			return fmt.Errorf("binding host function %q: %w", name, err)
		}
	}
	return r.vm.Set("host", host)
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "error":
			r.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			r.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			r.logger.Debug(msg, zap.String("source", "console"))
		default:
			r.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

// makeHostFunc binds a registry handler. The script passes one value,
// which is sent as JSON; the decoded JSON response is returned. Traps
// raised by the handler propagate as Go panics through goja.
func (r *Runtime) makeHostFunc(name string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		var arg any
		if len(call.Arguments) > 0 {
			arg = call.Argument(0).Export()
		}
		payload, err := json.Marshal(arg)
		if err != nil {
			panic(r.vm.NewTypeError("host.%s: argument is not JSON-serializable: %v", name, err))
		}

		resp := r.cfg.Registry.Dispatch(r.ctx, name, payload)
		if len(resp) == 0 {
			return goja.Undefined()
		}
		var out any
		if err := json.Unmarshal(resp, &out); err != nil {
			panic(r.vm.NewTypeError("host.%s: response is not JSON: %v", name, err))
		}
		return r.vm.ToValue(out)
	}
}

// call is the vmctx handed to the trampoline.
type call struct {
	ctx    context.Context
	r      *Runtime
	run    func() (goja.Value, error)
	result goja.Value
	err    error
}

func runGuest(c *call) {
	prev := c.r.ctx
	c.r.ctx = c.ctx
	defer func() { c.r.ctx = prev }()

	v, err := c.run()
	if err != nil {
		c.err = raiseIfTrap(err)
		return
	}
	c.result = v
}

// Run evaluates script on thread t and returns its completion value
// exported to Go.
func (r *Runtime) Run(ctx context.Context, t *trampoline.Thread, script string) (any, error) {
	return r.enter(ctx, t, func() (goja.Value, error) {
		return r.vm.RunString(script)
	})
}

// Call invokes a global function defined by an earlier Run.
func (r *Runtime) Call(ctx context.Context, t *trampoline.Thread, fn string, args ...any) (any, error) {
	callable, ok := goja.AssertFunction(r.vm.Get(fn))
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a function", r.cfg.Guest, fn)
	}
	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = r.vm.ToValue(a)
	}
	return r.enter(ctx, t, func() (goja.Value, error) {
		return callable(goja.Undefined(), values...)
	})
}

func (r *Runtime) enter(ctx context.Context, t *trampoline.Thread, run func() (goja.Value, error)) (any, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	r.active = append(r.active, ctx)
	defer r.leave(r.watch(ctx))

	c := &call{ctx: trampoline.WithThread(ctx, t), r: r, run: run}
	if outcome := trampoline.Call(t, c, runGuest); outcome == trampoline.Aborted {
		f := t.TakeFault()
		if f != nil {
			r.logger.Debug("script aborted", zap.Stringer("code", f.Code), zap.String("message", f.Message))
		}
		return nil, trap.NewError(r.cfg.Guest, f)
	}
	if c.err != nil {
		return nil, c.err
	}
	return exportValue(c.result), nil
}

// leave stops the watchdog of the innermost call and clears its
// interrupt. goja consumes an interrupt once it fires, so when an
// enclosing call's context is already done its interrupt is raised
// again for the enclosing script to observe.
func (r *Runtime) leave(stop func()) {
	stop()
	r.active = r.active[:len(r.active)-1]
	r.vm.ClearInterrupt()
	for i := len(r.active) - 1; i >= 0; i-- {
		if err := r.active[i].Err(); err != nil {
			r.vm.Interrupt(interruptFault(err))
			return
		}
	}
}

func interruptFault(err error) *trap.Fault {
	return trap.New(trap.Interrupted, err.Error()).WithCause(err)
}

// watch interrupts the VM when ctx is done. The returned function stops
// the watchdog and waits for it to exit.
func (r *Runtime) watch(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(interruptFault(ctx.Err()))
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// raiseIfTrap classifies an error returned by goja on the guest
// goroutine. Compile errors and errors from host code are returned.
func raiseIfTrap(err error) error {
	trampoline.ForwardUnwind(err)

	// Watchdog interrupts carry a *trap.Fault.
	var f *trap.Fault
	if errors.As(err, &f) {
		trap.RaiseFault(f)
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		trap.RaiseFault(trap.New(trap.Interrupted, fmt.Sprint(interrupted.Value())).WithCause(err))
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		trap.RaiseFault(trap.New(trap.StackOverflow, "").WithCause(err))
	}
	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		return err
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		trap.RaiseFault(trap.New(trap.Exception, ex.Error()).WithCause(err))
	}
	return err
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// Guest returns the runtime's name.
func (r *Runtime) Guest() string {
	return r.cfg.Guest
}
