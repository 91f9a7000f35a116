package host

import (
	"context"

	"github.com/reglet-dev/trapbridge/report"
	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
	"go.uber.org/zap"
)

// Engine names used in reports and metrics.
const (
	EngineWasm   = "wasm"
	EngineJS     = "js"
	EngineNative = "native"
)

// NativeFunc is Go code run as a guest. It reports faults with trap.Raise
// and should poll trap.CheckInterrupt(ctx) in long loops.
type NativeFunc func(ctx context.Context)

// RunWasm instantiates wasm, calls export on thread t and closes the
// instance. The report is returned even when err is non-nil.
func (e *Executor) RunWasm(ctx context.Context, t *trampoline.Thread, wasm []byte, export string, params ...uint64) (*report.Report, error) {
	rep := report.New(EngineWasm, export)
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	inst, err := e.wasm.Instantiate(ctx, wasm, "module")
	if err != nil {
		return e.finish(rep, nil, err), err
	}
	defer func() { _ = inst.Close(context.Background()) }()

	results, err := inst.Call(ctx, t, export, params...)
	return e.finish(rep, results, err), err
}

// RunScript evaluates source in a fresh JavaScript runtime on thread t.
func (e *Executor) RunScript(ctx context.Context, t *trampoline.Thread, name, source string) (*report.Report, error) {
	rep := report.New(EngineJS, name)

	rt, err := e.NewScript()
	if err != nil {
		return e.finish(rep, nil, err), err
	}
	result, err := rt.Run(ctx, t, source)
	return e.finish(rep, result, err), err
}

// RunNative calls fn as a guest on thread t. ctx passed to fn carries the
// thread and the configured timeout. A panic the fault guard does not
// attribute to the guest propagates to the caller.
func (e *Executor) RunNative(ctx context.Context, t *trampoline.Thread, name string, fn NativeFunc) (*report.Report, error) {
	rep := report.New(EngineNative, name)
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var err error
	ctx = trampoline.WithThread(ctx, t)
	if trampoline.Call(t, ctx, func(ctx context.Context) { fn(ctx) }) == trampoline.Aborted {
		err = trap.NewError(name, t.TakeFault())
	}
	return e.finish(rep, nil, err), err
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Executor) finish(rep *report.Report, result any, err error) *report.Report {
	rep.Complete(result, err)
	e.metrics.RecordGuestCall(rep.Engine, rep.Outcome, rep.Duration)

	fields := []zap.Field{
		zap.String("call_id", rep.CallID),
		zap.String("engine", rep.Engine),
		zap.String("guest", rep.Guest),
		zap.Duration("elapsed", rep.Duration),
	}
	switch rep.Outcome {
	case report.OutcomeAborted:
		e.logger.Info("guest call aborted", append(fields,
			zap.String("code", rep.Trap.Code),
			zap.String("message", rep.Trap.Message))...)
	case report.OutcomeFailed:
		e.logger.Warn("guest call failed", append(fields, zap.Error(err))...)
	default:
		e.logger.Debug("guest call completed", fields...)
	}
	return rep
}
