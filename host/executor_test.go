package host

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/reglet-dev/trapbridge/config"
	"github.com/reglet-dev/trapbridge/hostfuncs"
	"github.com/reglet-dev/trapbridge/internal/testutil"
	"github.com/reglet-dev/trapbridge/report"
	"github.com/reglet-dev/trapbridge/trap"
)

const guestWasm = "../infrastructure/wazero/testdata/guest.wasm"

func readGuest(t *testing.T) []byte {
	t.Helper()
	wasm, err := os.ReadFile(guestWasm)
	require.NoError(t, err)
	return wasm
}

// reenterStub satisfies the test guest's "reenter" import.
func reenterStub(context.Context, []byte) ([]byte, error) {
	return []byte("{}"), nil
}

func newExecutor(t *testing.T, cfg *config.Config, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	e, err := NewExecutor(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestNewExecutor(t *testing.T) {
	ctx := context.Background()
	e, err := NewExecutor(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.True(t, e.Registry().Has("echo"))
	assert.NotNil(t, e.Wasm())
	assert.NotNil(t, e.Metrics())
	assert.NoError(t, e.Close(ctx))
}

func TestNewExecutor_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "chatty"
	_, err := NewExecutor(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewExecutor_DuplicateHostFunction(t *testing.T) {
	_, err := NewExecutor(context.Background(), nil,
		WithLogger(zap.NewNop()),
		WithHostFunctions(hostfuncs.WithByteHandler("echo", reenterStub)),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler name")
}

func TestRunWasm_Completed(t *testing.T) {
	e := newExecutor(t, nil, WithHostFunctions(hostfuncs.WithByteHandler("reenter", reenterStub)))
	th := e.NewThread()

	rep, err := e.RunWasm(context.Background(), th, readGuest(t), "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, []uint64{5}, rep.Result)
	assert.Equal(t, EngineWasm, rep.Engine)
	testutil.AssertIdle(t, th)
}

func TestRunWasm_Traps(t *testing.T) {
	e := newExecutor(t, nil, WithHostFunctions(hostfuncs.WithByteHandler("reenter", reenterStub)))
	th := e.NewThread()
	wasm := readGuest(t)

	tests := []struct {
		export string
		params []uint64
		want   trap.Code
	}{
		{"boom", nil, trap.Unreachable},
		{"div", []uint64{1, 0}, trap.IntegerDivideByZero},
		{"load", []uint64{65536}, trap.OutOfBoundsMemoryAccess},
		{"abort", nil, trap.Unreachable},
	}
	for _, tt := range tests {
		t.Run(tt.export, func(t *testing.T) {
			rep, err := e.RunWasm(context.Background(), th, wasm, tt.export, tt.params...)
			testutil.RequireTrap(t, err, tt.want)

			require.True(t, rep.Aborted())
			assert.Equal(t, tt.want.Slug(), rep.Trap.Code)
			testutil.AssertIdle(t, th)
		})
	}

	// The same thread keeps working after the aborted calls.
	rep, err := e.RunWasm(context.Background(), th, wasm, "add", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, rep.Result)
}

func TestRunWasm_Timeout(t *testing.T) {
	cfg := config.Default()
	cfg.Timeout = 50 * time.Millisecond
	e := newExecutor(t, cfg, WithHostFunctions(hostfuncs.WithByteHandler("reenter", reenterStub)))

	rep, err := e.RunWasm(context.Background(), e.NewThread(), readGuest(t), "spin")
	te := testutil.RequireTrap(t, err, trap.Interrupted)
	assert.True(t, te.Timeout())
	require.NotNil(t, rep.Trap)
	assert.True(t, rep.Trap.Timeout)
	testutil.AssertDurationWithin(t, cfg.Timeout, rep.Duration, 2*time.Second)
}

func TestRunWasm_MissingExport(t *testing.T) {
	e := newExecutor(t, nil, WithHostFunctions(hostfuncs.WithByteHandler("reenter", reenterStub)))

	rep, err := e.RunWasm(context.Background(), e.NewThread(), readGuest(t), "nope")
	testutil.RequireNotTrap(t, err)
	assert.Equal(t, report.OutcomeFailed, rep.Outcome)
}

// A wasm guest calls back into the host, which runs a script on the same
// thread. The script's trap aborts only the inner call.
func TestRunWasm_NestedScriptTrap(t *testing.T) {
	var (
		e          *Executor
		innerDepth int
		innerErr   error
	)
	reenter := func(ctx context.Context, _ []byte) ([]byte, error) {
		th, ok := hostfuncs.HostContextFrom(ctx, "reenter").Thread()
		require.True(t, ok)
		innerDepth = th.Depth()
		_, innerErr = e.RunScript(ctx, th, "inner", `throw new Error("inner failure")`)
		return json.Marshal(map[string]bool{"inner_aborted": innerErr != nil})
	}
	e = newExecutor(t, nil, WithHostFunctions(hostfuncs.WithByteHandler("reenter", reenter)))
	th := e.NewThread()

	rep, err := e.RunWasm(context.Background(), th, readGuest(t), "nested")
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, rep.Result)
	assert.Equal(t, 1, innerDepth)
	testutil.RequireTrap(t, innerErr, trap.Exception)
	testutil.AssertIdle(t, th)
}

func TestRunScript(t *testing.T) {
	e := newExecutor(t, nil)
	th := e.NewThread()

	rep, err := e.RunScript(context.Background(), th, "sum", "1 + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.Result)

	rep, err = e.RunScript(context.Background(), th, "throws", `throw new Error("nope")`)
	require.Error(t, err)
	assert.Equal(t, trap.Exception.Slug(), rep.Trap.Code)

	rep, err = e.RunScript(context.Background(), th, "aborts", `host.abort({code: "host_fault", message: "refused"})`)
	require.Error(t, err)
	assert.Equal(t, trap.HostFault.Slug(), rep.Trap.Code)
	assert.Equal(t, "refused", rep.Trap.Message)
}

func TestRunScript_StackLimitFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Script.MaxCallStackSize = 32
	e := newExecutor(t, cfg)

	_, err := e.RunScript(context.Background(), e.NewThread(), "deep", "function f(n) { return f(n + 1) } f(0)")
	testutil.RequireTrap(t, err, trap.StackOverflow)
}

// divisor keeps the division below from being folded at compile time.
var divisor = 7

func TestRunNative(t *testing.T) {
	e := newExecutor(t, nil)
	th := e.NewThread()

	rep, err := e.RunNative(context.Background(), th, "ok", func(context.Context) {})
	require.NoError(t, err)
	assert.Equal(t, report.OutcomeCompleted, rep.Outcome)

	var quotient int
	rep, err = e.RunNative(context.Background(), th, "divide", func(context.Context) {
		quotient = 10 / (divisor - 7)
	})
	require.Error(t, err)
	assert.Equal(t, trap.IntegerDivideByZero.Slug(), rep.Trap.Code)
	assert.Zero(t, quotient)

	rep, err = e.RunNative(context.Background(), th, "raise", func(context.Context) {
		trap.Raise(trap.Unreachable, "bad opcode")
	})
	testutil.RequireTrap(t, err, trap.Unreachable)
	assert.Equal(t, "bad opcode", rep.Trap.Message)
	testutil.AssertIdle(t, th)
}

func TestRunNative_Timeout(t *testing.T) {
	cfg := config.Default()
	cfg.Timeout = 20 * time.Millisecond
	e := newExecutor(t, cfg)

	rep, err := e.RunNative(context.Background(), e.NewThread(), "loop", func(ctx context.Context) {
		for {
			trap.CheckInterrupt(ctx)
			time.Sleep(time.Millisecond)
		}
	})
	testutil.RequireTrap(t, err, trap.Interrupted)
	testutil.AssertDurationWithin(t, cfg.Timeout, rep.Duration, 500*time.Millisecond)
}

func TestRunNative_HostFaultPropagates(t *testing.T) {
	e := newExecutor(t, nil)
	th := e.NewThread()

	assert.Panics(t, func() {
		_, _ = e.RunNative(context.Background(), th, "nil", func(context.Context) {
			var m map[string]int
			m["x"] = 1
		})
	})
	testutil.AssertIdle(t, th)
}

func TestExecutor_LogsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := newExecutor(t, nil, WithLogger(zap.New(core)))

	_, err := e.RunNative(context.Background(), e.NewThread(), "raise", func(context.Context) {
		trap.Raise(trap.HostFault, "denied")
	})
	require.Error(t, err)

	fields := testutil.RequireLogged(t, logs, "guest call aborted")
	testutil.AssertMapContains(t, map[string]interface{}{
		"code":   "host_fault",
		"engine": EngineNative,
		"guest":  "raise",
	}, fields)
	assert.NotEmpty(t, fields["call_id"])
}
