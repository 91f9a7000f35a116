package wazero

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
	"github.com/tetratelabs/wazero/sys"
)

// wasmTrapCodes maps wazero's runtime error text to trap codes.
var wasmTrapCodes = map[string]trap.Code{
	"unreachable":                   trap.Unreachable,
	"integer divide by zero":        trap.IntegerDivideByZero,
	"integer overflow":              trap.IntegerOverflow,
	"invalid conversion to integer": trap.InvalidConversionToInteger,
	"out of bounds memory access":   trap.OutOfBoundsMemoryAccess,
	"invalid table access":          trap.InvalidTableAccess,
	"indirect call type mismatch":   trap.IndirectCallTypeMismatch,
	"stack overflow":                trap.StackOverflow,
}

const wasmErrorPrefix = "wasm error: "

// raiseIfTrap inspects an error returned by wazero on the guest
// goroutine. Traps are raised so the fault guard unwinds the call; any
// other error is returned.
func raiseIfTrap(err error) error {
	trampoline.ForwardUnwind(err)

	// A host function raised a trap and wazero recovered it.
	var f *trap.Fault
	if errors.As(err, &f) {
		trap.RaiseFault(f)
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 0:
			return nil
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			trap.RaiseFault(trap.New(trap.Interrupted, exitErr.Error()).WithCause(err))
		}
		return fmt.Errorf("guest exited: %w", err)
	}

	if code, msg, ok := parseWasmTrap(err); ok {
		trap.RaiseFault(trap.New(code, msg).WithCause(err))
	}
	return err
}

// parseWasmTrap recognises "wasm error: <reason>\nwasm stack trace: ...".
// The compiler reports stack exhaustion without the prefix.
func parseWasmTrap(err error) (trap.Code, string, bool) {
	rest, prefixed := strings.CutPrefix(err.Error(), wasmErrorPrefix)
	reason, _, _ := strings.Cut(rest, "\n")
	if code, known := wasmTrapCodes[reason]; known {
		return code, reason, true
	}
	if prefixed {
		return trap.Unknown, reason, true
	}
	return 0, "", false
}
