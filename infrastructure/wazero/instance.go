package wazero

import (
	"context"
	"fmt"
	"sort"

	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Instance is an instantiated guest module. It must only be called from
// one goroutine at a time, though host functions may re-enter it on the
// same thread.
type Instance struct {
	module api.Module
	logger *zap.Logger
	guest  string
	digest Digest
}

// guestCall is the vmctx handed to the trampoline.
type guestCall struct {
	ctx context.Context
	fn  api.Function
	err error
}

func invokeExport(c *guestCall, values []uint64) {
	if err := c.fn.CallWithStack(c.ctx, values); err != nil {
		c.err = raiseIfTrap(err)
	}
}

// Call runs an exported function on thread t. A guest trap aborts the
// call and is returned as a *trap.Error; the instance stays usable
// unless the trap was a context interrupt, which closes it.
func (i *Instance) Call(ctx context.Context, t *trampoline.Thread, export string, params ...uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("export %q not found in %s", export, i.guest)
	}
	def := fn.Definition()
	nParams, nResults := len(def.ParamTypes()), len(def.ResultTypes())
	if len(params) != nParams {
		return nil, fmt.Errorf("export %q takes %d params, got %d", export, nParams, len(params))
	}

	values := make([]uint64, max(nParams, nResults))
	copy(values, params)

	c := &guestCall{ctx: WithGuestName(trampoline.WithThread(ctx, t), i.guest), fn: fn}
	if outcome := trampoline.CallWithArgs(t, c, invokeExport, values); outcome == trampoline.Aborted {
		f := t.TakeFault()
		i.logger.Debug("guest call aborted", zap.String("export", export), zap.Stringer("code", codeOf(f)))
		return nil, trap.NewError(i.guest, f)
	}
	if c.err != nil {
		return nil, fmt.Errorf("calling %s.%s: %w", i.guest, export, c.err)
	}
	return values[:nResults], nil
}

func codeOf(f *trap.Fault) trap.Code {
	if f == nil {
		return trap.Unknown
	}
	return f.Code
}

// Exports lists the exported function names in sorted order.
func (i *Instance) Exports() []string {
	defs := i.module.ExportedFunctionDefinitions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Memory returns the guest's exported memory, or nil.
func (i *Instance) Memory() api.Memory {
	return i.module.Memory()
}

// Guest returns the name given at instantiation.
func (i *Instance) Guest() string {
	return i.guest
}

// Digest identifies the binary the instance was created from.
func (i *Instance) Digest() Digest {
	return i.digest
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}
