package wazero

import (
	"context"
	"fmt"

	"github.com/reglet-dev/trapbridge/hostfuncs"
	"github.com/reglet-dev/trapbridge/trap"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// DefaultHostModule is the import module name guests use for host
// functions.
const DefaultHostModule = "trapbridge_host"

// CustomHandler is a host function that does not use the packed i64
// request/response convention.
type CustomHandler struct {
	Handler     api.GoModuleFunc
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// RegisterWithRuntime exports every handler of registry from a host
// module named cfg.ModuleName.
//
// Each export takes and returns a packed i64 (pointer in the upper 32
// bits, length in the lower). The request is read from guest memory and
// the response is written into a buffer obtained from the guest's
// "allocate" export. A handler error or a bad guest pointer raises a
// trap on the calling goroutine, aborting the guest call.
func RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, registry *hostfuncs.HandlerRegistry, cfg Config) error {
	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)

	for _, name := range registry.Names() {
		funcName := name
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				stack[0] = handleRegistryCall(ctx, mod, stack[0], registry, funcName, cfg)
			}), []api.ValueType{api.ValueTypeI64}, []api.ValueType{api.ValueTypeI64}).
			Export(funcName)
	}

	for _, ch := range cfg.CustomHandlers {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiating host module %q: %w", cfg.ModuleName, err)
	}
	return nil
}

func handleRegistryCall(ctx context.Context, mod api.Module, packed uint64, registry *hostfuncs.HandlerRegistry, name string, cfg Config) uint64 {
	ptr, length := unpackPtrLen(packed)

	if length > cfg.MaxRequestSize {
		msg := fmt.Sprintf("request size %d exceeds maximum %d bytes", length, cfg.MaxRequestSize)
		cfg.Logger.Warn("wazero: rejecting host call",
			zap.String("guest", GetGuestName(ctx, mod)),
			zap.String("function", name),
			zap.String("reason", msg))
		return writeResponse(ctx, mod, hostfuncs.NewValidationError(msg).ToJSON())
	}

	request, ok := mod.Memory().Read(ptr, length)
	if !ok {
		trap.RaiseFault(trap.Newf(trap.OutOfBoundsMemoryAccess,
			"%s: request [%#x, +%d) outside guest memory", name, ptr, length))
	}

	// Handlers may call back into the guest, which can grow and move
	// memory, so the request is copied first.
	response := registry.Dispatch(ctx, name, append([]byte(nil), request...))
	return writeResponse(ctx, mod, response)
}

// writeResponse copies data into a guest buffer from the "allocate"
// export and returns its packed pointer and length.
func writeResponse(ctx context.Context, mod api.Module, data []byte) uint64 {
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		trap.Raise(trap.HostFault, "guest module does not export allocate")
	}

	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		trap.RaiseFault(trap.Newf(trap.HostFault, "guest allocate: %v", err).WithCause(err))
	}
	ptr := uint32(results[0]) //nolint:gosec // G115: wasm32 pointers are 32-bit

	if !mod.Memory().Write(ptr, data) {
		trap.RaiseFault(trap.Newf(trap.OutOfBoundsMemoryAccess,
			"allocate returned [%#x, +%d) outside guest memory", ptr, len(data)))
	}
	return packPtrLen(ptr, uint32(len(data))) //nolint:gosec // G115: bounded by guest memory
}

// packPtrLen packs a pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen is the inverse of packPtrLen.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: packed format stores 32-bit values
	return ptr, length
}
