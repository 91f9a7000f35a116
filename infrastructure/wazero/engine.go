package wazero

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/reglet-dev/trapbridge/hostfuncs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Digest identifies a wasm binary in the compiled-module cache.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

var moduleDomainKey = [32]byte{
	't', 'r', 'a', 'p', 'b', 'r', 'i', 'd', 'g', 'e', '.', 'w', 'a', 's', 'm', '.',
	'm', 'o', 'd', 'u', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ModuleDigest returns the keyed BLAKE3 digest of a wasm binary.
func ModuleDigest(wasm []byte) Digest {
	hasher, err := blake3.NewKeyed(moduleDomainKey[:])
	if err != nil {
		panic("wazero: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = hasher.Write(wasm)
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d
}

// Engine owns a wazero runtime with WASI and the host module installed.
// It is safe for concurrent use; instances are not.
type Engine struct {
	runtime  wazero.Runtime
	logger   *zap.Logger
	compiled map[Digest]wazero.CompiledModule
	cfg      Config
	mu       sync.Mutex
}

// NewEngine creates a runtime and registers the host functions.
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		reg, err := hostfuncs.NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("failed to create default registry: %w", err)
		}
		cfg.Registry = reg
	}

	rc := wazero.NewRuntimeConfig()
	if cfg.Interpreter {
		rc = wazero.NewRuntimeConfigInterpreter()
	}
	rc = rc.WithCloseOnContextDone(cfg.CloseOnContextDone)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}
	if err := RegisterWithRuntime(ctx, rt, cfg.Registry, cfg); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	return &Engine{
		runtime:  rt,
		logger:   cfg.Logger,
		compiled: make(map[Digest]wazero.CompiledModule),
		cfg:      cfg,
	}, nil
}

// Compile validates and compiles a binary, reusing an earlier result
// for identical bytes.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, Digest, error) {
	digest := ModuleDigest(wasm)

	e.mu.Lock()
	defer e.mu.Unlock()

	if cm, ok := e.compiled[digest]; ok {
		return cm, digest, nil
	}
	cm, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, digest, fmt.Errorf("failed to compile module: %w", err)
	}
	e.compiled[digest] = cm
	e.logger.Debug("compiled guest module",
		zap.Stringer("digest", digest),
		zap.Int("exports", len(cm.ExportedFunctions())),
	)
	return cm, digest, nil
}

// Instantiate compiles (or reuses) wasm and creates an anonymous
// instance. guest names the instance in logs and errors.
func (e *Engine) Instantiate(ctx context.Context, wasm []byte, guest string) (*Instance, error) {
	cm, digest, err := e.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}

	mod, err := e.runtime.InstantiateModule(ctx, cm, wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module %s: %w", guest, err)
	}

	return &Instance{
		module: mod,
		guest:  guest,
		digest: digest,
		logger: e.logger.With(zap.String("guest", guest)),
	}, nil
}

// Close releases the runtime, every compiled module and every instance.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.compiled = make(map[Digest]wazero.CompiledModule)
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}
