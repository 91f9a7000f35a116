package wazero

import (
	"github.com/reglet-dev/trapbridge/hostfuncs"
	"go.uber.org/zap"
)

// Config holds the engine configuration.
type Config struct {
	Registry *hostfuncs.HandlerRegistry
	Logger   *zap.Logger

	// ModuleName is the host module name (default "trapbridge_host").
	ModuleName string

	CustomHandlers []CustomHandler

	// MaxRequestSize limits a request read from guest memory.
	MaxRequestSize uint32

	// MemoryLimitPages caps each guest memory. Zero keeps wazero's
	// default of 65536 pages.
	MemoryLimitPages uint32

	// Interpreter selects wazero's interpreter instead of the compiler.
	Interpreter bool

	// CloseOnContextDone lets a context deadline stop a running guest.
	// The instance is closed when that happens.
	CloseOnContextDone bool
}

// Option configures an Engine.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Logger:             zap.NewNop(),
		ModuleName:         DefaultHostModule,
		MaxRequestSize:     hostfuncs.DefaultMaxRequestSize,
		CloseOnContextDone: true,
	}
}

// WithRegistry sets the host functions exported to guests.
func WithRegistry(registry *hostfuncs.HandlerRegistry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithModuleName sets the host module name.
func WithModuleName(name string) Option {
	return func(c *Config) {
		c.ModuleName = name
	}
}

// WithMaxRequestSize sets the maximum request size read from guest memory.
func WithMaxRequestSize(size uint32) Option {
	return func(c *Config) {
		c.MaxRequestSize = size
	}
}

// WithCustomHandler adds a host function outside the registry.
func WithCustomHandler(h CustomHandler) Option {
	return func(c *Config) {
		c.CustomHandlers = append(c.CustomHandlers, h)
	}
}

// WithMemoryLimitPages caps guest memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *Config) {
		c.MemoryLimitPages = pages
	}
}

// WithInterpreter selects the interpreter.
func WithInterpreter(enabled bool) Option {
	return func(c *Config) {
		c.Interpreter = enabled
	}
}

// WithCloseOnContextDone controls the context watchdog (default on).
func WithCloseOnContextDone(enabled bool) Option {
	return func(c *Config) {
		c.CloseOnContextDone = enabled
	}
}
