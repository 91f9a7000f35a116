// Package config loads trapbridge settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix. Nested groups add their own
// segment, e.g. TRAPBRIDGE_LOG_LEVEL or TRAPBRIDGE_WASM_INTERPRETER.
const Prefix = "TRAPBRIDGE"

// Config holds all executor configuration.
type Config struct {
	Logging LogConfig    `envconfig:"LOG"`
	Wasm    WasmConfig   `envconfig:"WASM"`
	Script  ScriptConfig `envconfig:"JS"`
	Fault   FaultConfig  `envconfig:"FAULT"`

	// Timeout bounds each guest call. Zero means no limit.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"0s" validate:"gte=0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// WasmConfig holds WebAssembly engine configuration.
type WasmConfig struct {
	HostModule       string `envconfig:"HOST_MODULE" default:"trapbridge_host" validate:"required"`
	Interpreter      bool   `envconfig:"INTERPRETER" default:"false"`
	MemoryLimitPages uint32 `envconfig:"MEMORY_LIMIT_PAGES" default:"0" validate:"lte=65536"`
	MaxRequestSize   uint32 `envconfig:"MAX_REQUEST_SIZE" default:"1048576" validate:"gt=0"`
}

// ScriptConfig holds JavaScript engine configuration.
type ScriptConfig struct {
	MaxCallStackSize int `envconfig:"MAX_CALL_STACK" default:"1024" validate:"gt=0"`
}

// FaultConfig controls fault diagnosis.
type FaultConfig struct {
	PanicOnFault          bool `envconfig:"PANIC" default:"true"`
	ArithmeticAttribution bool `envconfig:"ARITHMETIC" default:"true"`
	CaptureStack          bool `envconfig:"CAPTURE_STACK" default:"false"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from TRAPBRIDGE_* environment variables and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns the
// defaults if it is missing or invalid.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level: "info",
		},
		Wasm: WasmConfig{
			HostModule:     "trapbridge_host",
			MaxRequestSize: 1 << 20,
		},
		Script: ScriptConfig{
			MaxCallStackSize: 1024,
		},
		Fault: FaultConfig{
			PanicOnFault:          true,
			ArithmeticAttribution: true,
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
