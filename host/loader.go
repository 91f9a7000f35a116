package host

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/trapbridge/report"
	"github.com/reglet-dev/trapbridge/trampoline"
)

// Manifest describes one guest call to run.
//
//	name: divide
//	engine: wasm
//	source: guest.wasm
//	export: div
//	args: [1, 0]
//	timeout: 1s
type Manifest struct {
	Name    string        `yaml:"name" validate:"required"`
	Engine  string        `yaml:"engine" validate:"required,oneof=wasm js"`
	Source  string        `yaml:"source" validate:"required"`
	Export  string        `yaml:"export" validate:"required_if=Engine wasm"`
	Args    []uint64      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// dir resolves a relative Source. Set by LoadManifestFile.
	dir string
}

// SourcePath returns Source resolved against the manifest's directory.
func (m *Manifest) SourcePath() string {
	if m.dir == "" || filepath.IsAbs(m.Source) {
		return m.Source
	}
	return filepath.Join(m.dir, m.Source)
}

// loaderConfig holds configuration for the Loader.
type loaderConfig struct {
	strictFields bool // Fail on unknown manifest keys
}

// LoaderOption configures the Loader.
type LoaderOption func(*loaderConfig)

// WithStrictFields enables/disables rejection of unknown manifest keys.
// Enabled by default.
func WithStrictFields(enabled bool) LoaderOption {
	return func(c *loaderConfig) {
		c.strictFields = enabled
	}
}

// Loader parses and validates run manifests.
type Loader struct {
	validate *validator.Validate
	config   loaderConfig
}

// NewLoader creates a new Loader with defaults.
func NewLoader(opts ...LoaderOption) *Loader {
	cfg := loaderConfig{strictFields: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loader{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		config:   cfg,
	}
}

// LoadManifest parses and validates a YAML manifest.
func (l *Loader) LoadManifest(raw []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(l.config.strictFields)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := l.validate.Struct(&m); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, fmt.Errorf("validation error: %w", err)
		}
		msg := "manifest validation failed:"
		for _, fe := range verrs {
			msg += fmt.Sprintf("\n- %s: failed %q", fe.Field(), fe.Tag())
		}
		return nil, fmt.Errorf("%s", msg)
	}
	return &m, nil
}

// LoadManifestFile reads a manifest from path. A relative source is
// resolved against the manifest's directory.
func (l *Loader) LoadManifestFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := l.LoadManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// RunManifest reads the manifest's source and runs it on thread t. A
// manifest timeout further bounds this call.
func (e *Executor) RunManifest(ctx context.Context, t *trampoline.Thread, m *Manifest) (*report.Report, error) {
	source, err := os.ReadFile(m.SourcePath())
	if err != nil {
		return nil, fmt.Errorf("failed to read guest source: %w", err)
	}
	if m.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.Timeout)
		defer cancel()
	}

	switch m.Engine {
	case EngineWasm:
		return e.RunWasm(ctx, t, source, m.Export, m.Args...)
	case EngineJS:
		return e.RunScript(ctx, t, m.Name, string(source))
	default:
		return nil, fmt.Errorf("unsupported engine %q", m.Engine)
	}
}
