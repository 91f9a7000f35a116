package host

import (
	"github.com/reglet-dev/trapbridge/hostfuncs"
	"github.com/reglet-dev/trapbridge/internal/metrics"
	"go.uber.org/zap"
)

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithLogger overrides the logger built from the configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics shares a metrics set between executors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithHostFunctions adds host functions, bundles or middleware to the
// registry next to the core bundle. Reusing a core handler name fails
// NewExecutor.
func WithHostFunctions(opts ...hostfuncs.RegistryOption) Option {
	return func(e *Executor) {
		e.hostOpts = append(e.hostOpts, opts...)
	}
}
