// Package faultguard decides whether a panic that escaped a guest body
// belongs to the guest. It is the trampoline.FaultHandler used by the
// executor: guest faults are recorded and unwound, anything else is
// declined and surfaces as a host fault.
package faultguard

import (
	"errors"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
	"go.uber.org/zap"
)

const divideByZero = "runtime error: integer divide by zero"

// Region is guest memory the guard attributes faults to. linmem.Memory
// satisfies it.
type Region interface {
	Name() string
	Bounds() (base, accessibleEnd, end uintptr)
}

// Observer is told about every fault the guard unwinds.
type Observer func(f *trap.Fault)

// Guard classifies recovered panics. It is safe for concurrent use by
// any number of threads.
type Guard struct {
	logger       *zap.Logger
	observer     Observer
	regions      map[uint64]Region
	nextID       uint64
	mu           sync.RWMutex
	arithmetic   bool
	captureStack bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger faults are reported to at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithObserver registers a callback invoked for each unwound fault.
func WithObserver(o Observer) Option {
	return func(g *Guard) {
		g.observer = o
	}
}

// WithArithmeticAttribution controls whether Go integer division by
// zero inside a guest call is treated as a guest trap (default true).
func WithArithmeticAttribution(enabled bool) Option {
	return func(g *Guard) {
		g.arithmetic = enabled
	}
}

// WithStackCapture records the goroutine stack in each Fault.
func WithStackCapture(enabled bool) Option {
	return func(g *Guard) {
		g.captureStack = enabled
	}
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		logger:     zap.NewNop(),
		regions:    make(map[uint64]Region),
		arithmetic: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Watch registers guest memory. Faults inside it are attributed to the
// guest until the returned function is called. Call it before releasing
// the region.
func (g *Guard) Watch(r Region) (unwatch func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.regions[id] = r
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.regions, id)
			g.mu.Unlock()
		})
	}
}

// HandleFault implements trampoline.FaultHandler.
func (g *Guard) HandleFault(t *trampoline.Thread, recovered any) {
	if !t.Active() {
		return
	}
	f, ok := g.Diagnose(recovered)
	if !ok {
		g.logger.Debug("declining fault", zap.Any("recovered", recovered))
		return
	}
	if g.captureStack && f.Stack == nil {
		f.Stack = debug.Stack()
	}

	t.RecordFault(f)
	fields := []zap.Field{
		zap.Stringer("code", f.Code),
		zap.String("message", f.Message),
		zap.Int("depth", t.Depth()),
	}
	if f.HasAddr {
		fields = append(fields, zap.Uintptr("addr", f.Addr))
	}
	g.logger.Debug("guest fault", fields...)
	if g.observer != nil {
		g.observer(f)
	}
	t.Unwind()
}

// Diagnose maps a recovered panic value to a guest fault. It reports
// false when the value is not attributable to guest code.
func (g *Guard) Diagnose(recovered any) (*trap.Fault, bool) {
	switch v := recovered.(type) {
	case *trap.Fault:
		return v, true
	case runtime.Error:
		if a, ok := v.(interface{ Addr() uintptr }); ok {
			return g.diagnoseAddr(v, a.Addr())
		}
		if g.arithmetic && v.Error() == divideByZero {
			return trap.New(trap.IntegerDivideByZero, "").WithCause(v), true
		}
		return nil, false
	case error:
		var f *trap.Fault
		if errors.As(v, &f) {
			return f, true
		}
		return nil, false
	default:
		return nil, false
	}
}

func (g *Guard) diagnoseAddr(cause runtime.Error, addr uintptr) (*trap.Fault, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, r := range g.regions {
		base, accessibleEnd, end := r.Bounds()
		switch {
		case addr >= accessibleEnd && addr < end:
			f := trap.Newf(trap.OutOfBoundsMemoryAccess, "offset %#x in %s", addr-base, r.Name())
			return f.WithAddr(addr).WithCause(cause), true
		case addr >= base && addr < accessibleEnd:
			// Accessible memory only faults if its protection changed
			// under the guest, which a host function must have done.
			f := trap.Newf(trap.HostFault, "offset %#x in %s", addr-base, r.Name())
			return f.WithAddr(addr).WithCause(cause), true
		}
	}
	return nil, false
}

// Regions returns the number of watched regions.
func (g *Guard) Regions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.regions)
}
