//go:build darwin || linux

package faultguard

import (
	"testing"

	"github.com/reglet-dev/trapbridge/linmem"
	"github.com/reglet-dev/trapbridge/trampoline"
	"github.com/reglet-dev/trapbridge/trap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sink uint32

func TestHandleFault_GuardPage(t *testing.T) {
	mem, err := linmem.Reserve("mem0", 4096, 0)
	require.NoError(t, err)
	defer mem.Close()

	g := New()
	defer g.Watch(mem)()
	th := trampoline.NewThread(trampoline.WithFaultHandler(g))

	_, accessibleEnd, end := mem.Bounds()

	ok := trampoline.Call(th, mem, func(m *linmem.Memory) {
		m.Store32(0, 42)
		sink = m.Load32(0)
	})
	require.Equal(t, trampoline.Completed, ok)
	assert.Equal(t, uint32(42), sink)

	outcome := trampoline.Call(th, mem, func(m *linmem.Memory) {
		sink = m.Load32(uint64(m.Size()) + 8)
	})
	require.Equal(t, trampoline.Aborted, outcome)

	f := th.TakeFault()
	require.NotNil(t, f)
	assert.Equal(t, trap.OutOfBoundsMemoryAccess, f.Code)
	assert.True(t, f.HasAddr)
	assert.GreaterOrEqual(t, f.Addr, accessibleEnd)
	assert.Less(t, f.Addr, end)

	// The memory stays usable after the aborted call.
	again := trampoline.Call(th, mem, func(m *linmem.Memory) {
		sink = m.Load32(0)
	})
	assert.Equal(t, trampoline.Completed, again)
}

func TestHandleFault_UnwatchedMemoryIsHostFault(t *testing.T) {
	mem, err := linmem.Reserve("stray", 4096, 0)
	require.NoError(t, err)
	defer mem.Close()

	th := trampoline.NewThread(trampoline.WithFaultHandler(New()))

	assert.Panics(t, func() {
		trampoline.Call(th, mem, func(m *linmem.Memory) {
			sink = m.Load32(uint64(m.Size()))
		})
	})
	assert.Equal(t, 0, th.Depth())
}
