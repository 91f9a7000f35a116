//go:build darwin || linux

// Package linmem provides guest linear memory backed by an anonymous
// mapping with an inaccessible guard region after it.
//
// Accessors do not bounds-check against the accessible size. An access
// past it lands in the guard region and raises a memory fault, which the
// fault-diagnosis layer maps to an out-of-bounds trap. Guest calls must
// run with debug.SetPanicOnFault enabled (the trampoline does this) or
// such a fault crashes the process.
package linmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Memory is a reserved region: size accessible bytes followed by a
// guard region that is never made accessible.
type Memory struct {
	// mu guards the mapping against Close while a fault handler on
	// another goroutine reads Bounds.
	mu      sync.RWMutex
	mapping []byte // whole reservation, accessible prefix + guard
	name    string
	size    int
}

// Reserve maps size accessible bytes followed by at least guard bytes of
// PROT_NONE memory. Both are rounded up to the page size, and the guard
// is at least one page.
func Reserve(name string, size, guard int) (*Memory, error) {
	if size < 0 || guard < 0 {
		return nil, fmt.Errorf("linmem: negative size %d or guard %d", size, guard)
	}

	page := unix.Getpagesize()
	size = roundUp(size, page)
	guard = roundUp(guard, page)
	if guard == 0 {
		guard = page
	}

	mapping, err := unix.Mmap(-1, 0, size+guard, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("linmem: reserving %d bytes: %w", size+guard, err)
	}
	if size > 0 {
		if err := unix.Mprotect(mapping[:size], unix.PROT_READ|unix.PROT_WRITE); err != nil {
			_ = unix.Munmap(mapping)
			return nil, fmt.Errorf("linmem: enabling access to %d bytes: %w", size, err)
		}
	}

	return &Memory{mapping: mapping, name: name, size: size}, nil
}

func roundUp(n, page int) int {
	return (n + page - 1) &^ (page - 1)
}

// Name identifies the memory in fault reports.
func (m *Memory) Name() string {
	return m.name
}

// Size returns the number of accessible bytes.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Bytes returns the accessible region. Host code may use it directly;
// it is bounds-checked like any slice.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mapping[:m.size:m.size]
}

// Bounds returns the start of the reservation, the end of the accessible
// region and the end of the guard region. A closed memory reports zero
// bounds, so no address is attributed to it.
func (m *Memory) Bounds() (base, accessibleEnd, end uintptr) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mapping == nil {
		return 0, 0, 0
	}
	base = uintptr(unsafe.Pointer(unsafe.SliceData(m.mapping)))
	return base, base + uintptr(m.size), base + uintptr(len(m.mapping))
}

// addr computes the address of offset. Offsets beyond the reservation
// are clamped to the first guard byte so they still fault instead of
// reaching unrelated mappings.
func (m *Memory) addr(offset uint64, width uint64) unsafe.Pointer {
	if offset > uint64(len(m.mapping))-width {
		offset = uint64(m.size)
	}
	return unsafe.Add(unsafe.Pointer(unsafe.SliceData(m.mapping)), offset)
}

// Load8 reads a byte without a bounds check.
func (m *Memory) Load8(offset uint64) uint8 {
	return *(*uint8)(m.addr(offset, 1))
}

// Load32 reads a little-endian-native uint32 without a bounds check.
func (m *Memory) Load32(offset uint64) uint32 {
	return *(*uint32)(m.addr(offset, 4))
}

// Store8 writes a byte without a bounds check.
func (m *Memory) Store8(offset uint64, v uint8) {
	*(*uint8)(m.addr(offset, 1)) = v
}

// Store32 writes a uint32 without a bounds check.
func (m *Memory) Store32(offset uint64, v uint32) {
	*(*uint32)(m.addr(offset, 4)) = v
}

// Close unmaps the reservation. The memory must not be used afterwards.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapping == nil {
		return nil
	}
	err := unix.Munmap(m.mapping)
	m.mapping = nil
	m.size = 0
	if err != nil {
		return fmt.Errorf("linmem: unmapping %s: %w", m.name, err)
	}
	return nil
}
