// Package scope holds the per-thread stack of resume points used by the
// trampoline.
//
// A Registry is owned by exactly one goroutine. It is never locked and
// must not be shared.
package scope

import "fmt"

// initialCapacity covers typical guest→host→guest nesting without growth.
const initialCapacity = 8

// Token identifies the registry state that existed before a Push.
// Passing it to Pop restores that state.
type Token struct {
	depth int
}

// Depth returns the number of entries that were active before the Push
// that produced this token.
func (t Token) Depth() int {
	return t.depth
}

// Registry is a LIFO stack of resume points.
// The zero value is ready to use.
type Registry[P comparable] struct {
	points []P
}

// Push records p as the new top and returns a token naming the
// previous top.
func (r *Registry[P]) Push(p P) Token {
	if r.points == nil {
		r.points = make([]P, 0, initialCapacity)
	}
	tok := Token{depth: len(r.points)}
	r.points = append(r.points, p)
	return tok
}

// Pop restores the registry to the state named by tok. Entries pushed
// after tok are discarded, which makes Pop exact even when nested calls
// already unwound through them.
func (r *Registry[P]) Pop(tok Token) {
	if tok.depth > len(r.points) {
		panic(fmt.Sprintf("scope: pop to depth %d with only %d active entries", tok.depth, len(r.points)))
	}
	clear(r.points[tok.depth:])
	r.points = r.points[:tok.depth]
}

// Top returns the innermost entry, or false when no scope is active.
func (r *Registry[P]) Top() (P, bool) {
	if len(r.points) == 0 {
		var zero P
		return zero, false
	}
	return r.points[len(r.points)-1], true
}

// Depth returns the number of active entries.
func (r *Registry[P]) Depth() int {
	return len(r.points)
}
