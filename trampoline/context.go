package trampoline

import "context"

type threadKey struct{}

// WithThread attaches t to ctx so host functions invoked by a guest can
// issue nested guest calls on the same thread.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFromContext returns the Thread attached by WithThread.
func ThreadFromContext(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadKey{}).(*Thread)
	return t, ok && t != nil
}
