package pipeline

import "sync/atomic"

// Gate admits at most one holder at a time. It never blocks: a caller that
// fails to acquire it drops its request.
type Gate struct {
	held atomic.Bool
}

// TryAcquire makes the caller the sole holder and reports true, or reports
// false when the gate is already held.
func (g *Gate) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release frees the gate. It reports false when the gate was not held.
func (g *Gate) Release() bool {
	return g.held.CompareAndSwap(true, false)
}

// Held reports whether the gate currently has a holder.
func (g *Gate) Held() bool {
	return g.held.Load()
}
