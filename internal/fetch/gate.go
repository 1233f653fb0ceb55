package fetch

import "context"

// Gate is a channel-based counting semaphore bounding concurrently admitted
// operations. Tokens are pre-filled up to limit.
//
// Note: limit is fixed for the life of the gate. Admission order across
// waiters is unspecified; only the bound is guaranteed.
type Gate struct {
	limit int
	ch    chan struct{}
}

func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = 1
	}
	g := &Gate{limit: limit, ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		g.ch <- struct{}{}
	}
	return g
}

func (g *Gate) Limit() int {
	if g == nil {
		return 0
	}
	return g.limit
}

// Acquire blocks until a token is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if g == nil {
		return nil
	}
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gate) TryAcquire() bool {
	if g == nil {
		return true
	}
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

func (g *Gate) Release() {
	if g == nil {
		return
	}
	// Best-effort: never block on release.
	select {
	case g.ch <- struct{}{}:
	default:
	}
}
