package connpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// Pool is the client connection pool: a mapping from pool key
// (scheme://host:port) to an ordered list of Connections, capped at
// MaxSockets per key.
//
// Acquire's wait path uses a release-signal channel per key, broadcast
// (closed and replaced) on Release, avoiding a polling interval entirely.
type Pool struct {
	MaxSockets int

	mu      sync.Mutex
	entries map[string][]*Connection
	waiters map[string]chan struct{}
}

// NewPool returns a Pool that holds at most maxSockets Connections open
// per key.
func NewPool(maxSockets int) *Pool {
	return &Pool{
		MaxSockets: maxSockets,
		entries:    make(map[string][]*Connection),
		waiters:    make(map[string]chan struct{}),
	}
}

// Dialer constructs a fresh Connection for a pool key on demand.
type Dialer func() (*Connection, error)

// Acquire cleans CLOSED entries from the target pool and returns the
// first IDLE entry marked ACTIVE; else, if the pool has room, dials a
// new Connection via dial; else waits for a release signal or
// ctx/timeout, whichever comes first.
func (p *Pool) Acquire(ctx context.Context, key string, timeout time.Duration, dial Dialer) (*Connection, error) {
	deadline := time.Now().Add(timeout)

	for {
		conn, dialNow, err := p.tryAcquire(key, dial != nil)
		if err != nil {
			return nil, err
		}
		if conn != nil {
			return conn, nil
		}

		if dialNow {
			conn, err := dial()
			if err != nil {
				return nil, err
			}
			conn.MarkActive()
			p.mu.Lock()
			p.entries[key] = append(p.entries[key], conn)
			p.mu.Unlock()
			return conn, nil
		}

		wait := p.waiterChan(key)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: pool %s exhausted", rterrors.ErrPoolTimeout, key)
		}

		select {
		case <-wait:
		case <-time.After(remaining):
			return nil, fmt.Errorf("%w: pool %s exhausted", rterrors.ErrPoolTimeout, key)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryAcquire sweeps CLOSED entries and returns an IDLE one marked ACTIVE,
// or (nil, true, nil) if the caller should dial a fresh Connection.
func (p *Pool) tryAcquire(key string, canDial bool) (conn *Connection, dialNow bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.entries[key]
	kept := list[:0]
	var found *Connection
	for _, c := range list {
		if c.State() == ConnClosed {
			continue
		}
		kept = append(kept, c)
		if found == nil && c.State() == ConnIdle {
			found = c
		}
	}
	p.entries[key] = kept

	if found != nil {
		found.MarkActive()
		return found, false, nil
	}

	if canDial && len(kept) < p.MaxSockets {
		return nil, true, nil
	}

	return nil, false, nil
}

// Release returns c to its pool: CLOSED connections are dropped, others
// are marked IDLE and, if keep-alive, armed with an idle timer that
// closes them on expiry. Either way, any Acquire waiters on key are
// signaled.
func (p *Pool) Release(key string, c *Connection, idleTimeout time.Duration) {
	if c.State() == ConnClosed {
		p.mu.Lock()
		list := p.entries[key]
		kept := list[:0]
		for _, x := range list {
			if x != c {
				kept = append(kept, x)
			}
		}
		p.entries[key] = kept
		p.mu.Unlock()
	} else {
		c.MarkIdle()
		if c.KeepAlive() && idleTimeout > 0 {
			c.ArmIdleTimer(idleTimeout, func() {
				c.MarkClosed()
				p.broadcast(key)
			})
		}
	}

	p.broadcast(key)
}

func (p *Pool) waiterChan(key string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiters[key]
	if !ok {
		ch = make(chan struct{})
		p.waiters[key] = ch
	}
	return ch
}

func (p *Pool) broadcast(key string) {
	p.mu.Lock()
	ch, ok := p.waiters[key]
	if ok {
		close(ch)
		delete(p.waiters, key)
	}
	p.mu.Unlock()
}

// CloseAll closes every Connection in every pool, for shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string][]*Connection)
	p.mu.Unlock()

	for _, list := range entries {
		for _, c := range list {
			c.Close()
		}
	}
}

// Stats returns the number of tracked Connections per pool key, including
// entries pending sweep.
func (p *Pool) Stats() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]int, len(p.entries))
	for key, list := range p.entries {
		stats[key] = len(list)
	}
	return stats
}
