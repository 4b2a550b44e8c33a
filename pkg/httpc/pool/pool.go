// Package pool provides bounded per-address connection pools and the
// registry that maps remote addresses to them.
package pool

import (
	"context"

	"go.uber.org/zap"

	"github.com/httpc-go/httpc/pkg/httpc/conn"
)

// Factory creates and validates connections for one remote address.
// Implemented by conn.Factory; tests supply fakes.
type Factory interface {
	Create(ctx context.Context) (conn.Conn, error)
	Recycle(c conn.Conn) error
}

// Pool is a bounded container of reusable connections to one remote
// address. Checked-out plus idle connections never exceed the maximum.
// All methods are safe for concurrent use.
//
// A connection obtained from Acquire must be handed back through exactly
// one of Release or Discard, on every exit path.
type Pool struct {
	factory Factory

	// sem holds one token per live connection (checked out or idle).
	// idle holds connections waiting for reuse; they keep their token
	// until destroyed.
	sem  chan struct{}
	idle chan conn.Conn

	lg *zap.Logger
}

// New creates a pool holding at most max connections. max must be positive;
// config validation rejects zero before a pool can be built.
func New(factory Factory, max int, lg *zap.Logger) *Pool {
	return &Pool{
		factory: factory,
		sem:     make(chan struct{}, max),
		idle:    make(chan conn.Conn, max),
		lg:      lg,
	}
}

// Acquire returns a healthy connection, blocking until an idle one passes
// the recycle gate, capacity allows creating a new one, or ctx is done.
// A cancelled wait holds no slot and leaves the pool's counts untouched.
func (p *Pool) Acquire(ctx context.Context) (conn.Conn, error) {
	for {
		// prefer a validated idle connection over dialing
		select {
		case c := <-p.idle:
			if err := p.factory.Recycle(c); err != nil {
				p.lg.Debug("discarding idle connection", zap.Error(err))
				p.destroy(c)
				continue
			}
			return c, nil
		default:
		}

		select {
		case c := <-p.idle:
			if err := p.factory.Recycle(c); err != nil {
				p.lg.Debug("discarding idle connection", zap.Error(err))
				p.destroy(c)
				continue
			}
			return c, nil
		case p.sem <- struct{}{}:
			c, err := p.factory.Create(ctx)
			if err != nil {
				// give the slot back so the next caller can retry
				<-p.sem
				return nil, err
			}
			return c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a checked-out connection to the idle set, where the next
// Acquire revalidates it before handing it out.
func (p *Pool) Release(c conn.Conn) {
	select {
	case p.idle <- c:
	default:
		// idle has the same capacity as sem, so this only triggers for a
		// connection that never came from this pool
		p.destroy(c)
	}
}

// Discard destroys a checked-out connection, freeing its slot immediately.
func (p *Pool) Discard(c conn.Conn) {
	p.destroy(c)
}

// CloseIdle destroys every currently idle connection. Checked-out
// connections are unaffected.
func (p *Pool) CloseIdle() {
	for {
		select {
		case c := <-p.idle:
			p.destroy(c)
		default:
			return
		}
	}
}

// Outstanding returns the number of live connections, checked out or idle.
func (p *Pool) Outstanding() int { return len(p.sem) }

// Idle returns the number of idle connections.
func (p *Pool) Idle() int { return len(p.idle) }

func (p *Pool) destroy(c conn.Conn) {
	_ = c.Close()
	<-p.sem
}
