package conn

import (
	"crypto/tls"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// ErrUnhealthy reports that an idle connection must not be reused.
// It never reaches callers of the client: the pool destroys the connection
// and creates (or waits for) another one instead.
var ErrUnhealthy = errors.New("connection unhealthy")

// Conn is a duplex byte stream to one remote peer, either a raw TCP
// connection or a TLS session over one. A Conn is owned exclusively by
// whoever checked it out of a pool; it is not safe for concurrent use.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer

	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// SetDeadline sets the read and write deadlines of the underlying
	// socket, as in net.Conn.
	SetDeadline(t time.Time) error
}

// recycler is implemented by both connection variants. recycle reports
// whether the connection survived its idle period, see probe.
type recycler interface {
	recycle(noDelay bool) error
}

type tcpConn struct {
	tc *net.TCPConn
}

func (c *tcpConn) Read(p []byte) (int, error)  { return c.tc.Read(p) }
func (c *tcpConn) Write(p []byte) (int, error) { return c.tc.Write(p) }
func (c *tcpConn) Close() error                { return c.tc.Close() }
func (c *tcpConn) LocalAddr() net.Addr         { return c.tc.LocalAddr() }
func (c *tcpConn) RemoteAddr() net.Addr        { return c.tc.RemoteAddr() }
func (c *tcpConn) SetDeadline(t time.Time) error {
	return c.tc.SetDeadline(t)
}

func (c *tcpConn) recycle(noDelay bool) error {
	return recheck(c.tc, noDelay)
}

// tlsConn keeps a handle on the raw socket below the TLS session: socket
// options and the health probe apply to it, not to the record layer.
type tlsConn struct {
	tc  *tls.Conn
	raw *net.TCPConn
}

func (c *tlsConn) Read(p []byte) (int, error)  { return c.tc.Read(p) }
func (c *tlsConn) Write(p []byte) (int, error) { return c.tc.Write(p) }
func (c *tlsConn) Close() error                { return c.tc.Close() }
func (c *tlsConn) LocalAddr() net.Addr         { return c.tc.LocalAddr() }
func (c *tlsConn) RemoteAddr() net.Addr        { return c.tc.RemoteAddr() }
func (c *tlsConn) SetDeadline(t time.Time) error {
	return c.tc.SetDeadline(t)
}

func (c *tlsConn) recycle(noDelay bool) error {
	return recheck(c.raw, noDelay)
}

func recheck(tc *net.TCPConn, noDelay bool) error {
	// a cancelled exchange may have left an expired deadline behind
	if err := tc.SetDeadline(time.Time{}); err != nil {
		return errors.WithMessagef(ErrUnhealthy, "clear deadline: %v", err)
	}
	if err := tc.SetNoDelay(noDelay); err != nil {
		return errors.WithMessagef(ErrUnhealthy, "set nodelay: %v", err)
	}
	return probe(tc)
}

// probe performs a non-blocking read on the raw socket. A healthy idle
// connection has nothing buffered: the peer only speaks after our next
// request. Buffered data, EOF or a read error all mean the peer gave up on
// the connection while it sat idle.
func probe(tc *net.TCPConn) error {
	if err := tc.SetReadDeadline(time.Now()); err != nil {
		return errors.WithMessagef(ErrUnhealthy, "set read deadline: %v", err)
	}
	var buf [4]byte
	n, err := tc.Read(buf[:])
	_ = tc.SetReadDeadline(time.Time{})
	switch {
	case err == nil && n > 0:
		return errors.WithMessage(ErrUnhealthy, "unsolicited data from peer")
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		// nothing to read, the happy path
		return nil
	case errors.Is(err, io.EOF):
		return errors.WithMessage(ErrUnhealthy, "closed by peer")
	default:
		return errors.WithMessagef(ErrUnhealthy, "read probe: %v", err)
	}
}
