package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ConnectError reports a failed dial to one candidate address.
type ConnectError struct {
	Addr netip.AddrPort
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TLSError reports a failed TLS handshake.
type TLSError struct {
	Host string
	Err  error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls handshake with %s: %v", e.Host, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// Options are the per-connection settings a Factory applies.
type Options struct {
	// NoDelay is the TCP_NODELAY value set on every connection, both at
	// creation and again on recycle.
	NoDelay bool
	// ConnectTimeout, when positive, bounds the dial and (for TLS) the
	// handshake. It does not bound anything after the connection is up.
	ConnectTimeout time.Duration
}

// Factory creates and validates connections to a single remote address.
// It holds configuration only, never connection state, so it can be shared
// by a pool across goroutines.
type Factory struct {
	addr netip.AddrPort
	host string      // server name for TLS verification and SNI
	tls  *tls.Config // nil for plaintext
	opts Options

	lg *zap.Logger
}

// NewFactory creates a plaintext connection factory for addr.
func NewFactory(addr netip.AddrPort, opts Options, lg *zap.Logger) *Factory {
	return &Factory{
		addr: addr,
		opts: opts,
		lg:   lg.With(zap.Stringer("remote-addr", addr)),
	}
}

// NewTLSFactory creates a TLS connection factory for addr. host is the name
// the peer's certificate is verified against. A nil cfg uses the defaults
// (system trust store).
func NewTLSFactory(addr netip.AddrPort, host string, cfg *tls.Config, opts Options, lg *zap.Logger) *Factory {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	return &Factory{
		addr: addr,
		host: host,
		tls:  cfg,
		opts: opts,
		lg:   lg.With(zap.Stringer("remote-addr", addr), zap.String("server-name", host)),
	}
}

// Create dials a new connection, applies socket options and, for the TLS
// variant, performs the handshake. Failures come back as *ConnectError or
// *TLSError.
func (f *Factory) Create(ctx context.Context) (Conn, error) {
	if f.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", f.addr.String())
	if err != nil {
		return nil, &ConnectError{Addr: f.addr, Err: err}
	}
	tc := nc.(*net.TCPConn)
	if err := tc.SetNoDelay(f.opts.NoDelay); err != nil {
		_ = tc.Close()
		return nil, &ConnectError{Addr: f.addr, Err: errors.WithMessage(err, "set nodelay")}
	}

	if f.tls == nil {
		f.lg.Debug("connection created")
		return &tcpConn{tc: tc}, nil
	}

	cfg := f.tls.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = f.host
	}
	tlc := tls.Client(tc, cfg)
	if err := tlc.HandshakeContext(ctx); err != nil {
		_ = tc.Close()
		return nil, &TLSError{Host: f.host, Err: err}
	}
	f.lg.Debug("tls connection created")
	return &tlsConn{tc: tlc, raw: tc}, nil
}

// Recycle validates a connection about to be reused from idle. A non-nil
// error (wrapping ErrUnhealthy) means the connection must be destroyed.
func (f *Factory) Recycle(c Conn) error {
	r, ok := c.(recycler)
	if !ok {
		return errors.WithMessagef(ErrUnhealthy, "foreign connection type %T", c)
	}
	return r.recycle(f.opts.NoDelay)
}
