// Package httpc is the transport layer of an HTTP/1.x client: it obtains a
// live, healthy connection to a request's target host from a per-address
// pool, performs the exchange over it, and returns the connection for
// reuse.
package httpc

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/httpc-go/httpc/pkg/httpc/codec"
	"github.com/httpc-go/httpc/pkg/httpc/config"
	"github.com/httpc-go/httpc/pkg/httpc/conn"
	"github.com/httpc-go/httpc/pkg/httpc/pool"
	"github.com/httpc-go/httpc/pkg/httpc/resolver"
)

var clientIDCounter = atomic.Int32{}

// Client performs HTTP/1.x exchanges over pooled connections.
type Client interface {
	// Do sends req and returns its response. The response body must be
	// closed; the underlying connection returns to its pool when the body
	// is closed after being fully read, and is destroyed otherwise.
	Do(req *http.Request) (*http.Response, error)
	// CloseIdleConnections destroys connections sitting idle in the pools.
	// It does not interrupt connections currently in use.
	CloseIdleConnections()
	// Shutdown closes idle connections and waits, until ctx is done, for
	// checked-out connections to finish.
	Shutdown(ctx context.Context)
}

// An H1Client pools connections per resolved remote address, separately for
// plaintext and TLS. It is safe for concurrent use by multiple goroutines,
// and holds no state shared with other instances.
type H1Client struct {
	cfg *config.Client

	id    string
	plain *pool.Registry
	tls   *pool.Registry // nil when TLS support is disabled

	resolver resolver.Resolver
	codec    codec.Codec

	lg *zap.Logger
}

// Option customizes an H1Client beyond its configuration.
type Option func(c *H1Client)

// WithResolver replaces the address resolver.
func WithResolver(r resolver.Resolver) Option {
	return func(c *H1Client) { c.resolver = r }
}

// WithCodec replaces the protocol codec.
func WithCodec(cd codec.Codec) Option {
	return func(c *H1Client) { c.codec = cd }
}

// NewClient creates a client. A nil cfg uses the defaults.
func NewClient(cfg *config.Client, lg *zap.Logger, opts ...Option) (*H1Client, error) {
	if cfg == nil {
		cfg = config.NewClient()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "validate config")
	}

	c := &H1Client{
		cfg:      cfg,
		id:       newClientID(),
		plain:    pool.NewRegistry(),
		resolver: &resolver.Net{},
		codec:    codec.NewH1(lg),
		lg:       lg,
	}
	if !cfg.DisableTLS {
		c.tls = pool.NewRegistry()
	}
	for _, opt := range opts {
		opt(c)
	}

	c.lg.Info("client created", zap.String("client-id", c.id))
	return c, nil
}

// Do sends a request over a pooled connection to one of the target's
// resolved addresses. Candidates are tried in resolver order; a candidate
// that cannot produce a working connection is skipped, while a failure
// after the exchange started is surfaced immediately (a blind retry could
// duplicate a non-idempotent request).
func (c *H1Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	u := req.URL
	logger := c.lg

	debug := logger.Core().Enabled(zap.DebugLevel)
	if debug {
		traceID, _ := uuid.NewRandom()
		logger = logger.With(zap.String("trace-id", traceID.String()))
		logger.Debug("do request", zap.String("method", req.Method), zap.Stringer("url", u))
	}

	scheme := u.Scheme
	switch scheme {
	case "http":
	case "https":
		if c.tls == nil {
			return nil, errors.WithMessagef(ErrInvalidScheme, "%q with TLS support disabled", scheme)
		}
	default:
		return nil, errors.WithMessagef(ErrInvalidScheme, "%q", scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, errors.WithMessage(ErrMissingHost, u.Redacted())
	}

	port, err := requestPort(u.Port(), scheme)
	if err != nil {
		return nil, err
	}

	candidates, err := c.resolver.Resolve(ctx, host, port)
	if err != nil {
		return nil, errors.WithMessagef(ErrResolution, "%s: %v", host, err)
	}
	if len(candidates) == 0 {
		return nil, errors.WithMessagef(ErrResolution, "%s: no addresses", host)
	}

	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if c.cfg.KeepAlive {
		req.Header.Set("Connection", "keep-alive")
	} else {
		req.Close = true
	}

	var lastErr error
	for _, addr := range candidates {
		cc, pl, err := c.acquire(ctx, scheme, host, addr)
		if err != nil {
			if ctx.Err() != nil {
				// the request itself is done, remaining candidates are moot
				return nil, err
			}
			logger.Debug("candidate address failed", zap.Stringer("address", addr), zap.Error(err))
			lastErr = err
			continue
		}
		return c.exchange(ctx, logger, req, pl, cc)
	}
	logger.Error("no candidate address usable", zap.String("host", host), zap.Error(lastErr))
	return nil, errors.WithMessagef(ErrNoUsableAddress, "%s: %v", host, lastErr)
}

// acquire obtains a connection from addr's pool, creating the pool on first
// use. The pool handle is extracted from the registry before Acquire can
// suspend: holding a registry shard lock across the wait would deadlock
// concurrent requests for the same address.
func (c *H1Client) acquire(ctx context.Context, scheme string, host string, addr netip.AddrPort) (conn.Conn, *pool.Pool, error) {
	registry := c.plain
	if scheme == "https" {
		registry = c.tls
	}
	pl := registry.GetOrCreate(addr, func() *pool.Pool {
		return pool.New(c.factory(scheme, host, addr), int(c.cfg.MaxConnsPerHost), c.lg)
	})
	cc, err := pl.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cc, pl, nil
}

func (c *H1Client) factory(scheme string, host string, addr netip.AddrPort) *conn.Factory {
	opts := conn.Options{
		NoDelay:        c.cfg.NoDelay,
		ConnectTimeout: c.cfg.ConnectTimeout,
	}
	if scheme == "https" {
		return conn.NewTLSFactory(addr, host, c.cfg.TLS, opts, c.lg)
	}
	return conn.NewFactory(addr, opts, c.lg)
}

func (c *H1Client) exchange(ctx context.Context, logger *zap.Logger, req *http.Request, pl *pool.Pool, cc conn.Conn) (*http.Response, error) {
	if info := connInfoFrom(ctx); info != nil {
		info.LocalAddr = cc.LocalAddr()
		info.RemoteAddr = cc.RemoteAddr()
	}

	resp, err := c.codec.Exchange(ctx, cc, req)
	if err != nil {
		pl.Discard(cc)
		logger.Error("exchange failed", zap.Error(err))
		return nil, err
	}

	reusable := c.cfg.KeepAlive && !resp.Close
	resp.Body = newPooledBody(resp, func(reuse bool) {
		if reuse && reusable {
			pl.Release(cc)
		} else {
			pl.Discard(cc)
		}
	})

	if logger.Core().Enabled(zap.DebugLevel) {
		logger.Debug("do request done", zap.String("status", resp.Status))
	}
	return resp, nil
}

// CloseIdleConnections closes any connections which were connected by
// previous requests but are now sitting idle. It does not interrupt any
// connections currently in use.
func (c *H1Client) CloseIdleConnections() {
	c.eachRegistry(func(r *pool.Registry) {
		r.Each(func(p *pool.Pool) { p.CloseIdle() })
	})
	c.lg.Info("close idle connections")
}

// Shutdown closes idle connections and waits for checked-out connections to
// come back, up to ctx's deadline. Connections returned while shutting down
// are destroyed rather than kept idle.
func (c *H1Client) Shutdown(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		outstanding := 0
		c.eachRegistry(func(r *pool.Registry) {
			r.Each(func(p *pool.Pool) {
				p.CloseIdle()
				outstanding += p.Outstanding()
			})
		})
		if outstanding == 0 {
			c.lg.Info("close all connections")
			return
		}
		select {
		case <-ctx.Done():
			c.lg.Warn("shutdown timed out with connections in use", zap.Int("outstanding", outstanding))
			return
		case <-ticker.C:
		}
	}
}

func (c *H1Client) eachRegistry(f func(r *pool.Registry)) {
	f(c.plain)
	if c.tls != nil {
		f(c.tls)
	}
}

func requestPort(explicit string, scheme string) (uint16, error) {
	if explicit == "" {
		port, _ := resolver.DefaultPort(scheme)
		return port, nil
	}
	port, err := strconv.ParseUint(explicit, 10, 16)
	if err != nil {
		return 0, errors.WithMessagef(ErrResolution, "invalid port %q", explicit)
	}
	return uint16(port), nil
}

func newClientID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("h1c|%s|%d|%d|%d", hostname, os.Getpid(), clientIDCounter.Add(1), time.Now().UnixNano())
}
