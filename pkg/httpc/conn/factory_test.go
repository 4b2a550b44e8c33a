package conn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/httpc-go/httpc/pkg/util/testutil"
)

// testServer accepts connections on a loopback listener and hands them to
// the test through accepted.
type testServer struct {
	addr     netip.AddrPort
	accepted chan net.Conn

	listener net.Listener
	wg       sync.WaitGroup
}

func startServer(tb testing.TB, tlsCfg *tls.Config) *testServer {
	re := require.New(tb)

	var listener net.Listener
	var err error
	if tlsCfg != nil {
		listener, err = tls.Listen("tcp", "127.0.0.1:0", tlsCfg)
	} else {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
	}
	re.NoError(err)

	addr, err := netip.ParseAddrPort(listener.Addr().String())
	re.NoError(err)

	s := &testServer{
		addr:     addr,
		accepted: make(chan net.Conn, 16),
		listener: listener,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			c, err := listener.Accept()
			if err != nil {
				return
			}
			if tc, ok := c.(*tls.Conn); ok {
				// drive the server side of the handshake
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					_ = tc.Handshake()
				}()
			}
			s.accepted <- c
		}
	}()
	tb.Cleanup(func() {
		_ = listener.Close()
		s.wg.Wait()
		close(s.accepted)
		for c := range s.accepted {
			_ = c.Close()
		}
	})
	return s
}

func (s *testServer) accept(tb testing.TB) net.Conn {
	select {
	case c := <-s.accepted:
		return c
	case <-time.After(time.Second):
		tb.Fatal("no connection accepted")
		return nil
	}
}

func TestFactoryCreate(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	s := startServer(t, nil)
	f := NewFactory(s.addr, Options{NoDelay: true}, zap.NewNop())

	c, err := f.Create(context.Background())
	re.NoError(err)
	defer func() { _ = c.Close() }()

	re.NotNil(c.LocalAddr())
	re.Equal(s.addr.String(), c.RemoteAddr().String())

	sc := s.accept(t)
	defer func() { _ = sc.Close() }()

	// data flows both ways
	_, err = c.Write([]byte("ping"))
	re.NoError(err)
	buf := make([]byte, 4)
	_, err = sc.Read(buf)
	re.NoError(err)
	re.Equal("ping", string(buf))
}

func TestFactoryRecycleHealthy(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	s := startServer(t, nil)
	f := NewFactory(s.addr, Options{NoDelay: true}, zap.NewNop())

	c, err := f.Create(context.Background())
	re.NoError(err)
	defer func() { _ = c.Close() }()
	sc := s.accept(t)
	defer func() { _ = sc.Close() }()

	// a silent peer leaves the connection healthy, repeatedly
	re.NoError(f.Recycle(c))
	re.NoError(f.Recycle(c))
}

func TestFactoryRecycleClosedByPeer(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	s := startServer(t, nil)
	f := NewFactory(s.addr, Options{}, zap.NewNop())

	c, err := f.Create(context.Background())
	re.NoError(err)
	defer func() { _ = c.Close() }()

	re.NoError(s.accept(t).Close())

	// the FIN takes a moment to arrive
	re.Eventually(func() bool {
		return errors.Is(f.Recycle(c), ErrUnhealthy)
	}, time.Second, 10*time.Millisecond)
}

func TestFactoryRecycleUnsolicitedData(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	s := startServer(t, nil)
	f := NewFactory(s.addr, Options{}, zap.NewNop())

	c, err := f.Create(context.Background())
	re.NoError(err)
	defer func() { _ = c.Close() }()

	sc := s.accept(t)
	defer func() { _ = sc.Close() }()
	_, err = sc.Write([]byte("surprise"))
	re.NoError(err)

	re.Eventually(func() bool {
		return errors.Is(f.Recycle(c), ErrUnhealthy)
	}, time.Second, 10*time.Millisecond)
}

func TestFactoryConnectError(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	addr := testutil.AllocAddr(t)
	f := NewFactory(addr, Options{ConnectTimeout: time.Second}, zap.NewNop())

	_, err := f.Create(context.Background())
	re.Error(err)
	connErr := &ConnectError{}
	re.ErrorAs(err, &connErr)
	re.Equal(addr, connErr.Addr)
}

func TestTLSFactoryCreate(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	serverCfg, clientCfg := selfSignedTLS(t, "localhost")
	s := startServer(t, serverCfg)

	f := NewTLSFactory(s.addr, "localhost", clientCfg, Options{NoDelay: true}, zap.NewNop())
	c, err := f.Create(context.Background())
	re.NoError(err)
	defer func() { _ = c.Close() }()

	sc := s.accept(t)
	defer func() { _ = sc.Close() }()

	_, err = c.Write([]byte("ping"))
	re.NoError(err)
	buf := make([]byte, 4)
	_, err = sc.Read(buf)
	re.NoError(err)
	re.Equal("ping", string(buf))

	re.NoError(f.Recycle(c))
}

func TestTLSFactoryHandshakeError(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	serverCfg, _ := selfSignedTLS(t, "localhost")
	s := startServer(t, serverCfg)

	// no trust anchors configured, verification must fail
	f := NewTLSFactory(s.addr, "localhost", &tls.Config{}, Options{}, zap.NewNop())
	_, err := f.Create(context.Background())
	re.Error(err)
	tlsErr := &TLSError{}
	re.ErrorAs(err, &tlsErr)
	re.Equal("localhost", tlsErr.Host)
}

// selfSignedTLS generates a throwaway certificate for name and returns the
// server config serving it and a client config trusting it.
func selfSignedTLS(tb testing.TB, name string) (server *tls.Config, client *tls.Config) {
	re := require.New(tb)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	re.NoError(err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		DNSNames:              []string{name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	re.NoError(err)
	cert, err := x509.ParseCertificate(der)
	re.NoError(err)

	roots := x509.NewCertPool()
	roots.AddCert(cert)

	server = &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
	}
	client = &tls.Config{RootCAs: roots}
	return server, client
}
