// Package testutil provides small helpers for tests.
package testutil

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

// AllocAddr returns a local address that was free at the time of the call.
// Connecting to it afterwards is refused, which makes it a convenient dead
// candidate for failover tests.
func AllocAddr(tb testing.TB) netip.AddrPort {
	re := require.New(tb)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	re.NoError(err)
	addr, err := netip.ParseAddrPort(listener.Addr().String())
	re.NoError(err)
	re.NoError(listener.Close())

	return addr
}
