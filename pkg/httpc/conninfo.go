package httpc

import (
	"context"
	"net"
)

// ConnInfo reports the socket addresses of the connection a request was
// sent over. Capture is best effort: fields stay nil when no connection was
// obtained.
type ConnInfo struct {
	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

type connInfoKey struct{}

// WithConnInfo returns a context that makes Do record the used connection's
// addresses into info.
func WithConnInfo(ctx context.Context, info *ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

func connInfoFrom(ctx context.Context) *ConnInfo {
	info, _ := ctx.Value(connInfoKey{}).(*ConnInfo)
	return info
}
