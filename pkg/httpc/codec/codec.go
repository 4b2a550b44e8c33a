// Package codec is the boundary to the HTTP/1.x message framing. The
// transport hands it a connected stream and a request; everything at the
// wire level below that is net/http's business.
package codec

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Codec performs one request/response exchange over an already-connected
// stream. The returned response's body reads from the same stream, so the
// stream must stay checked out until the body is closed.
type Codec interface {
	Exchange(ctx context.Context, stream io.ReadWriter, req *http.Request) (*http.Response, error)
}

// H1 is the default HTTP/1.x codec.
type H1 struct {
	lg *zap.Logger
}

// NewH1 creates the default codec.
func NewH1(lg *zap.Logger) *H1 {
	return &H1{lg: lg}
}

func (h *H1) Exchange(ctx context.Context, stream io.ReadWriter, req *http.Request) (*http.Response, error) {
	stop := watchCancel(ctx, stream)
	defer stop()

	bw := bufio.NewWriter(stream)
	if err := req.Write(bw); err != nil {
		return nil, wrapCtx(ctx, err, "write request")
	}
	if err := bw.Flush(); err != nil {
		return nil, wrapCtx(ctx, err, "flush request")
	}

	resp, err := http.ReadResponse(bufio.NewReader(stream), req)
	if err != nil {
		return nil, wrapCtx(ctx, err, "read response")
	}
	return resp, nil
}

// wrapCtx prefers the context's error over the I/O error it provoked, so
// cancellation surfaces as context.Canceled rather than a deadline error
// from the poked stream.
func wrapCtx(ctx context.Context, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return errors.Wrap(err, msg)
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// watchCancel unblocks stream I/O when ctx is cancelled by expiring the
// stream's deadline. The watch ends when the exchange returns; the stream
// is discarded on error, so a deadline fired by a losing race is harmless.
func watchCancel(ctx context.Context, stream io.ReadWriter) (stop func()) {
	d, ok := stream.(deadliner)
	if !ok || ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = d.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}
