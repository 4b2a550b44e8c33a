package httpc

import (
	"io"
	"net/http"
	"sync"
)

// pooledBody wraps a response body so that closing it settles the fate of
// the connection it reads from: released for reuse when the body was fully
// drained, destroyed otherwise. This is the guaranteed-return half of the
// scoped acquisition: whatever the caller does, Close hands the connection
// back exactly once.
type pooledBody struct {
	body    io.ReadCloser
	drained bool

	once sync.Once
	done func(reuse bool)
}

func newPooledBody(resp *http.Response, done func(reuse bool)) *pooledBody {
	return &pooledBody{
		body: resp.Body,
		// an empty body needs no reads to be drained
		drained: resp.ContentLength == 0,
		done:    done,
	}
}

func (b *pooledBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err == io.EOF {
		b.drained = true
	}
	return n, err
}

func (b *pooledBody) Close() error {
	err := b.body.Close()
	b.once.Do(func() {
		b.done(err == nil && b.drained)
	})
	return err
}
