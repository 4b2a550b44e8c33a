package httpc

import (
	"github.com/pkg/errors"
)

// Terminal error kinds returned by Client.Do, checked with errors.Is.
// Connection-level failures (conn.ConnectError, conn.TLSError) surface only
// when the last candidate address fails; earlier ones are recovered by
// failing over to the next candidate.
var (
	// ErrInvalidScheme reports a URL scheme other than http or https, or
	// https when TLS support is disabled.
	ErrInvalidScheme = errors.New("invalid url scheme")

	// ErrMissingHost reports a URL without a hostname.
	ErrMissingHost = errors.New("missing hostname")

	// ErrResolution reports a host that yielded no candidate addresses.
	ErrResolution = errors.New("host resolution failed")

	// ErrNoUsableAddress reports that every candidate address failed to
	// produce a working connection.
	ErrNoUsableAddress = errors.New("no usable address")
)
