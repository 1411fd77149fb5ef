// Package transport abstracts the byte channel between the host and one
// capability provider. Implementations move opaque encoded frames and
// never inspect them; the three variants (direct, stdio, streamhttp)
// are interchangeable above the session layer.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the peer could not be reached or started
	// within the setup window.
	ErrUnavailable = errors.New("transport unavailable")
	// ErrClosed means the channel ended because the peer died
	// unexpectedly. A clean peer shutdown is not an error: the receive
	// channel just closes and Err returns nil.
	ErrClosed = errors.New("transport closed unexpectedly")
	// ErrNotStarted is returned by Send before Start succeeded.
	ErrNotStarted = errors.New("transport not started")
)

// Transport is a bidirectional frame channel to one provider.
//
// Send preserves the order of frames from a single caller. Receive
// returns a lazy, non-restartable inbound sequence: the channel closes
// when the peer shuts down, and Err distinguishes a clean close (nil)
// from an unexpected one (ErrClosed). Close releases the underlying
// channel and any owned subprocess or connection on every exit path,
// including after a partially successful Start.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	Receive() <-chan []byte
	Err() error
	Close() error
}
