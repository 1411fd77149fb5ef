// Package direct implements the in-process transport: frames are handed
// straight to a provider frame handler with no real serialization
// boundary. It is the reference implementation used to conformance-test
// the piped and streamed transports, and the cheapest way to embed a
// provider in the host process.
package direct

import (
	"context"
	"log/slog"
	"sync"

	"github.com/acesanderson/MCPLite/transport"
)

// Handler processes one encoded frame and returns the encoded response
// frame, or nil when the frame was a notification.
type Handler func(ctx context.Context, frame []byte) []byte

var _ transport.Transport = (*Transport)(nil)

// Transport delivers frames to a Handler on a dedicated pump goroutine,
// preserving send order.
type Transport struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	out     chan []byte
	in      chan []byte
	done    chan struct{}
}

// Option configures the direct transport.
type Option func(*Transport)

// WithLogger sets the slog logger used for transport diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates a direct transport bound to the given provider handler.
func New(h Handler, opts ...Option) *Transport {
	t := &Transport{
		handler: h,
		logger:  slog.Default(),
		out:     make(chan []byte, 16),
		in:      make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the pump goroutine. The handler is invoked
// sequentially, so responses enter the inbound channel in send order.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.started {
		return nil
	}
	if t.handler == nil {
		return transport.ErrUnavailable
	}
	t.started = true

	go func() {
		defer close(t.in)
		defer close(t.done)
		for frame := range t.out {
			resp := t.handler(context.Background(), frame)
			if resp == nil {
				continue
			}
			t.in <- resp
		}
	}()

	return nil
}

// Send enqueues one frame for the handler.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return transport.ErrNotStarted
	}
	if t.closed {
		return transport.ErrClosed
	}
	select {
	case t.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the inbound frame channel.
func (t *Transport) Receive() <-chan []byte {
	return t.in
}

// Err always reports a clean close: the in-process peer cannot die
// independently of the host.
func (t *Transport) Err() error {
	return nil
}

// Close drains the pump and closes the inbound channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	close(t.out)
	t.mu.Unlock()

	if started {
		<-t.done
	} else {
		close(t.in)
	}
	t.logger.Debug("transport.direct.closed")
	return nil
}
