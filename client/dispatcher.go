package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/acesanderson/MCPLite/internal/jsonrpc"
)

// errDispatcherClosed indicates the dispatcher shut down while calls
// were pending.
var errDispatcherClosed = errors.New("dispatcher closed")

// sendFunc emits one encoded frame to the peer.
type sendFunc func(ctx context.Context, frame []byte) error

type pendingCall struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// dispatcher owns the pending-request table of one session: it
// allocates correlation ids from a monotonic counter (so an id is never
// reused while a response can still arrive for it), pairs
// inbound responses with waiting callers, and enforces the per-call
// timeout. Each pending entry owns its timer, stopped on whichever path
// resolves the call first.
type dispatcher struct {
	send   sendFunc
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingCall
	closed   bool
	closeErr error

	nextID uint64
}

func newDispatcher(send sendFunc, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		send:    send,
		logger:  logger,
		pending: make(map[string]*pendingCall),
	}
}

// Call sends a request and blocks until the matching response arrives,
// the timeout elapses, or ctx is canceled. It never blocks delivery of
// other calls on the same session: the pending table is touched only
// under short critical sections.
func (d *dispatcher) Call(ctx context.Context, method string, params any, timeout time.Duration) (*jsonrpc.Response, error) {
	idNum := atomic.AddUint64(&d.nextID, 1)
	id := jsonrpc.NewRequestID(idNum)
	key := id.String()

	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	frame, err := jsonrpc.EncodeFrame(req)
	if err != nil {
		return nil, err
	}

	pc := &pendingCall{
		respCh: make(chan *jsonrpc.Response, 1),
		errCh:  make(chan error, 1),
	}
	d.mu.Lock()
	if d.closed {
		err := d.closeErr
		d.mu.Unlock()
		return nil, err
	}
	d.pending[key] = pc
	d.mu.Unlock()

	if err := d.send(ctx, frame); err != nil {
		d.remove(key)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-pc.respCh:
		return resp, nil
	case err := <-pc.errCh:
		return nil, err
	case <-timer.C:
		d.remove(key)
		return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, timeout)
	case <-ctx.Done():
		d.remove(key)
		return nil, ctx.Err()
	}
}

// Notify sends a notification. No pending entry is created.
func (d *dispatcher) Notify(ctx context.Context, method string, params any) error {
	d.mu.Lock()
	if d.closed {
		err := d.closeErr
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()
	notif, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	frame, err := jsonrpc.EncodeFrame(notif)
	if err != nil {
		return err
	}
	return d.send(ctx, frame)
}

// OnResponse delivers an inbound response to its waiting caller. A
// response whose id has no pending entry (a peer bug, a duplicate, or a
// reply arriving after its call timed out) is logged as a protocol
// anomaly and discarded, never surfaced to any caller.
func (d *dispatcher) OnResponse(resp *jsonrpc.Response) {
	if resp == nil || resp.ID.IsNil() {
		return
	}
	key := resp.ID.String()
	d.mu.Lock()
	pc, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		d.logger.Warn("session.response.unmatched", slog.String("id", key))
		return
	}
	pc.respCh <- resp
}

// Close fails every pending call with err and rejects new ones. The
// close cause is recorded under the same lock that guards the closed
// flag, so a caller that observes the dispatcher closed always sees
// the real cause rather than a generic shutdown error.
func (d *dispatcher) Close(err error) {
	if err == nil {
		err = errDispatcherClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.closeErr = err
	for key, pc := range d.pending {
		delete(d.pending, key)
		pc.errCh <- err
	}
}

// PendingCount reports how many calls are awaiting responses.
func (d *dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *dispatcher) remove(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

