// Package streamhttp implements the streamed-HTTP transport: requests
// and notifications travel to the provider as ordinary HTTP POSTs, while
// provider-to-host frames arrive on a standing server-sent-event stream.
// Either leg may carry a response; both feed the same inbound channel so
// the difference is invisible above the session layer.
package streamhttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/acesanderson/MCPLite/transport"
)

// SessionIDHeader carries the transport-level session identity on every
// request so the provider can route stream frames back to this client.
const SessionIDHeader = "Mcp-Session-Id"

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

// Config describes the provider endpoint.
type Config struct {
	// URL is the provider's MCP endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string

	// HTTPClient overrides the default client (useful for tests and
	// custom timeouts). A nil value uses http.DefaultClient.
	HTTPClient *http.Client

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

var _ transport.Transport = (*Transport)(nil)

// Transport is the client side of the streamed-HTTP channel.
type Transport struct {
	cfg       Config
	logger    *slog.Logger
	client    *http.Client
	sessionID string

	mu        sync.Mutex
	started   bool
	closing   bool
	streamCtx context.Context
	cancel    context.CancelFunc

	// inMu guards close(in) against a concurrent POST-leg delivery.
	inMu     sync.RWMutex
	inClosed bool
	in       chan []byte
	readErr  error // set by the stream goroutine before closing in
}

// New creates a streamed-HTTP transport. No connection is made until Start.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Transport{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		sessionID: uuid.NewString(),
		in:        make(chan []byte, 16),
	}
}

// SessionID returns the transport-level session identity sent with
// every request.
func (t *Transport) SessionID() string {
	return t.sessionID
}

// Start opens the server-sent-event stream and begins pumping inbound
// frames. The ctx bounds only stream establishment; the stream itself
// lives until Close.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	if t.closing {
		return transport.ErrClosed
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: open event stream: %v", transport.ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: event stream status %d", transport.ErrUnavailable, resp.StatusCode)
	}
	ct := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
	if !ct.Matches(eventStreamMediaType) {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("%w: unexpected stream content-type %q", transport.ErrUnavailable, ct.String())
	}

	t.started = true
	t.streamCtx = streamCtx
	t.cancel = cancel
	t.logger.Info("transport.streamhttp.started",
		slog.String("url", t.cfg.URL),
		slog.String("session_id", t.sessionID),
	)

	go t.readLoop(resp.Body)

	return nil
}

// readLoop parses SSE events off the stream body into inbound frames.
func (t *Transport) readLoop(body io.ReadCloser) {
	defer t.closeIn()
	defer body.Close()

	err := readEvents(body, func(data []byte) {
		t.in <- data
	})

	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()

	if closing {
		return
	}
	if err != nil {
		t.readErr = fmt.Errorf("%w: event stream: %v", transport.ErrClosed, err)
	} else {
		// Server ended the stream without being asked to.
		t.readErr = fmt.Errorf("%w: event stream ended", transport.ErrClosed)
	}
	t.logger.Warn("transport.streamhttp.stream_lost", slog.String("url", t.cfg.URL))
}

// Send POSTs one frame. A JSON response body is treated as an inbound
// frame; a 202 means the reply (if any) will arrive on the stream.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return transport.ErrNotStarted
	}
	if t.closing {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", jsonMediaType.String())
	req.Header.Set("Accept", jsonMediaType.String()+", "+eventStreamMediaType.String())
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post: %v", transport.ErrClosed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusOK:
		ct := contenttype.NewMediaType(resp.Header.Get("Content-Type"))
		if !ct.Matches(jsonMediaType) {
			return fmt.Errorf("unexpected response content-type %q", ct.String())
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if len(bytes.TrimSpace(body)) > 0 {
			t.deliver(body)
		}
		return nil
	default:
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
}

// deliver routes a POST-leg response into the inbound channel unless the
// channel already closed.
func (t *Transport) deliver(frame []byte) {
	t.inMu.RLock()
	defer t.inMu.RUnlock()
	if t.inClosed {
		return
	}
	select {
	case t.in <- frame:
	case <-t.streamCtx.Done():
	}
}

// closeIn closes the inbound channel exactly once.
func (t *Transport) closeIn() {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	if t.inClosed {
		return
	}
	t.inClosed = true
	close(t.in)
}

func (t *Transport) applyHeaders(req *http.Request) {
	req.Header.Set(SessionIDHeader, t.sessionID)
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
}

// Receive returns the inbound frame channel.
func (t *Transport) Receive() <-chan []byte {
	return t.in
}

// Err reports why the inbound channel closed. It is meaningful only
// after the channel closes.
func (t *Transport) Err() error {
	return t.readErr
}

// Close tears down the event stream.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	started := t.started
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		t.closeIn()
	}
	t.logger.Debug("transport.streamhttp.closed", slog.String("session_id", t.sessionID))
	return nil
}
