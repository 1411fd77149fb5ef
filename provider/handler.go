package provider

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/elnormous/contenttype"

	"github.com/acesanderson/MCPLite/transport/streamhttp"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// httpSession is the server-side state for one streamed-HTTP client:
// its connection dispatch state and, when a GET stream is attached, the
// event queue feeding it.
type httpSession struct {
	conn *Conn

	mu     sync.Mutex
	events chan []byte // nil when no stream is attached
}

// attach installs an event queue for a newly opened stream.
func (s *httpSession) attach() chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(chan []byte, 16)
	return s.events
}

// detach removes the stream's event queue if it is still the active one.
func (s *httpSession) detach(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == ch {
		s.events = nil
	}
}

// push queues a frame for stream delivery. Returns false when no stream
// is attached or the queue is full; the caller falls back to the POST leg.
func (s *httpSession) push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return false
	}
	select {
	case s.events <- frame:
		return true
	default:
		return false
	}
}

// Handler serves a provider over streamed HTTP on a single endpoint:
// POST carries client-to-provider frames, GET opens the server-sent
// event stream for provider-to-client frames. Clients are told apart by
// the Mcp-Session-Id header. It is the peer of the host's streamhttp
// transport.
type Handler struct {
	srv    *Server
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*httpSession
}

var _ http.Handler = (*Handler)(nil)

// NewHandler wraps a provider in an http.Handler.
func NewHandler(srv *Server) *Handler {
	return &Handler{
		srv:      srv,
		logger:   srv.logger,
		sessions: make(map[string]*httpSession),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleStream(w, r)
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// session returns (creating if needed) the state for the client named
// by the session header.
func (h *Handler) session(r *http.Request) (string, *httpSession, bool) {
	id := r.Header.Get(streamhttp.SessionIDHeader)
	if id == "" {
		return "", nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[id]
	if !ok {
		sess = &httpSession{conn: h.srv.NewConn()}
		h.sessions[id] = sess
	}
	return id, sess, true
}

// handleStream opens the server-sent event stream for one client.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		http.Error(w, "accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	id, sess, ok := h.session(r)
	if !ok {
		http.Error(w, "missing "+streamhttp.SessionIDHeader+" header", http.StatusBadRequest)
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := sess.attach()
	defer sess.detach(events)

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	// Open the stream immediately so the client's Start returns.
	_, _ = io.WriteString(w, ": stream open\n\n")
	f.Flush()

	h.logger.Info("provider.http.stream_open", slog.String("session_id", id))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("provider.http.stream_close", slog.String("session_id", id))
			return
		case frame := <-events:
			if _, err := io.WriteString(w, "data: "); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := io.WriteString(w, "\n\n"); err != nil {
				return
			}
			f.Flush()
		}
	}
}

// handlePost processes one client frame. Responses prefer the standing
// event stream; when none is attached they ride back on the POST body.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	_, sess, ok := h.session(r)
	if !ok {
		http.Error(w, "missing "+streamhttp.SessionIDHeader+" header", http.StatusBadRequest)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	resp := sess.conn.Frame(r.Context(), raw)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if sess.push(resp) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// handleDelete discards a client's session state.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(streamhttp.SessionIDHeader)
	if id == "" {
		http.Error(w, "missing "+streamhttp.SessionIDHeader+" header", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
