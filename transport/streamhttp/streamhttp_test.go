package streamhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acesanderson/MCPLite/transport"
)

// streamServer is a minimal provider endpoint: one SSE stream per
// session id, POSTs either echoed on the stream (202) or in the POST
// body (200), selected by mode.
type streamServer struct {
	mode string // "stream" or "body"

	mu      sync.Mutex
	streams map[string]chan []byte
}

func newStreamServer(mode string) *streamServer {
	return &streamServer{mode: mode, streams: make(map[string]chan []byte)}
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(SessionIDHeader)
	if sid == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		events := make(chan []byte, 16)
		s.mu.Lock()
		s.streams[sid] = events
		s.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for {
			select {
			case frame := <-events:
				fmt.Fprintf(w, "data: %s\n\n", frame)
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		reply := append([]byte("echo:"), body...)
		if s.mode == "stream" {
			s.mu.Lock()
			events := s.streams[sid]
			s.mu.Unlock()
			if events == nil {
				http.Error(w, "no stream", http.StatusConflict)
				return
			}
			events <- reply
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(reply)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func recvFrame(t *testing.T, tr *Transport) ([]byte, bool) {
	t.Helper()
	select {
	case frame, ok := <-tr.Receive():
		return frame, ok
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return nil, false
}

func TestStreamHTTP_ReplyOnStream(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(newStreamServer("stream"))
	defer ts.Close()

	tr := New(Config{URL: ts.URL})
	ctx := context.Background()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(ctx, []byte(`{"id":1}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame, ok := recvFrame(t, tr)
	if !ok {
		t.Fatal("inbound channel closed early")
	}
	if !bytes.Equal(frame, []byte(`echo:{"id":1}`)) {
		t.Errorf("frame = %q", frame)
	}
}

func TestStreamHTTP_ReplyInPostBody(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(newStreamServer("body"))
	defer ts.Close()

	tr := New(Config{URL: ts.URL})
	ctx := context.Background()
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(ctx, []byte(`{"id":2}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame, ok := recvFrame(t, tr)
	if !ok {
		t.Fatal("inbound channel closed early")
	}
	if !bytes.Equal(frame, []byte(`echo:{"id":2}`)) {
		t.Errorf("frame = %q", frame)
	}
}

func TestStreamHTTP_ServerDropsStream(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		// End the stream immediately.
	}))
	defer ts.Close()

	tr := New(Config{URL: ts.URL})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Close()

	if _, ok := recvFrame(t, tr); ok {
		t.Fatal("expected closed channel")
	}
	if err := tr.Err(); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", err)
	}
}

func TestStreamHTTP_RejectsWrongContentType(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	tr := New(Config{URL: ts.URL})
	if err := tr.Start(context.Background()); !errors.Is(err, transport.ErrUnavailable) {
		t.Errorf("start err = %v, want ErrUnavailable", err)
	}
}

func TestReadEvents(t *testing.T) {
	t.Parallel()

	input := ": comment\n" +
		"data: first\n" +
		"\n" +
		"data: part one\n" +
		"data: part two\n" +
		"\n" +
		"event: named\n" +
		"data: third\n" +
		"\n"

	var got []string
	err := readEvents(strings.NewReader(input), func(data []byte) {
		got = append(got, string(data))
	})
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	want := []string{"first", "part one\npart two", "third"}
	if len(got) != len(want) {
		t.Fatalf("events = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}
