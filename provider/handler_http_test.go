package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/acesanderson/MCPLite/client"
	"github.com/acesanderson/MCPLite/mcp"
	"github.com/acesanderson/MCPLite/transport/streamhttp"
)

// The streamed-HTTP handler must interoperate with the host's
// streamhttp transport end to end: handshake, discovery, and calls.
func TestHandler_SessionOverStreamHTTP(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewHandler(testServer()))
	defer ts.Close()

	tr := streamhttp.New(streamhttp.Config{URL: ts.URL})
	s := client.NewSession(tr, client.Config{})
	defer s.Close()

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := s.ServerInfo().Name; got != "calculator" {
		t.Errorf("server = %q", got)
	}

	result, err := s.CallTool(ctx, mcp.CallToolRequest{
		Name:      "add",
		Arguments: json.RawMessage(`{"a":20,"b":22}`),
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.Content[0].Text != "42" {
		t.Errorf("result = %q", result.Content[0].Text)
	}

	read, err := s.ReadResource(ctx, "data://current-time")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.Contents[0].Text != "2026-01-01T00:00:00Z" {
		t.Errorf("contents = %+v", read.Contents)
	}
}

func TestHandler_TwoClientsGetIndependentSessions(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewHandler(testServer()))
	defer ts.Close()

	ctx := context.Background()
	a := client.NewSession(streamhttp.New(streamhttp.Config{URL: ts.URL}), client.Config{})
	defer a.Close()
	b := client.NewSession(streamhttp.New(streamhttp.Config{URL: ts.URL}), client.Config{})
	defer b.Close()

	// Both clients complete an independent handshake; a second
	// initialize on the same session would be rejected, so this proves
	// the handler keys state by session id.
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("connect b: %v", err)
	}
}

func TestHandler_MissingSessionHeader(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(NewHandler(testServer()))
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
