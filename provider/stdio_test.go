package provider

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/acesanderson/MCPLite/internal/jsonrpc"
	"github.com/acesanderson/MCPLite/mcp"
)

func TestServeStdio(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		initializeFrame(mcp.ProtocolVersion),
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add","arguments":{"a":4,"b":4}}}`,
		"",
	}, "\n")

	var out bytes.Buffer
	if err := ServeStdio(context.Background(), testServer(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("responses = %d (%q), want 2", len(lines), lines)
	}

	// First line answers initialize; the notification yields nothing.
	msg, err := jsonrpc.DecodeFrame([]byte(lines[0]))
	if err != nil {
		t.Fatalf("decode initialize response: %v", err)
	}
	if msg.AsResponse().Error != nil {
		t.Fatalf("initialize failed: %v", msg.AsResponse().Error)
	}

	msg, err = jsonrpc.DecodeFrame([]byte(lines[1]))
	if err != nil {
		t.Fatalf("decode call response: %v", err)
	}
	if !strings.Contains(string(msg.Result), `"8"`) {
		t.Errorf("call result = %s", msg.Result)
	}
}

func TestServeStdio_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := ServeStdio(ctx, testServer(), strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n"), &out)
	if err == nil {
		t.Fatal("expected context error")
	}
}
