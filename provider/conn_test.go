package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"

	"github.com/acesanderson/MCPLite/internal/jsonrpc"
	"github.com/acesanderson/MCPLite/mcp"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func testServer() *Server {
	srv := NewServer("calculator", "1.0.0", WithInstructions("test provider"))
	srv.RegisterTool(NewTool("add",
		func(ctx context.Context, args addArgs) (*mcp.CallToolResult, error) {
			return TextResult(strconv.Itoa(args.A + args.B)), nil
		},
		WithToolDescription("Add two integers."),
	))
	srv.RegisterResource(StaticTextResource(
		"data://current-time", "current-time", "", "2026-01-01T00:00:00Z",
	))
	srv.RegisterPrompt(TemplatePrompt(
		mcp.Prompt{
			Name:      "greeting",
			Arguments: []mcp.PromptArgument{{Name: "name", Required: true}},
		},
		"Hello {name}!",
	))
	return srv
}

// roundTrip feeds one raw frame and decodes the response.
func roundTrip(t *testing.T, conn *Conn, frame string) *jsonrpc.Response {
	t.Helper()
	out := conn.Frame(context.Background(), []byte(frame))
	if out == nil {
		t.Fatal("expected a response frame")
	}
	msg, err := jsonrpc.DecodeFrame(out)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resp := msg.AsResponse()
	if resp == nil {
		t.Fatalf("frame is not a response: %s", out)
	}
	return resp
}

func wantErrorCode(t *testing.T, resp *jsonrpc.Response, code jsonrpc.ErrorCode) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Fatalf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

func initializeFrame(version string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q,"capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`, version)
}

func readyConn(t *testing.T, srv *Server) *Conn {
	t.Helper()
	conn := srv.NewConn()
	resp := roundTrip(t, conn, initializeFrame(mcp.ProtocolVersion))
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}
	if out := conn.Frame(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)); out != nil {
		t.Fatalf("notification produced a response: %s", out)
	}
	return conn
}

func TestConn_RequestsBeforeHandshakeRejected(t *testing.T) {
	t.Parallel()

	conn := testServer().NewConn()
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeNotInitialized)
}

func TestConn_PingAllowedBeforeHandshake(t *testing.T) {
	t.Parallel()

	conn := testServer().NewConn()
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	if resp.Error != nil {
		t.Fatalf("ping failed: %v", resp.Error)
	}
}

func TestConn_Initialize(t *testing.T) {
	t.Parallel()

	conn := testServer().NewConn()
	resp := roundTrip(t, conn, initializeFrame(mcp.ProtocolVersion))
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != mcp.ProtocolVersion {
		t.Errorf("version = %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "calculator" {
		t.Errorf("server = %q", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil || result.Capabilities.Resources == nil || result.Capabilities.Prompts == nil {
		t.Errorf("capabilities = %+v", result.Capabilities)
	}
	if result.Instructions != "test provider" {
		t.Errorf("instructions = %q", result.Instructions)
	}
}

func TestConn_InitializeVersionMismatch(t *testing.T) {
	t.Parallel()

	conn := testServer().NewConn()
	resp := roundTrip(t, conn, initializeFrame("1999-12-31"))
	wantErrorCode(t, resp, jsonrpc.ErrorCodeUnsupportedProtocolVersion)
}

func TestConn_DoubleInitialize(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())
	resp := roundTrip(t, conn, initializeFrame(mcp.ProtocolVersion))
	wantErrorCode(t, resp, jsonrpc.ErrorCodeAlreadyInitialized)
}

func TestConn_MethodNotFound(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"tools/destroy"}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeMethodNotFound)
}

func TestConn_ParseError(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())
	resp := roundTrip(t, conn, `{not json`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeParseError)
}

func TestConn_ToolCall(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add","arguments":{"a":2,"b":3}}}`)
	if resp.Error != nil {
		t.Fatalf("call failed: %v", resp.Error)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "5" {
		t.Errorf("content = %+v", result.Content)
	}
}

func TestConn_ToolCallErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		frame string
		code  jsonrpc.ErrorCode
	}{
		{
			name:  "unknown tool",
			frame: `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"subtract","arguments":{}}}`,
			code:  jsonrpc.ErrorCodeToolNotFound,
		},
		{
			name:  "wrong argument type",
			frame: `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add","arguments":{"a":"two","b":3}}}`,
			code:  jsonrpc.ErrorCodeInvalidParams,
		},
		{
			name:  "unknown argument",
			frame: `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add","arguments":{"a":1,"b":2,"c":3}}}`,
			code:  jsonrpc.ErrorCodeInvalidParams,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conn := readyConn(t, testServer())
			resp := roundTrip(t, conn, tc.frame)
			wantErrorCode(t, resp, tc.code)
		})
	}
}

func TestConn_ResourceRead(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"data://current-time"}}`)
	if resp.Error != nil {
		t.Fatalf("read failed: %v", resp.Error)
	}
	var result mcp.ReadResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].Text != "2026-01-01T00:00:00Z" {
		t.Errorf("contents = %+v", result.Contents)
	}
	if result.Contents[0].URI != "data://current-time" {
		t.Errorf("uri = %q", result.Contents[0].URI)
	}
}

func TestConn_ResourceReadErrors(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"data://missing"}}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeResourceNotFound)

	// Unresolved placeholders must be rejected, not matched.
	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"notes://daily/{date}"}}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeInvalidParams)
}

func TestConn_ResourceReadNilContents(t *testing.T) {
	t.Parallel()

	// A handler that returns (nil, nil) is a provider bug; the connection
	// must answer with an internal error instead of crashing.
	srv := testServer()
	srv.RegisterResource(NewResource(
		mcp.Resource{URI: "data://empty", Name: "empty"},
		func(ctx context.Context) (*mcp.ResourceContents, error) {
			return nil, nil
		},
	))
	if err := srv.RegisterResourceTemplate(NewResourceTemplate(
		mcp.ResourceTemplate{URITemplate: "empty://{id}", Name: "empty-tpl"},
		func(ctx context.Context, uri string, vars map[string]string) (*mcp.ResourceContents, error) {
			return nil, nil
		},
	)); err != nil {
		t.Fatalf("register template: %v", err)
	}
	conn := readyConn(t, srv)

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"data://empty"}}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeInternal)

	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"empty://42"}}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeInternal)
}

func TestConn_TemplateRead(t *testing.T) {
	t.Parallel()

	srv := testServer()
	if err := srv.RegisterResourceTemplate(NewResourceTemplate(
		mcp.ResourceTemplate{URITemplate: "notes://daily/{date}", Name: "daily"},
		func(ctx context.Context, uri string, vars map[string]string) (*mcp.ResourceContents, error) {
			return &mcp.ResourceContents{Text: "notes for " + vars["date"]}, nil
		},
	)); err != nil {
		t.Fatalf("register template: %v", err)
	}
	conn := readyConn(t, srv)

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"notes://daily/2026-08-31"}}`)
	if resp.Error != nil {
		t.Fatalf("read failed: %v", resp.Error)
	}
	var result mcp.ReadResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Contents[0].Text != "notes for 2026-08-31" {
		t.Errorf("contents = %+v", result.Contents)
	}
}

func TestConn_PromptGet(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"greeting","arguments":{"name":"Ada"}}}`)
	if resp.Error != nil {
		t.Fatalf("get failed: %v", resp.Error)
	}
	var result mcp.GetPromptResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Messages) != 1 || result.Messages[0].Content.Text != "Hello Ada!" {
		t.Errorf("messages = %+v", result.Messages)
	}
}

func TestConn_PromptGetErrors(t *testing.T) {
	t.Parallel()

	conn := readyConn(t, testServer())

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"farewell"}}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodePromptNotFound)

	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"prompts/get","params":{"name":"greeting","arguments":{}}}`)
	wantErrorCode(t, resp, jsonrpc.ErrorCodeInvalidParams)
}
