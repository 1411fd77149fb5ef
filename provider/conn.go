package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/acesanderson/MCPLite/internal/jsonrpc"
	"github.com/acesanderson/MCPLite/internal/logctx"
	"github.com/acesanderson/MCPLite/mcp"
)

// connState tracks the handshake lifecycle of one connection.
type connState int

const (
	connUninitialized connState = iota
	connInitializing            // initialize answered, awaiting initialized notification
	connReady
)

// Conn is the per-connection dispatch state for one Server. Transports
// hand it encoded frames; it returns encoded response frames, or nil
// for notifications.
type Conn struct {
	srv    *Server
	logger *slog.Logger

	mu    sync.Mutex
	state connState
}

// NewConn creates a fresh connection against the provider. Each
// transport connection gets its own Conn so handshake state is never
// shared.
func (s *Server) NewConn() *Conn {
	return &Conn{srv: s, logger: s.logger}
}

// Frame processes one inbound frame and returns the encoded response
// frame, or nil when the frame was a notification or unroutable.
func (c *Conn) Frame(ctx context.Context, frame []byte) []byte {
	msg, err := jsonrpc.DecodeFrame(frame)
	if err != nil {
		c.logger.Warn("provider.frame.malformed", slog.String("err", err.Error()))
		resp := jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "malformed message", nil)
		return mustEncode(resp)
	}

	switch msg.Type() {
	case jsonrpc.MessageTypeNotification:
		c.handleNotification(msg)
		return nil
	case jsonrpc.MessageTypeRequest:
		return mustEncode(c.handleRequest(ctx, msg.AsRequest()))
	default:
		// Providers issue no requests of their own in this protocol, so
		// an inbound response correlates with nothing. Log and drop.
		c.logger.Warn("provider.frame.unexpected_response", slog.String("id", msg.ID.String()))
		return nil
	}
}

func (c *Conn) handleNotification(msg *jsonrpc.AnyMessage) {
	switch mcp.Method(msg.Method) {
	case mcp.InitializedNotificationMethod:
		c.mu.Lock()
		if c.state == connInitializing {
			c.state = connReady
		}
		c.mu.Unlock()
		c.logger.Info("provider.session.ready", slog.String("provider", c.srv.info.Name))
	default:
		c.logger.Debug("provider.notification.ignored", slog.String("method", msg.Method))
	}
}

func (c *Conn) handleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	method := mcp.Method(req.Method)
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})

	// initialize and ping are the only methods allowed before Ready.
	switch method {
	case mcp.InitializeMethod:
		return c.handleInitialize(req)
	case mcp.PingMethod:
		return mustResult(req.ID, mcp.PingResult{})
	}

	c.mu.Lock()
	ready := c.state == connReady
	c.mu.Unlock()
	if !ready {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeNotInitialized, "session not initialized", nil)
	}

	switch method {
	case mcp.ToolsListMethod:
		return mustResult(req.ID, mcp.ListToolsResult{Tools: c.srv.listTools()})
	case mcp.ToolsCallMethod:
		return c.handleToolCall(ctx, req)
	case mcp.ResourcesListMethod:
		return mustResult(req.ID, mcp.ListResourcesResult{Resources: c.srv.listResources()})
	case mcp.ResourcesTemplatesListMethod:
		return mustResult(req.ID, mcp.ListResourceTemplatesResult{ResourceTemplates: c.srv.listTemplates()})
	case mcp.ResourcesReadMethod:
		return c.handleResourceRead(ctx, req)
	case mcp.PromptsListMethod:
		return mustResult(req.ID, mcp.ListPromptsResult{Prompts: c.srv.listPrompts()})
	case mcp.PromptsGetMethod:
		return c.handlePromptGet(ctx, req)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

func (c *Conn) handleInitialize(req *jsonrpc.Request) *jsonrpc.Response {
	c.mu.Lock()
	if c.state != connUninitialized {
		c.mu.Unlock()
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeAlreadyInitialized, "already initialized", nil)
	}
	c.mu.Unlock()

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("invalid initialize params: %v", err), nil)
	}
	if params.ProtocolVersion != mcp.ProtocolVersion {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnsupportedProtocolVersion,
			fmt.Sprintf("unsupported protocol version %q (want %q)", params.ProtocolVersion, mcp.ProtocolVersion),
			nil)
	}

	c.mu.Lock()
	c.state = connInitializing
	c.mu.Unlock()

	c.logger.Info("provider.session.initializing",
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
	)

	return mustResult(req.ID, mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    c.srv.capabilities(),
		ServerInfo:      c.srv.info,
		Instructions:    c.srv.instructions,
	})
}

func (c *Conn) handleToolCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("invalid tools/call params: %v", err), nil)
	}
	tool, ok := c.srv.lookupTool(params.Name)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeToolNotFound,
			fmt.Sprintf("tool %q not found", params.Name), nil)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	result, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		var ipe *invalidParamsError
		if errors.As(err, &ipe) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, ipe.Error(), nil)
		}
		c.logger.ErrorContext(ctx, "provider.tool.fail",
			slog.String("tool", params.Name),
			slog.String("err", err.Error()),
		)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternal,
			fmt.Sprintf("tool %q failed: %v", params.Name, err), nil)
	}
	return mustResult(req.ID, result)
}

func (c *Conn) handleResourceRead(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ReadResourceRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("invalid resources/read params: %v", err), nil)
	}
	if strings.ContainsAny(params.URI, "{}") {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("uri %q contains unresolved placeholders", params.URI), nil)
	}

	if res, ok := c.srv.lookupResource(params.URI); ok {
		contents, err := res.Handler(ctx)
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternal,
				fmt.Sprintf("read %q: %v", params.URI, err), nil)
		}
		if contents == nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternal,
				fmt.Sprintf("read %q: handler returned no contents", params.URI), nil)
		}
		contents.URI = params.URI
		return mustResult(req.ID, mcp.ReadResourceResult{Contents: []mcp.ResourceContents{*contents}})
	}

	if rt, vars, ok := c.srv.matchTemplate(params.URI); ok {
		contents, err := rt.Handler(ctx, params.URI, vars)
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternal,
				fmt.Sprintf("read %q: %v", params.URI, err), nil)
		}
		if contents == nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternal,
				fmt.Sprintf("read %q: handler returned no contents", params.URI), nil)
		}
		contents.URI = params.URI
		return mustResult(req.ID, mcp.ReadResourceResult{Contents: []mcp.ResourceContents{*contents}})
	}

	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeResourceNotFound,
		fmt.Sprintf("resource %q not found", params.URI), nil)
}

func (c *Conn) handlePromptGet(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.GetPromptRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
			fmt.Sprintf("invalid prompts/get params: %v", err), nil)
	}
	prompt, ok := c.srv.lookupPrompt(params.Name)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodePromptNotFound,
			fmt.Sprintf("prompt %q not found", params.Name), nil)
	}
	for _, arg := range prompt.Descriptor.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := params.Arguments[arg.Name]; !ok {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams,
				fmt.Sprintf("missing required argument %q", arg.Name), nil)
		}
	}

	result, err := prompt.Handler(ctx, params.Arguments)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternal,
			fmt.Sprintf("prompt %q failed: %v", params.Name, err), nil)
	}
	return mustResult(req.ID, result)
}

func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternal,
			fmt.Sprintf("marshal result: %v", err), nil)
	}
	return resp
}

func mustEncode(resp *jsonrpc.Response) []byte {
	if resp == nil {
		return nil
	}
	b, err := jsonrpc.EncodeFrame(resp)
	if err != nil {
		// A response we built ourselves always marshals; this is a bug guard.
		panic(fmt.Sprintf("provider: encode response: %v", err))
	}
	return b
}
