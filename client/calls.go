package client

import (
	"context"

	"github.com/acesanderson/MCPLite/mcp"
)

// ListTools fetches the provider's current tool list.
func (s *Session) ListTools(ctx context.Context, opts ...CallOption) ([]mcp.Tool, error) {
	var result mcp.ListToolsResult
	if err := s.Call(ctx, mcp.ToolsListMethod, mcp.ListToolsRequest{}, &result, opts...); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes one tool by name with pre-encoded arguments.
func (s *Session) CallTool(ctx context.Context, req mcp.CallToolRequest, opts ...CallOption) (*mcp.CallToolResult, error) {
	var result mcp.CallToolResult
	if err := s.Call(ctx, mcp.ToolsCallMethod, req, &result, opts...); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources fetches the provider's concrete resources.
func (s *Session) ListResources(ctx context.Context, opts ...CallOption) ([]mcp.Resource, error) {
	var result mcp.ListResourcesResult
	if err := s.Call(ctx, mcp.ResourcesListMethod, mcp.ListResourcesRequest{}, &result, opts...); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListResourceTemplates fetches the provider's parameterized resources.
func (s *Session) ListResourceTemplates(ctx context.Context, opts ...CallOption) ([]mcp.ResourceTemplate, error) {
	var result mcp.ListResourceTemplatesResult
	if err := s.Call(ctx, mcp.ResourcesTemplatesListMethod, mcp.ListResourceTemplatesRequest{}, &result, opts...); err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

// ReadResource reads one resource by concrete URI.
func (s *Session) ReadResource(ctx context.Context, uri string, opts ...CallOption) (*mcp.ReadResourceResult, error) {
	var result mcp.ReadResourceResult
	if err := s.Call(ctx, mcp.ResourcesReadMethod, mcp.ReadResourceRequest{URI: uri}, &result, opts...); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts fetches the provider's prompt templates.
func (s *Session) ListPrompts(ctx context.Context, opts ...CallOption) ([]mcp.Prompt, error) {
	var result mcp.ListPromptsResult
	if err := s.Call(ctx, mcp.PromptsListMethod, mcp.ListPromptsRequest{}, &result, opts...); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders one prompt with the given arguments.
func (s *Session) GetPrompt(ctx context.Context, req mcp.GetPromptRequest, opts ...CallOption) (*mcp.GetPromptResult, error) {
	var result mcp.GetPromptResult
	if err := s.Call(ctx, mcp.PromptsGetMethod, req, &result, opts...); err != nil {
		return nil, err
	}
	return &result, nil
}
