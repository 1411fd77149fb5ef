package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/acesanderson/MCPLite/mcp"
)

type searchArgs struct {
	Query string   `json:"query" jsonschema:"description=Search query"`
	Limit int      `json:"limit,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func TestNewTool_ReflectsSchema(t *testing.T) {
	t.Parallel()

	tool := NewTool("search",
		func(ctx context.Context, args searchArgs) (*mcp.CallToolResult, error) {
			return TextResult("ok"), nil
		},
		WithToolDescription("Search things."),
	)

	desc := tool.Descriptor
	if desc.Name != "search" || desc.Description != "Search things." {
		t.Errorf("descriptor = %+v", desc)
	}
	schema := desc.InputSchema
	if schema.Type != "object" {
		t.Errorf("schema type = %q", schema.Type)
	}
	if schema.AdditionalProperties {
		t.Error("additionalProperties should default to false")
	}

	q, ok := schema.Properties["query"]
	if !ok {
		t.Fatalf("properties = %v", schema.Properties)
	}
	if q.Type != "string" || q.Description != "Search query" {
		t.Errorf("query property = %+v", q)
	}
	if limit := schema.Properties["limit"]; limit.Type != "integer" {
		t.Errorf("limit property = %+v", limit)
	}
	tags := schema.Properties["tags"]
	if tags.Type != "array" || tags.Items == nil || tags.Items.Type != "string" {
		t.Errorf("tags property = %+v", tags)
	}

	// Only fields without omitempty are required.
	if len(schema.Required) != 1 || schema.Required[0] != "query" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestNewTool_DecodeAndDispatch(t *testing.T) {
	t.Parallel()

	var got searchArgs
	tool := NewTool("search",
		func(ctx context.Context, args searchArgs) (*mcp.CallToolResult, error) {
			got = args
			return TextResult("ok"), nil
		},
	)

	if _, err := tool.Handler(context.Background(), json.RawMessage(`{"query":"go","limit":3}`)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got.Query != "go" || got.Limit != 3 {
		t.Errorf("decoded args = %+v", got)
	}

	// Unknown fields are rejected before the handler runs.
	_, err := tool.Handler(context.Background(), json.RawMessage(`{"query":"go","bogus":true}`))
	var ipe *invalidParamsError
	if !errors.As(err, &ipe) {
		t.Fatalf("err = %v, want invalidParamsError", err)
	}
}

func TestNewTool_AllowAdditionalProperties(t *testing.T) {
	t.Parallel()

	tool := NewTool("loose",
		func(ctx context.Context, args searchArgs) (*mcp.CallToolResult, error) {
			return TextResult("ok"), nil
		},
		WithToolAllowAdditionalProperties(true),
	)
	if !tool.Descriptor.InputSchema.AdditionalProperties {
		t.Error("schema should advertise additionalProperties")
	}
	if _, err := tool.Handler(context.Background(), json.RawMessage(`{"query":"x","extra":1}`)); err != nil {
		t.Errorf("extra field rejected despite allow: %v", err)
	}
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	result := Errorf("no such row %d", 7)
	if !result.IsError {
		t.Error("IsError not set")
	}
	if result.Content[0].Text != "no such row 7" {
		t.Errorf("content = %+v", result.Content)
	}
}
