package provider

import (
	"context"

	"github.com/acesanderson/MCPLite/mcp"
)

// NewResource pairs a concrete resource descriptor with a handler.
func NewResource(desc mcp.Resource, fn ResourceHandler) Resource {
	return Resource{Descriptor: desc, Handler: fn}
}

// StaticTextResource exposes a fixed text value at a concrete URI.
func StaticTextResource(uri, name, description, text string) Resource {
	return Resource{
		Descriptor: mcp.Resource{
			URI:         uri,
			Name:        name,
			Description: description,
			MimeType:    "text/plain",
		},
		Handler: func(ctx context.Context) (*mcp.ResourceContents, error) {
			return &mcp.ResourceContents{MimeType: "text/plain", Text: text}, nil
		},
	}
}

// NewResourceTemplate pairs a templated resource descriptor with a
// handler receiving the extracted placeholder bindings.
func NewResourceTemplate(desc mcp.ResourceTemplate, fn TemplateHandler) ResourceTemplate {
	return ResourceTemplate{Descriptor: desc, Handler: fn}
}
