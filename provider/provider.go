package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yosida95/uritemplate/v3"

	"github.com/acesanderson/MCPLite/mcp"
)

// ToolHandler executes one tool invocation with raw, undecoded arguments.
// Typed registration via NewTool wraps this with schema-checked decoding.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

// ResourceHandler produces the contents of a concrete resource.
type ResourceHandler func(ctx context.Context) (*mcp.ResourceContents, error)

// TemplateHandler produces the contents of a templated resource. vars
// holds the placeholder bindings extracted from the concrete URI.
type TemplateHandler func(ctx context.Context, uri string, vars map[string]string) (*mcp.ResourceContents, error)

// PromptHandler renders a prompt template with the given arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error)

// Tool pairs a tool descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// Resource pairs a concrete resource descriptor with its handler.
type Resource struct {
	Descriptor mcp.Resource
	Handler    ResourceHandler
}

// ResourceTemplate pairs a templated resource descriptor with its handler.
type ResourceTemplate struct {
	Descriptor mcp.ResourceTemplate
	Handler    TemplateHandler

	tmpl *uritemplate.Template
}

// Prompt pairs a prompt descriptor with its handler.
type Prompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// Server is a capability provider: a named registry of tools, resources,
// resource templates, and prompts, and the dispatch logic answering the
// fixed capability methods. One Server may serve many connections; the
// handshake state lives on the Conn, not here.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	logger       *slog.Logger

	mu        sync.RWMutex
	tools     []Tool
	toolIdx   map[string]int
	resources []Resource
	resIdx    map[string]int
	templates []ResourceTemplate
	prompts   []Prompt
	promptIdx map[string]int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the slog logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithInstructions sets free-text usage guidance surfaced to the host
// in the initialize result.
func WithInstructions(text string) Option {
	return func(s *Server) { s.instructions = text }
}

// NewServer creates a provider with the given identity.
func NewServer(name, version string, opts ...Option) *Server {
	s := &Server{
		info:      mcp.ImplementationInfo{Name: name, Version: version},
		logger:    slog.Default(),
		toolIdx:   make(map[string]int),
		resIdx:    make(map[string]int),
		promptIdx: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Info returns the provider identity.
func (s *Server) Info() mcp.ImplementationInfo {
	return s.info
}

// RegisterTool adds a tool. Re-registering a name replaces the earlier
// entry.
func (s *Server) RegisterTool(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.toolIdx[t.Descriptor.Name]; ok {
		s.tools[i] = t
		return
	}
	s.toolIdx[t.Descriptor.Name] = len(s.tools)
	s.tools = append(s.tools, t)
}

// RegisterResource adds a concrete resource keyed by URI.
func (s *Server) RegisterResource(r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.resIdx[r.Descriptor.URI]; ok {
		s.resources[i] = r
		return
	}
	s.resIdx[r.Descriptor.URI] = len(s.resources)
	s.resources = append(s.resources, r)
}

// RegisterResourceTemplate adds a templated resource. The URI pattern
// must be a valid RFC 6570 template.
func (s *Server) RegisterResourceTemplate(rt ResourceTemplate) error {
	tmpl, err := uritemplate.New(rt.Descriptor.URITemplate)
	if err != nil {
		return fmt.Errorf("invalid uri template %q: %w", rt.Descriptor.URITemplate, err)
	}
	rt.tmpl = tmpl
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = append(s.templates, rt)
	return nil
}

// RegisterPrompt adds a prompt template.
func (s *Server) RegisterPrompt(p Prompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.promptIdx[p.Descriptor.Name]; ok {
		s.prompts[i] = p
		return
	}
	s.promptIdx[p.Descriptor.Name] = len(s.prompts)
	s.prompts = append(s.prompts, p)
}

// capabilities derives the advertisement from what is registered.
func (s *Server) capabilities() mcp.ServerCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var caps mcp.ServerCapabilities
	if len(s.tools) > 0 {
		caps.Tools = &struct{}{}
	}
	if len(s.resources) > 0 || len(s.templates) > 0 {
		caps.Resources = &struct{}{}
	}
	if len(s.prompts) > 0 {
		caps.Prompts = &struct{}{}
	}
	return caps
}

func (s *Server) lookupTool(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.toolIdx[name]
	if !ok {
		return Tool{}, false
	}
	return s.tools[i], true
}

func (s *Server) lookupResource(uri string) (Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.resIdx[uri]
	if !ok {
		return Resource{}, false
	}
	return s.resources[i], true
}

// matchTemplate finds the first registered template whose pattern
// matches the concrete URI and extracts its placeholder bindings.
func (s *Server) matchTemplate(uri string) (ResourceTemplate, map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rt := range s.templates {
		values := rt.tmpl.Match(uri)
		if values == nil {
			continue
		}
		vars := make(map[string]string, len(values))
		for name := range values {
			vars[name] = values.Get(name).String()
		}
		return rt, vars, true
	}
	return ResourceTemplate{}, nil, false
}

func (s *Server) lookupPrompt(name string) (Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.promptIdx[name]
	if !ok {
		return Prompt{}, false
	}
	return s.prompts[i], true
}

func (s *Server) listTools() []mcp.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.Tool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.Descriptor
	}
	return out
}

func (s *Server) listResources() []mcp.Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.Resource, len(s.resources))
	for i, r := range s.resources {
		out[i] = r.Descriptor
	}
	return out
}

func (s *Server) listTemplates() []mcp.ResourceTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.ResourceTemplate, len(s.templates))
	for i, rt := range s.templates {
		out[i] = rt.Descriptor
	}
	return out
}

func (s *Server) listPrompts() []mcp.Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mcp.Prompt, len(s.prompts))
	for i, p := range s.prompts {
		out[i] = p.Descriptor
	}
	return out
}
