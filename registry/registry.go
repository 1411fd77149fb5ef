// Package registry merges the capability advertisements of every ready
// session into one addressable namespace. It catalogs capabilities but
// does not own sessions; the host adds and removes them as their
// lifecycles progress.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yosida95/uritemplate/v3"

	"github.com/acesanderson/MCPLite/client"
	"github.com/acesanderson/MCPLite/mcp"
)

var (
	// ErrNotFound reports a capability name absent from the namespace.
	ErrNotFound = errors.New("capability not found")
	// ErrNoMatch reports a URI no concrete resource or template covers.
	ErrNoMatch = errors.New("no resource matches uri")
)

// ToolEntry binds one tool to the session that advertised it.
type ToolEntry struct {
	Session *client.Session
	Tool    mcp.Tool
}

// ResourceEntry binds one concrete resource to its session.
type ResourceEntry struct {
	Session  *client.Session
	Resource mcp.Resource
}

// TemplateEntry binds one resource template to its session, with the
// pattern parsed once for matching.
type TemplateEntry struct {
	Session  *client.Session
	Template mcp.ResourceTemplate

	tmpl *uritemplate.Template
}

// PromptEntry binds one prompt to its session.
type PromptEntry struct {
	Session *client.Session
	Prompt  mcp.Prompt
}

// Collision records a capability rejected from the namespace because an
// earlier session already claimed its name. Reported, never fatal.
type Collision struct {
	Kind          string // "tool", "resource", "resource_template", "prompt"
	Name          string
	WinnerSession string
	LoserSession  string
}

func (c Collision) String() string {
	return fmt.Sprintf("%s %q: session %s shadowed by session %s",
		c.Kind, c.Name, c.LoserSession, c.WinnerSession)
}

// namespace is one immutable derivation of the merged capability set.
// Readers hold a pointer to a complete snapshot; rebuilds swap the
// whole thing so no caller ever observes a partial view.
type namespace struct {
	tools      map[string]ToolEntry
	resources  map[string]ResourceEntry
	templates  []TemplateEntry
	prompts    map[string]PromptEntry
	collisions []Collision

	// insertion order, for deterministic listings
	toolOrder     []string
	resourceOrder []string
	promptOrder   []string
}

// Registry is the shared namespace. Reads and the rebuild write follow
// single-writer-many-reader discipline via RWMutex.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	order    []string // session ids in connection order
	sessions map[string]*client.Session
	ns       *namespace
}

// New returns an empty registry. A nil logger means slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*client.Session),
		ns:       &namespace{},
	}
}

// Add catalogs a ready session's advertisement and rebuilds the
// namespace. Adding the same session again (a refresh) rebuilds with
// its current advertisement but keeps its original position in the
// collision order.
func (r *Registry) Add(s *client.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.sessions[s.ID()]; !known {
		r.order = append(r.order, s.ID())
	}
	r.sessions[s.ID()] = s
	r.rebuildLocked()
}

// Remove drops a session's entries atomically.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, known := r.sessions[sessionID]; !known {
		return
	}
	delete(r.sessions, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.rebuildLocked()
}

// rebuildLocked derives a fresh namespace from every cataloged session
// in connection order. First-registered wins every name collision.
func (r *Registry) rebuildLocked() {
	ns := &namespace{
		tools:     make(map[string]ToolEntry),
		resources: make(map[string]ResourceEntry),
		prompts:   make(map[string]PromptEntry),
	}
	templateNames := make(map[string]string) // uriTemplate -> winner session id

	for _, id := range r.order {
		s := r.sessions[id]
		adv := s.Advertisement()

		for _, tool := range adv.Tools {
			if prior, taken := ns.tools[tool.Name]; taken {
				ns.collisions = append(ns.collisions, Collision{
					Kind: "tool", Name: tool.Name,
					WinnerSession: prior.Session.ID(), LoserSession: id,
				})
				continue
			}
			ns.tools[tool.Name] = ToolEntry{Session: s, Tool: tool}
			ns.toolOrder = append(ns.toolOrder, tool.Name)
		}

		for _, res := range adv.Resources {
			if prior, taken := ns.resources[res.URI]; taken {
				ns.collisions = append(ns.collisions, Collision{
					Kind: "resource", Name: res.URI,
					WinnerSession: prior.Session.ID(), LoserSession: id,
				})
				continue
			}
			ns.resources[res.URI] = ResourceEntry{Session: s, Resource: res}
			ns.resourceOrder = append(ns.resourceOrder, res.URI)
		}

		for _, tpl := range adv.ResourceTemplates {
			if winner, taken := templateNames[tpl.URITemplate]; taken {
				ns.collisions = append(ns.collisions, Collision{
					Kind: "resource_template", Name: tpl.URITemplate,
					WinnerSession: winner, LoserSession: id,
				})
				continue
			}
			parsed, err := uritemplate.New(tpl.URITemplate)
			if err != nil {
				r.logger.Warn("registry.template.invalid",
					slog.String("session_id", id),
					slog.String("uri_template", tpl.URITemplate),
					slog.String("err", err.Error()),
				)
				continue
			}
			templateNames[tpl.URITemplate] = id
			ns.templates = append(ns.templates, TemplateEntry{
				Session: s, Template: tpl, tmpl: parsed,
			})
		}

		for _, prompt := range adv.Prompts {
			if prior, taken := ns.prompts[prompt.Name]; taken {
				ns.collisions = append(ns.collisions, Collision{
					Kind: "prompt", Name: prompt.Name,
					WinnerSession: prior.Session.ID(), LoserSession: id,
				})
				continue
			}
			ns.prompts[prompt.Name] = PromptEntry{Session: s, Prompt: prompt}
			ns.promptOrder = append(ns.promptOrder, prompt.Name)
		}
	}

	for _, c := range ns.collisions {
		r.logger.Warn("registry.collision",
			slog.String("kind", c.Kind),
			slog.String("name", c.Name),
			slog.String("winner", c.WinnerSession),
			slog.String("loser", c.LoserSession),
		)
	}
	r.ns = ns
}

func (r *Registry) snapshot() *namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ns
}

// ResolveTool looks a tool up by name.
func (r *Registry) ResolveTool(name string) (ToolEntry, error) {
	entry, ok := r.snapshot().tools[name]
	if !ok {
		return ToolEntry{}, fmt.Errorf("%w: tool %q", ErrNotFound, name)
	}
	return entry, nil
}

// ResolvePrompt looks a prompt up by name.
func (r *Registry) ResolvePrompt(name string) (PromptEntry, error) {
	entry, ok := r.snapshot().prompts[name]
	if !ok {
		return PromptEntry{}, fmt.Errorf("%w: prompt %q", ErrNotFound, name)
	}
	return entry, nil
}

// Match resolves a concrete URI to the session serving it: an exact
// concrete resource wins, otherwise the first registered template whose
// pattern matches. Extracted placeholder values come back by name.
func (r *Registry) Match(uri string) (ResourceEntry, map[string]string, error) {
	ns := r.snapshot()
	if entry, ok := ns.resources[uri]; ok {
		return entry, nil, nil
	}
	for _, te := range ns.templates {
		values := te.tmpl.Match(uri)
		if values == nil {
			continue
		}
		vars := make(map[string]string, len(values))
		for name := range values {
			vars[name] = values.Get(name).String()
		}
		entry := ResourceEntry{
			Session: te.Session,
			Resource: mcp.Resource{
				URI:         uri,
				Name:        te.Template.Name,
				Description: te.Template.Description,
				MimeType:    te.Template.MimeType,
			},
		}
		return entry, vars, nil
	}
	return ResourceEntry{}, nil, fmt.Errorf("%w: %q", ErrNoMatch, uri)
}

// Tools returns the merged tool list in registration order.
func (r *Registry) Tools() []ToolEntry {
	ns := r.snapshot()
	out := make([]ToolEntry, 0, len(ns.toolOrder))
	for _, name := range ns.toolOrder {
		out = append(out, ns.tools[name])
	}
	return out
}

// Resources returns the merged concrete resources in registration order.
func (r *Registry) Resources() []ResourceEntry {
	ns := r.snapshot()
	out := make([]ResourceEntry, 0, len(ns.resourceOrder))
	for _, uri := range ns.resourceOrder {
		out = append(out, ns.resources[uri])
	}
	return out
}

// ResourceTemplates returns the merged templates in registration order.
func (r *Registry) ResourceTemplates() []TemplateEntry {
	ns := r.snapshot()
	out := make([]TemplateEntry, len(ns.templates))
	copy(out, ns.templates)
	return out
}

// Prompts returns the merged prompts in registration order.
func (r *Registry) Prompts() []PromptEntry {
	ns := r.snapshot()
	out := make([]PromptEntry, 0, len(ns.promptOrder))
	for _, name := range ns.promptOrder {
		out = append(out, ns.prompts[name])
	}
	return out
}

// Collisions reports every name rejected during the latest rebuild.
func (r *Registry) Collisions() []Collision {
	ns := r.snapshot()
	out := make([]Collision, len(ns.collisions))
	copy(out, ns.collisions)
	return out
}
