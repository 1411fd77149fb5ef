package registry

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/acesanderson/MCPLite/client"
	"github.com/acesanderson/MCPLite/mcp"
	"github.com/acesanderson/MCPLite/provider"
	"github.com/acesanderson/MCPLite/transport/direct"
)

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func readySession(t *testing.T, srv *provider.Server) *client.Session {
	t.Helper()
	s := client.NewSession(direct.New(srv.NewConn().Frame), client.Config{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func searchProvider(t *testing.T, name, reply string) *client.Session {
	t.Helper()
	srv := provider.NewServer(name, "1.0.0")
	srv.RegisterTool(provider.NewTool("search",
		func(ctx context.Context, args struct {
			Query string `json:"query"`
		}) (*mcp.CallToolResult, error) {
			return provider.TextResult(reply), nil
		},
	))
	return readySession(t, srv)
}

func TestRegistry_ResolveTool(t *testing.T) {
	t.Parallel()

	srv := provider.NewServer("calc", "1.0.0")
	srv.RegisterTool(provider.NewTool("add",
		func(ctx context.Context, args addArgs) (*mcp.CallToolResult, error) {
			return provider.TextResult(strconv.Itoa(args.A + args.B)), nil
		},
	))
	s := readySession(t, srv)

	r := New(nil)
	r.Add(s)

	entry, err := r.ResolveTool("add")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry.Session.ID() != s.ID() {
		t.Error("resolved to wrong session")
	}

	if _, err := r.ResolveTool("subtract"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRegistry_CollisionFirstWins(t *testing.T) {
	t.Parallel()

	first := searchProvider(t, "alpha", "from alpha")
	second := searchProvider(t, "beta", "from beta")

	r := New(nil)
	r.Add(first)
	r.Add(second)

	entry, err := r.ResolveTool("search")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if entry.Session.ID() != first.ID() {
		t.Error("collision did not resolve to the earlier session")
	}

	collisions := r.Collisions()
	if len(collisions) != 1 {
		t.Fatalf("collisions = %d, want 1", len(collisions))
	}
	c := collisions[0]
	if c.Kind != "tool" || c.Name != "search" {
		t.Errorf("collision = %+v", c)
	}
	if c.WinnerSession != first.ID() || c.LoserSession != second.ID() {
		t.Errorf("collision order = %+v", c)
	}

	// The winner stays callable.
	result, err := entry.Session.CallTool(context.Background(), mcp.CallToolRequest{
		Name:      "search",
		Arguments: []byte(`{"query":"x"}`),
	})
	if err != nil {
		t.Fatalf("call winner: %v", err)
	}
	if result.Content[0].Text != "from alpha" {
		t.Errorf("winner answered %q", result.Content[0].Text)
	}
}

func TestRegistry_Determinism(t *testing.T) {
	t.Parallel()

	// Same connection order, same resolution, across repeated rebuilds.
	first := searchProvider(t, "alpha", "a")
	second := searchProvider(t, "beta", "b")

	for i := 0; i < 5; i++ {
		r := New(nil)
		r.Add(first)
		r.Add(second)
		entry, err := r.ResolveTool("search")
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if entry.Session.ID() != first.ID() {
			t.Fatalf("run %d resolved to the later session", i)
		}
	}
}

func TestRegistry_RemoveDropsEntries(t *testing.T) {
	t.Parallel()

	first := searchProvider(t, "alpha", "a")
	second := searchProvider(t, "beta", "b")

	r := New(nil)
	r.Add(first)
	r.Add(second)

	// Dropping the winner promotes the survivor on the next rebuild.
	r.Remove(first.ID())
	entry, err := r.ResolveTool("search")
	if err != nil {
		t.Fatalf("resolve after remove: %v", err)
	}
	if entry.Session.ID() != second.ID() {
		t.Error("survivor did not take over the name")
	}
	if len(r.Collisions()) != 0 {
		t.Errorf("collisions = %+v after removal", r.Collisions())
	}

	r.Remove(second.ID())
	if _, err := r.ResolveTool("search"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after removing all", err)
	}
}

func TestRegistry_TemplateMatch(t *testing.T) {
	t.Parallel()

	srv := provider.NewServer("todo", "1.0.0")
	srv.RegisterResource(provider.StaticTextResource(
		"todo://items/today", "today", "", "concrete wins",
	))
	if err := srv.RegisterResourceTemplate(provider.NewResourceTemplate(
		mcp.ResourceTemplate{URITemplate: "todo://items/{date}", Name: "items-by-date"},
		func(ctx context.Context, uri string, vars map[string]string) (*mcp.ResourceContents, error) {
			return &mcp.ResourceContents{Text: "items for " + vars["date"]}, nil
		},
	)); err != nil {
		t.Fatalf("register template: %v", err)
	}
	s := readySession(t, srv)

	r := New(nil)
	r.Add(s)

	// Template match extracts the placeholder by name.
	entry, vars, err := r.Match("todo://items/2025-05-03")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if entry.Session.ID() != s.ID() {
		t.Error("matched wrong session")
	}
	if vars["date"] != "2025-05-03" {
		t.Errorf("vars = %v", vars)
	}

	// A concrete resource shadows the template for its exact URI.
	entry, vars, err = r.Match("todo://items/today")
	if err != nil {
		t.Fatalf("concrete match: %v", err)
	}
	if vars != nil {
		t.Errorf("concrete match extracted vars %v", vars)
	}
	if entry.Resource.Name != "today" {
		t.Errorf("matched %q, want the concrete resource", entry.Resource.Name)
	}

	// Extra path segments do not match a single placeholder.
	if _, _, err := r.Match("todo://items/2025-05-03/extra"); !errors.Is(err, ErrNoMatch) {
		t.Errorf("err = %v, want ErrNoMatch", err)
	}
}
