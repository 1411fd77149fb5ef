// Package inventory loads the catalog of known capability providers
// from a YAML file and dials providers into transports.
package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/acesanderson/MCPLite/transport"
	"github.com/acesanderson/MCPLite/transport/direct"
	"github.com/acesanderson/MCPLite/transport/stdio"
	"github.com/acesanderson/MCPLite/transport/streamhttp"
)

// Transport kinds an inventory entry may declare.
const (
	KindStdio  = "stdio"
	KindHTTP   = "http"
	KindDirect = "direct"
)

var (
	// ErrUnknownProvider reports a name absent from the catalog.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnknownKind reports an unsupported transport kind.
	ErrUnknownKind = errors.New("unknown transport kind")
	// ErrNoDirectHandler reports a direct entry with no registered
	// in-process handler.
	ErrNoDirectHandler = errors.New("no direct handler registered")
)

// Entry describes one provider: how to reach it, keyed by name.
type Entry struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"` // stdio
	Args      []string          `yaml:"args,omitempty"`    // stdio
	Env       map[string]string `yaml:"env,omitempty"`     // stdio
	URL       string            `yaml:"url,omitempty"`     // http
}

// Validate checks the entry carries what its kind needs.
func (e Entry) Validate() error {
	if e.Name == "" {
		return errors.New("entry missing name")
	}
	switch e.Transport {
	case KindStdio:
		if e.Command == "" {
			return fmt.Errorf("provider %q: stdio entry missing command", e.Name)
		}
	case KindHTTP:
		if e.URL == "" {
			return fmt.Errorf("provider %q: http entry missing url", e.Name)
		}
	case KindDirect:
	default:
		return fmt.Errorf("%w: %q (provider %q)", ErrUnknownKind, e.Transport, e.Name)
	}
	return nil
}

type file struct {
	Providers []Entry `yaml:"providers"`
}

// Inventory is the provider catalog. Direct entries resolve against
// handlers registered in-process; stdio and http entries carry their
// addresses in the file.
type Inventory struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
	direct  map[string]direct.Handler
}

// New returns an empty inventory. A nil logger means slog.Default().
func New(logger *slog.Logger) *Inventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{
		logger:  logger,
		entries: make(map[string]Entry),
		direct:  make(map[string]direct.Handler),
	}
}

// Load reads the catalog at path.
func Load(path string, logger *slog.Logger) (*Inventory, error) {
	inv := New(logger)
	if err := inv.reload(path); err != nil {
		return nil, err
	}
	return inv, nil
}

// reload replaces the entry set from the file at path. Registered
// direct handlers survive a reload.
func (inv *Inventory) reload(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read inventory: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse inventory: %w", err)
	}

	entries := make(map[string]Entry, len(f.Providers))
	order := make([]string, 0, len(f.Providers))
	for _, e := range f.Providers {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, dup := entries[e.Name]; dup {
			return fmt.Errorf("duplicate provider %q", e.Name)
		}
		entries[e.Name] = e
		order = append(order, e.Name)
	}

	inv.mu.Lock()
	inv.entries = entries
	inv.order = order
	inv.mu.Unlock()
	inv.logger.Info("inventory.loaded",
		slog.String("path", path),
		slog.Int("providers", len(order)),
	)
	return nil
}

// Register adds or replaces an entry programmatically.
func (inv *Inventory) Register(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, known := inv.entries[e.Name]; !known {
		inv.order = append(inv.order, e.Name)
	}
	inv.entries[e.Name] = e
	return nil
}

// RegisterDirect binds an in-process frame handler to a direct entry's
// name. The entry itself may come from the file or be implied here.
func (inv *Inventory) RegisterDirect(name string, h direct.Handler) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.direct[name] = h
	if _, known := inv.entries[name]; !known {
		inv.entries[name] = Entry{Name: name, Transport: KindDirect}
		inv.order = append(inv.order, name)
	}
}

// Names lists catalog entries in file order.
func (inv *Inventory) Names() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

// Lookup returns the entry for name.
func (inv *Inventory) Lookup(name string) (Entry, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	e, ok := inv.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return e, nil
}

// Dial builds the transport for a named provider. The transport is not
// started; hand it to a session.
func (inv *Inventory) Dial(name string) (transport.Transport, error) {
	e, err := inv.Lookup(name)
	if err != nil {
		return nil, err
	}

	switch e.Transport {
	case KindStdio:
		env := make([]string, 0, len(e.Env))
		for k, v := range e.Env {
			env = append(env, k+"="+v)
		}
		return stdio.New(stdio.Config{
			Command: e.Command,
			Args:    e.Args,
			Env:     env,
			Logger:  inv.logger,
		}), nil
	case KindHTTP:
		return streamhttp.New(streamhttp.Config{
			URL:    e.URL,
			Logger: inv.logger,
		}), nil
	case KindDirect:
		inv.mu.RLock()
		h, ok := inv.direct[name]
		inv.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoDirectHandler, name)
		}
		return direct.New(h), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Transport)
	}
}
