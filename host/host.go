// Package host routes model-issued actions to capability providers and
// drives the bounded tool-use loop. It owns the sessions it connects
// and the registry that merges their advertisements.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/acesanderson/MCPLite/client"
	"github.com/acesanderson/MCPLite/mcp"
	"github.com/acesanderson/MCPLite/registry"
	"github.com/acesanderson/MCPLite/transport"
)

// ErrMaxTurnsExceeded reports a loop that hit its iteration bound with
// the model still requesting calls. Recoverable: the transcript up to
// the bound is intact.
var ErrMaxTurnsExceeded = errors.New("max turns exceeded")

// ModelTurn is what the model produced for one step of the loop: prose
// plus zero or more capability calls. A turn with no calls ends the
// loop.
type ModelTurn struct {
	Text  string
	Calls []ToolCall
}

// ModelClient produces the next model turn from the transcript so far.
// Implementations wrap whatever LLM backend the program uses.
type ModelClient interface {
	Next(ctx context.Context, conv *Conversation) (*ModelTurn, error)
}

// Config carries host settings. Populate explicitly or from the
// environment via ConfigFromEnv.
type Config struct {
	// MaxTurns bounds the tool-use loop. Zero means 10.
	MaxTurns int `env:"MCPLITE_MAX_TURNS,default=10"`

	// CallTimeout bounds each routed capability call. Zero means the
	// session default.
	CallTimeout time.Duration `env:"MCPLITE_CALL_TIMEOUT,default=30s"`

	// HandshakeTimeout bounds each provider handshake.
	HandshakeTimeout time.Duration `env:"MCPLITE_HANDSHAKE_TIMEOUT,default=10s"`

	// ClientName and ClientVersion identify this host to providers.
	ClientName    string `env:"MCPLITE_CLIENT_NAME,default=mcplite-host"`
	ClientVersion string `env:"MCPLITE_CLIENT_VERSION,default=dev"`

	// Logger is the structured logger. Nil means slog.Default().
	Logger *slog.Logger
}

// ConfigFromEnv populates a Config from MCPLITE_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode host config: %w", err)
	}
	return cfg, nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxTurns <= 0 {
		out.MaxTurns = 10
	}
	if out.ClientName == "" {
		out.ClientName = "mcplite-host"
	}
	if out.ClientVersion == "" {
		out.ClientVersion = "dev"
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Host owns a set of provider sessions and the merged registry over
// them, and runs the orchestration loop against a model client.
type Host struct {
	cfg    Config
	logger *slog.Logger
	model  ModelClient
	reg    *registry.Registry

	mu       sync.Mutex
	sessions map[string]*client.Session
	closed   bool
}

// New builds a host around a model client.
func New(model ModelClient, cfg Config) *Host {
	cfg = cfg.withDefaults()
	return &Host{
		cfg:      cfg,
		logger:   cfg.Logger,
		model:    model,
		reg:      registry.New(cfg.Logger),
		sessions: make(map[string]*client.Session),
	}
}

// Registry exposes the merged capability namespace.
func (h *Host) Registry() *registry.Registry { return h.reg }

// Connect wraps a transport in a session, completes its handshake, and
// merges its advertisement into the registry. The host owns the session
// from here: when the session closes, its registry entries are removed.
func (h *Host) Connect(ctx context.Context, tr transport.Transport) (*client.Session, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errors.New("host closed")
	}
	h.mu.Unlock()

	s := client.NewSession(tr, client.Config{
		ClientInfo: mcp.ImplementationInfo{
			Name:    h.cfg.ClientName,
			Version: h.cfg.ClientVersion,
		},
		CallTimeout:      h.cfg.CallTimeout,
		HandshakeTimeout: h.cfg.HandshakeTimeout,
		Logger:           h.logger,
	})
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
	h.reg.Add(s)

	go func() {
		<-s.Done()
		h.reg.Remove(s.ID())
		h.mu.Lock()
		delete(h.sessions, s.ID())
		h.mu.Unlock()
		h.logger.Info("host.session.removed", slog.String("session_id", s.ID()))
	}()

	return s, nil
}

// Sessions returns the currently connected sessions.
func (h *Host) Sessions() []*client.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Close shuts every session down. Safe to call more than once.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := make([]*client.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil && !errors.Is(err, client.ErrSessionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
