// Package client implements the host side of one provider connection:
// the handshake state machine, request/response correlation over the
// owned transport, and typed wrappers for the fixed capability methods.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acesanderson/MCPLite/internal/jsonrpc"
	"github.com/acesanderson/MCPLite/mcp"
	"github.com/acesanderson/MCPLite/transport"
)

// SessionState is the lifecycle phase of one provider connection.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateInitializing SessionState = "initializing"
	StateReady        SessionState = "ready"
	StateClosed       SessionState = "closed"
)

var (
	// ErrSessionNotReady rejects capability calls outside the Ready state.
	ErrSessionNotReady = errors.New("session not ready")
	// ErrHandshakeFailed reports an initialize exchange that was
	// rejected, malformed, or timed out. Fatal to this session only.
	ErrHandshakeFailed = errors.New("handshake failed")
	// ErrRequestTimeout fails one pending call whose peer did not answer
	// within the window. The session stays Ready.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrSessionClosed reports a call against a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// Config carries per-session settings. Explicit construction, no
// process-wide defaults.
type Config struct {
	// ClientInfo is the identity sent during the handshake.
	ClientInfo mcp.ImplementationInfo

	// CallTimeout bounds each capability call unless overridden per
	// call. Zero means 30 seconds.
	CallTimeout time.Duration

	// HandshakeTimeout bounds the initialize exchange. Zero means 10
	// seconds.
	HandshakeTimeout time.Duration

	// Logger is the structured logger. Nil means slog.Default().
	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ClientInfo.Name == "" {
		out.ClientInfo = mcp.ImplementationInfo{Name: "mcplite", Version: "dev"}
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 30 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Advertisement is the capability set a provider declared during the
// handshake, cached at Ready.
type Advertisement struct {
	Tools             []mcp.Tool
	Resources         []mcp.Resource
	ResourceTemplates []mcp.ResourceTemplate
	Prompts           []mcp.Prompt
}

// Session is one handshake-negotiated connection to a capability
// provider. It owns its transport for its whole lifetime: the transport
// is started by Connect and released by Close, on every path.
type Session struct {
	id     string
	tr     transport.Transport
	cfg    Config
	logger *slog.Logger
	disp   *dispatcher

	mu            sync.Mutex
	state         SessionState
	serverInfo    mcp.ImplementationInfo
	capabilities  mcp.ServerCapabilities
	instructions  string
	advertisement Advertisement

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewSession wraps a transport in a session. The connection is not
// established until Connect.
func NewSession(tr transport.Transport, cfg Config) *Session {
	cfg = cfg.withDefaults()
	id := uuid.NewString()
	logger := cfg.Logger.With(slog.String("session_id", id))
	s := &Session{
		id:     id,
		tr:     tr,
		cfg:    cfg,
		logger: logger,
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
	s.disp = newDispatcher(tr.Send, logger)
	return s
}

// ID returns the session's unique identity.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// ServerInfo returns the provider identity learned in the handshake.
func (s *Session) ServerInfo() mcp.ImplementationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// Instructions returns the provider's usage guidance, if any.
func (s *Session) Instructions() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instructions
}

// Advertisement returns the capability lists cached when the session
// reached Ready.
func (s *Session) Advertisement() Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertisement
}

// Connect starts the transport, runs the three-step handshake
// (initialize request, capability advertisement, initialized
// notification), caches the advertised capability lists, and moves the
// session to Ready. Any failure closes the session.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("connect from state %q", s.state)
	}
	s.state = StateInitializing
	s.mu.Unlock()

	if err := s.tr.Start(ctx); err != nil {
		s.closeWith(err)
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	go s.readLoop()

	if err := s.handshake(ctx); err != nil {
		s.closeWith(err)
		return err
	}

	// The transport may have died between the handshake completing and
	// this point; closeWith already moved the session to Closed and must
	// not be overridden with a Ready it will never leave.
	s.mu.Lock()
	if s.state != StateInitializing {
		s.mu.Unlock()
		return fmt.Errorf("%w: session closed during handshake", ErrHandshakeFailed)
	}
	s.state = StateReady
	s.mu.Unlock()
	adv := s.Advertisement()
	s.logger.Info("session.ready",
		slog.String("provider", s.ServerInfo().Name),
		slog.Int("tools", len(adv.Tools)),
		slog.Int("resources", len(adv.Resources)+len(adv.ResourceTemplates)),
		slog.Int("prompts", len(adv.Prompts)),
	)
	return nil
}

// handshake performs the fixed three-step exchange and capability
// discovery. Runs in Initializing; uses the dispatcher directly so the
// Ready gate does not apply.
func (s *Session) handshake(ctx context.Context) error {
	params := mcp.InitializeRequest{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      s.cfg.ClientInfo,
	}
	resp, err := s.disp.Call(ctx, string(mcp.InitializeMethod), params, s.cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("%w: initialize: %v", ErrHandshakeFailed, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, resp.Error)
	}

	var result mcp.InitializeResult
	if err := unmarshalResult(resp, &result); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if result.ProtocolVersion != mcp.ProtocolVersion {
		return fmt.Errorf("%w: protocol version %q (want %q)",
			ErrHandshakeFailed, result.ProtocolVersion, mcp.ProtocolVersion)
	}

	s.mu.Lock()
	s.serverInfo = result.ServerInfo
	s.capabilities = result.Capabilities
	s.instructions = result.Instructions
	s.mu.Unlock()

	if err := s.disp.Notify(ctx, string(mcp.InitializedNotificationMethod), mcp.InitializedNotification{}); err != nil {
		return fmt.Errorf("%w: initialized notification: %v", ErrHandshakeFailed, err)
	}

	adv, err := s.discover(ctx, result.Capabilities)
	if err != nil {
		return fmt.Errorf("%w: discovery: %v", ErrHandshakeFailed, err)
	}
	s.mu.Lock()
	s.advertisement = adv
	s.mu.Unlock()
	return nil
}

// discover fetches the capability lists the provider advertised.
func (s *Session) discover(ctx context.Context, caps mcp.ServerCapabilities) (Advertisement, error) {
	var adv Advertisement
	if caps.Tools != nil {
		var result mcp.ListToolsResult
		if err := s.rawCall(ctx, mcp.ToolsListMethod, mcp.ListToolsRequest{}, &result, s.cfg.CallTimeout); err != nil {
			return adv, err
		}
		adv.Tools = result.Tools
	}
	if caps.Resources != nil {
		var resources mcp.ListResourcesResult
		if err := s.rawCall(ctx, mcp.ResourcesListMethod, mcp.ListResourcesRequest{}, &resources, s.cfg.CallTimeout); err != nil {
			return adv, err
		}
		adv.Resources = resources.Resources

		var templates mcp.ListResourceTemplatesResult
		if err := s.rawCall(ctx, mcp.ResourcesTemplatesListMethod, mcp.ListResourceTemplatesRequest{}, &templates, s.cfg.CallTimeout); err != nil {
			return adv, err
		}
		adv.ResourceTemplates = templates.ResourceTemplates
	}
	if caps.Prompts != nil {
		var prompts mcp.ListPromptsResult
		if err := s.rawCall(ctx, mcp.PromptsListMethod, mcp.ListPromptsRequest{}, &prompts, s.cfg.CallTimeout); err != nil {
			return adv, err
		}
		adv.Prompts = prompts.Prompts
	}
	return adv, nil
}

// readLoop pumps inbound frames from the transport until the channel
// closes, then tears the session down. Decoupled from call issuance:
// a blocked caller never stalls delivery of other responses.
func (s *Session) readLoop() {
	for frame := range s.tr.Receive() {
		msg, err := jsonrpc.DecodeFrame(frame)
		if err != nil {
			// Protocol anomaly: log and drop, never fatal.
			s.logger.Warn("session.frame.malformed", slog.String("err", err.Error()))
			continue
		}
		switch msg.Type() {
		case jsonrpc.MessageTypeResponse:
			s.disp.OnResponse(msg.AsResponse())
		case jsonrpc.MessageTypeNotification:
			s.logger.Debug("session.notification", slog.String("method", msg.Method))
		default:
			// Providers must not issue requests to this host.
			s.logger.Warn("session.request.unexpected", slog.String("method", msg.Method))
		}
	}

	err := s.tr.Err()
	if err != nil {
		s.logger.Warn("session.transport.lost", slog.String("err", err.Error()))
	}
	s.closeWith(err)
}

// CallOption adjusts one capability call.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the session's default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// Call issues one capability request and decodes its result into
// result (unless nil). Only a Ready session accepts calls. A peer
// error response is returned as *jsonrpc.Error.
func (s *Session) Call(ctx context.Context, method mcp.Method, params any, result any, opts ...CallOption) error {
	cfg := callConfig{timeout: s.cfg.CallTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateReady:
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: state %q", ErrSessionNotReady, state)
	}

	return s.rawCall(ctx, method, params, result, cfg.timeout)
}

// rawCall performs the request without the Ready gate; the handshake
// uses it while still Initializing.
func (s *Session) rawCall(ctx context.Context, method mcp.Method, params, result any, timeout time.Duration) error {
	resp, err := s.disp.Call(ctx, string(method), params, timeout)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	return unmarshalResult(resp, result)
}

// Ping checks connectivity. Allowed in any connected state.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StateClosed:
		return ErrSessionClosed
	case StateDisconnected:
		return fmt.Errorf("%w: state %q", ErrSessionNotReady, state)
	}
	return s.rawCall(ctx, mcp.PingMethod, mcp.PingRequest{}, nil, s.cfg.CallTimeout)
}

// Close shuts the session down: pending calls are failed, the transport
// is released, and the state becomes Closed. Idempotent.
func (s *Session) Close() error {
	s.closeWith(nil)
	return s.closeErr
}

// closeWith performs the one-time transition to Closed. cause is nil
// for an orderly shutdown.
func (s *Session) closeWith(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		if cause == nil {
			cause = ErrSessionClosed
		}
		// The pending table must be empty (or explicitly failed) before
		// the session is destroyed; Close fails every entry.
		s.disp.Close(cause)
		s.closeErr = s.tr.Close()
		close(s.done)
		s.logger.Info("session.closed")
	})
}

func unmarshalResult(resp *jsonrpc.Response, v any) error {
	if len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
