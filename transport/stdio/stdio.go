// Package stdio implements the subprocess-pipe transport: the provider
// runs as a child process and frames are newline-delimited JSON-RPC
// messages on its standard streams. The child's stderr is not part of
// the protocol and is drained into the log.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/acesanderson/MCPLite/transport"
)

const (
	maxFrameSize  = 4 << 20
	stopGraceTime = 5 * time.Second
)

// Config describes the provider subprocess.
type Config struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"), appended to the current environment.
	Env []string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

var _ transport.Transport = (*Transport)(nil)

// Transport owns one provider subprocess for its lifetime. Outbound
// frames are serialized onto stdin; a reader goroutine pumps stdout
// lines into the inbound channel, so sends and receives never block
// each other.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	closing bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser

	in      chan []byte
	readErr error // set by the reader goroutine before closing in
}

// New creates a stdio transport. The subprocess is not spawned until Start.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		logger: logger,
		in:     make(chan []byte, 16),
	}
}

// Start spawns the subprocess and begins reading its stdout.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	if t.closing {
		return transport.ErrClosed
	}

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = append(os.Environ(), t.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", transport.ErrUnavailable, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("%w: stdout pipe: %v", transport.ErrUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("%w: stderr pipe: %v", transport.ErrUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("%w: start %s: %v", transport.ErrUnavailable, t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.started = true
	t.logger.Info("transport.stdio.started",
		slog.String("command", t.cfg.Command),
		slog.Int("pid", cmd.Process.Pid),
	)

	go t.drainStderr(stderr)
	go t.readLoop(stdout)

	return nil
}

// readLoop pumps stdout lines into the inbound channel until the
// subprocess closes its end.
func (t *Transport) readLoop(stdout io.Reader) {
	defer close(t.in)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		t.in <- frame
	}

	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()

	if err := scanner.Err(); err != nil && !closing {
		t.readErr = fmt.Errorf("%w: read stdout: %v", transport.ErrClosed, err)
		return
	}
	if !closing {
		// Peer closed stdout without being asked to: crashed or exited.
		t.readErr = fmt.Errorf("%w: subprocess exited", transport.ErrClosed)
		t.logger.Warn("transport.stdio.peer_exit", slog.String("command", t.cfg.Command))
	}
}

// drainStderr logs subprocess stderr lines at debug level.
func (t *Transport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("transport.stdio.stderr", slog.String("line", scanner.Text()))
	}
}

// Send writes one newline-delimited frame to the subprocess stdin.
func (t *Transport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return transport.ErrNotStarted
	}
	if t.closing {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.stdin.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("%w: write stdin: %v", transport.ErrClosed, err)
	}
	return nil
}

// Receive returns the inbound frame channel.
func (t *Transport) Receive() <-chan []byte {
	return t.in
}

// Err reports why the inbound channel closed. It is meaningful only
// after the channel closes.
func (t *Transport) Err() error {
	return t.readErr
}

// Close terminates the subprocess: stdin is closed to request a
// graceful exit, then the process is killed after a grace period.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	cmd := t.cmd
	stdin := t.stdin
	t.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		close(t.in)
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		t.logger.Info("transport.stdio.stopped", slog.Int("pid", cmd.Process.Pid))
		return err
	case <-time.After(stopGraceTime):
		t.logger.Warn("transport.stdio.kill", slog.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}
