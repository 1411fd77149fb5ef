package provider

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
)

// ServeStdio runs a provider over newline-delimited JSON-RPC on the
// given reader and writer until EOF or context cancellation. It is the
// peer of the host's stdio transport; a provider binary's main function
// typically ends with ServeStdio(ctx, srv, os.Stdin, os.Stdout).
func ServeStdio(ctx context.Context, srv *Server, r io.Reader, w io.Writer) error {
	conn := srv.NewConn()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := conn.Frame(ctx, line)
		if resp == nil {
			continue
		}
		if _, err := w.Write(append(resp, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frames: %w", err)
	}
	return nil
}

// Run serves the provider on the process's standard streams. It is a
// convenience for provider binaries.
func Run(ctx context.Context, srv *Server) error {
	return ServeStdio(ctx, srv, os.Stdin, os.Stdout)
}
