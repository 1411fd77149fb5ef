package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acesanderson/MCPLite/client"
	"github.com/acesanderson/MCPLite/mcp"
)

// Run drives the tool-use loop: ask the model for its next turn,
// dispatch any capability calls it requested, fold the results back
// into the transcript, repeat. The loop ends when the model produces a
// turn with no calls, the iteration bound is hit (ErrMaxTurnsExceeded),
// or ctx is canceled between turns. The conversation is mutated in
// place; on error the transcript holds everything up to the failure.
func (h *Host) Run(ctx context.Context, conv *Conversation) error {
	for turn := 0; turn < h.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		modelTurn, err := h.model.Next(ctx, conv)
		if err != nil {
			return fmt.Errorf("model turn %d: %w", turn, err)
		}
		conv.Append(Turn{
			Role:  RoleAssistant,
			Text:  modelTurn.Text,
			Calls: modelTurn.Calls,
		})

		if len(modelTurn.Calls) == 0 {
			return nil
		}

		results := h.dispatch(ctx, modelTurn.Calls)
		// In-flight calls are not forcibly aborted on cancellation, but
		// their results do not enter the transcript once it is observed.
		if err := ctx.Err(); err != nil {
			return err
		}
		conv.Append(Turn{Role: RoleTool, Results: results})
	}
	return fmt.Errorf("%w: %d", ErrMaxTurnsExceeded, h.cfg.MaxTurns)
}

// dispatch executes one assistant turn's calls concurrently across
// their owning sessions and returns results in request order.
func (h *Host) dispatch(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	done := make(chan int, len(calls))
	for i, call := range calls {
		go func(i int, call ToolCall) {
			results[i] = h.dispatchOne(ctx, call)
			done <- i
		}(i, call)
	}
	for range calls {
		<-done
	}
	return results
}

// dispatchOne routes a single call. Every failure mode becomes a
// structured error result the model can read; nothing here is fatal to
// the loop.
func (h *Host) dispatchOne(ctx context.Context, call ToolCall) ToolResult {
	entry, err := h.reg.ResolveTool(call.Name)
	if err != nil {
		h.logger.Warn("host.tool.unresolved", slog.String("tool", call.Name))
		return errorResult(call, fmt.Sprintf("tool %q is not available", call.Name))
	}

	opts := []client.CallOption{}
	if h.cfg.CallTimeout > 0 {
		opts = append(opts, client.WithTimeout(h.cfg.CallTimeout))
	}
	result, err := entry.Session.CallTool(ctx, mcp.CallToolRequest{
		Name:      call.Name,
		Arguments: call.Arguments,
	}, opts...)
	if err != nil {
		h.logger.Warn("host.tool.failed",
			slog.String("tool", call.Name),
			slog.String("err", err.Error()),
		)
		return errorResult(call, fmt.Sprintf("tool %q failed: %v", call.Name, err))
	}

	return ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: result.Content,
		IsError: result.IsError,
	}
}

// ReadResource routes a resource read through the registry: an exact
// concrete match first, then the first registered template pattern that
// covers the URI.
func (h *Host) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	entry, _, err := h.reg.Match(uri)
	if err != nil {
		return nil, err
	}
	return entry.Session.ReadResource(ctx, uri)
}

// GetPrompt routes a prompt render to the session advertising it.
func (h *Host) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	entry, err := h.reg.ResolvePrompt(name)
	if err != nil {
		return nil, err
	}
	return entry.Session.GetPrompt(ctx, mcp.GetPromptRequest{Name: name, Arguments: args})
}

func errorResult(call ToolCall, msg string) ToolResult {
	return ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: []mcp.ContentBlock{mcp.TextContent(msg)},
		IsError: true,
	}
}
