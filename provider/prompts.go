package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/acesanderson/MCPLite/mcp"
)

// NewPrompt pairs a prompt descriptor with a render function.
func NewPrompt(desc mcp.Prompt, fn PromptHandler) Prompt {
	return Prompt{Descriptor: desc, Handler: fn}
}

// TemplatePrompt builds a prompt whose single user message is produced
// by substituting {name} markers in the template text with the caller's
// arguments. Declared arguments not supplied are left empty unless
// marked required, in which case dispatch rejects the call first.
func TemplatePrompt(desc mcp.Prompt, template string) Prompt {
	return Prompt{
		Descriptor: desc,
		Handler: func(ctx context.Context, args map[string]string) (*mcp.GetPromptResult, error) {
			text := template
			for _, arg := range desc.Arguments {
				text = strings.ReplaceAll(text, fmt.Sprintf("{%s}", arg.Name), args[arg.Name])
			}
			return &mcp.GetPromptResult{
				Description: desc.Description,
				Messages: []mcp.PromptMessage{
					{Role: mcp.RoleUser, Content: mcp.TextContent(text)},
				},
			}, nil
		},
	}
}
