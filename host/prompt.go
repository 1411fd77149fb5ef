package host

import (
	"encoding/json"
	"strings"
	"text/template"
)

// systemPromptTemplate renders the merged capability namespace into the
// instructions handed to the model client.
var systemPromptTemplate = template.Must(template.New("system").Parse(`You have access to the following capabilities.
{{- if .Tools}}

## Tools
{{- range .Tools}}
- {{.Name}}{{if .Description}}: {{.Description}}{{end}}
  input schema: {{.Schema}}
{{- end}}
{{- end}}
{{- if .Resources}}

## Resources
{{- range .Resources}}
- {{.URI}}{{if .Description}}: {{.Description}}{{end}}
{{- end}}
{{- end}}
{{- if .Templates}}

## Resource templates
{{- range .Templates}}
- {{.URITemplate}}{{if .Description}}: {{.Description}}{{end}}
{{- end}}
{{- end}}
{{- if .Prompts}}

## Prompts
{{- range .Prompts}}
- {{.Name}}{{if .Description}}: {{.Description}}{{end}}
{{- end}}
{{- end}}

To use a tool, issue a tool call with the tool's name and arguments
matching its input schema. Results are returned to you as tool turns.
`))

type promptTool struct {
	Name        string
	Description string
	Schema      string
}

type promptResource struct {
	URI         string
	Description string
}

type promptTemplateEntry struct {
	URITemplate string
	Description string
}

type promptPrompt struct {
	Name        string
	Description string
}

// SystemPrompt renders the current registry contents into model
// instructions. Provider instructions from each session's handshake are
// appended when present.
func (h *Host) SystemPrompt() (string, error) {
	data := struct {
		Tools     []promptTool
		Resources []promptResource
		Templates []promptTemplateEntry
		Prompts   []promptPrompt
	}{}

	for _, entry := range h.reg.Tools() {
		schema, err := json.Marshal(entry.Tool.InputSchema)
		if err != nil {
			return "", err
		}
		data.Tools = append(data.Tools, promptTool{
			Name:        entry.Tool.Name,
			Description: entry.Tool.Description,
			Schema:      string(schema),
		})
	}
	for _, entry := range h.reg.Resources() {
		data.Resources = append(data.Resources, promptResource{
			URI:         entry.Resource.URI,
			Description: entry.Resource.Description,
		})
	}
	for _, entry := range h.reg.ResourceTemplates() {
		data.Templates = append(data.Templates, promptTemplateEntry{
			URITemplate: entry.Template.URITemplate,
			Description: entry.Template.Description,
		})
	}
	for _, entry := range h.reg.Prompts() {
		data.Prompts = append(data.Prompts, promptPrompt{
			Name:        entry.Prompt.Name,
			Description: entry.Prompt.Description,
		})
	}

	var b strings.Builder
	if err := systemPromptTemplate.Execute(&b, data); err != nil {
		return "", err
	}

	for _, s := range h.Sessions() {
		if instr := s.Instructions(); instr != "" {
			b.WriteString("\n")
			b.WriteString(instr)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
