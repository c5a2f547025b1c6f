package llm

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

var promptReplacer = strings.NewReplacer(`"`, "", `'`, "", `\`, "")

// SanitizePrompt trims a user prompt and drops quote and backslash
// characters. An empty result is ErrEmptyPrompt.
func SanitizePrompt(prompt string) (string, error) {
	prompt = strings.TrimSpace(promptReplacer.Replace(strings.TrimSpace(prompt)))
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	return prompt, nil
}

// PromptData fills the system prompt template.
type PromptData struct {
	SceneName string
	Rules     []string
}

// DefaultSystemPrompt asks for a single fenced manim scene.
const DefaultSystemPrompt = `You write Python code for the manim animation library (Community edition).
Answer with one fenced python code block containing a complete scene.
The scene class is named {{ .SceneName | default "GenScene" }}, subclasses Scene and draws everything in construct(self).
Keep explanations short and outside the code block.
{{- if .Rules }}

Rules:
{{- range $i, $rule := .Rules }}
{{ add1 $i }}. {{ $rule | trim }}
{{- end }}
{{- end }}
`

// DefaultRules are appended to the default system prompt.
var DefaultRules = []string{
	"Start the code with `from manim import *`.",
	"Do not read files, images or fonts from disk.",
	"Do not add an `if __name__ == \"__main__\":` block.",
}

// SystemPrompt renders tmpl, or DefaultSystemPrompt when tmpl is empty, with
// the sprig function map.
func SystemPrompt(tmpl string, data PromptData) (string, error) {
	if tmpl == "" {
		tmpl = DefaultSystemPrompt
	}
	t, err := template.New("system").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", errors.Wrap(err, "parse system prompt")
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", errors.Wrap(err, "render system prompt")
	}
	return strings.TrimSpace(b.String()), nil
}
