package scene

import (
	"strings"
)

const (
	generatedComment = "# Scene generated from a chat prompt. Edit freely and render again.\n"
	libraryImports   = "from manim import *\nfrom math import *\n"
	commandPrefix    = "# Render with: "
)

// Materializer produces the script file content for a normalized scene.
type Materializer struct {
	// SceneName names the placeholder scene. Empty means DefaultSceneName.
	SceneName string
}

// CreateFileContent materializes code with the default scene name.
func CreateFileContent(code, renderCommand string) string {
	return Materializer{}.FileContent(code, renderCommand)
}

// FileContent returns the script for code: a generated-file comment, the
// library imports, the scene and, when renderCommand is set, the command as a
// trailing comment. Empty code yields a placeholder scene that raises a
// readable error when rendered.
func (m Materializer) FileContent(code, renderCommand string) string {
	var b strings.Builder
	b.WriteString(generatedComment)
	b.WriteString(libraryImports)
	b.WriteString("\n")

	if strings.TrimSpace(code) == "" {
		code = Placeholder(m.sceneName())
	}
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteString("\n")
	}

	if renderCommand != "" {
		b.WriteString("\n")
		b.WriteString(commandPrefix)
		b.WriteString(strings.Join(strings.Fields(renderCommand), " "))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Materializer) sceneName() string {
	if m.SceneName == "" {
		return DefaultSceneName
	}
	return m.SceneName
}

// Placeholder is the scene written when the model produced no code.
func Placeholder(name string) string {
	return "class " + name + "(Scene):\n" +
		"    def construct(self):\n" +
		"        raise ValueError(\"no scene code was generated; ask the model for a manim scene and try again\")\n"
}
