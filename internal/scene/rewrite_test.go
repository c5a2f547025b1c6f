package scene

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func countClass(code, name string) int {
	return len(regexp.MustCompile(`(?m)^class\s+` + regexp.QuoteMeta(name) + `\b`).FindAllString(code, -1))
}

func TestExtractConstructCode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Renames the only class",
			input:    "class MyScene:\n    def animate(self):\n        pass\n",
			expected: "class GenScene:\n    def animate(self):\n        pass\n",
		},
		{
			name:     "Keeps base classes",
			input:    "class Foo(MovingCameraScene):\n    def construct(self):\n        self.wait()\n",
			expected: "class GenScene(MovingCameraScene):\n    def construct(self):\n        self.wait()\n",
		},
		{
			name: "Last scene wins",
			input: "class First(Scene):\n    def construct(self):\n        self.add(Circle())\n\n" +
				"class Second(Scene):\n    def construct(self):\n        self.add(Square())\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        self.add(Square())\n",
		},
		{
			name: "Helper classes are kept",
			input: "class Dot3(VGroup):\n    pass\n\n" +
				"class Demo(Scene):\n    def construct(self):\n        self.add(Dot3())\n",
			expected: "class Dot3(VGroup):\n    pass\n\n" +
				"class GenScene(Scene):\n    def construct(self):\n        self.add(Dot3())\n",
		},
		{
			name: "Decorated helper keeps its decorator",
			input: "@dataclass\nclass Config:\n    x: int = 1\n\n" +
				"class Demo(Scene):\n    def construct(self):\n        pass\n",
			expected: "@dataclass\nclass Config:\n    x: int = 1\n\n" +
				"class GenScene(Scene):\n    def construct(self):\n        pass\n",
		},
		{
			name: "Main guard is removed",
			input: "class A(Scene):\n    def construct(self):\n        pass\n\n" +
				"if __name__ == \"__main__\":\n    A().render()\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        pass\n",
		},
		{
			name:     "Self references are renamed",
			input:    "class Old(Scene):\n    def construct(self):\n        super(Old, self).construct()\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        super(GenScene, self).construct()\n",
		},
		{
			name: "Base scene used by the last scene is kept",
			input: "class BaseScene(Scene):\n    def setup_axes(self):\n        self.axes = Axes()\n\n" +
				"class Main(BaseScene):\n    def construct(self):\n        self.setup_axes()\n",
			expected: "class BaseScene(Scene):\n    def setup_axes(self):\n        self.axes = Axes()\n\n" +
				"class GenScene(BaseScene):\n    def construct(self):\n        self.setup_axes()\n",
		},
		{
			name: "Earlier draft with the same name is dropped",
			input: "class Main(Scene):\n    def construct(self):\n        pass\n\n" +
				"class Main(Scene):\n    def construct(self):\n        self.wait()\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        self.wait()\n",
		},
		{
			name:     "Class header split over lines",
			input:    "class Demo(\n    MovingCameraScene,\n):\n    def construct(self):\n        pass\n",
			expected: "class GenScene(\n    MovingCameraScene,\n):\n    def construct(self):\n        pass\n",
		},
		{
			name: "Column-0 text inside a triple-quoted string",
			input: "class A(Scene):\n    def construct(self):\n        t = Text(\"\"\"\nclass Note:\n    x = 1\n\"\"\")\n" +
				"        self.add(t)\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        t = Text(\"\"\"\nclass Note:\n    x = 1\n\"\"\")\n" +
				"        self.add(t)\n",
		},
		{
			name: "Dropped scene takes its multi-line string along",
			input: "class A(Scene):\n    def construct(self):\n        t = \"\"\"\nhello\n\"\"\"\n        self.add(Text(t))\n\n" +
				"class B(Scene):\n    def construct(self):\n        self.wait()\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        self.wait()\n",
		},
		{
			name:     "Short name inside its base name is renamed",
			input:    "class S(Scene):\n    def construct(self):\n        super(S, self).construct()\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        super(GenScene, self).construct()\n",
		},
		{
			name:     "Strings and comments keep the old name",
			input:    "class Pythagoras(Scene):\n    def construct(self):\n        self.add(Text(\"Pythagoras\"))  # Pythagoras\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        self.add(Text(\"Pythagoras\"))  # Pythagoras\n",
		},
		{
			name:     "Class shadowing its base keeps base references",
			input:    "from manim import Square\n\nclass Square(Square):\n    def construct(self):\n        self.add(Square())\n",
			expected: "from manim import Square\n\nclass GenScene(Square):\n    def construct(self):\n        self.add(Square())\n",
		},
		{
			name:     "Without scenes the last class wins",
			input:    "class A:\n    x = 1\nclass B:\n    y = 2\n",
			expected: "class GenScene:\n    y = 2\n",
		},
		{
			name:     "Statements are wrapped into construct",
			input:    "circle = Circle()\nself.play(Create(circle))\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        circle = Circle()\n        self.play(Create(circle))\n",
		},
		{
			name:     "Indented statements are dedented before wrapping",
			input:    "        circle = Circle()\n\n        self.add(circle)\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        circle = Circle()\n\n        self.add(circle)\n",
		},
		{
			name:     "Imports are hoisted out of the wrapped scene",
			input:    "from manim import *\ncircle = Circle()\n",
			expected: "from manim import *\n\nclass GenScene(Scene):\n    def construct(self):\n        circle = Circle()\n",
		},
		{
			name:     "Loose entry method becomes a method",
			input:    "def construct(self):\n    self.add(Circle())\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        self.add(Circle())\n",
		},
		{
			name:     "Stray fence lines are dropped",
			input:    "```python\nclass A(Scene):\n    def construct(self):\n        pass\n```\n",
			expected: "class GenScene(Scene):\n    def construct(self):\n        pass\n",
		},
		{
			name:     "Empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "Whitespace input",
			input:    "  \n\n\t\n",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ExtractConstructCode(tt.input)
			assert.Equal(t, tt.expected, out)
			assert.Equal(t, out, ExtractConstructCode(out), "rewrite must be idempotent")
		})
	}
}

func TestExtractConstructCodeFixedName(t *testing.T) {
	for _, name := range []string{"MyScene", "Foo", "Scene1", "GenScene"} {
		t.Run(name, func(t *testing.T) {
			code := "class " + name + "(Scene):\n    def construct(self):\n        self.add(Circle())\n"
			out := ExtractConstructCode(code)
			assert.Equal(t, 1, countClass(out, "GenScene"))
			if name != "GenScene" {
				assert.Zero(t, countClass(out, name))
			}
			assert.Contains(t, out, "    def construct(self):\n        self.add(Circle())\n")
		})
	}
}

func TestRewriterOptions(t *testing.T) {
	r := Rewriter{SceneName: "Intro", EntryMethods: []string{"setup_scene"}}

	out := r.Rewrite("class Helper:\n    def setup_scene(self):\n        pass\nclass Other:\n    x = 1\n")
	assert.Equal(t, "class Intro:\n    def setup_scene(self):\n        pass\nclass Other:\n    x = 1\n", out)

	out = r.Rewrite("import numpy as np\n")
	assert.Equal(t, "import numpy as np\n\nclass Intro(Scene):\n    def construct(self):\n        pass\n", out)
}
