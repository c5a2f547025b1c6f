package scene

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineEndToEnd(t *testing.T) {
	reply := "Sure! ```python\nclass MyScene:\n    def animate(self):\n        pass\n```"

	code := ExtractCode(reply)
	assert.Equal(t, "class MyScene:\n    def animate(self):\n        pass\n", code)

	normalized := ExtractConstructCode(code)
	assert.Equal(t, "class GenScene:\n    def animate(self):\n        pass\n", normalized)

	file := CreateFileContent(normalized, "")
	assert.Equal(t, header+normalized, file)

	res := NewPipeline("").Materialize(reply, "")
	assert.Equal(t, code, res.Code)
	assert.Equal(t, normalized, res.Scene)
	assert.Equal(t, file, res.File)
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, "python", res.Blocks[0].Language)
	assert.False(t, res.Empty())
}

func TestPipelineNoCode(t *testing.T) {
	res := NewPipeline("GenScene").Materialize("just prose, no code", "manim GenScene.py GenScene")
	assert.True(t, res.Empty())
	assert.Empty(t, res.Code)
	assert.Contains(t, res.File, Placeholder("GenScene"))
	assert.Contains(t, res.File, "# Render with: manim GenScene.py GenScene\n")
}

func TestPipelineSceneName(t *testing.T) {
	p := NewPipeline("intro_scene")
	assert.Equal(t, "IntroScene", p.SceneName())

	res := p.FromCode("class Whatever(Scene):\n    def construct(self):\n        pass\n", "")
	assert.Equal(t, 1, countClass(res.Scene, "IntroScene"))
	assert.Empty(t, res.Blocks)

	var zero Pipeline
	assert.Equal(t, DefaultSceneName, zero.SceneName())
}

func TestPipelineConcurrentUse(t *testing.T) {
	p := NewPipeline("")
	reply := "Two scenes:\n```python\nclass A(Scene):\n    def construct(self):\n        pass\n```\n" +
		"```python\nclass B(Scene):\n    def construct(self):\n        self.wait()\n```\n"
	want := p.Materialize(reply, "manim GenScene.py GenScene").File

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = p.Materialize(reply, "manim GenScene.py GenScene").File
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
	assert.Contains(t, want, "self.wait()")
	assert.Equal(t, 1, countClass(want, "GenScene"))
}

func TestCanonicalName(t *testing.T) {
	tests := map[string]string{
		"":          "GenScene",
		"GenScene":  "GenScene",
		"gen_scene": "GenScene",
		"gen-scene": "GenScene",
		"Intro":     "Intro",
		"9lives":    "GenScene",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalName(in), "input %q", in)
	}
}
