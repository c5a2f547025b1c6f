package scene

// Result holds every stage of one pipeline run.
type Result struct {
	Blocks []CodeBlock
	// Code is the extracted code, before normalization.
	Code string
	// Scene is the normalized code; empty when nothing could be extracted.
	Scene string
	// File is the script content to write to disk.
	File string
}

// Empty reports whether the reply contained nothing to render. File still
// holds a valid placeholder script.
func (r Result) Empty() bool {
	return r.Scene == ""
}

// Pipeline composes extraction, normalization and materialization. The zero
// value uses DefaultSceneName. A Pipeline holds no mutable state and may be
// shared between goroutines.
type Pipeline struct {
	rewriter     Rewriter
	materializer Materializer
}

// NewPipeline returns a pipeline that names the scene sceneName.
func NewPipeline(sceneName string) *Pipeline {
	name := CanonicalName(sceneName)
	return &Pipeline{
		rewriter:     Rewriter{SceneName: name},
		materializer: Materializer{SceneName: name},
	}
}

// SceneName is the class name every script produced by p uses.
func (p *Pipeline) SceneName() string {
	return p.rewriter.sceneName()
}

// Materialize takes a raw model reply through the whole pipeline.
func (p *Pipeline) Materialize(reply, renderCommand string) Result {
	res := p.FromCode(ExtractCode(reply), renderCommand)
	res.Blocks = ExtractBlocks(reply)
	return res
}

// FromCode skips extraction, for code a user edited by hand.
func (p *Pipeline) FromCode(code, renderCommand string) Result {
	normalized := p.rewriter.Rewrite(code)
	return Result{
		Code:  code,
		Scene: normalized,
		File:  p.materializer.FileContent(normalized, renderCommand),
	}
}
