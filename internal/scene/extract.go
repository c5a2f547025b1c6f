// Package scene turns free-form model replies into renderable manim scripts.
//
// The pipeline is three pure text transforms: ExtractCode pulls the fenced
// code out of a reply, ExtractConstructCode normalizes it to a single scene
// class under a fixed name, and CreateFileContent wraps the result into the
// script written to disk. None of them return errors; malformed input
// degrades to empty code and, finally, a placeholder scene.
package scene

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is one fenced region of a model reply.
type CodeBlock struct {
	Language string
	Code     string
}

var (
	fenceMarkers = []string{"```", "~~~"}

	languageTag = regexp.MustCompile(`^[A-Za-z0-9_+#.\-]*$`)

	// bareCode matches the first line of something that is already code, as
	// opposed to prose that happens to have no fences.
	bareCode = regexp.MustCompile(`(?m)^[ \t]*(?:` +
		`class\s+[A-Za-z_]\w*|` +
		`(?:async\s+)?def\s+[A-Za-z_]\w*\s*\(|` +
		`from\s+[\w.]+\s+import\b|` +
		`import\s+[\w.]+|` +
		`@[A-Za-z_][\w.]*|` +
		`self\.[A-Za-z_]\w*|` +
		`[A-Za-z_][\w.]*(?:\[[^\]\n]*\])?\s*[-+*/]?=[^=]|` +
		`[A-Za-z_][\w.]*\(.*\)\s*$)`)

	token = regexp.MustCompile(`[A-Za-z_]\w*|[0-9][\w.]*|\S`)

	keywords = map[string]bool{
		"and": true, "as": true, "assert": true, "async": true, "await": true,
		"break": true, "case": true, "class": true, "continue": true, "def": true,
		"del": true, "elif": true, "else": true, "except": true, "finally": true,
		"for": true, "from": true, "global": true, "if": true, "import": true,
		"in": true, "is": true, "lambda": true, "match": true, "nonlocal": true,
		"not": true, "or": true, "pass": true, "raise": true, "return": true,
		"try": true, "while": true, "with": true, "yield": true,
	}
)

// ExtractCode returns the code contained in a model reply.
//
// Every fenced block is a candidate, whatever its language tag. Non-empty
// blocks are concatenated in document order, each terminated by a newline and
// separated from the next by one blank line. Blocks holding only comments or
// string literals are skipped. A reply without usable fences is returned
// unchanged when it reads as code, and as "" otherwise.
func ExtractCode(reply string) string {
	blocks := ExtractBlocks(reply)
	if len(blocks) == 0 {
		if readsAsCode(reply) {
			return stripFenceMarkers(reply)
		}
		return ""
	}
	return JoinBlocks(blocks)
}

// ExtractBlocks lists the non-empty fenced blocks of reply in document order.
func ExtractBlocks(reply string) []CodeBlock {
	if !containsFence(reply) {
		return nil
	}
	// Models often open a fence mid-sentence ("Sure! ```python"). CommonMark
	// would read the closing fence of such a block as a new opening one.
	blocks, inside := markdownBlocks(reply)
	if hasInlineFence(reply, inside) {
		return scanBlocks(reply)
	}
	if len(blocks) == 0 {
		blocks = scanBlocks(reply)
	}
	return blocks
}

// JoinBlocks concatenates blocks with the separator ExtractCode uses.
func JoinBlocks(blocks []CodeBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		code := b.Code
		if !strings.HasSuffix(code, "\n") {
			code += "\n"
		}
		parts = append(parts, code)
	}
	return strings.Join(parts, "\n")
}

// readsAsCode reports whether text without fences is code rather than prose.
// Some line must open like a Python statement, code must remain once string
// literals and comments are removed, and no line may put two plain words
// side by side the way sentences do.
func readsAsCode(s string) bool {
	if !bareCode.MatchString(s) {
		return false
	}
	code := codeText(stripFenceMarkers(s))
	if strings.TrimSpace(code) == "" {
		return false
	}
	for _, line := range strings.Split(code, "\n") {
		if hasWordPair(line) {
			return false
		}
	}
	return true
}

// hasWordPair reports whether two adjacent tokens of line are both names
// that are not keywords.
func hasWordPair(line string) bool {
	prev := false
	for _, tok := range token.FindAllString(line, -1) {
		word := isName(tok) && !keywords[tok]
		if word && prev {
			return true
		}
		prev = word
	}
	return false
}

func isName(tok string) bool {
	c := tok[0]
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// markdownBlocks returns the fenced blocks goldmark finds and the indexes of
// the lines inside them.
func markdownBlocks(reply string) ([]CodeBlock, map[int]bool) {
	source := []byte(reply)
	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	inside := map[int]bool{}
	_ = ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		cb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lines := cb.Lines()
		var b strings.Builder
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			b.Write(segment.Value(source))
			inside[strings.Count(reply[:segment.Start], "\n")] = true
		}
		if block, ok := newBlock(string(cb.Language(source)), b.String()); ok {
			blocks = append(blocks, block)
		}
		return ast.WalkSkipChildren, nil
	})
	return blocks, inside
}

// scanBlocks finds fences anywhere in the text, including after prose on the
// same line. An unterminated fence runs to the end of the reply.
func scanBlocks(reply string) []CodeBlock {
	var blocks []CodeBlock
	rest := reply
	for {
		start, fence := nextFence(rest)
		if start < 0 {
			return blocks
		}
		body := rest[start+len(fence):]

		end := strings.Index(body, fence)
		language := ""
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && (end < 0 || nl < end) {
			info := strings.TrimSpace(body[:nl])
			if languageTag.MatchString(info) {
				language = info
				body = body[nl+1:]
				end = strings.Index(body, fence)
			}
		}

		var code string
		if end < 0 {
			code, rest = body, ""
		} else {
			code, rest = body[:end], body[end+len(fence):]
		}
		if block, ok := newBlock(language, code); ok {
			blocks = append(blocks, block)
		}
		if rest == "" {
			return blocks
		}
	}
}

// nextFence returns the index and the full marker run (``` or longer) of the
// first fence in s.
func nextFence(s string) (int, string) {
	best, marker := -1, ""
	for _, m := range fenceMarkers {
		if i := strings.Index(s, m); i >= 0 && (best < 0 || i < best) {
			best, marker = i, m
		}
	}
	if best < 0 {
		return -1, ""
	}
	n := best + len(marker)
	for n < len(s) && s[n] == marker[0] {
		n++
	}
	return best, s[best:n]
}

func newBlock(language, code string) (CodeBlock, bool) {
	code = stripFenceMarkers(code)
	if strings.TrimSpace(codeText(code)) == "" {
		return CodeBlock{}, false
	}
	return CodeBlock{Language: strings.ToLower(strings.TrimSpace(language)), Code: code}, true
}

// hasInlineFence reports whether a fence marker follows other text on its
// line. Blockquote and list markers do not count as text. Lines inside fenced
// blocks are skipped.
func hasInlineFence(s string, inside map[int]bool) bool {
	for i, line := range strings.Split(s, "\n") {
		if inside[i] {
			continue
		}
		start, _ := nextFence(line)
		if start < 0 {
			continue
		}
		if strings.Trim(line[:start], " \t>*+-.0123456789") != "" {
			return true
		}
	}
	return false
}

func containsFence(s string) bool {
	for _, m := range fenceMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func stripFenceMarkers(s string) string {
	for containsFence(s) {
		for _, m := range fenceMarkers {
			s = strings.ReplaceAll(s, m, "")
		}
	}
	return s
}
