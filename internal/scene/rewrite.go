package scene

import (
	"regexp"
	"strings"
)

// DefaultSceneName is the class name the render command refers to.
const DefaultSceneName = "GenScene"

// DefaultEntryMethods are the method names that mark a class as a scene.
var DefaultEntryMethods = []string{"construct", "animate"}

var (
	classHeader = regexp.MustCompile(`^class\s+([A-Za-z_]\w*)\s*(?:\((.*)\))?\s*:`)
	className   = regexp.MustCompile(`^class\s+([A-Za-z_]\w*)`)
	mainGuard   = regexp.MustCompile(`^if\s+__name__\s*==\s*['"]__main__['"]\s*:`)
	importLine  = regexp.MustCompile(`^(?:from\s+[\w.]+\s+import\b|import\s+[\w.]+)`)
)

// Rewriter normalizes extracted code into a single scene class.
type Rewriter struct {
	// SceneName is the canonical class name. Empty means DefaultSceneName.
	SceneName string
	// EntryMethods mark a class as a scene. Empty means DefaultEntryMethods.
	EntryMethods []string
}

// ExtractConstructCode rewrites code with the default scene name and entry
// methods.
func ExtractConstructCode(code string) string {
	return Rewriter{}.Rewrite(code)
}

type segmentKind int

const (
	segmentOther segmentKind = iota
	segmentClass
	segmentMain
)

// segment is a run of lines starting at a top-level statement.
type segment struct {
	kind  segmentKind
	name  string
	bases string
	lines []string
	// header indexes the class line in lines, after any decorators.
	header int
}

// Rewrite returns code with exactly one scene class named r.SceneName.
//
// Scene classes are top-level classes that subclass a *Scene type, define one
// of the entry methods, or already carry the canonical name; when no class
// qualifies, every top-level class is a candidate. The last candidate wins and
// is renamed outside string literals and comments. Other candidates are
// dropped unless kept code uses them. Helper classes are kept.
// Code without any class is wrapped into the construct method of a new scene.
// `if __name__ == "__main__":` blocks and stray fence lines are removed.
// Empty input yields "". Rewrite is idempotent.
func (r Rewriter) Rewrite(code string) string {
	lines := splitLines(code)
	if len(lines) == 0 {
		return ""
	}
	name := r.sceneName()
	segments := splitSegments(lines)

	var classes []int
	var scenes []int
	entry := r.entryMethodPattern(`^[ \t]+`)
	for i, s := range segments {
		if s.kind != segmentClass {
			continue
		}
		classes = append(classes, i)
		if s.name == name || strings.Contains(s.bases, "Scene") || entry.MatchString(strings.Join(s.lines[1:], "\n")) {
			scenes = append(scenes, i)
		}
	}
	if len(classes) == 0 {
		return wrapStatements(segments, name, r.entryMethodPattern(`^`))
	}
	if len(scenes) == 0 {
		scenes = classes
	}

	chosen := scenes[len(scenes)-1]
	target := segments[chosen]
	dropped := make(map[int]bool, len(scenes))
	for _, i := range scenes[:len(scenes)-1] {
		dropped[i] = true
	}
	keepReferenced(segments, dropped, target.name)

	var out []string
	for i, s := range segments {
		if s.kind == segmentMain || dropped[i] {
			continue
		}
		for j, line := range s.lines {
			if i == chosen && j == s.header {
				line = renameClass(line, name)
			}
			out = append(out, line)
		}
	}
	result := joinLines(out)
	// class Square(Square) subclasses an imported Square; its other
	// mentions keep meaning the import.
	if target.name != name && !wordPattern(target.name).MatchString(target.bases) {
		result = replaceInCode(result, wordPattern(target.name), name)
	}
	return result
}

// keepReferenced takes back from dropped the candidates that kept code uses,
// such as a base class of the chosen scene. Candidates named like the chosen
// scene are earlier drafts of it and stay dropped.
func keepReferenced(segments []segment, dropped map[int]bool, chosenName string) {
	for changed := true; changed; {
		changed = false
		var kept []string
		for i, s := range segments {
			if s.kind != segmentMain && !dropped[i] {
				kept = append(kept, s.lines...)
			}
		}
		used := identifiers(strings.Join(kept, "\n"))
		for i := range dropped {
			if name := segments[i].name; name != chosenName && used[name] {
				delete(dropped, i)
				changed = true
			}
		}
	}
}

func wordPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
}

// renameClass replaces the class name in a class header line.
func renameClass(header, name string) string {
	m := className.FindStringSubmatchIndex(header)
	if m == nil {
		return header
	}
	return header[:m[2]] + name + header[m[3]:]
}

func (r Rewriter) sceneName() string {
	if r.SceneName == "" {
		return DefaultSceneName
	}
	return r.SceneName
}

// entryMethodPattern matches a def of an entry method after indent.
func (r Rewriter) entryMethodPattern(indent string) *regexp.Regexp {
	methods := r.EntryMethods
	if len(methods) == 0 {
		methods = DefaultEntryMethods
	}
	quoted := make([]string, len(methods))
	for i, m := range methods {
		quoted[i] = regexp.QuoteMeta(m)
	}
	return regexp.MustCompile(`(?m)` + indent + `(?:async\s+)?def\s+(?:` + strings.Join(quoted, "|") + `)\s*\(`)
}

// splitSegments groups lines by top-level statement. Indented lines, blank
// lines, column-0 comments and lines continuing a string, a bracket or a
// backslash stay with the statement above them; decorators move down to the
// class they decorate.
func splitSegments(lines []string) []segment {
	starts := statementStarts(lines)
	segments := []segment{{kind: segmentOther}}
	for i, line := range lines {
		cur := &segments[len(segments)-1]
		if !starts[i] || !isTopLevel(line) {
			cur.lines = append(cur.lines, line)
			continue
		}
		if m := classHeader.FindStringSubmatch(logicalLine(lines, starts, i)); m != nil {
			s := segment{kind: segmentClass, name: m[1], bases: strings.TrimSpace(m[2])}
			s.lines = takeDecorators(cur)
			s.header = len(s.lines)
			s.lines = append(s.lines, line)
			segments = append(segments, s)
			continue
		}
		switch {
		case mainGuard.MatchString(line):
			segments = append(segments, segment{kind: segmentMain, lines: []string{line}})
		case strings.HasPrefix(line, "@"):
			if cur.kind != segmentOther || (len(cur.lines) > 0 && !strings.HasPrefix(cur.lines[len(cur.lines)-1], "@")) {
				segments = append(segments, segment{kind: segmentOther})
				cur = &segments[len(segments)-1]
			}
			cur.lines = append(cur.lines, line)
		default:
			if cur.kind != segmentOther {
				segments = append(segments, segment{kind: segmentOther})
				cur = &segments[len(segments)-1]
			}
			cur.lines = append(cur.lines, line)
		}
	}
	return segments
}

// takeDecorators removes the trailing decorator lines of s and returns them.
func takeDecorators(s *segment) []string {
	if s.kind != segmentOther {
		return nil
	}
	n := len(s.lines)
	for n > 0 && strings.HasPrefix(s.lines[n-1], "@") {
		n--
	}
	decorators := append([]string(nil), s.lines[n:]...)
	s.lines = s.lines[:n]
	return decorators
}

func isTopLevel(line string) bool {
	if line == "" || line[0] == ' ' || line[0] == '\t' || line[0] == '#' {
		return false
	}
	return strings.TrimSpace(line) != ""
}

// wrapStatements turns class-less code into a scene. Loose entry methods
// become its methods; plain statements become the body of construct. Imports
// stay at module level.
func wrapStatements(segments []segment, name string, entryDef *regexp.Regexp) string {
	var lines []string
	for _, s := range segments {
		if s.kind != segmentMain {
			lines = append(lines, s.lines...)
		}
	}
	starts := statementStarts(lines)
	var imports, body []string
	for i, line := range lines {
		if starts[i] && importLine.MatchString(line) {
			imports = append(imports, line)
			continue
		}
		body = append(body, line)
	}
	body = dedent(trimBlank(body))

	out := append([]string(nil), imports...)
	if len(imports) > 0 {
		out = append(out, "")
	}
	out = append(out, "class "+name+"(Scene):")
	indent := "        "
	if entryDef.MatchString(strings.Join(body, "\n")) {
		indent = "    "
	} else {
		out = append(out, "    def construct(self):")
		if len(body) == 0 {
			out = append(out, indent+"pass")
		}
	}
	for _, line := range body {
		if strings.TrimSpace(line) == "" {
			out = append(out, "")
			continue
		}
		out = append(out, indent+line)
	}
	return joinLines(out)
}

func splitLines(code string) []string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	var lines []string
	var l lexer
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if l.atStatement() && (strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")) {
			continue
		}
		l.line(line, nil)
		lines = append(lines, line)
	}
	return trimBlank(lines)
}

func trimBlank(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

func dedent(lines []string) []string {
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		if len(line) >= indent {
			out[i] = line[indent:]
		}
	}
	return out
}

func joinLines(lines []string) string {
	lines = trimBlank(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
