package scene

import (
	"regexp"
	"strings"
)

// lexer tracks the parts of Python source that line-based matching must not
// treat as statements: string literals, comments, and lines continued by an
// open bracket or a trailing backslash.
type lexer struct {
	quote     string // open string delimiter, "" outside strings
	depth     int    // open brackets
	backslash bool   // the previous line ended with a backslash
}

// atStatement reports whether the next line starts a new statement.
func (l *lexer) atStatement() bool {
	return l.quote == "" && l.depth == 0 && !l.backslash
}

// line scans one line without its newline. emit, when set, receives the line
// cut into runs of code and of string or comment text.
func (l *lexer) line(s string, emit func(text string, code bool)) {
	l.backslash = false
	start := 0
	flush := func(end int, code bool) {
		if end > start && emit != nil {
			emit(s[start:end], code)
		}
		start = end
	}
	i := 0
	for i < len(s) {
		c := s[i]
		if l.quote != "" {
			switch {
			case c == '\\':
				i += 2
			case strings.HasPrefix(s[i:], l.quote):
				i += len(l.quote)
				l.quote = ""
				flush(i, false)
			default:
				i++
			}
			continue
		}
		switch c {
		case '#':
			flush(i, true)
			flush(len(s), false)
			return
		case '"', '\'':
			flush(i, true)
			l.quote = s[i : i+1]
			if triple := strings.Repeat(l.quote, 3); strings.HasPrefix(s[i:], triple) {
				l.quote = triple
			}
			i += len(l.quote)
			continue
		case '(', '[', '{':
			l.depth++
		case ')', ']', '}':
			if l.depth > 0 {
				l.depth--
			}
		case '\\':
			l.backslash = i == len(s)-1
		}
		i++
	}
	flush(len(s), l.quote == "")
	// single quoted strings end with the line unless escaped
	if len(l.quote) == 1 && !strings.HasSuffix(s, `\`) {
		l.quote = ""
	}
}

type span struct {
	text string
	code bool
}

// spans cuts src into alternating runs of code and of string literals or
// comments. Concatenating the texts gives back src.
func spans(src string) []span {
	var out []span
	add := func(text string, code bool) {
		if n := len(out); n > 0 && out[n-1].code == code {
			out[n-1].text += text
			return
		}
		out = append(out, span{text: text, code: code})
	}
	var l lexer
	for i, line := range strings.Split(src, "\n") {
		if i > 0 {
			add("\n", l.quote == "")
		}
		l.line(line, add)
	}
	return out
}

// codeText returns src with string literals and comments removed. Line
// breaks are kept.
func codeText(src string) string {
	var b strings.Builder
	for _, s := range spans(src) {
		if s.code {
			b.WriteString(s.text)
			continue
		}
		b.WriteString(strings.Repeat("\n", strings.Count(s.text, "\n")))
	}
	return b.String()
}

// replaceInCode applies re only to the code runs of src.
func replaceInCode(src string, re *regexp.Regexp, repl string) string {
	var b strings.Builder
	for _, s := range spans(src) {
		if s.code {
			b.WriteString(re.ReplaceAllString(s.text, repl))
			continue
		}
		b.WriteString(s.text)
	}
	return b.String()
}

// statementStarts reports for each line whether it begins a statement, as
// opposed to continuing a string, a bracket or a backslash line.
func statementStarts(lines []string) []bool {
	starts := make([]bool, len(lines))
	var l lexer
	for i, line := range lines {
		starts[i] = l.atStatement()
		l.line(line, nil)
	}
	return starts
}

// logicalLine joins line i with the lines that continue it.
func logicalLine(lines []string, starts []bool, i int) string {
	parts := []string{strings.TrimSpace(lines[i])}
	for j := i + 1; j < len(lines) && !starts[j]; j++ {
		parts = append(parts, strings.TrimSpace(lines[j]))
	}
	return strings.Join(parts, " ")
}

var identifierToken = regexp.MustCompile(`[A-Za-z_]\w*`)

// identifiers returns the names used in the code runs of src.
func identifiers(src string) map[string]bool {
	ids := map[string]bool{}
	for _, id := range identifierToken.FindAllString(codeText(src), -1) {
		ids[id] = true
	}
	return ids
}
