package scene

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementStarts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []bool
	}{
		{
			name:     "Plain statements",
			input:    "x = 1\ny = 2",
			expected: []bool{true, true},
		},
		{
			name:     "Open bracket",
			input:    "f(\n1,\n)\nz = 3",
			expected: []bool{true, false, false, true},
		},
		{
			name:     "Triple-quoted string",
			input:    "s = '''\nclass A:\n'''\nz = 3",
			expected: []bool{true, false, false, true},
		},
		{
			name:     "Backslash continuation",
			input:    "x = 1 + \\\n2\ny = 3",
			expected: []bool{true, false, true},
		},
		{
			name:     "Brackets in strings and comments",
			input:    "s = '('  # (\ny = 3",
			expected: []bool{true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, statementStarts(strings.Split(tt.input, "\n")))
		})
	}
}

func TestCodeText(t *testing.T) {
	src := "a = \"b c\"  # d e\nf = '''g\nh'''\ni(r'\\'')\n"
	assert.Equal(t, "a =   \nf = \n\ni(r)\n", codeText(src))
}
