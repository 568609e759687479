package collector

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, lr *lineReader) (lines []string, truncated []bool) {
	t.Helper()
	for {
		line, trunc, err := lr.next()
		if errors.Is(err, io.EOF) {
			return lines, truncated
		}
		if err != nil {
			t.Fatalf("next() error = %v", err)
		}
		lines = append(lines, line)
		truncated = append(truncated, trunc)
	}
}

func TestLineReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		max   int
		want  []string
		trunc []bool
	}{
		{
			name:  "plain lines",
			input: "a\nbb\nccc\n",
			max:   64,
			want:  []string{"a", "bb", "ccc"},
			trunc: []bool{false, false, false},
		},
		{
			name:  "crlf",
			input: "one\r\ntwo\r\n",
			max:   64,
			want:  []string{"one", "two"},
			trunc: []bool{false, false},
		},
		{
			name:  "empty line",
			input: "\nx\n",
			max:   64,
			want:  []string{"", "x"},
			trunc: []bool{false, false},
		},
		{
			name:  "final line without newline",
			input: "first\nlast",
			max:   64,
			want:  []string{"first", "last"},
			trunc: []bool{false, false},
		},
		{
			name:  "overlong line truncated and rest discarded",
			input: strings.Repeat("x", 40) + "\nnext\n",
			max:   16,
			want:  []string{strings.Repeat("x", 16), "next"},
			trunc: []bool{true, false},
		},
		{
			name:  "overlong final line",
			input: strings.Repeat("y", 40),
			max:   16,
			want:  []string{strings.Repeat("y", 16)},
			trunc: []bool{true},
		},
		{
			name:  "max below minimum is raised",
			input: strings.Repeat("z", 20) + "\n",
			max:   4,
			want:  []string{strings.Repeat("z", 16)},
			trunc: []bool{true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, trunc := readAll(t, newLineReader(strings.NewReader(tt.input), tt.max))
			if len(lines) != len(tt.want) {
				t.Fatalf("got %d lines %q, want %d %q", len(lines), lines, len(tt.want), tt.want)
			}
			for i := range lines {
				if lines[i] != tt.want[i] {
					t.Errorf("line %d = %q, want %q", i, lines[i], tt.want[i])
				}
				if trunc[i] != tt.trunc[i] {
					t.Errorf("line %d truncated = %v, want %v", i, trunc[i], tt.trunc[i])
				}
			}
		})
	}
}

func TestLineReader_TruncatesOnRuneBoundary(t *testing.T) {
	// 15 ASCII bytes then a 3-byte rune straddling the 16-byte buffer
	input := strings.Repeat("a", 15) + "€€€\n"

	line, truncated, err := newLineReader(strings.NewReader(input), 16).next()
	if err != nil {
		t.Fatalf("next() error = %v", err)
	}
	if !truncated {
		t.Error("truncated = false, want true")
	}
	if line != strings.Repeat("a", 15) {
		t.Errorf("line = %q, want the ASCII prefix only", line)
	}
}

func TestLineReader_PropagatesReadError(t *testing.T) {
	boom := errors.New("boom")
	lr := newLineReader(io.MultiReader(strings.NewReader("partial"), &failingReader{err: boom}), 64)

	line, _, err := lr.next()
	if err != nil || line != "partial" {
		t.Fatalf("next() = %q, %v; want partial line first", line, err)
	}
	if _, _, err := lr.next(); !errors.Is(err, boom) {
		t.Errorf("next() error = %v, want %v", err, boom)
	}
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }
