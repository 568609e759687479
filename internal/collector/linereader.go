package collector

import (
	"bufio"
	"errors"
	"io"
	"unicode/utf8"
)

// minLineBytes is the smallest buffer bufio accepts.
const minLineBytes = 16

// lineReader splits a stream into lines while holding at most max bytes of
// any single line in memory.
type lineReader struct {
	br  *bufio.Reader
	err error // deferred until the truncated line has been returned
}

func newLineReader(r io.Reader, max int) *lineReader {
	if max < minLineBytes {
		max = minLineBytes
	}
	return &lineReader{br: bufio.NewReaderSize(r, max)}
}

// next returns the next line without its terminator. A line longer than the
// buffer is cut at the buffer size (on a rune boundary) and the rest of it
// is discarded; truncated reports when that happened. A final line without
// a newline is still returned before io.EOF.
func (l *lineReader) next() (line string, truncated bool, err error) {
	if l.err != nil {
		return "", false, l.err
	}

	frag, err := l.br.ReadSlice('\n')
	switch {
	case err == nil:
		return string(trimEOL(frag)), false, nil

	case errors.Is(err, bufio.ErrBufferFull):
		line = string(cutPartialRune(frag))
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = l.br.ReadSlice('\n')
		}
		l.err = err
		return line, true, nil

	case len(frag) > 0:
		l.err = err
		return string(trimEOL(frag)), false, nil

	default:
		return "", false, err
	}
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// cutPartialRune drops an incomplete UTF-8 sequence left at the end of b by
// truncation.
func cutPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}
