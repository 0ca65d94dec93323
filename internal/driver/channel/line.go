// Package channel implements the line-oriented framing shared by the
// driver and sandbox channels, and transcript recording.
package channel

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// MaxUpwardLine is the longest line a sandboxed process may send.
const MaxUpwardLine = 256

// ErrLineTooLong is returned when a line exceeds the reader's limit.
var ErrLineTooLong = errors.New("line too long")

// LineReader reads newline-terminated lines of bounded length.
type LineReader struct {
	r     *bufio.Reader
	lines int
}

// NewLineReader returns a reader rejecting lines longer than max bytes.
func NewLineReader(r io.Reader, max int) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, max+1)}
}

// ReadLine returns the next line without its terminator and surrounding
// blanks. A final unterminated line is returned as is; after it, io.EOF.
func (l *LineReader) ReadLine() (string, error) {
	b, err := l.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrLineTooLong
	case errors.Is(err, io.EOF) && len(b) > 0:
		err = nil
	case err != nil:
		return "", err
	}
	l.lines++
	return strings.TrimSpace(string(b)), nil
}

// Lines counts the lines read so far.
func (l *LineReader) Lines() int { return l.lines }

// LineWriter buffers outgoing lines until Flush.
type LineWriter struct {
	w     *bufio.Writer
	lines int
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: bufio.NewWriter(w)}
}

func (l *LineWriter) WriteLine(s string) error {
	l.lines++
	if _, err := l.w.WriteString(s); err != nil {
		return err
	}
	return l.w.WriteByte('\n')
}

func (l *LineWriter) WriteInt(v int64) error {
	return l.WriteLine(strconv.FormatInt(v, 10))
}

// WriteInts writes values space separated on one line.
func (l *LineWriter) WriteInts(values []int64) error {
	return l.WriteLine(FormatInts(values))
}

func (l *LineWriter) Flush() error { return l.w.Flush() }

// Buffered reports whether lines are waiting for Flush.
func (l *LineWriter) Buffered() bool { return l.w.Buffered() > 0 }

// Lines counts the lines written so far.
func (l *LineWriter) Lines() int { return l.lines }

// ParseInt parses one decimal int64 token.
func ParseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// ParseInts parses a line of blank-separated int64 tokens.
func ParseInts(line string) ([]int64, error) {
	fields := strings.Fields(line)
	out := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func FormatInts(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, " ")
}
