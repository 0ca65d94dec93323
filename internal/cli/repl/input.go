package repl

import (
	"bufio"
	"io"
	"os"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// ScannerSource reads plain lines, for scripted input.
type ScannerSource struct {
	sc *bufio.Scanner
}

func NewScannerSource(r io.Reader) *ScannerSource {
	return &ScannerSource{sc: bufio.NewScanner(r)}
}

func (s *ScannerSource) Readline() (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// interactiveSource wraps readline so that Control-C ends the console like
// end of input does.
type interactiveSource struct {
	rl *readline.Instance
}

func (s *interactiveSource) Readline() (string, error) {
	line, err := s.rl.Readline()
	if err == readline.ErrInterrupt {
		return "", io.EOF
	}
	return line, err
}

// OpenInput returns a line editor with history when in is a terminal and a
// plain line reader otherwise. The returned func releases the terminal.
func OpenInput(in *os.File, prompt, historyFile string) (LineSource, func(), error) {
	if !term.IsTerminal(int(in.Fd())) {
		return NewScannerSource(in), func() {}, nil
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdin:           in,
	})
	if err != nil {
		return nil, nil, err
	}
	return &interactiveSource{rl: rl}, func() { _ = rl.Close() }, nil
}
