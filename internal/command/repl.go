package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

type lineReader interface {
	ReadLine(prompt string) (string, error)
}

type scannerReader struct {
	sc  *bufio.Scanner
	out io.Writer
}

func (r *scannerReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.sc.Text(), nil
}

type terminalReader struct {
	t *term.Terminal
}

func (r *terminalReader) ReadLine(prompt string) (string, error) {
	r.t.SetPrompt(prompt)
	return r.t.ReadLine()
}

// RunREPL reads commands from in and writes results to out until exit, end
// of input or cancellation of ctx. When in is a terminal it is switched to
// raw mode for line editing.
func RunREPL(ctx context.Context, s *Session, in io.Reader, out io.Writer) error {
	var reader lineReader = &scannerReader{sc: bufio.NewScanner(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)

		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{in, out}, "")
		reader, out = &terminalReader{t: t}, t
	}
	return repl(ctx, s, reader, out)
}

func repl(ctx context.Context, s *Session, reader lineReader, out io.Writer) error {
	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line, err := reader.ReadLine(fmt.Sprintf("COM[%d]: ", n))
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out, msgExit)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading command: %w", err)
		}

		res, err := s.Execute(ctx, line)
		if errors.Is(err, ErrExit) {
			fmt.Fprintln(out, msgExit)
			return nil
		}
		if res.Message != "" {
			fmt.Fprintln(out, res.Message)
		}
	}
}
