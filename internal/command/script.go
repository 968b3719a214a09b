package command

import (
	"context"
	"errors"
	"fmt"
)

// Output is one line streamed by RunScript.
type Output struct {
	Text   string
	Failed bool
}

const (
	msgScriptStopped = "script stopped because of an error"
	msgExit          = "exit"
)

// RunScript executes lines on a separate goroutine and streams their results
// in order. Execution stops after the first failed command, an unknown
// command or exit. The channel is closed when the script ends or ctx is
// cancelled; a command that is already running completes first.
func RunScript(ctx context.Context, s *Session, lines []string) <-chan Output {
	out := make(chan Output)
	go func() {
		defer close(out)

		send := func(o Output) bool {
			select {
			case out <- o:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, line := range lines {
			if ctx.Err() != nil {
				return
			}
			res, err := s.Execute(ctx, line)
			switch {
			case errors.Is(err, ErrExit):
				send(Output{Text: msgExit})
				return
			case errors.Is(err, ErrUnknownCommand):
				name, _ := ParseLine(line)
				send(Output{Text: fmt.Sprintf("unknown command %q; script stopped", name), Failed: true})
				return
			}
			if res.Message == "" && !res.Failed {
				continue
			}
			if !send(Output{Text: res.Message, Failed: res.Failed}) {
				return
			}
			if res.Failed {
				send(Output{Text: msgScriptStopped, Failed: true})
				return
			}
		}
	}()
	return out
}
