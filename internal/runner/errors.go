package runner

import (
	"fmt"
	"strings"

	"github.com/flarebyte/fabrik/internal/plan"
)

// CommandFailure is a command that ran and exited non-zero, or could not
// be started. It carries the captured output for the caller.
type CommandFailure struct {
	Argv     []string
	Dir      string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandFailure) Error() string {
	line := plan.NewCommand(e.Argv, e.Dir, 0).String()
	if e.Err != nil {
		return fmt.Sprintf("command failed: %s: %v", line, e.Err)
	}
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, line)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *CommandFailure) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
