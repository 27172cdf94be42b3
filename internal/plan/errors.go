package plan

import "fmt"

// ConfigurationError reports a malformed plan. It is fatal before any
// command runs. Phase and Index are -1 when the problem is plan-wide.
type ConfigurationError struct {
	Phase int
	Index int
	Msg   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	loc := "plan"
	switch {
	case e.Phase >= 0 && e.Index >= 0:
		loc = fmt.Sprintf("phase %d command %d", e.Phase+1, e.Index+1)
	case e.Phase >= 0:
		loc = fmt.Sprintf("phase %d", e.Phase+1)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", loc, e.Msg, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %s", loc, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ExitCode maps configuration problems to the CLI exit status.
func (e *ConfigurationError) ExitCode() int { return 2 }

// Errorf builds a plan-wide ConfigurationError.
func Errorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Phase: -1, Index: -1, Msg: fmt.Sprintf(format, args...)}
}
