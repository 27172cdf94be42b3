package build

import (
	"errors"
	"strings"

	"github.com/flarebyte/fabrik/internal/monitor"
	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/runner"
	"github.com/flarebyte/fabrik/internal/scheduler"
)

const (
	exitCodeSuccess     = 0
	exitCodeBuildFailed = 1
	exitCodeConfig      = 2
	exitCodeMonitor     = 3
	exitCodeCanceled    = 130
)

type runExitError struct {
	code int
	msg  string
	err  error
}

func (e runExitError) Error() string { return e.msg }
func (e runExitError) ExitCode() int { return e.code }
func (e runExitError) Unwrap() error { return e.err }

// exitCode classifies err. Wrapped errors are unwrapped, so the mapping
// survives fmt.Errorf("...: %w") along the way.
func exitCode(err error) int {
	if err == nil {
		return exitCodeSuccess
	}
	var ce *plan.ConfigurationError
	var me *monitor.MonitoringError
	var cf *runner.CommandFailure
	switch {
	case errors.Is(err, runner.ErrCanceled):
		return exitCodeCanceled
	case errors.As(err, &ce):
		return exitCodeConfig
	case errors.As(err, &me):
		return exitCodeMonitor
	case errors.As(err, &cf):
		return exitCodeBuildFailed
	}
	return exitCodeBuildFailed
}

// ExitError attaches the process exit code to err. Nil stays nil.
func ExitError(err error) error {
	if err == nil {
		return nil
	}
	var re runExitError
	if errors.As(err, &re) {
		return re
	}
	return runExitError{code: exitCode(err), msg: err.Error(), err: err}
}

// evaluateBuildExit decides the outcome of a build. A report that claims
// failure without an error still fails the process.
func evaluateBuildExit(rep *scheduler.Report, err error) error {
	if err != nil {
		return ExitError(err)
	}
	if rep != nil && !rep.Success {
		msg := strings.TrimSpace(rep.Error)
		if msg == "" {
			msg = "build failed"
		}
		return runExitError{code: exitCodeBuildFailed, msg: msg}
	}
	return nil
}
