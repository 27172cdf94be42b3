// Package runner executes one planned command under an access monitor.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/flarebyte/fabrik/internal/monitor"
	"github.com/flarebyte/fabrik/internal/plan"
)

const (
	DefaultCaptureMaxBytes = 1 << 20
	DefaultTermGrace       = 2 * time.Second
)

// ErrCanceled is returned when the run was interrupted while the command
// was executing. Its process tree has been terminated and its accesses
// discarded.
var ErrCanceled = errors.New("canceled")

// Runner starts commands in their own process group so that cancellation
// reaches every descendant.
type Runner struct {
	Monitor monitor.Monitor
	// Output receives the command's stdout and stderr line by line while
	// it runs. Nil discards.
	Output          *LineSink
	CaptureMaxBytes int
	TermGrace       time.Duration
	Log             logrus.FieldLogger
}

// Result is what a finished command left behind.
type Result struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	Accesses        monitor.Accesses
	Duration        time.Duration
}

// Run executes cmd to completion. A non-zero exit or a missing working
// directory yields *CommandFailure, an interrupt yields ErrCanceled and a
// tracing problem yields *monitor.MonitoringError. Accesses are only
// meaningful when err is nil.
func (r *Runner) Run(ctx context.Context, cmd plan.Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, ErrCanceled
	}
	if st, err := os.Stat(cmd.Dir()); err != nil || !st.IsDir() {
		return Result{ExitCode: -1}, &CommandFailure{
			Argv: cmd.Argv(), Dir: cmd.Dir(), ExitCode: -1,
			Err: fmt.Errorf("working directory does not exist: %s", cmd.Dir()),
		}
	}
	sess, err := r.Monitor.Begin(cmd)
	if err != nil {
		return Result{}, err
	}
	argv := sess.Argv()
	c := exec.Command(argv[0], argv[1:]...)
	c.Dir = cmd.Dir()
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.WaitDelay = r.grace()

	captureMax := r.CaptureMaxBytes
	if captureMax == 0 {
		captureMax = DefaultCaptureMaxBytes
	}
	outBuf := &limitedBuffer{max: captureMax}
	errBuf := &limitedBuffer{max: captureMax}
	var outStream, errStream io.Writer = io.Discard, io.Discard
	if r.Output != nil {
		ow, ew := r.Output.Writer(), r.Output.Writer()
		defer ow.Flush()
		defer ew.Flush()
		outStream, errStream = ow, ew
	}
	c.Stdout = io.MultiWriter(outBuf, outStream)
	c.Stderr = io.MultiWriter(errBuf, errStream)

	log := r.logger().WithField("sig", cmd.Signature().Short())
	start := time.Now()
	if err := c.Start(); err != nil {
		sess.Abort()
		return Result{ExitCode: -1}, &CommandFailure{
			Argv: cmd.Argv(), Dir: cmd.Dir(), ExitCode: -1,
			Stderr: fmt.Sprintf("start %s: %v", argv[0], err),
		}
	}
	log.WithField("pid", c.Process.Pid).Debug("command started")

	done := make(chan error, 1)
	go func() {
		done <- c.Wait()
	}()

	var runErr error
	canceled := false
	select {
	case runErr = <-done:
	case <-ctx.Done():
		canceled = true
		signalGroup(c, unix.SIGTERM)
		grace := time.NewTimer(r.grace())
		select {
		case runErr = <-done:
			grace.Stop()
		case <-grace.C:
			signalGroup(c, unix.SIGKILL)
			runErr = <-done
		}
	}

	res := Result{
		Stdout:          outBuf.String(),
		Stderr:          errBuf.String(),
		StdoutTruncated: outBuf.truncated,
		StderrTruncated: errBuf.truncated,
		Duration:        time.Since(start),
	}
	if canceled {
		sess.Abort()
		res.ExitCode = -1
		log.Debug("command terminated on cancel")
		return res, ErrCanceled
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			sess.Abort()
			res.ExitCode = -1
			return res, r.failure(cmd, res, runErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	acc, err := sess.Finish(res.ExitCode)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, r.failure(cmd, res, nil)
	}
	res.Accesses = acc
	return res, nil
}

func (r *Runner) failure(cmd plan.Command, res Result, cause error) *CommandFailure {
	return &CommandFailure{
		Argv:     cmd.Argv(),
		Dir:      cmd.Dir(),
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Err:      cause,
	}
}

func (r *Runner) grace() time.Duration {
	if r.TermGrace > 0 {
		return r.TermGrace
	}
	return DefaultTermGrace
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// signalGroup signals the command's whole process group, falling back to
// the leader alone.
func signalGroup(c *exec.Cmd, sig unix.Signal) {
	if c == nil || c.Process == nil {
		return
	}
	if pid := c.Process.Pid; pid > 0 {
		if err := unix.Kill(-pid, sig); err == nil {
			return
		}
	}
	_ = c.Process.Signal(sig)
}
