// Package build implements `fabrik build`.
package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flarebyte/fabrik/internal/engine"
	"github.com/flarebyte/fabrik/internal/metrics"
	"github.com/flarebyte/fabrik/internal/report"
	"github.com/flarebyte/fabrik/internal/scheduler"
)

// NewCmd returns the build command. settings is read when the command
// runs, after flags and environment have been bound.
func NewCmd(settings func() engine.Settings) *cobra.Command {
	return &cobra.Command{
		Use:           "build [target]",
		Short:         "Run the plan, skipping commands whose dependencies are unchanged",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			if len(args) == 1 {
				s.Target = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, s, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// Run opens the project, builds it once and renders the report to stdout.
// The returned error carries the process exit code.
func Run(ctx context.Context, s engine.Settings, stdout, stderr io.Writer) error {
	eng, err := engine.Open(s, engine.WithOutput(stderr))
	if err != nil {
		return ExitError(err)
	}
	defer func() { _ = eng.Close() }()

	rep, err := Once(ctx, eng, stdout, stderr)
	return evaluateBuildExit(rep, err)
}

// Once builds an opened engine and publishes the outcome: the report on
// stdout and, when configured, the metrics textfile.
func Once(ctx context.Context, eng *engine.Engine, stdout, stderr io.Writer) (*scheduler.Report, error) {
	s := eng.Settings
	format, err := report.ParseFormat(s.Format)
	if err != nil {
		return nil, err
	}
	prog := newProgressReporter(s.Progress, defaultProgressInterval, stderr, eng.Sched.Progress)
	stopProgress := prog.start()
	rep, err := eng.Build(ctx)
	stopProgress()
	if rep == nil {
		return nil, err
	}

	if werr := report.Write(stdout, format, rep); werr != nil && err == nil {
		err = fmt.Errorf("write report: %w", werr)
	}
	if s.MetricsFile != "" {
		m := metrics.New()
		m.Observe(rep)
		if werr := m.WriteFile(s.MetricsFile); werr != nil {
			eng.Log.WithError(werr).WithField("path", s.MetricsFile).Warn("cannot write metrics")
		}
	}
	return rep, err
}
