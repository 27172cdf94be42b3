// Package watch implements `fabrik watch`.
package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/flarebyte/fabrik/cmd/fabrik/build"
	"github.com/flarebyte/fabrik/internal/engine"
	fswatch "github.com/flarebyte/fabrik/internal/watch"
)

var flagDebounce = fswatch.DefaultDebounce

// NewCmd returns the watch command.
func NewCmd(settings func() engine.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "watch [target]",
		Short:         "Build, then rebuild whenever a recorded input or the plan changes",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := settings()
			if len(args) == 1 {
				s.Target = args[0]
			}
			return build.ExitError(Run(cmd.Context(), s, cmd.OutOrStdout(), cmd.ErrOrStderr()))
		},
	}
	cmd.Flags().DurationVar(&flagDebounce, "debounce", fswatch.DefaultDebounce, "Quiet period before a rebuild")
	return cmd
}

// Run watches until interrupted. An interrupt is a normal exit.
func Run(ctx context.Context, s engine.Settings, stdout, stderr io.Writer) error {
	eng, err := engine.Open(s, engine.WithOutput(stderr))
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	if err := eng.Monitor.Probe(ctx); err != nil {
		return err
	}

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	loopCtx, cancel := context.WithCancel(ctx)
	g.Add(func() error {
		w := &fswatch.Watcher{Debounce: flagDebounce, Ignore: eng.InStateDir, Log: eng.Log}
		return w.Run(loopCtx, func(ctx context.Context) (fswatch.Set, error) {
			if err := eng.Reload(); err != nil {
				return eng.WatchSet(), err
			}
			_, err := build.Once(ctx, eng, stdout, stderr)
			return eng.WatchSet(), err
		})
	}, func(error) {
		cancel()
	})

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		eng.Log.WithField("signal", sig.Signal.String()).Info("stopping watch")
		return nil
	}
	return err
}
