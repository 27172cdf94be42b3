// Package logging builds the logrus logger shared by one invocation.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/flarebyte/fabrik/internal/plan"
)

// New returns a logger writing text records to out at the named level.
func New(level string, out io.Writer) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableLevelTruncation: true})
	return l, nil
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return 0, plan.Errorf("unsupported log level: %q (supported: debug, info, warn, error)", level)
	}
}

// ForCommand adds the standard per-command fields. phase is the label
// built by PhaseLabel.
func ForCommand(log logrus.FieldLogger, phase string, cmd plan.Command) logrus.FieldLogger {
	return log.WithFields(logrus.Fields{
		"phase": phase,
		"sig":   cmd.Signature().Short(),
		"cmd":   cmd.String(),
	})
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// PhaseLabel formats a phase for log fields, e.g. "2/3 link".
func PhaseLabel(index, total int, name string) string {
	label := fmt.Sprintf("%d/%d", index+1, total)
	if name != "" && name != fmt.Sprintf("%d", index+1) {
		label += " " + name
	}
	return label
}
