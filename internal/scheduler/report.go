package scheduler

import (
	"time"

	"github.com/flarebyte/fabrik/internal/oracle"
	"github.com/flarebyte/fabrik/internal/plan"
)

// Status is the terminal state of one command in one invocation.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusNotRun marks commands never dispatched because the run had
	// already failed.
	StatusNotRun   Status = "not-run"
	StatusCanceled Status = "canceled"
	// StatusWouldRun and StatusPending only appear in dry runs.
	StatusWouldRun Status = "would-run"
	StatusPending  Status = "pending"
)

// CommandReport tells what happened to one command.
type CommandReport struct {
	Phase      int            `json:"phase" yaml:"phase"`
	PhaseName  string         `json:"phaseName" yaml:"phaseName"`
	Command    string         `json:"command" yaml:"command"`
	Dir        string         `json:"dir" yaml:"dir"`
	Signature  plan.Signature `json:"signature" yaml:"signature"`
	Status     Status         `json:"status" yaml:"status"`
	Reason     oracle.Reason  `json:"reason,omitempty" yaml:"reason,omitempty"`
	ReasonPath string         `json:"reasonPath,omitempty" yaml:"reasonPath,omitempty"`
	ExitCode   int            `json:"exitCode" yaml:"exitCode"`
	Started    time.Time      `json:"started,omitempty" yaml:"started,omitempty"`
	Finished   time.Time      `json:"finished,omitempty" yaml:"finished,omitempty"`
	Duration   time.Duration  `json:"durationNs" yaml:"durationNs"`
	Inputs     int            `json:"inputs" yaml:"inputs"`
	Outputs    int            `json:"outputs" yaml:"outputs"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	Stderr     string         `json:"stderr,omitempty" yaml:"stderr,omitempty"`
}

// Report is the outcome of one invocation, commands in plan order.
type Report struct {
	RunID       string          `json:"runId" yaml:"runId"`
	Success     bool            `json:"success" yaml:"success"`
	DryRun      bool            `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
	Jobs        int             `json:"jobs" yaml:"jobs"`
	Started     time.Time       `json:"started" yaml:"started"`
	Finished    time.Time       `json:"finished" yaml:"finished"`
	Dispatched  int             `json:"dispatched" yaml:"dispatched"`
	MaxInFlight int             `json:"maxInFlight" yaml:"maxInFlight"`
	Commands    []CommandReport `json:"commands" yaml:"commands"`
	Warnings    []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Counts tallies commands by status.
func (r *Report) Counts() map[Status]int {
	out := map[Status]int{}
	for _, c := range r.Commands {
		out[c.Status]++
	}
	return out
}

// Ran lists the commands that were executed, successfully or not.
func (r *Report) Ran() []CommandReport {
	var out []CommandReport
	for _, c := range r.Commands {
		if c.Status == StatusSucceeded || c.Status == StatusFailed || c.Status == StatusCanceled {
			out = append(out, c)
		}
	}
	return out
}
