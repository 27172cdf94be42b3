package monitor

import "fmt"

// MonitoringError means file accesses could not be observed. Building
// without observation would record wrong dependencies, so it is fatal.
type MonitoringError struct {
	Op  string
	Msg string
	Err error
}

func (e *MonitoringError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("monitoring error: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("monitoring error: %s: %s", e.Op, e.Msg)
}

func (e *MonitoringError) Unwrap() error { return e.Err }

func (e *MonitoringError) ExitCode() int { return 3 }
