package types

import (
	"fmt"
	"strings"
)

// ProgressReport aggregates the state of a group of tasks.
//
// Succeeded includes tasks that completed with a warning; Failed includes
// tasks that failed during initialization. Running tasks are split into
// Sent (submitted, not yet acknowledged), Queued (waiting at a daemon) and
// Executing. PercentDone is the summed completion fraction of the executing
// tasks, so 1.5 means one and a half tasks' worth of work is done.
type ProgressReport struct {
	Total       int     `json:"total"`
	Sent        int     `json:"sent"`
	Queued      int     `json:"queued"`
	Executing   int     `json:"executing"`
	Succeeded   int     `json:"succeeded"`
	Warning     int     `json:"warning"`
	Failed      int     `json:"failed"`
	InitFailed  int     `json:"init_failed"`
	PercentDone float64 `json:"percent_done"`
}

// Equal reports whether both reports carry identical values.
func (r ProgressReport) Equal(other ProgressReport) bool {
	return r == other
}

// Done reports whether every task reached a terminal state.
func (r ProgressReport) Done() bool {
	return r.Succeeded+r.Failed == r.Total
}

// Running returns the number of tasks sent, queued or executing.
func (r ProgressReport) Running() int {
	return r.Sent + r.Queued + r.Executing
}

// String returns a human readable summary. Failure counts are only
// included when something failed.
func (r ProgressReport) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/%d done", r.Succeeded+r.Failed, r.Total)
	if r.Warning > 0 {
		fmt.Fprintf(&sb, ", %d succeeded (%d with warnings)", r.Succeeded, r.Warning)
	} else {
		fmt.Fprintf(&sb, ", %d succeeded", r.Succeeded)
	}
	if r.Running() > 0 {
		fmt.Fprintf(&sb, ", %d running (%d sent, %d queued, %d executing, %.1f%% of executing work done)",
			r.Running(), r.Sent, r.Queued, r.Executing, r.executingPercent())
	}
	if r.Failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.Failed)
		if r.InitFailed > 0 {
			fmt.Fprintf(&sb, " (%d failed to initialize)", r.InitFailed)
		}
	}
	return sb.String()
}

func (r ProgressReport) executingPercent() float64 {
	if r.Executing == 0 {
		return 0
	}
	return r.PercentDone / float64(r.Executing) * 100
}
