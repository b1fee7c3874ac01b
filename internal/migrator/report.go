package migrator

import (
	"fmt"
	"time"
)

// Outcome of one attempted migration step.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeFailed     Outcome = "failed"
)

// Result is one entry of a batch report.
type Result struct {
	Version   int64
	Name      string
	Direction Direction
	Outcome   Outcome
	Detail    string
	// StateTracking is set when the action ran but recording it in the
	// StateStore failed; the database and the applied set may disagree.
	StateTracking bool
	Duration      time.Duration
}

// Report lists every step a batch attempted, in order, up to and including the first failure.
type Report []Result

// Failed returns the failing entry, if any.
func (r Report) Failed() (Result, bool) {
	for _, res := range r {
		if res.Outcome == OutcomeFailed {
			return res, true
		}
	}
	return Result{}, false
}

// Versions returns the versions in report order.
func (r Report) Versions() []int64 {
	out := make([]int64, 0, len(r))
	for _, res := range r {
		out = append(out, res.Version)
	}
	return out
}

// Lines renders the report for CLI output.
func (r Report) Lines() []string {
	out := make([]string, 0, len(r))
	for _, res := range r {
		out = append(out, res.String())
	}
	return out
}

func (res Result) String() string {
	switch res.Outcome {
	case OutcomeApplied:
		return fmt.Sprintf("Applied: %s (v%d)", res.Name, res.Version)
	case OutcomeRolledBack:
		return fmt.Sprintf("RolledBack: %s (v%d)", res.Name, res.Version)
	}
	if res.StateTracking {
		return fmt.Sprintf("FAILED: %s (v%d) %s ran but was not recorded: %s", res.Name, res.Version, res.Direction, res.Detail)
	}
	return fmt.Sprintf("FAILED: %s (v%d) %s: %s", res.Name, res.Version, res.Direction, res.Detail)
}
