package store

import (
	"errors"
	"fmt"
)

// Outcome classifies a single deletion attempt.
type Outcome int

const (
	OutcomeDeleted Outcome = iota
	// OutcomeAbsent means the file was already gone. It is not a failure.
	OutcomeAbsent
	OutcomeFailed
)

func (o Outcome) String() string {
	return [...]string{"deleted", "absent", "failed"}[o]
}

// Source tells which mechanism triggered a deletion.
type Source string

const (
	SourceSweep     Source = "sweep"
	SourceScheduled Source = "scheduled"
	SourceManual    Source = "manual"
)

// Result is the outcome of deleting one artifact.
type Result struct {
	Path    string
	Outcome Outcome
	Err     error
}

// OK reports whether the artifact is gone after the attempt.
func (r Result) OK() bool {
	return r.Outcome != OutcomeFailed
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Path, r.Outcome, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Path, r.Outcome)
}

// SweepReport collects the results of one sweep pass.
type SweepReport struct {
	Scanned int
	Results []Result
}

// Deleted returns how many stale files the sweep removed.
func (r SweepReport) Deleted() int {
	return r.count(OutcomeDeleted)
}

// Failed returns how many stale files could not be removed.
func (r SweepReport) Failed() int {
	return r.count(OutcomeFailed)
}

// Err joins every failure of the sweep, or returns nil.
func (r SweepReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			errs = append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
		}
	}
	return errors.Join(errs...)
}

func (r SweepReport) count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}
