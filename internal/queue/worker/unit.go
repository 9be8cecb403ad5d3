package worker

import (
	"context"
	"errors"

	"github.com/geocoder89/eventops/internal/domain/job"
)

type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Unit is the work for one target. Key identifies the target in the job's
// failed and skipped lists.
type Unit struct {
	Key string
	Do  func(ctx context.Context) error
}

// Planner turns a running job into its ordered units. An error here is fatal
// for the job.
type Planner func(ctx context.Context, j job.Job) ([]Unit, error)

// SkipError marks a benign no-op such as an already-recorded scan.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip returns the error a unit reports to be counted as skipped rather than
// failed.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

func classify(err error) (Outcome, string) {
	if err == nil {
		return OutcomeOK, ""
	}

	var skip *SkipError
	if errors.As(err, &skip) {
		return OutcomeSkipped, skip.Reason
	}

	return OutcomeFailed, err.Error()
}
