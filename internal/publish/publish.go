// Package publish contains the five destination publishers. They share one
// shape: scan the store for unconverged records, attempt the external effect
// per record, mark convergence on success, and report per-record outcomes.
// CONVERGED is terminal; a marked record never reappears in a scan.
package publish

import (
	"context"

	"github.com/google/uuid"
)

// FailureKind classifies a failed attempt.
type FailureKind string

const (
	// FailureTransient leaves the record unconverged for the next tick.
	FailureTransient FailureKind = "transient"
	// FailurePermanent excludes the record from future attempts.
	FailurePermanent FailureKind = "permanent"
	// FailureInvariant signals a convergence mark that matched zero rows.
	FailureInvariant FailureKind = "invariant"
)

// Outcome is the result of one record's attempt within a tick.
type Outcome struct {
	DecisionID uuid.UUID
	Kind       FailureKind
	Err        error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

func success(id uuid.UUID) Outcome {
	return Outcome{DecisionID: id}
}

func failure(id uuid.UUID, kind FailureKind, err error) Outcome {
	return Outcome{DecisionID: id, Kind: kind, Err: err}
}

// Summarize counts successes and failures for aggregate reporting.
func Summarize(outcomes []Outcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// Publisher is one periodically-driven convergence unit.
type Publisher interface {
	// Name identifies the destination in logs and metrics.
	Name() string
	// Publish runs one tick. The error return is reserved for scan failures;
	// per-record failures land in the outcomes.
	Publish(ctx context.Context) ([]Outcome, error)
}
