package transport

import (
	"context"
	"time"
)

// StrategyDescriptor is a stateless template for one acquisition method.
// Strategies are attempted strictly in list order; one whose precondition
// fails is skipped without consuming any poll budget.
type StrategyDescriptor struct {
	Name string

	// NeedsHardware marks strategies whose precondition is "expected
	// hardware present"; it triggers the one-shot remediation pass
	NeedsHardware bool

	// Precondition reports whether the strategy is applicable, with a
	// reason when it is not
	Precondition func(ctx context.Context, req *TransportRequest) (bool, string)

	// Start launches or attaches to the candidate transport. A non-nil
	// error means an immediate, unambiguous failure (no polling happens).
	// A nil process is valid for attach-style strategies.
	Start func(ctx context.Context, req *TransportRequest) (*StartedProcess, error)

	// Ready is the readiness probe polled after Start
	Ready func(ctx context.Context) bool

	MaxAttempts  int
	PollInterval time.Duration
}

// Budget is the worst-case polling duration for this strategy
func (d *StrategyDescriptor) Budget() time.Duration {
	return time.Duration(d.MaxAttempts) * d.PollInterval
}

// StrategyRunner executes one strategy with a bounded readiness poll
type StrategyRunner struct {
	Clock Clock
}

// Run evaluates the precondition, invokes the start action and polls for
// readiness up to the descriptor's budget. It never blocks beyond
// MaxAttempts * PollInterval.
func (r *StrategyRunner) Run(ctx context.Context, desc *StrategyDescriptor, req *TransportRequest) AttemptRecord {
	record := AttemptRecord{Strategy: desc.Name}
	started := r.Clock.Now()

	if desc.Precondition != nil {
		if ok, reason := desc.Precondition(ctx, req); !ok {
			record.Outcome = OutcomePreconditionFailed
			record.Reason = reason
			record.Duration = r.Clock.Now().Sub(started)
			return record
		}
	}

	proc, err := desc.Start(ctx, req)
	if err != nil {
		record.Outcome = OutcomeStartErrored
		record.Reason = err.Error()
		record.Duration = r.Clock.Now().Sub(started)
		return record
	}
	if proc != nil {
		record.PID = proc.PID
		record.LogPath = proc.LogPath
	}

	for attempt := 1; attempt <= desc.MaxAttempts; attempt++ {
		if err := r.Clock.Sleep(ctx, desc.PollInterval); err != nil {
			record.Outcome = OutcomeTimedOut
			record.Reason = "interrupted"
			record.Polls = attempt - 1
			record.Duration = r.Clock.Now().Sub(started)
			return record
		}

		record.Polls = attempt
		if desc.Ready(ctx) {
			record.Outcome = OutcomeSucceeded
			record.Duration = r.Clock.Now().Sub(started)
			return record
		}
	}

	record.Outcome = OutcomeTimedOut
	record.Reason = "readiness poll budget exhausted"
	record.Duration = r.Clock.Now().Sub(started)
	return record
}
