package tx

import "time"

// Outcome is how a physical transaction ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeUnexpectedRollback is a commit request that ended in rollback
	// because a participant vetoed it.
	OutcomeUnexpectedRollback Outcome = "unexpected_rollback"
	OutcomeTimedOut           Outcome = "timed_out"
	// OutcomeFailed is a physical commit or rollback that returned an error.
	// A failed acquire never started a physical transaction and is not
	// reported.
	OutcomeFailed Outcome = "failed"
)

// Observer receives manager events, e.g. for metrics.
type Observer interface {
	TransactionBegun(action Action, def Definition)
	TransactionCompleted(outcome Outcome, def Definition, elapsed time.Duration)
	RollbackOnlyMarked(def Definition)
}

type noopObserver struct{}

func (noopObserver) TransactionBegun(Action, Definition)                     {}
func (noopObserver) TransactionCompleted(Outcome, Definition, time.Duration) {}
func (noopObserver) RollbackOnlyMarked(Definition)                           {}
