package runstore

import (
	"time"

	"github.com/osiriscare/appliance/internal/sshbatch"
)

// Recorder adapts Store to sshbatch.HistoryRecorder, translating the
// engine's request/outcome types into the primitive columns Store writes.
type Recorder struct {
	store *Store
}

// NewRecorder wraps store. A single Recorder is safe to share across
// concurrent batch runs: every method is keyed by the runID argument the
// engine passes in, not by any state on the Recorder itself.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) RecordRunStart(runID string, req sshbatch.BatchRequest) {
	r.store.RecordRunStart(runID, req.Command, len(req.Hosts))
}

func (r *Recorder) RecordOutcome(runID string, outcome sshbatch.BatchOutcome) {
	exitStatus, errKind, errMsg, stdoutLen, stderrLen, ts := outcomeColumns(outcome)
	r.store.RecordOutcome(runID, outcome.Host, ts, exitStatus, errKind, errMsg, stdoutLen, stderrLen)
}

func (r *Recorder) RecordRunEnd(runID string, outcomes []sshbatch.BatchOutcome) {
	succeeded, failed := countOutcomes(outcomes)
	r.store.RecordRunEnd(runID, succeeded, failed)
}

// outcomeColumns extracts the primitive columns Store.RecordOutcome wants
// from an engine-level BatchOutcome. Kept pure (no pool access) so the
// translation can be tested without a database.
func outcomeColumns(outcome sshbatch.BatchOutcome) (exitStatus *int, errKind, errMsg string, stdoutLen, stderrLen int, ts time.Time) {
	if outcome.Result != nil {
		status := outcome.Result.ExitStatus
		exitStatus = &status
		stdoutLen = len(outcome.Result.Stdout)
		stderrLen = len(outcome.Result.Stderr)
	}
	if outcome.Err != nil {
		errKind = string(outcome.Err.Kind)
		errMsg = outcome.Err.Message
	}

	ts = outcome.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return exitStatus, errKind, errMsg, stdoutLen, stderrLen, ts
}

// countOutcomes tallies success/failure across a completed batch.
func countOutcomes(outcomes []sshbatch.BatchOutcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}
