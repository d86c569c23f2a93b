package sshbatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HistoryRecorder is an optional sink for persisted batch-run history
// (internal/runstore implements it). Same fire-and-forget contract as
// AuditSink: a failing recorder must not affect batch progress. Its methods
// are called synchronously; RecordOutcome runs on the worker that finished
// the host, before that host's result event is published.
type HistoryRecorder interface {
	RecordRunStart(runID string, req BatchRequest)
	RecordOutcome(runID string, outcome BatchOutcome)
	RecordRunEnd(runID string, outcomes []BatchOutcome)
}

// NoopHistoryRecorder discards everything.
type NoopHistoryRecorder struct{}

func (NoopHistoryRecorder) RecordRunStart(string, BatchRequest) {}
func (NoopHistoryRecorder) RecordOutcome(string, BatchOutcome)  {}
func (NoopHistoryRecorder) RecordRunEnd(string, []BatchOutcome) {}

// Engine composes command validation, key loading, retry, scheduling,
// and audit/history recording behind three operations: run a command on
// a single host, run a command across a fleet, and cancel whichever is
// in flight.
type Engine struct {
	cfg       Config
	validator CommandValidator
	audit     AuditSink
	history   HistoryRecorder

	mu     sync.Mutex
	active *CancelToken // the in-flight batch/session's token, if any
}

// NewEngine wires an Engine. validator/audit/history may be nil, in which
// case a DenyListValidator/LogAuditSink/NoopHistoryRecorder is used.
func NewEngine(cfg Config, validator CommandValidator, audit AuditSink, history HistoryRecorder) *Engine {
	if validator == nil {
		validator = DenyListValidator{}
	}
	if audit == nil {
		audit = LogAuditSink{}
	}
	if history == nil {
		history = NoopHistoryRecorder{}
	}
	return &Engine{cfg: cfg, validator: validator, audit: audit, history: history}
}

// ExecuteSSHCommand is the single-host path: one session, one command.
func (e *Engine) ExecuteSSHCommand(ctx context.Context, host HostEntry, cfg SessionConfig, command string, skipValidation bool) BatchOutcome {
	cancel := e.beginRun()
	defer e.endRun(cancel)

	go func() {
		select {
		case <-ctx.Done():
			cancel.Trip()
		case <-cancel.Done():
		}
	}()

	keys := NewKeyMaterialLoader()
	exec := newSessionExecutor(keys, e.validator)
	return exec.execute(host, cfg, command, skipValidation, cancel)
}

// ExecuteBatchCommands is the batch path. It blocks until every
// host has a terminal outcome (across however many retry rounds run) and
// returns the outcome vector keyed by host-index in req.Hosts. Progress
// and per-host results are published to sink as they happen; pass nil for
// a fire-and-forget run with no event stream.
func (e *Engine) ExecuteBatchCommands(req BatchRequest, sink EventSink) ([]BatchOutcome, error) {
	if sink == nil {
		sink = NoopEventSink{}
	}

	cancel := e.beginRun()
	defer e.endRun(cancel)

	runID := fmt.Sprintf("run-%d-%d", time.Now().UTC().UnixNano(), len(req.Hosts))
	e.audit.Record("info", "batch_start", map[string]string{"run_id": runID, "hosts": fmt.Sprintf("%d", len(req.Hosts))})
	e.history.RecordRunStart(runID, req)

	auditingSink := &auditingEventSink{inner: sink, audit: e.audit, runID: runID, history: e.history}

	scheduler := NewScheduler(e.validator)
	orchestrator := newRetryOrchestrator(scheduler)

	outcomes, err := orchestrator.run(req, auditingSink, cancel)
	if err != nil {
		e.audit.Record("error", "batch_end", map[string]string{"run_id": runID, "error": err.Error()})
		return nil, err
	}

	e.audit.Record("info", "batch_end", map[string]string{"run_id": runID, "completed": fmt.Sprintf("%d", len(outcomes))})
	e.history.RecordRunEnd(runID, outcomes)

	return outcomes, nil
}

// CancelCommandExecution trips the active CancelToken, if any. A no-op if
// no batch or single-host execution is currently in flight, and a no-op
// if called again after the run has already returned.
func (e *Engine) CancelCommandExecution() {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active != nil {
		active.Trip()
	}
}

func (e *Engine) beginRun() *CancelToken {
	token := NewCancelToken()
	e.mu.Lock()
	e.active = token
	e.mu.Unlock()
	return token
}

func (e *Engine) endRun(token *CancelToken) {
	e.mu.Lock()
	if e.active == token {
		e.active = nil
	}
	e.mu.Unlock()
}

// auditingEventSink wraps a caller-supplied EventSink to also emit one
// audit record and one history record per host completion.
type auditingEventSink struct {
	inner   EventSink
	audit   AuditSink
	history HistoryRecorder
	runID   string
}

func (a *auditingEventSink) PublishResult(o BatchOutcome) {
	status := "ok"
	if o.Err != nil {
		status = string(o.Err.Kind)
	}
	a.audit.Record("info", "host_complete", map[string]string{
		"run_id": a.runID,
		"host":   o.Host,
		"status": status,
	})
	a.history.RecordOutcome(a.runID, o)
	a.inner.PublishResult(o)
}

func (a *auditingEventSink) PublishProgress(p ProgressRecord) {
	a.inner.PublishProgress(p)
}
