// Package runstore persists batch-run history to Postgres, implementing
// sshbatch.HistoryRecorder so a fleet operator can look up what ran,
// against which hosts, and with what outcome, after the fact.
package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool holding batch_runs and
// batch_run_outcomes rows.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a pool against connString and verifies connectivity.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Schema is the DDL runstore expects. Callers apply it out of band (a
// migration tool, not this package) before the first run.
const Schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
	run_id       TEXT PRIMARY KEY,
	command      TEXT NOT NULL,
	host_count   INT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS batch_run_outcomes (
	run_id      TEXT NOT NULL REFERENCES batch_runs(run_id),
	host        TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	exit_status INT,
	error_kind  TEXT,
	error_msg   TEXT,
	stdout_size INT,
	stderr_size INT
);
`

// runKey is a named string type for a batch run identifier. Store keeps no
// in-memory state per run; every method writes straight to the pool.
type runKey string

// RecordRunStart persists the header row for a new batch run.
// HistoryRecorder is fire-and-forget: a failure is logged, never
// propagated, matching sshbatch's contract that history must never affect
// batch progress.
func (s *Store) RecordRunStart(runID string, command string, hostCount int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_runs (run_id, command, host_count, started_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, command, hostCount, time.Now().UTC())
	if err != nil {
		log.Printf("[runstore] record run start %s: %v", runID, err)
	}
}

// RecordOutcome persists one host's terminal outcome for runID.
func (s *Store) RecordOutcome(runID, host string, occurredAt time.Time, exitStatus *int, errKind, errMsg string, stdoutLen, stderrLen int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var kind, msg *string
	if errKind != "" {
		kind = &errKind
		msg = &errMsg
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_run_outcomes
			(run_id, host, occurred_at, exit_status, error_kind, error_msg, stdout_size, stderr_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, runID, host, occurredAt, exitStatus, kind, msg, stdoutLen, stderrLen)
	if err != nil {
		log.Printf("[runstore] record outcome %s/%s: %v", runID, host, err)
	}
}

// RecordRunEnd stamps the run's completion time (ended_at). The
// succeeded/failed counts are logged as a JSON summary, not stored.
func (s *Store) RecordRunEnd(runID string, succeeded, failed int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, _ := json.Marshal(map[string]int{"succeeded": succeeded, "failed": failed})

	_, err := s.pool.Exec(ctx, `
		UPDATE batch_runs SET ended_at = $2 WHERE run_id = $1
	`, runID, time.Now().UTC())
	if err != nil {
		log.Printf("[runstore] record run end %s: %v", runID, err)
		return
	}
	log.Printf("[runstore] run %s complete: %s", runID, summary)
}
