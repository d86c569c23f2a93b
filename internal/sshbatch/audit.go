package sshbatch

import "log"

// AuditSink is a fire-and-forget audit collaborator: failures must
// never affect batch progress. The engine emits one record per batch
// start, one per host completion, and one per batch end.
type AuditSink interface {
	Record(level, action string, details map[string]string)
}

// LogAuditSink is a minimal default that writes audit records to the
// standard logger. internal/auditsubmit provides a networked
// implementation of this same interface for production use.
type LogAuditSink struct{}

func (LogAuditSink) Record(level, action string, details map[string]string) {
	log.Printf("[audit] level=%s action=%s details=%v", level, action, details)
}

// NoopAuditSink discards every record.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(string, string, map[string]string) {}
