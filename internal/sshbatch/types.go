// Package sshbatch implements the batch SSH execution engine: bounded-
// concurrency command execution across a fleet of hosts, with password/
// OpenSSH/PPK authentication, exponential-backoff reconnect, batch-level
// retry, and cooperative cancellation.
package sshbatch

import "time"

// HostEntry is an identifiable target for a command execution.
//
// Constructed by the host-file loader or UI (both out of scope here) and
// immutable once handed to the engine.
type HostEntry struct {
	IP       string            `json:"ip"`
	Port     int               `json:"port,omitempty"` // 0 means "inherit from batch template"
	Hostname string            `json:"hostname,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Secret is a byte string that should be zeroed on drop. Best-effort —
// Go's GC means this is not a hard guarantee, but callers should still
// call Zero as soon as a secret is no longer needed.
type Secret []byte

// Zero overwrites the secret's bytes with zero.
func (s Secret) Zero() {
	for i := range s {
		s[i] = 0
	}
}

func (s Secret) String() string {
	return "<redacted>"
}

// AuthKind tags the variant held by an AuthMaterial.
type AuthKind int

const (
	AuthPassword AuthKind = iota
	AuthOpenSSHKey
	AuthPPKKey
)

// AuthMaterial is a tagged variant of the supported SSH authentication
// methods. Exactly one of the three shapes is populated, selected by Kind.
type AuthMaterial struct {
	Kind AuthKind

	// AuthPassword
	Password Secret

	// AuthOpenSSHKey / AuthPPKKey
	KeyPath    string
	Passphrase Secret
}

// Validate checks that the auth material is complete: key variants need a
// non-empty path, the password variant needs a non-empty password.
func (a AuthMaterial) Validate() error {
	switch a.Kind {
	case AuthPassword:
		if len(a.Password) == 0 {
			return errEmptyPassword
		}
	case AuthOpenSSHKey, AuthPPKKey:
		if a.KeyPath == "" {
			return errEmptyKeyPath
		}
	default:
		return errUnknownAuthKind
	}
	return nil
}

// SessionConfig holds the per-session parameters derived from the batch
// template and the target HostEntry.
type SessionConfig struct {
	Target             HostAddr
	Username           string
	Auth               AuthMaterial
	ConnectTimeout     time.Duration // 1..300s
	KeepAliveInterval  time.Duration
	ReconnectAttempts  int     // 0..10
	ReconnectDelayBase float64 // seconds, 0.1..10
	CompressionEnabled bool
	CompressionLevel   int // 1..9, only meaningful if CompressionEnabled
}

// HostAddr is the dial target for a session.
type HostAddr struct {
	IP   string
	Port int
}

// CommandResult is the outcome of one successful command execution
// (successful meaning the session ran to completion — the remote exit
// status may still be non-zero).
type CommandResult struct {
	Host       string
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
	VehicleID  string // copied from host metadata["vehicle_id"], if present
	Timestamp  time.Time
}

// ErrorKind is a closed classification set for command-execution failures.
type ErrorKind string

const (
	KindCommandValidation ErrorKind = "CommandValidation"
	KindKeyMaterial       ErrorKind = "KeyMaterial"
	KindAuthDenied        ErrorKind = "AuthDenied"
	KindNetworkTransient  ErrorKind = "NetworkTransient"
	KindTimeout           ErrorKind = "Timeout"
	KindCancelled         ErrorKind = "Cancelled"
	KindUnknown           ErrorKind = "Unknown"
)

// ErrorDescriptor is a classified failure.
type ErrorDescriptor struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

func (e *ErrorDescriptor) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// BatchOutcome is the terminal per-host record of one attempt round.
// Exactly one of Result/Err is non-nil.
type BatchOutcome struct {
	Host      string
	Timestamp time.Time
	Result    *CommandResult
	Err       *ErrorDescriptor
}

// ProgressRecord reports dispatch progress within a round.
type ProgressRecord struct {
	Completed int
	Total     int
	Host      string
}

// BatchRequest is the immutable input to the batch scheduler.
type BatchRequest struct {
	Hosts            []HostEntry
	ConfigTemplate   SessionConfig // Target.IP is ignored; Target.Port is the port for hosts with Port 0
	Command          string
	MaxConcurrent    int  // 1..500
	RetryFailedHosts bool
	RetryInterval    time.Duration
	RetryMaxAttempts int // 0 = unbounded
	SkipValidation   bool
}

var (
	errEmptyPassword   = &ErrorDescriptor{Kind: KindKeyMaterial, Message: "password auth selected but password is empty", Retryable: false}
	errEmptyKeyPath    = &ErrorDescriptor{Kind: KindKeyMaterial, Message: "key auth selected but key path is empty", Retryable: false}
	errUnknownAuthKind = &ErrorDescriptor{Kind: KindKeyMaterial, Message: "unrecognized auth material kind", Retryable: false}
)
