// Package auditsubmit implements a networked sshbatch.AuditSink: every
// audit record is Ed25519-signed and POSTed to a collector endpoint, so a
// receiving service can attribute a record to the executing host and
// detect tampering in transit.
package auditsubmit

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// record matches the JSON shape the collector expects: one object per
// sshbatch.AuditSink.Record call.
type record struct {
	RunnerID  string            `json:"runner_id"`
	Level     string            `json:"level"`
	Action    string            `json:"action"`
	Details   map[string]string `json:"details"`
	Timestamp string            `json:"timestamp"`
	Signature string            `json:"signature"`
	PublicKey string            `json:"public_key"`
}

// Sink posts signed audit records to an HTTP collector endpoint. Record
// is fire-and-forget by contract (sshbatch.AuditSink): a failed POST is
// logged and never returned to the caller. The POST is synchronous, so a
// slow collector delays the caller by up to the client's 10-second timeout.
type Sink struct {
	runnerID    string
	apiEndpoint string
	apiKey      string
	signingKey  ed25519.PrivateKey
	publicKey   string
	client      *http.Client
}

// NewSink creates a Sink identified by runnerID, posting to
// apiEndpoint + "/v1/audit" with apiKey as a bearer token. Records are
// signed with the Ed25519 key at keyPath; a key is minted and persisted
// there on first use, so a runner's audit identity survives process
// restarts as long as keyPath survives them too.
func NewSink(runnerID, apiEndpoint, apiKey, keyPath string) (*Sink, error) {
	signingKey, pubHex, err := loadOrGenerateSigningKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("audit signing key: %w", err)
	}
	return &Sink{
		runnerID:    runnerID,
		apiEndpoint: apiEndpoint,
		apiKey:      apiKey,
		signingKey:  signingKey,
		publicKey:   pubHex,
		client:      &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// loadOrGenerateSigningKey loads an Ed25519 seed from path, or mints and
// persists a fresh one on first run. The collector identifies a runner by
// this key's hex-encoded public half, so losing the file changes the
// runner's apparent identity even though the runner itself hasn't changed.
func loadOrGenerateSigningKey(path string) (ed25519.PrivateKey, string, error) {
	if data, err := os.ReadFile(path); err == nil && len(data) == ed25519.SeedSize {
		priv := ed25519.NewKeyFromSeed(data)
		return priv, hex.EncodeToString(priv.Public().(ed25519.PublicKey)), nil
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, "", fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, priv.Seed(), 0o600); err != nil {
		return nil, "", fmt.Errorf("persist key: %w", err)
	}
	return priv, hex.EncodeToString(pub), nil
}

// Record signs and submits one audit record. Satisfies sshbatch.AuditSink.
func (s *Sink) Record(level, action string, details map[string]string) {
	now := time.Now().UTC().Format(time.RFC3339)

	signedObj := map[string]any{
		"runner_id": s.runnerID,
		"level":     level,
		"action":    action,
		"details":   details,
		"timestamp": now,
	}
	signedBytes, err := json.Marshal(signedObj)
	if err != nil {
		log.Printf("[auditsubmit] marshal record: %v", err)
		return
	}
	signature := hex.EncodeToString(ed25519.Sign(s.signingKey, signedBytes))

	rec := record{
		RunnerID:  s.runnerID,
		Level:     level,
		Action:    action,
		Details:   details,
		Timestamp: now,
		Signature: signature,
		PublicKey: s.publicKey,
	}

	body, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[auditsubmit] marshal request: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.apiEndpoint+"/v1/audit", bytes.NewReader(body))
	if err != nil {
		log.Printf("[auditsubmit] build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[auditsubmit] submit %s/%s: %v", level, action, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("[auditsubmit] submit %s/%s: collector returned %d", level, action, resp.StatusCode)
	}
}
