package sshbatch

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// CommandValidator is a pluggable pre-flight check. The engine never
// hard-codes a policy; a caller injects one at batch construction.
// DenyListValidator below is a usable default.
type CommandValidator interface {
	Validate(command string) error
}

// sessionExecutor opens one SSH session, authenticates, runs one command,
// and returns a structured BatchOutcome. One command = one session: the
// executor never holds a connection alive across commands.
type sessionExecutor struct {
	keys      *KeyMaterialLoader
	validator CommandValidator
}

func newSessionExecutor(keys *KeyMaterialLoader, validator CommandValidator) *sessionExecutor {
	return &sessionExecutor{keys: keys, validator: validator}
}

// execute runs command on host, merging host into template — the host's
// port overrides the template's port when present.
func (e *sessionExecutor) execute(host HostEntry, template SessionConfig, command string, skipValidation bool, cancel *CancelToken) BatchOutcome {
	now := time.Now().UTC()

	if !skipValidation && e.validator != nil {
		if err := e.validator.Validate(command); err != nil {
			return failOutcome(host.IP, now, &ErrorDescriptor{
				Kind:      KindCommandValidation,
				Message:   err.Error(),
				Retryable: false,
			})
		}
	}

	cfg := mergeSessionConfig(host, template)

	if cancel.IsTripped() {
		return failOutcome(host.IP, now, cancelledDescriptor())
	}

	client, desc := e.dialWithReconnect(cfg, cancel)
	if desc != nil {
		return failOutcome(host.IP, now, desc)
	}
	defer client.Close()

	result, desc := e.runCommand(client, cfg, command, cancel)
	if desc != nil {
		return failOutcome(host.IP, now, desc)
	}

	result = finalizeResult(result, host)
	return BatchOutcome{Host: host.IP, Timestamp: result.Timestamp, Result: result}
}

// finalizeResult stamps a successful CommandResult with the host identity,
// any vehicle_id carried in host metadata, and the completion time. Kept
// separate from execute so the metadata copy-through can be tested without
// a live session.
func finalizeResult(result *CommandResult, host HostEntry) *CommandResult {
	result.Host = host.IP
	result.VehicleID = host.Metadata["vehicle_id"]
	result.Timestamp = time.Now().UTC()
	return result
}

func mergeSessionConfig(host HostEntry, template SessionConfig) SessionConfig {
	cfg := template
	port := template.Target.Port
	if host.Port != 0 {
		port = host.Port
	}
	cfg.Target = HostAddr{IP: host.IP, Port: port}
	return cfg
}

// dialWithReconnect opens a TCP connection and negotiates SSH, retrying up
// to cfg.ReconnectAttempts times for NetworkTransient/Timeout failures
// occurring before authentication succeeds. AuthDenied and KeyMaterial
// short-circuit with no connection-level retry.
func (e *sessionExecutor) dialWithReconnect(cfg SessionConfig, cancel *CancelToken) (*ssh.Client, *ErrorDescriptor) {
	policy := newRetryPolicy(cfg.ReconnectAttempts, cfg.ReconnectDelayBase)

	var lastDesc *ErrorDescriptor
	for attempt := 0; attempt <= cfg.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			if waitErr := policy.wait(attempt, cancel); waitErr != nil {
				return nil, waitErr
			}
		}
		if cancel.IsTripped() {
			return nil, cancelledDescriptor()
		}

		client, desc := e.dialOnce(cfg, cancel)
		if desc == nil {
			return client, nil
		}

		lastDesc = desc
		if desc.Kind != KindNetworkTransient && desc.Kind != KindTimeout {
			return nil, desc
		}
		log.Printf("[sshbatch] reconnect %d/%d to %s:%d after %s", attempt+1, cfg.ReconnectAttempts, cfg.Target.IP, cfg.Target.Port, desc.Kind)
	}
	return nil, lastDesc
}

func (e *sessionExecutor) dialOnce(cfg SessionConfig, cancel *CancelToken) (*ssh.Client, *ErrorDescriptor) {
	sshConfig, desc := e.buildSSHConfig(cfg)
	if desc != nil {
		return nil, desc
	}

	addr := net.JoinHostPort(cfg.Target.IP, strconv.Itoa(cfg.Target.Port))

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := net.DialTimeout("tcp", addr, cfg.ConnectTimeout)
		if err != nil {
			resultCh <- dialResult{err: fmt.Errorf("dial %s: %w", addr, err)}
			return
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
		if err != nil {
			conn.Close()
			resultCh <- dialResult{err: fmt.Errorf("SSH handshake %s: %w", addr, err)}
			return
		}
		client := ssh.NewClient(sshConn, chans, reqs)
		if cfg.KeepAliveInterval > 0 {
			go keepAliveLoop(client, cfg.KeepAliveInterval, cancel)
		}
		resultCh <- dialResult{client: client}
	}()

	select {
	case <-cancel.Done():
		return nil, cancelledDescriptor()
	case r := <-resultCh:
		if r.err != nil {
			return nil, Classify(r.err)
		}
		return r.client, nil
	}
}

func (e *sessionExecutor) buildSSHConfig(cfg SessionConfig) (*ssh.ClientConfig, *ErrorDescriptor) {
	username := cfg.Username
	if username == "" {
		username = "root"
	}

	clientCfg := &ssh.ClientConfig{
		User: username,
		// No cross-run host-key TOFU persistence, and SessionConfig carries
		// no host-key field — fleet hosts are routinely first contact, so
		// host keys are not verified.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}

	switch cfg.Auth.Kind {
	case AuthPassword:
		clientCfg.Auth = []ssh.AuthMethod{ssh.Password(string(cfg.Auth.Password))}
	case AuthOpenSSHKey, AuthPPKKey:
		loaded, desc := e.keys.Load(cfg.Auth)
		if desc != nil {
			return nil, desc
		}
		clientCfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(loaded.Signer)}
	default:
		return nil, &ErrorDescriptor{Kind: KindKeyMaterial, Message: "no auth method configured", Retryable: false}
	}

	// golang.org/x/crypto/ssh does not expose zlib compression negotiation
	// in its public ClientConfig; CompressionEnabled/CompressionLevel are
	// carried through SessionConfig for forward compatibility but have no
	// effect on the wire today. Logged on every connection attempt so the
	// limitation is visible, never silently dropped.
	if cfg.CompressionEnabled {
		log.Printf("[sshbatch] compression requested for %s but not supported by the SSH client library; proceeding uncompressed", cfg.Target.IP)
	}

	return clientCfg, nil
}

// keepAliveLoop sends periodic keepalive@openssh.com global requests so
// idle connections are detected within KeepAliveInterval.
func keepAliveLoop(client *ssh.Client, interval time.Duration, cancel *CancelToken) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel.Done():
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		}
	}
}

// runCommand opens an exec channel, writes the command, closes stdin,
// reads stdout/stderr to completion (or until cancel), and reads the
// exit status.
func (e *sessionExecutor) runCommand(client *ssh.Client, cfg SessionConfig, command string, cancel *CancelToken) (*CommandResult, *ErrorDescriptor) {
	session, err := client.NewSession()
	if err != nil {
		return nil, Classify(fmt.Errorf("new session: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-cancel.Done():
		session.Close()
		return nil, cancelledDescriptor()
	case runErr := <-done:
		exitStatus := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*ssh.ExitError); ok {
				exitStatus = exitStatusOf(exitErr)
			} else {
				return nil, Classify(fmt.Errorf("run: %w", runErr))
			}
		}
		return &CommandResult{
			Stdout:     stdout.Bytes(),
			Stderr:     stderr.Bytes(),
			ExitStatus: exitStatus,
		}, nil
	}
}

// signalNumbers maps POSIX signal names (as reported by exit-signal) to
// their numeric value, used to synthesize a shell-style 128+n exit status
// when a command is killed by a signal instead of exiting normally.
var signalNumbers = map[string]int{
	"HUP": 1, "INT": 2, "QUIT": 3, "ILL": 4, "TRAP": 5, "ABRT": 6,
	"BUS": 7, "FPE": 8, "KILL": 9, "USR1": 10, "SEGV": 11, "USR2": 12,
	"PIPE": 13, "ALRM": 14, "TERM": 15,
}

func exitStatusOf(exitErr *ssh.ExitError) int {
	return synthesizeExitStatus(exitErr.ExitStatus(), exitErr.Signal())
}

// synthesizeExitStatus applies the shell convention of reporting a
// signal-terminated command as 128+signal-number, falling back to 128 for
// an unrecognized signal name. Split out from exitStatusOf so the mapping
// can be tested without constructing an *ssh.ExitError, whose fields are
// unexported outside golang.org/x/crypto/ssh.
func synthesizeExitStatus(status int, signal string) int {
	if signal == "" {
		return status
	}
	if n, ok := signalNumbers[signal]; ok {
		return 128 + n
	}
	return 128
}

func failOutcome(host string, ts time.Time, desc *ErrorDescriptor) BatchOutcome {
	return BatchOutcome{Host: host, Timestamp: ts, Err: desc}
}

func cancelledDescriptor() *ErrorDescriptor {
	return &ErrorDescriptor{Kind: KindCancelled, Message: "local cancellation signalled", Retryable: false}
}
