// sshbatch-run executes one shell command against one host or a fleet of
// hosts over SSH.
//
// Usage:
//
//	sshbatch-run --host 10.0.0.5 --user root --password secret --command "uptime"
//	sshbatch-run --hosts-file fleet.txt --user root --key ~/.ssh/id_ed25519 \
//		--command "systemctl status nginx" --max-concurrent 20 --retry
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/osiriscare/appliance/internal/auditsubmit"
	"github.com/osiriscare/appliance/internal/runstore"
	"github.com/osiriscare/appliance/internal/sdnotify"
	"github.com/osiriscare/appliance/internal/sshbatch"
)

var (
	flagConfig = flag.String("config", "", "Path to a YAML config file (optional; flags override it)")

	flagHost       = flag.String("host", "", "Single target host IP (mutually exclusive with --hosts-file)")
	flagHostsFile  = flag.String("hosts-file", "", "Path to a file of target host IPs, one per line")
	flagPort       = flag.Int("port", 22, "SSH port")
	flagUser       = flag.String("user", "root", "SSH username")
	flagPassword   = flag.String("password", "", "SSH password (mutually exclusive with --key/--ppk-key)")
	flagKey        = flag.String("key", "", "Path to an OpenSSH private key")
	flagPPKKey     = flag.String("ppk-key", "", "Path to a PuTTY .ppk private key")
	flagPassphrase = flag.String("passphrase", "", "Passphrase for --key/--ppk-key, if encrypted")

	flagCommand          = flag.String("command", "", "Command to execute (required)")
	flagMaxConcurrent    = flag.Int("max-concurrent", 20, "Maximum concurrent sessions for a batch run")
	flagSkipValidation   = flag.Bool("skip-validation", false, "Bypass the command validator")
	flagTimeout          = flag.Duration("connect-timeout", 30*time.Second, "Per-connection dial timeout")
	flagRetry            = flag.Bool("retry", false, "Retry hosts with a retryable failure")
	flagRetryInterval    = flag.Duration("retry-interval", 30*time.Second, "Delay between retry rounds")
	flagRetryMaxAttempts = flag.Int("retry-max-attempts", 3, "Max retry rounds per host (0 = unbounded)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *flagCommand == "" {
		log.Fatal("--command is required")
	}
	if *flagHost == "" && *flagHostsFile == "" {
		log.Fatal("one of --host or --hosts-file is required")
	}

	cfg := sshbatch.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := sshbatch.LoadConfig(*flagConfig)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	auth, err := buildAuth()
	if err != nil {
		log.Fatalf("build auth: %v", err)
	}

	audit := buildAuditSink(cfg)
	history := buildHistoryRecorder(cfg)

	engine := sshbatch.NewEngine(cfg, sshbatch.DenyListValidator{}, audit, history)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, cancelling in-flight execution", sig)
		engine.CancelCommandExecution()
		cancel()
	}()

	if err := sdnotify.Ready(); err != nil {
		log.Printf("sdnotify: %v", err)
	}

	template := cfg.TemplateFromConfig()
	template.Username = *flagUser
	template.Auth = auth
	template.ConnectTimeout = *flagTimeout
	template.Target.Port = *flagPort

	if *flagHost != "" {
		runSingle(ctx, engine, template)
		return
	}
	runBatch(engine, template)
}

func runSingle(ctx context.Context, engine *sshbatch.Engine, template sshbatch.SessionConfig) {
	host := sshbatch.HostEntry{IP: *flagHost, Port: *flagPort}
	outcome := engine.ExecuteSSHCommand(ctx, host, template, *flagCommand, *flagSkipValidation)
	printOutcome(outcome)
	if outcome.Err != nil {
		os.Exit(1)
	}
	if outcome.Result != nil && outcome.Result.ExitStatus != 0 {
		os.Exit(outcome.Result.ExitStatus)
	}
}

func runBatch(engine *sshbatch.Engine, template sshbatch.SessionConfig) {
	hosts, err := loadHostsFile(*flagHostsFile)
	if err != nil {
		log.Fatalf("load hosts file: %v", err)
	}

	req := sshbatch.BatchRequest{
		Hosts:            hosts,
		ConfigTemplate:   template,
		Command:          *flagCommand,
		MaxConcurrent:    *flagMaxConcurrent,
		RetryFailedHosts: *flagRetry,
		RetryInterval:    *flagRetryInterval,
		RetryMaxAttempts: *flagRetryMaxAttempts,
		SkipValidation:   *flagSkipValidation,
	}

	sink := sshbatch.NewChannelEventSink(len(hosts)*2 + 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sink.Events() {
			switch ev.Kind {
			case sshbatch.EventResult:
				printOutcome(ev.Result)
			case sshbatch.EventProgress:
				log.Printf("[progress] %d/%d (%s)", ev.Progress.Completed, ev.Progress.Total, ev.Progress.Host)
			}
		}
	}()

	outcomes, err := engine.ExecuteBatchCommands(req, sink)
	sink.Close()
	<-done
	if err != nil {
		log.Fatalf("batch run failed: %v", err)
	}

	failures := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failures++
		}
	}
	log.Printf("batch complete: %d/%d succeeded", len(outcomes)-failures, len(outcomes))
	if failures > 0 {
		os.Exit(1)
	}
}

func printOutcome(o sshbatch.BatchOutcome) {
	if o.Err != nil {
		log.Printf("%s: FAILED kind=%s retryable=%v: %s", o.Host, o.Err.Kind, o.Err.Retryable, o.Err.Message)
		return
	}
	fmt.Printf("--- %s (exit %d) ---\n%s", o.Host, o.Result.ExitStatus, o.Result.Stdout)
	if len(o.Result.Stderr) > 0 {
		fmt.Printf("[stderr]\n%s", o.Result.Stderr)
	}
}

func buildAuth() (sshbatch.AuthMaterial, error) {
	switch {
	case *flagKey != "":
		auth := sshbatch.AuthMaterial{Kind: sshbatch.AuthOpenSSHKey, KeyPath: *flagKey, Passphrase: sshbatch.Secret(*flagPassphrase)}
		return auth, auth.Validate()
	case *flagPPKKey != "":
		auth := sshbatch.AuthMaterial{Kind: sshbatch.AuthPPKKey, KeyPath: *flagPPKKey, Passphrase: sshbatch.Secret(*flagPassphrase)}
		return auth, auth.Validate()
	default:
		auth := sshbatch.AuthMaterial{Kind: sshbatch.AuthPassword, Password: sshbatch.Secret(*flagPassword)}
		return auth, auth.Validate()
	}
}

// loadHostsFile reads one host per line, "#"-prefixed lines and blank
// lines ignored. A line is either a bare IP (falls back to --port) or
// "ip:port" to override the port for that one host.
func loadHostsFile(path string) ([]sshbatch.HostEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hosts []sshbatch.HostEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, parseHostLine(line))
	}
	return hosts, scanner.Err()
}

func parseHostLine(line string) sshbatch.HostEntry {
	if host, portStr, err := net.SplitHostPort(line); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			return sshbatch.HostEntry{IP: host, Port: port}
		}
	}
	return sshbatch.HostEntry{IP: line}
}

func buildAuditSink(cfg sshbatch.Config) sshbatch.AuditSink {
	if cfg.AuditEndpoint == "" {
		return sshbatch.LogAuditSink{}
	}
	sink, err := auditsubmit.NewSink(*flagUser+"@sshbatch-run", cfg.AuditEndpoint, os.Getenv("SSHBATCH_AUDIT_API_KEY"), "/var/lib/sshbatch/audit-signing.key")
	if err != nil {
		log.Printf("audit signing key unavailable, falling back to log audit sink: %v", err)
		return sshbatch.LogAuditSink{}
	}
	return sink
}

func buildHistoryRecorder(cfg sshbatch.Config) sshbatch.HistoryRecorder {
	if cfg.HistoryDSN == "" {
		return sshbatch.NoopHistoryRecorder{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := runstore.Open(ctx, cfg.HistoryDSN)
	if err != nil {
		log.Printf("history store unavailable, falling back to no history: %v", err)
		return sshbatch.NoopHistoryRecorder{}
	}
	return runstore.NewRecorder(store)
}
