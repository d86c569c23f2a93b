package sshbatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeExecutor satisfies hostExecutor without touching the network, so the
// scheduler's dispatch, concurrency, cancellation, and panic-recovery
// behavior can be tested directly.
type fakeExecutor struct {
	mu        sync.Mutex
	callCount int

	// result, keyed by host IP; falls back to resultFn if not present.
	results  map[string]BatchOutcome
	resultFn func(host HostEntry) BatchOutcome
	panicOn  map[string]bool
	delay    time.Duration
}

func (f *fakeExecutor) execute(host HostEntry, _ SessionConfig, _ string, _ bool, _ *CancelToken) BatchOutcome {
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicOn != nil && f.panicOn[host.IP] {
		panic("simulated worker panic for " + host.IP)
	}
	if f.results != nil {
		if o, ok := f.results[host.IP]; ok {
			return o
		}
	}
	if f.resultFn != nil {
		return f.resultFn(host)
	}
	return BatchOutcome{Host: host.IP, Timestamp: time.Now().UTC(), Result: &CommandResult{Host: host.IP, ExitStatus: 0}}
}

func hostsN(n int) []HostEntry {
	hosts := make([]HostEntry, n)
	for i := range hosts {
		hosts[i] = HostEntry{IP: "10.0.0." + string(rune('A'+i))}
	}
	return hosts
}

func TestSchedulerHappyBatch(t *testing.T) {
	hosts := []HostEntry{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}, {IP: "10.0.0.3"}}
	fe := &fakeExecutor{}
	s := NewScheduler(AllowAllValidator{})
	s.execOverride = fe

	req := BatchRequest{Hosts: hosts, Command: "uptime", MaxConcurrent: 2}
	outcomes, err := s.Run(req, NoopEventSink{}, NewCancelToken())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Err != nil {
			t.Errorf("outcome %d: unexpected error %+v", i, o.Err)
		}
		if o.Host != hosts[i].IP {
			t.Errorf("outcome %d: host %q out of order, expected %q", i, o.Host, hosts[i].IP)
		}
	}
	if fe.callCount != 3 {
		t.Errorf("expected 3 executor calls, got %d", fe.callCount)
	}
}

func TestSchedulerMixedFailureNoRetry(t *testing.T) {
	hosts := []HostEntry{{IP: "good"}, {IP: "bad"}}
	fe := &fakeExecutor{
		results: map[string]BatchOutcome{
			"bad": {Host: "bad", Err: &ErrorDescriptor{Kind: KindAuthDenied, Message: "denied", Retryable: false}},
		},
	}
	s := NewScheduler(AllowAllValidator{})
	s.execOverride = fe

	req := BatchRequest{Hosts: hosts, Command: "uptime", MaxConcurrent: 2}
	outcomes, err := s.Run(req, NoopEventSink{}, NewCancelToken())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Err != nil {
		t.Errorf("expected host 'good' to succeed, got %+v", outcomes[0].Err)
	}
	if outcomes[1].Err == nil || outcomes[1].Err.Kind != KindAuthDenied {
		t.Errorf("expected host 'bad' to fail with AuthDenied, got %+v", outcomes[1])
	}
}

func TestSchedulerRejectsOutOfRangeConcurrency(t *testing.T) {
	s := NewScheduler(AllowAllValidator{})
	s.execOverride = &fakeExecutor{}

	for _, n := range []int{0, -1, 501} {
		req := BatchRequest{Hosts: hostsN(1), Command: "uptime", MaxConcurrent: n}
		if _, err := s.Run(req, NoopEventSink{}, NewCancelToken()); err == nil {
			t.Errorf("expected an error for MaxConcurrent=%d", n)
		}
	}
}

func TestSchedulerCancellationMidFlight(t *testing.T) {
	hosts := hostsN(20)
	fe := &fakeExecutor{delay: 20 * time.Millisecond}
	s := NewScheduler(AllowAllValidator{})
	s.execOverride = fe

	cancel := NewCancelToken()
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel.Trip()
	}()

	req := BatchRequest{Hosts: hosts, Command: "uptime", MaxConcurrent: 4}
	outcomes, err := s.Run(req, NoopEventSink{}, cancel)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cancelled int
	for _, o := range outcomes {
		if o.Err != nil && o.Err.Kind == KindCancelled {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Error("expected at least one host to observe cancellation")
	}
}

func TestSchedulerRecoversWorkerPanic(t *testing.T) {
	hosts := []HostEntry{{IP: "ok"}, {IP: "boom"}}
	fe := &fakeExecutor{panicOn: map[string]bool{"boom": true}}
	s := NewScheduler(AllowAllValidator{})
	s.execOverride = fe

	req := BatchRequest{Hosts: hosts, Command: "uptime", MaxConcurrent: 2}
	outcomes, err := s.Run(req, NoopEventSink{}, NewCancelToken())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[1].Err == nil || outcomes[1].Err.Kind != KindUnknown || !outcomes[1].Err.Retryable {
		t.Fatalf("expected a retryable Unknown outcome for the panicking host, got %+v", outcomes[1])
	}
	if outcomes[0].Err != nil {
		t.Errorf("the other host must be unaffected by its sibling's panic, got %+v", outcomes[0].Err)
	}
}

func TestSchedulerProgressIsMonotonic(t *testing.T) {
	hosts := hostsN(10)
	fe := &fakeExecutor{}
	s := NewScheduler(AllowAllValidator{})
	s.execOverride = fe

	var lastCompleted int32
	sink := &recordingSink{onProgress: func(p ProgressRecord) {
		prev := atomic.SwapInt32(&lastCompleted, int32(p.Completed))
		if int32(p.Completed) < prev {
			t.Errorf("progress regressed: %d after %d", p.Completed, prev)
		}
	}}

	req := BatchRequest{Hosts: hosts, Command: "uptime", MaxConcurrent: 3}
	if _, err := s.Run(req, sink, NewCancelToken()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if int(lastCompleted) != len(hosts) {
		t.Errorf("expected final completed=%d, got %d", len(hosts), lastCompleted)
	}
}

type recordingSink struct {
	onProgress func(ProgressRecord)
	onResult   func(BatchOutcome)
}

func (r *recordingSink) PublishResult(o BatchOutcome) {
	if r.onResult != nil {
		r.onResult(o)
	}
}

func (r *recordingSink) PublishProgress(p ProgressRecord) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}
