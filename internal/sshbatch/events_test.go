package sshbatch

import (
	"sync"
	"testing"
	"time"
)

func TestChannelEventSinkPublishAndDrain(t *testing.T) {
	sink := NewChannelEventSink(4)
	sink.PublishResult(BatchOutcome{Host: "10.0.0.1"})
	sink.PublishProgress(ProgressRecord{Completed: 1, Total: 2, Host: "10.0.0.1"})
	sink.Close()

	var got []Event
	for e := range sink.Events() {
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Kind != EventResult || got[0].Result.Host != "10.0.0.1" {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Kind != EventProgress || got[1].Progress.Completed != 1 {
		t.Errorf("unexpected second event: %+v", got[1])
	}
}

func TestChannelEventSinkPublishAfterCloseDoesNotPanic(t *testing.T) {
	sink := NewChannelEventSink(1)
	sink.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.PublishResult(BatchOutcome{Host: "x"})
		sink.PublishProgress(ProgressRecord{})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish after close should return promptly, not block")
	}
}

func TestChannelEventSinkConcurrentCloseDoesNotPanic(t *testing.T) {
	sink := NewChannelEventSink(16)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = recover() }()
			sink.PublishResult(BatchOutcome{Host: "x"})
		}()
	}
	sink.Close()
	wg.Wait()
}

func TestNoopEventSinkDiscardsEverything(t *testing.T) {
	var s NoopEventSink
	s.PublishResult(BatchOutcome{})
	s.PublishProgress(ProgressRecord{})
}
