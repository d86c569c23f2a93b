package sshbatch

import (
	"math/rand"
	"time"
)

// retryPolicy implements the intra-session connect-level backoff of spec
// §4.4 — distinct from the batch-level host retry in the orchestrator.
// The delay before the i-th retry (i starting at 1) is base*2^(i-1)
// seconds, plus uniform jitter of ±20%.
type retryPolicy struct {
	attempts int
	base     float64 // seconds
}

func newRetryPolicy(attempts int, baseSeconds float64) retryPolicy {
	return retryPolicy{attempts: attempts, base: baseSeconds}
}

func (p retryPolicy) delay(attempt int) time.Duration {
	secs := p.base * float64(int64(1)<<uint(attempt-1))
	jitter := 1 + (rand.Float64()*0.4 - 0.2) // uniform in [0.8, 1.2]
	return time.Duration(secs * jitter * float64(time.Second))
}

// wait sleeps for the i-th retry's delay, or returns early with
// KindCancelled if the token trips first.
func (p retryPolicy) wait(attempt int, cancel *CancelToken) *ErrorDescriptor {
	d := p.delay(attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-cancel.Done():
		return &ErrorDescriptor{Kind: KindCancelled, Message: "cancelled during reconnect backoff", Retryable: false}
	case <-timer.C:
		return nil
	}
}
