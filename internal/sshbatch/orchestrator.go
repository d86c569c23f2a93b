package sshbatch

import (
	"log"
	"time"
)

// retryOrchestrator composes the Scheduler across rounds, re-submitting
// only the subset of hosts whose latest failure is retryable, until
// either nothing is retryable, the attempt cap is reached, or
// cancellation fires.
//
// Each round gets its own fresh outcome slice from the Scheduler —
// the orchestrator, not the scheduler, owns accumulation across rounds,
// so there is no mutable result array shared between passes that a
// half-finished round could corrupt.
type retryOrchestrator struct {
	scheduler *Scheduler
}

func newRetryOrchestrator(scheduler *Scheduler) *retryOrchestrator {
	return &retryOrchestrator{scheduler: scheduler}
}

// run executes req to completion, applying batch-level retry if
// req.RetryFailedHosts is set. Outcomes are returned keyed by host-index
// in the original request, same contract as Scheduler.Run.
func (o *retryOrchestrator) run(req BatchRequest, sink EventSink, cancel *CancelToken) ([]BatchOutcome, error) {
	if req.RetryFailedHosts && req.RetryMaxAttempts == 0 {
		log.Printf("[sshbatch] WARNING: retry_failed_hosts=true with retry_max_attempts=0 (unbounded) — an Unknown-classified failure will retry forever unless cancelled")
	}

	outcomes, err := o.scheduler.Run(req, sink, cancel)
	if err != nil {
		return nil, err
	}
	if !req.RetryFailedHosts {
		return outcomes, nil
	}

	retryCount := make([]int, len(req.Hosts))

	for {
		if cancel.IsTripped() {
			return outcomes, nil
		}

		pending := o.pendingIndices(outcomes, retryCount, req.RetryMaxAttempts)
		if len(pending) == 0 {
			return outcomes, nil
		}

		if !o.sleepInterval(req.RetryInterval, cancel) {
			return outcomes, nil
		}

		subHosts := make([]HostEntry, len(pending))
		for j, idx := range pending {
			subHosts[j] = req.Hosts[idx]
		}

		subReq := req
		subReq.Hosts = subHosts
		subReq.RetryFailedHosts = false // the sub-round is executed once; this orchestrator drives the loop

		subOutcomes, err := o.scheduler.Run(subReq, sink, cancel)
		if err != nil {
			return outcomes, err
		}

		for j, idx := range pending {
			outcomes[idx] = subOutcomes[j]
			retryCount[idx]++
		}
	}
}

func (o *retryOrchestrator) pendingIndices(outcomes []BatchOutcome, retryCount []int, maxAttempts int) []int {
	var pending []int
	for i, oc := range outcomes {
		if oc.Err == nil || !oc.Err.Retryable {
			continue
		}
		if maxAttempts != 0 && retryCount[i] >= maxAttempts {
			continue
		}
		pending = append(pending, i)
	}
	return pending
}

// sleepInterval waits for the retry interval, polling cancellation.
// Returns false if cancellation fired before (or during) the sleep.
func (o *retryOrchestrator) sleepInterval(d time.Duration, cancel *CancelToken) bool {
	if d <= 0 {
		return !cancel.IsTripped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-cancel.Done():
		return false
	case <-timer.C:
		return true
	}
}
