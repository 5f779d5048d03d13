// Package batch executes groups of call requests in parallel with two layers
// of deadlines: a per-call timeout that settles an individual slot with a
// synthetic timeout result, and a global batch timeout that stops the whole
// batch. Results always come back in request order, one per request.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/valet-ai/valet/capability"
	"github.com/valet-ai/valet/core"
	"github.com/valet-ai/valet/logging"
)

// Default deadlines. Individual covers one slow capability; global bounds the
// whole batch regardless of how many calls it contains.
const (
	DefaultIndividualTimeout = 7 * time.Second
	DefaultGlobalTimeout     = 60 * time.Second
)

// Caller executes one call request to completion. The dispatcher satisfies
// this; tests substitute stubs.
type Caller interface {
	Execute(ctx context.Context, userID string, req core.CallRequest) core.CallResult
}

// Executor runs batches of call requests in parallel. Safe for concurrent use.
type Executor struct {
	caller            Caller
	individualTimeout time.Duration
	globalTimeout     time.Duration
	maxParallel       int // 0 => len(requests)
	keepSettled       bool
	logger            logging.Logger
}

// Option customizes Executor construction.
type Option func(*Executor)

// WithIndividualTimeout overrides the per-call deadline.
func WithIndividualTimeout(d time.Duration) Option {
	return func(e *Executor) { e.individualTimeout = d }
}

// WithGlobalTimeout overrides the whole-batch deadline.
func WithGlobalTimeout(d time.Duration) Option {
	return func(e *Executor) { e.globalTimeout = d }
}

// WithMaxParallel bounds in-flight calls. 0 or negative means one goroutine
// per request.
func WithMaxParallel(n int) Option {
	return func(e *Executor) { e.maxParallel = n }
}

// WithKeepSettledOnGlobalTimeout preserves results that settled before the
// global deadline fired instead of overwriting every slot with the global
// timeout failure. The default (off) reports the whole batch as timed out,
// which keeps partial side effects visible to the caller as failures.
func WithKeepSettledOnGlobalTimeout() Option {
	return func(e *Executor) { e.keepSettled = true }
}

// WithLogger sets the executor logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor over the given caller with default deadlines.
func New(caller Caller, opts ...Option) *Executor {
	e := &Executor{
		caller:            caller,
		individualTimeout: DefaultIndividualTimeout,
		globalTimeout:     DefaultGlobalTimeout,
		logger:            logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExecuteBatch runs all requests and returns exactly one result per request,
// in request order. A call that outlives the individual deadline settles as a
// synthetic timeout failure while its context is cancelled underneath it.
// When the global deadline (or the caller's ctx) expires first, unfinished
// slots settle as global timeout failures; by default settled slots are
// overwritten too.
func (e *Executor) ExecuteBatch(ctx context.Context, userID string, reqs []core.CallRequest) []core.CallResult {
	n := len(reqs)
	if n == 0 {
		// Non-nil so the result set serializes as [] rather than null.
		return []core.CallResult{}
	}

	batchCtx, cancel := context.WithTimeout(ctx, e.globalTimeout)
	defer cancel()

	maxPar := e.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	results := make([]core.CallResult, n)
	settled := make([]bool, n)
	var mu sync.Mutex // protects results and settled
	var wg sync.WaitGroup

	sem := make(chan struct{}, maxPar)
	batchStart := time.Now()

	for i := range reqs {
		if batchCtx.Err() != nil { // pre-check cancellation
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, req core.CallRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			if batchCtx.Err() != nil {
				return // the global path fills this slot
			}

			callCtx, callCancel := context.WithTimeout(batchCtx, e.individualTimeout)
			defer callCancel()

			// The caller runs in its own goroutine so a handler that ignores
			// its context cannot hold the slot past the deadline. The result
			// channel is buffered; a late result is dropped, not leaked into
			// a blocked goroutine.
			done := make(chan core.CallResult, 1)
			go func() {
				done <- e.caller.Execute(callCtx, userID, req)
			}()

			select {
			case res := <-done:
				mu.Lock()
				results[idx] = res
				settled[idx] = true
				mu.Unlock()
			case <-callCtx.Done():
				if batchCtx.Err() != nil {
					return // global deadline; handled below
				}
				mu.Lock()
				results[idx] = timeoutResult(req.CapabilityID, "individual", e.individualTimeout)
				settled[idx] = true
				mu.Unlock()
				e.logger.Warn("batch.call.timeout",
					"capability", req.CapabilityID,
					"action", req.Action,
					"timeout_ms", e.individualTimeout.Milliseconds(),
				)
			}
		}(i, reqs[i])
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		mu.Lock()
		defer mu.Unlock()
		// Slots skipped by the cancellation pre-check are still unsettled.
		if batchCtx.Err() != nil {
			return e.finishTimedOut(reqs, results, settled, batchStart)
		}
		e.logger.Debug("batch.complete",
			"count", n,
			"parallelism", maxPar,
			"duration_ms", time.Since(batchStart).Milliseconds(),
		)
		out := make([]core.CallResult, n)
		copy(out, results)
		return out
	case <-batchCtx.Done():
		mu.Lock()
		defer mu.Unlock()
		e.logger.Warn("batch.global.timeout",
			"count", n,
			"timeout_ms", e.globalTimeout.Milliseconds(),
			"keep_settled", e.keepSettled,
		)
		return e.finishTimedOut(reqs, results, settled, batchStart)
	}
}

// finishTimedOut builds the final result slice after the global deadline
// fired. Must be called with the results mutex held; it returns a copy so
// straggler workers cannot mutate the caller's view.
func (e *Executor) finishTimedOut(reqs []core.CallRequest, results []core.CallResult, settled []bool, batchStart time.Time) []core.CallResult {
	out := make([]core.CallResult, len(reqs))
	for i := range reqs {
		if e.keepSettled && settled[i] {
			out[i] = results[i]
			continue
		}
		res := timeoutResult(reqs[i].CapabilityID, "global", e.globalTimeout)
		res.ExecutionTimeMs = time.Since(batchStart).Milliseconds()
		out[i] = res
	}
	return out
}

// timeoutResult builds the synthetic failure for an elapsed deadline.
func timeoutResult(capabilityID, scope string, limit time.Duration) core.CallResult {
	err := capability.NewTimeout(capabilityID, scope, limit)
	return core.CallResult{
		Success:         false,
		Error:           err.Message,
		ExecutionTimeMs: limit.Milliseconds(),
		CapabilityUsed:  capabilityID,
	}
}
