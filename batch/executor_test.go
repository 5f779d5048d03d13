package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valet-ai/valet/core"
)

// callerFunc adapts a function to the Caller interface.
type callerFunc func(ctx context.Context, userID string, req core.CallRequest) core.CallResult

func (f callerFunc) Execute(ctx context.Context, userID string, req core.CallRequest) core.CallResult {
	return f(ctx, userID, req)
}

// sleepyCaller succeeds after the per-capability delay, honoring ctx.
func sleepyCaller(delays map[string]time.Duration) callerFunc {
	return func(ctx context.Context, _ string, req core.CallRequest) core.CallResult {
		select {
		case <-time.After(delays[req.CapabilityID]):
			return core.OK(req.CapabilityID, req.CapabilityID, delays[req.CapabilityID])
		case <-ctx.Done():
			return core.Fail(ctx.Err(), req.CapabilityID, 0)
		}
	}
}

func requests(ids ...string) []core.CallRequest {
	reqs := make([]core.CallRequest, len(ids))
	for i, id := range ids {
		reqs[i] = core.CallRequest{CapabilityID: id}
	}
	return reqs
}

func TestExecuteBatchPreservesOrder(t *testing.T) {
	// Reverse-sorted delays: the first request finishes last.
	delays := map[string]time.Duration{
		"a": 60 * time.Millisecond,
		"b": 30 * time.Millisecond,
		"c": 5 * time.Millisecond,
	}
	e := New(sleepyCaller(delays))

	results := e.ExecuteBatch(context.Background(), "user-1", requests("a", "b", "c"))

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].CapabilityUsed)
	assert.Equal(t, "b", results[1].CapabilityUsed)
	assert.Equal(t, "c", results[2].CapabilityUsed)
	for _, r := range results {
		assert.True(t, r.Success)
	}
}

func TestExecuteBatchEmpty(t *testing.T) {
	e := New(callerFunc(func(context.Context, string, core.CallRequest) core.CallResult {
		t.Fatal("caller must not be invoked for an empty batch")
		return core.CallResult{}
	}))

	got := e.ExecuteBatch(context.Background(), "user-1", nil)
	require.NotNil(t, got, "empty batch must serialize as [], not null")
	assert.Empty(t, got)
}

func TestExecuteBatchIndividualTimeout(t *testing.T) {
	delays := map[string]time.Duration{
		"fast": 5 * time.Millisecond,
		"slow": 5 * time.Second,
	}
	e := New(sleepyCaller(delays), WithIndividualTimeout(40*time.Millisecond))

	start := time.Now()
	results := e.ExecuteBatch(context.Background(), "user-1", requests("fast", "slow"))

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "individual timeout after 40ms")
	assert.Equal(t, "slow", results[1].CapabilityUsed)
	assert.Less(t, time.Since(start), time.Second, "the slow call must not hold the batch")
}

func TestExecuteBatchIndividualTimeoutCancelsContext(t *testing.T) {
	cancelled := make(chan struct{})
	e := New(callerFunc(func(ctx context.Context, _ string, req core.CallRequest) core.CallResult {
		<-ctx.Done()
		close(cancelled)
		return core.Fail(ctx.Err(), req.CapabilityID, 0)
	}), WithIndividualTimeout(20*time.Millisecond))

	e.ExecuteBatch(context.Background(), "user-1", requests("stuck"))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("call context was not cancelled after the individual timeout")
	}
}

func TestExecuteBatchSlotSettlesEvenIfCallerIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	e := New(callerFunc(func(_ context.Context, _ string, req core.CallRequest) core.CallResult {
		<-release // ignores ctx entirely
		return core.OK("late", req.CapabilityID, 0)
	}), WithIndividualTimeout(20*time.Millisecond))

	results := e.ExecuteBatch(context.Background(), "user-1", requests("stubborn"))
	close(release)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "individual timeout")
}

func TestExecuteBatchGlobalTimeoutOverwritesAll(t *testing.T) {
	delays := map[string]time.Duration{
		"fast": time.Millisecond,
		"slow": 5 * time.Second,
	}
	e := New(sleepyCaller(delays),
		WithIndividualTimeout(2*time.Second),
		WithGlobalTimeout(50*time.Millisecond),
	)

	results := e.ExecuteBatch(context.Background(), "user-1", requests("fast", "slow"))

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "global timeout after 50ms")
	}
}

func TestExecuteBatchGlobalTimeoutKeepsSettled(t *testing.T) {
	delays := map[string]time.Duration{
		"fast": time.Millisecond,
		"slow": 5 * time.Second,
	}
	e := New(sleepyCaller(delays),
		WithIndividualTimeout(2*time.Second),
		WithGlobalTimeout(50*time.Millisecond),
		WithKeepSettledOnGlobalTimeout(),
	)

	results := e.ExecuteBatch(context.Background(), "user-1", requests("fast", "slow"))

	require.Len(t, results, 2)
	assert.True(t, results[0].Success, "settled result survives the global timeout")
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "global timeout")
}

func TestExecuteBatchParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var once sync.Once
	e := New(callerFunc(func(ctx context.Context, _ string, req core.CallRequest) core.CallResult {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return core.Fail(ctx.Err(), req.CapabilityID, 0)
	}))

	go func() {
		<-started
		cancel()
	}()

	results := e.ExecuteBatch(ctx, "user-1", requests("a", "b"))

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
	}
}

func TestExecuteBatchMaxParallel(t *testing.T) {
	var inFlight, peak atomic.Int64
	e := New(callerFunc(func(_ context.Context, _ string, req core.CallRequest) core.CallResult {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		inFlight.Add(-1)
		return core.OK(nil, req.CapabilityID, 0)
	}), WithMaxParallel(2))

	results := e.ExecuteBatch(context.Background(), "user-1", requests("a", "b", "c", "d", "e", "f"))

	require.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestExecuteBatchOneResultPerRequest(t *testing.T) {
	n := 40
	reqs := make([]core.CallRequest, n)
	for i := range reqs {
		reqs[i] = core.CallRequest{CapabilityID: fmt.Sprintf("cap-%d", i)}
	}
	e := New(callerFunc(func(_ context.Context, _ string, req core.CallRequest) core.CallResult {
		return core.OK(req.CapabilityID, req.CapabilityID, 0)
	}), WithMaxParallel(5))

	results := e.ExecuteBatch(context.Background(), "user-1", reqs)

	require.Len(t, results, n)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("cap-%d", i), r.CapabilityUsed)
	}
}
