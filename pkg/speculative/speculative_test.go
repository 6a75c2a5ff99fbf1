package speculative

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casys-ai/pml/pkg/models"
)

type fakeRunner struct {
	calls  int32
	delay  time.Duration
	output any
	err    error
}

func (r *fakeRunner) RunCapability(ctx context.Context, cap models.Capability, args map[string]any) (any, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.output, r.err
}

func waitForCache(t *testing.T, e *Executor, fqdn string, args map[string]any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok := e.TryGet(fqdn, args); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("speculative result never appeared in cache")
}

func TestSpeculateSkipsNonPureCapabilities(t *testing.T) {
	runner := &fakeRunner{output: "x"}
	e, err := New(runner, 10, time.Minute, 2)
	require.NoError(t, err)

	cap := models.Capability{FQDN: "casys.pml.tools.a.aaaaaaaa", Pure: false}
	e.Speculate(context.Background(), cap, nil)
	time.Sleep(20 * time.Millisecond)

	_, _, ok := e.TryGet(cap.FQDN, nil)
	assert.False(t, ok)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runner.calls))
}

func TestSpeculateThenTryGetServesCachedResult(t *testing.T) {
	runner := &fakeRunner{output: "hello"}
	e, err := New(runner, 10, time.Minute, 2)
	require.NoError(t, err)

	cap := models.Capability{FQDN: "casys.pml.tools.a.aaaaaaaa", Pure: true}
	args := map[string]any{"city": "Paris"}
	e.Speculate(context.Background(), cap, args)
	waitForCache(t, e, cap.FQDN, args)

	value, execErr, ok := e.TryGet(cap.FQDN, args)
	require.True(t, ok)
	require.NoError(t, execErr)
	assert.Equal(t, "hello", value)
}

func TestTryGetMissesOnDifferentArgs(t *testing.T) {
	runner := &fakeRunner{output: "hello"}
	e, err := New(runner, 10, time.Minute, 2)
	require.NoError(t, err)

	cap := models.Capability{FQDN: "casys.pml.tools.a.aaaaaaaa", Pure: true}
	e.Speculate(context.Background(), cap, map[string]any{"city": "Paris"})
	waitForCache(t, e, cap.FQDN, map[string]any{"city": "Paris"})

	_, _, ok := e.TryGet(cap.FQDN, map[string]any{"city": "Berlin"})
	assert.False(t, ok)
}

func TestTryGetExpiresEntriesPastTTL(t *testing.T) {
	runner := &fakeRunner{output: "hello"}
	e, err := New(runner, 10, 10*time.Millisecond, 2)
	require.NoError(t, err)

	cap := models.Capability{FQDN: "casys.pml.tools.a.aaaaaaaa", Pure: true}
	e.Speculate(context.Background(), cap, nil)
	waitForCache(t, e, cap.FQDN, nil)

	time.Sleep(30 * time.Millisecond)
	_, _, ok := e.TryGet(cap.FQDN, nil)
	assert.False(t, ok)
}

func TestSpeculateDeduplicatesInFlightBranches(t *testing.T) {
	runner := &fakeRunner{output: "hello", delay: 50 * time.Millisecond}
	e, err := New(runner, 10, time.Minute, 4)
	require.NoError(t, err)

	cap := models.Capability{FQDN: "casys.pml.tools.a.aaaaaaaa", Pure: true}
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Speculate(context.Background(), cap, nil)
		}()
	}
	wg.Wait()
	waitForCache(t, e, cap.FQDN, nil)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestSpeculateDiscardsBeyondConcurrencyCeiling(t *testing.T) {
	runner := &fakeRunner{output: "hello", delay: 100 * time.Millisecond}
	e, err := New(runner, 10, time.Minute, 1)
	require.NoError(t, err)

	capA := models.Capability{FQDN: "casys.pml.tools.a.aaaaaaaa", Pure: true}
	capB := models.Capability{FQDN: "casys.pml.tools.b.bbbbbbbb", Pure: true}

	e.Speculate(context.Background(), capA, nil) // takes the only slot
	time.Sleep(10 * time.Millisecond)
	e.Speculate(context.Background(), capB, nil) // ceiling full, discarded

	time.Sleep(150 * time.Millisecond)
	_, _, okB := e.TryGet(capB.FQDN, nil)
	assert.False(t, okB)
}
