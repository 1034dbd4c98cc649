package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swift/job-engine/internal/worker"
	"swift/job-engine/pkg/types"
)

// countingWorker sleeps for delay and counts invocations.
type countingWorker struct {
	delay time.Duration
	calls atomic.Int32
	fail  bool
}

func (w *countingWorker) Process(ctx context.Context, req *types.WorkRequest, sink worker.ProgressSink) (*types.WorkResult, error) {
	w.calls.Add(1)
	sink.Progress(types.ProgressInfo{Kind: types.ProgressKindPercent, Percent: 50})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(w.delay):
	}
	if w.fail {
		return nil, errors.New("boom")
	}
	return &types.WorkResult{Data: map[string]any{"answer": 42}}, nil
}

func (w *countingWorker) Check(context.Context) error { return nil }

func wait(t *testing.T, l *types.RecordingListener) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
	}
}

func cacheableRequest() *types.WorkRequest {
	return &types.WorkRequest{Service: "svc", Type: "t", Payload: map[string]any{"n": 1}, Cacheable: true}
}

func TestIdenticalRequestsShareOneExecution(t *testing.T) {
	w := &countingWorker{delay: 500 * time.Millisecond}
	c := New(worker.NewLocalConnection("svc", w, 1))

	listeners := make([]*types.RecordingListener, 10)
	start := time.Now()
	for i := range listeners {
		listeners[i] = types.NewRecordingListener()
		c.SendWork(context.Background(), cacheableRequest(), listeners[i])
	}
	for _, l := range listeners {
		wait(t, l)
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 1500*time.Millisecond)
	assert.Equal(t, int32(1), w.calls.Load())

	notifications := 0
	for _, l := range listeners {
		for _, k := range l.Kinds() {
			if k == types.EventStarted || k == types.EventFinished {
				notifications++
			}
		}
		require.NotNil(t, l.Result())
		assert.Equal(t, 42, l.Result().Data["answer"])
		assert.NoError(t, l.Err())
	}
	assert.Equal(t, 20, notifications)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(9), stats.Joins)
	assert.Equal(t, 0, stats.InFlight)
}

func TestLateListenerReceivesHistoryInOrder(t *testing.T) {
	w := &countingWorker{delay: 200 * time.Millisecond}
	c := New(worker.NewLocalConnection("svc", w, 1))

	a := types.NewRecordingListener()
	c.SendWork(context.Background(), cacheableRequest(), a)

	// Join after the execution has started.
	require.Eventually(t, func() bool {
		for _, k := range a.Kinds() {
			if k == types.EventProgress {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	b := types.NewRecordingListener()
	c.SendWork(context.Background(), cacheableRequest(), b)

	wait(t, a)
	wait(t, b)
	assert.Equal(t, a.Kinds(), b.Kinds())
	assert.Equal(t, int32(1), w.calls.Load())
}

func TestFailureIsSharedButNotStored(t *testing.T) {
	w := &countingWorker{delay: 50 * time.Millisecond, fail: true}
	store := NewFileStore(t.TempDir())
	c := New(worker.NewLocalConnection("svc", w, 1), WithStore(store))

	a, b := types.NewRecordingListener(), types.NewRecordingListener()
	c.SendWork(context.Background(), cacheableRequest(), a)
	c.SendWork(context.Background(), cacheableRequest(), b)
	wait(t, a)
	wait(t, b)

	assert.True(t, types.IsProcessingError(a.Err()))
	assert.True(t, types.IsProcessingError(b.Err()))
	assert.Equal(t, int32(1), w.calls.Load())

	fp, err := Fingerprint(cacheableRequest())
	require.NoError(t, err)
	_, ok, err := store.Lookup(fp)
	require.NoError(t, err)
	assert.False(t, ok)

	// The next identical request executes again.
	again := types.NewRecordingListener()
	c.SendWork(context.Background(), cacheableRequest(), again)
	wait(t, again)
	assert.Equal(t, int32(2), w.calls.Load())
}

func TestStoredResultIsReplayed(t *testing.T) {
	w := &countingWorker{delay: 10 * time.Millisecond}
	store := NewFileStore(t.TempDir())
	c := New(worker.NewLocalConnection("svc", w, 1), WithStore(store))

	first := types.NewRecordingListener()
	c.SendWork(context.Background(), cacheableRequest(), first)
	wait(t, first)

	second := types.NewRecordingListener()
	c.SendWork(context.Background(), cacheableRequest(), second)
	wait(t, second)

	assert.Equal(t, int32(1), w.calls.Load())
	assert.Equal(t, []types.ListenerEvent{
		types.EventEnqueued, types.EventStarted, types.EventProgress, types.EventFinished,
	}, second.Kinds())
	assert.Equal(t, "cache", second.Events()[0].Host.Daemon)
	require.NotNil(t, second.Result())
	assert.EqualValues(t, 42, second.Result().Data["answer"])

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestChangedInputRunsAgain(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("one"), 0o644))

	w := &countingWorker{delay: time.Millisecond}
	c := New(worker.NewLocalConnection("svc", w, 1), WithStore(NewFileStore(filepath.Join(dir, "cache"))))
	req := func() *types.WorkRequest {
		r := cacheableRequest()
		r.Inputs = []string{input}
		return r
	}

	for _, content := range []string{"one", "one", "two"} {
		require.NoError(t, os.WriteFile(input, []byte(content), 0o644))
		l := types.NewRecordingListener()
		c.SendWork(context.Background(), req(), l)
		wait(t, l)
		require.NoError(t, l.Err())
	}
	assert.Equal(t, int32(2), w.calls.Load())
}

func TestNonCacheableRequestsAreForwarded(t *testing.T) {
	w := &countingWorker{delay: 20 * time.Millisecond}
	c := New(worker.NewLocalConnection("svc", w, 4))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		l := types.NewRecordingListener()
		req := cacheableRequest()
		req.Cacheable = false
		c.SendWork(context.Background(), req, l)
		go func() {
			defer wg.Done()
			<-l.Done()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), w.calls.Load())
	assert.Equal(t, Stats{}, c.Stats())
}

func TestDifferentRequestsDoNotShare(t *testing.T) {
	w := &countingWorker{delay: 20 * time.Millisecond}
	c := New(worker.NewLocalConnection("svc", w, 2))

	a, b := types.NewRecordingListener(), types.NewRecordingListener()
	c.SendWork(context.Background(), cacheableRequest(), a)
	other := cacheableRequest()
	other.Payload["n"] = 2
	c.SendWork(context.Background(), other, b)
	wait(t, a)
	wait(t, b)
	assert.Equal(t, int32(2), w.calls.Load())
}

func TestListenerCanSubmitFromCallback(t *testing.T) {
	w := &countingWorker{delay: 100 * time.Millisecond}
	c := New(worker.NewLocalConnection("svc", w, 1))

	inner := types.NewRecordingListener()
	finished := make(chan struct{})
	var once sync.Once
	outer := types.ListenerFuncs{
		OnStarted: func(types.HostInfo) {
			once.Do(func() { c.SendWork(context.Background(), cacheableRequest(), inner) })
		},
		OnFinished: func() { close(finished) },
	}
	c.SendWork(context.Background(), cacheableRequest(), outer)

	wait(t, inner)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("outer request did not complete")
	}
	assert.Equal(t, int32(1), w.calls.Load())
	assert.Equal(t, int64(1), c.Stats().Joins)
	assert.Equal(t, []types.ListenerEvent{
		types.EventEnqueued, types.EventStarted, types.EventProgress, types.EventProgress, types.EventFinished,
	}, inner.Kinds())
}
