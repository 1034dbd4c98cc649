package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swift/job-engine/internal/cache"
	"swift/job-engine/internal/worker"
	"swift/job-engine/pkg/types"
)

// captureSender records requests and hands the listener to the test.
type captureSender struct {
	reqs      []*types.WorkRequest
	listeners []types.ProgressListener
}

func (s *captureSender) SendWork(_ context.Context, req *types.WorkRequest, l types.ProgressListener) {
	s.reqs = append(s.reqs, req)
	s.listeners = append(s.listeners, l)
}

func TestWorkTaskMapsListenerCallbacks(t *testing.T) {
	sender := &captureSender{}
	task := NewRequestTask("build", 3, sender, &types.WorkRequest{Service: "compile"})
	e := newEngineWith(t, task)
	e.SetPriority(2)

	require.NoError(t, e.Run(context.Background()))
	require.Len(t, sender.reqs, 1)
	assert.Equal(t, 5, sender.reqs[0].Priority)
	assert.False(t, sender.reqs[0].Created.IsZero())
	assert.Equal(t, PhaseSent, task.Phase())

	l := sender.listeners[0]
	l.RequestEnqueued(types.HostInfo{Host: "h"})
	assert.Equal(t, PhaseQueued, task.Phase())
	assert.Equal(t, 1, e.Progress().Queued)

	l.RequestProcessingStarted(types.HostInfo{Host: "h"})
	l.UserProgressInformation(types.ProgressInfo{Kind: types.ProgressKindPercent, Percent: 40})
	assert.Equal(t, PhaseExecuting, task.Phase())
	assert.InDelta(t, 0.4, task.PercentDone(), 1e-9)

	l.UserProgressInformation(types.ProgressInfo{Kind: types.ProgressKindResult, Result: &types.WorkResult{Data: map[string]any{"ok": true}}})
	l.RequestProcessingFinished()
	assert.Equal(t, StateCompletedSuccessfully, task.State())
	assert.Equal(t, true, task.Result().Data["ok"])

	// Later invocations do not submit again.
	require.NoError(t, task.work.Run(context.Background(), task))
	assert.Len(t, sender.reqs, 1)
}

func TestWorkTaskTermination(t *testing.T) {
	sender := &captureSender{}
	task := NewRequestTask("build", 0, sender, &types.WorkRequest{Service: "compile"})
	e := newEngineWith(t, task)
	require.NoError(t, e.Run(context.Background()))

	cause := types.NewProcessingError("compiler crashed", nil)
	sender.listeners[0].RequestTerminated(cause)
	assert.Equal(t, StateRunFailed, task.State())
	assert.Same(t, cause, task.Cause())
}

func TestWorkflowOverLocalWorkers(t *testing.T) {
	conn := worker.NewLocalConnection("sleep", worker.SleepWorker{}, 2)
	sleep := func(ms int) *types.WorkRequest {
		return &types.WorkRequest{Service: "sleep", Payload: map[string]any{"duration_ms": ms}}
	}

	a := NewRequestTask("a", 0, conn, sleep(10))
	b := NewRequestTask("b", 0, conn, sleep(10))
	c := NewRequestTask("c", 0, conn, sleep(10))
	require.NoError(t, c.AddDependency(a))
	require.NoError(t, c.AddDependency(b))
	e := newEngineWith(t, a, b, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, NewLoop().RunToCompletion(ctx, e))
	assert.Equal(t, StateCompletedSuccessfully, c.State())
	require.NotNil(t, c.Result())
	assert.EqualValues(t, 10, c.Result().Data["slept_ms"])
}

func TestWorkflowFailureOverLocalWorkers(t *testing.T) {
	conn := worker.NewLocalConnection("sleep", worker.SleepWorker{}, 1)
	a := NewRequestTask("a", 0, conn, &types.WorkRequest{Service: "sleep", Payload: map[string]any{"fail": true, "message": "no"}})
	b := NewRequestTask("b", 0, conn, &types.WorkRequest{Service: "sleep"})
	require.NoError(t, b.AddDependency(a))
	e := newEngineWith(t, a, b)

	err := NewLoop().RunToCompletion(context.Background(), e)
	assert.True(t, types.IsProcessingError(err))
	assert.Equal(t, StateInitFailed, b.State())
}

func TestWorkflowThroughCache(t *testing.T) {
	var calls atomic.Int32
	counting := worker.Func(func(ctx context.Context, req *types.WorkRequest, sink worker.ProgressSink) (*types.WorkResult, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &types.WorkResult{}, nil
	})
	c := cache.New(worker.NewLocalConnection("svc", counting, 1))

	e := NewEngine("cached")
	for _, name := range []string{"x", "y", "z"} {
		require.NoError(t, e.AddTask(NewRequestTask(name, 0, c, &types.WorkRequest{Service: "svc", Cacheable: true})))
	}
	require.NoError(t, NewLoop().RunToCompletion(context.Background(), e))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(2), c.Stats().Joins)
}

func TestSenderErrorsFailTheTask(t *testing.T) {
	failing := types.WorkSender(senderFunc(func(_ context.Context, _ *types.WorkRequest, l types.ProgressListener) {
		l.RequestTerminated(errors.New("no route"))
	}))
	e := newEngineWith(t, NewRequestTask("a", 0, failing, &types.WorkRequest{Service: "svc"}))

	err := NewLoop().RunToCompletion(context.Background(), e)
	assert.Equal(t, types.ErrKindEngine, types.KindOf(err))
}

type senderFunc func(ctx context.Context, req *types.WorkRequest, l types.ProgressListener)

func (f senderFunc) SendWork(ctx context.Context, req *types.WorkRequest, l types.ProgressListener) {
	f(ctx, req, l)
}
