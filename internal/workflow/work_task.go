package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// WorkTask is TaskWork that submits a work request through a WorkSender and
// finishes the task from the listener callbacks.
type WorkTask struct {
	sender    types.WorkSender
	req       *types.WorkRequest
	logger    *zap.Logger
	submitted atomic.Bool
}

// NewWorkTask creates the work for a task that submits req through sender.
func NewWorkTask(sender types.WorkSender, req *types.WorkRequest) *WorkTask {
	return &WorkTask{
		sender: sender,
		req:    req.Clone(),
		logger: logger.Named("workflow"),
	}
}

// NewRequestTask creates a task whose work is a WorkTask.
func NewRequestTask(name string, priority int, sender types.WorkSender, req *types.WorkRequest) *Task {
	return NewTask(name, priority, NewWorkTask(sender, req))
}

// Request returns a copy of the request.
func (w *WorkTask) Request() *types.WorkRequest {
	return w.req.Clone()
}

// Run submits the request on the first invocation. Later invocations do
// nothing; the task finishes when the request does.
func (w *WorkTask) Run(ctx context.Context, t *Task) error {
	if !w.submitted.CompareAndSwap(false, true) {
		return nil
	}
	req := w.req.Clone()
	req.Priority = t.EffectivePriority()
	if req.Created.IsZero() {
		req.Created = time.Now()
	}
	t.SetPhase(PhaseSent)
	w.sender.SendWork(ctx, req, &taskListener{task: t, logger: w.logger})
	return nil
}

// taskListener maps the progress of a request onto its task.
type taskListener struct {
	task   *Task
	logger *zap.Logger
}

func (l *taskListener) RequestEnqueued(types.HostInfo) {
	l.task.SetPhase(PhaseQueued)
}

func (l *taskListener) RequestProcessingStarted(host types.HostInfo) {
	l.task.SetPhase(PhaseExecuting)
	l.logger.Debug("task executing",
		zap.String("task", l.task.String()),
		zap.String("host", host.Host),
		zap.String("daemon", host.Daemon))
}

func (l *taskListener) UserProgressInformation(info types.ProgressInfo) {
	switch info.Kind {
	case types.ProgressKindPercent:
		l.task.SetPercentDone(info.Percent / 100)
	case types.ProgressKindResult:
		l.task.SetResult(info.Result)
	case types.ProgressKindMessage:
		l.logger.Debug("task message", zap.String("task", l.task.String()), zap.String("message", info.Message))
	}
}

func (l *taskListener) RequestProcessingFinished() {
	if err := l.task.Complete(); err != nil {
		l.logger.Warn("completing task", zap.String("task", l.task.String()), zap.Error(err))
	}
}

func (l *taskListener) RequestTerminated(err error) {
	if ferr := l.task.Fail(err); ferr != nil {
		l.logger.Warn("failing task", zap.String("task", l.task.String()), zap.Error(ferr))
	}
}
