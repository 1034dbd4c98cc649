package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// Monitor observes an engine.
type Monitor interface {
	// ProgressChanged is called with every report that differs from the previous one.
	ProgressChanged(e *Engine, report types.ProgressReport)
	// ErrorReported is called for errors not attributed to a task.
	ErrorReported(e *Engine, err error)
}

// Engine drives a graph of tasks to completion.
//
// Run must not be called concurrently; task state changes may arrive from any
// goroutine and are serialized by the engine.
type Engine struct {
	id       string
	name     string
	priority atomic.Int64
	logger   *zap.Logger

	// mu serializes every task state transition.
	mu          sync.Mutex
	tasks       []*Task
	initialized atomic.Bool

	// queueMu guards the pending queue and the resumer, so that checking for
	// work and registering a resumer is atomic with respect to enqueueing.
	queueMu sync.Mutex
	queue   []*Task
	resumer func()

	total      atomic.Int64
	running    atomic.Int64
	succeeded  atomic.Int64
	warning    atomic.Int64
	failed     atomic.Int64
	initFailed atomic.Int64

	monitorMu  sync.Mutex
	monitors   []Monitor
	lastReport *types.ProgressReport

	inRun    atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithPriority sets the engine priority.
func WithPriority(p int) EngineOption {
	return func(e *Engine) { e.priority.Store(int64(p)) }
}

// NewEngine creates an empty engine.
func NewEngine(name string, opts ...EngineOption) *Engine {
	e := &Engine{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Named("workflow")
	}
	e.logger = e.logger.With(zap.String("engine", name))
	return e
}

func (e *Engine) ID() string   { return e.id }
func (e *Engine) Name() string { return e.name }

// Priority returns the priority added to every task's own priority.
func (e *Engine) Priority() int {
	return int(e.priority.Load())
}

// SetPriority changes the engine priority.
func (e *Engine) SetPriority(p int) {
	e.priority.Store(int64(p))
}

func (e *Engine) started() bool {
	return e.initialized.Load()
}

// AddTask adds t to the engine. Tasks cannot be added once the engine has
// started or when they already belong to another engine.
func (e *Engine) AddTask(t *Task) error {
	if t == nil {
		return types.NewWorkError(types.ErrKindEngine, "nil task", nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started() {
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("cannot add task %s: engine %s already started", t, e.name), nil)
	}
	if !t.engine.CompareAndSwap(nil, e) {
		if t.engine.Load() == e {
			return nil
		}
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("task %s already belongs to engine %s", t, t.engine.Load().Name()), nil)
	}
	e.tasks = append(e.tasks, t)
	e.total.Add(1)
	return nil
}

// Tasks returns the tasks in the order they were added.
func (e *Engine) Tasks() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Task(nil), e.tasks...)
}

// AddMonitor registers m.
func (e *Engine) AddMonitor(m Monitor) {
	e.monitorMu.Lock()
	e.monitors = append(e.monitors, m)
	e.monitorMu.Unlock()
}

// Done is closed once every task reached a terminal state.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// IsDone reports whether every task reached a terminal state.
func (e *Engine) IsDone() bool {
	return e.started() && e.succeeded.Load()+e.failed.Load() == e.total.Load()
}

// IsWorkAvailable reports whether ready tasks are waiting for Run.
func (e *Engine) IsWorkAvailable() bool {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue) > 0
}

// ResumeOnWork arranges for resume to be called once, as soon as work is
// available or the engine is done. If either already holds, resume is called
// immediately. A later registration replaces an earlier one.
func (e *Engine) ResumeOnWork(resume func()) {
	e.queueMu.Lock()
	if len(e.queue) > 0 || e.IsDone() {
		e.queueMu.Unlock()
		resume()
		return
	}
	e.resumer = resume
	e.queueMu.Unlock()
}

// ReportError passes an error that is not attributed to any task to the monitors.
func (e *Engine) ReportError(err error) {
	if err == nil {
		return
	}
	e.logger.Error("workflow error", zap.Error(err))
	for _, m := range e.monitorList() {
		m.ErrorReported(e, err)
	}
}

func (e *Engine) monitorList() []Monitor {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	return append([]Monitor(nil), e.monitors...)
}

// Run invokes every queued task once, broadcasts progress and, once every
// task is finished, returns the aggregate failure if any task failed. It
// returns nil while work is still outstanding.
func (e *Engine) Run(ctx context.Context) error {
	if !e.inRun.CompareAndSwap(false, true) {
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("engine %s is already running", e.name), nil)
	}
	defer e.inRun.Store(false)

	if err := e.initialize(); err != nil {
		return err
	}

	batch := e.drain()
	for i, t := range batch {
		if err := ctx.Err(); err != nil {
			e.requeue(batch[i:])
			return err
		}
		e.invoke(ctx, t)
	}

	e.broadcastProgress()
	if e.IsDone() {
		return e.failure()
	}
	return nil
}

// initialize runs once. It fixes the graph, then marks input-free tasks ready.
func (e *Engine) initialize() error {
	e.mu.Lock()
	if e.started() {
		e.mu.Unlock()
		return nil
	}
	if err := e.checkGraph(); err != nil {
		e.mu.Unlock()
		return err
	}

	var ready []*Task
	for _, t := range e.tasks {
		t.pending = len(t.inputs)
		if t.pending == 0 {
			ready = append(ready, t)
		}
	}
	for _, t := range ready {
		if err := e.setState(t, StateReady, nil); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.initialized.Store(true)
	e.mu.Unlock()

	e.logger.Debug("engine initialized", zap.Int("tasks", int(e.total.Load())), zap.Int("ready", len(ready)))
	if e.IsDone() {
		e.finish()
	}
	return nil
}

// checkGraph verifies that every input and output belongs to the engine and
// that the dependencies form no cycle.
func (e *Engine) checkGraph() error {
	indegree := make(map[*Task]int, len(e.tasks))
	for _, t := range e.tasks {
		for _, in := range t.inputs {
			if in.Engine() != e {
				return types.NewWorkError(types.ErrKindEngine,
					fmt.Sprintf("input %s of task %s does not belong to engine %s", in, t, e.name), nil)
			}
		}
		for _, out := range t.outputs {
			if out.Engine() != e {
				return types.NewWorkError(types.ErrKindEngine,
					fmt.Sprintf("task %s depends on %s but does not belong to engine %s", out, t, e.name), nil)
			}
		}
		indegree[t] = len(t.inputs)
	}

	var queue []*Task
	for _, t := range e.tasks {
		if indegree[t] == 0 {
			queue = append(queue, t)
		}
	}
	visited := 0
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		visited++
		for _, out := range t.outputs {
			indegree[out]--
			if indegree[out] == 0 {
				queue = append(queue, out)
			}
		}
	}
	if visited != len(e.tasks) {
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("engine %s has a dependency cycle", e.name), nil)
	}
	return nil
}

func (e *Engine) drain() []*Task {
	e.queueMu.Lock()
	batch := e.queue
	e.queue = nil
	e.queueMu.Unlock()

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].EffectivePriority() > batch[j].EffectivePriority()
	})
	return batch
}

func (e *Engine) requeue(tasks []*Task) {
	e.queueMu.Lock()
	e.queue = append(tasks, e.queue...)
	e.queueMu.Unlock()
}

// enqueue adds t to the pending queue. Callers follow up with wake once
// they released the state lock.
func (e *Engine) enqueue(t *Task) {
	e.queueMu.Lock()
	e.queue = append(e.queue, t)
	e.queueMu.Unlock()
}

// wake fires the registered resumer when work is queued or the engine is done.
func (e *Engine) wake() {
	e.queueMu.Lock()
	var resume func()
	if e.started() && (len(e.queue) > 0 || e.IsDone()) {
		resume, e.resumer = e.resumer, nil
	}
	e.queueMu.Unlock()
	if resume != nil {
		resume()
	}
}

// invoke starts t if it is ready and calls its work. Errors and panics fail the task.
func (e *Engine) invoke(ctx context.Context, t *Task) {
	e.mu.Lock()
	switch s := t.State(); {
	case s == StateReady:
		if err := e.setState(t, StateRunning, nil); err != nil {
			e.mu.Unlock()
			return
		}
	case s.IsRunning():
	default:
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if t.work == nil {
		_ = t.Complete()
		return
	}
	if err := e.safeRun(ctx, t); err != nil {
		if ferr := t.Fail(err); ferr != nil {
			e.logger.Warn("task error after it finished", zap.String("task", t.String()), zap.Error(err))
		}
	}
}

func (e *Engine) safeRun(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panic",
				zap.String("task", t.String()),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			err = types.NewProcessingError(fmt.Sprintf("task panic: %v", r), nil)
		}
	}()
	return t.work.Run(ctx, t)
}

// transition moves t to the state next picks for its current one. Staying in
// a running state is a silent no-op; any other move must be allowed by the
// state machine.
func (e *Engine) transition(t *Task, next func(TaskState) TaskState, cause error) error {
	e.mu.Lock()
	if !e.started() {
		e.mu.Unlock()
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("task %s changed state before engine %s started", t, e.name), nil)
	}
	current := t.State()
	to := next(current)
	if to == current && current.IsRunning() {
		e.mu.Unlock()
		return nil
	}
	if err := e.setState(t, to, cause); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if to.IsTerminal() && e.IsDone() {
		e.finish()
		return nil
	}
	e.wake()
	return nil
}

// setState records the transition and runs afterTaskStateChange. Moves the
// state machine does not allow are refused. Callers hold mu.
func (e *Engine) setState(t *Task, to TaskState, cause error) error {
	from := t.State()
	if !from.CanTransition(to) {
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("task %s cannot move from %s to %s", t, from, to), nil)
	}
	t.state.Store(int32(to))
	if cause != nil {
		t.cause = cause
	}
	e.afterTaskStateChange(t, from, to)
	return nil
}

// afterTaskStateChange maintains the counters and propagates terminal states
// to dependents. Callers hold mu.
func (e *Engine) afterTaskStateChange(t *Task, from, to TaskState) {
	e.logger.Debug("task state changed",
		zap.String("task", t.String()),
		zap.Stringer("from", from),
		zap.Stringer("to", to))

	if to == StateReady {
		e.enqueue(t)
		return
	}
	if to == StateRunning {
		e.running.Add(1)
		return
	}
	if !to.IsTerminal() {
		return
	}
	if from.IsRunning() {
		e.running.Add(-1)
	}
	switch to {
	case StateCompletedWarning:
		e.warning.Add(1)
		e.succeeded.Add(1)
	case StateCompletedSuccessfully:
		e.succeeded.Add(1)
	case StateInitFailed:
		e.initFailed.Add(1)
		e.failed.Add(1)
	case StateRunFailed:
		e.failed.Add(1)
	}
	t.SetPhase(PhaseNone)

	for _, dep := range t.outputs {
		if dep.State() != StateUninitialized {
			continue
		}
		// Both moves are legal from UNINITIALIZED.
		dep.pending--
		if to.IsFailed() {
			_ = e.setState(dep, StateInitFailed, types.NewInitError(dep.id,
				fmt.Sprintf("input %s of task %s failed", t, dep), t.cause))
			continue
		}
		if dep.pending == 0 {
			_ = e.setState(dep, StateReady, nil)
		}
	}
}

// finish closes Done and wakes a waiting resumer. It is safe to call repeatedly.
func (e *Engine) finish() {
	e.doneOnce.Do(func() {
		close(e.done)
		e.logger.Info("workflow finished",
			zap.Int64("succeeded", e.succeeded.Load()),
			zap.Int64("failed", e.failed.Load()))
	})
	e.wake()
}

// Progress computes the current report.
func (e *Engine) Progress() types.ProgressReport {
	r := types.ProgressReport{
		Total:      int(e.total.Load()),
		Succeeded:  int(e.succeeded.Load()),
		Warning:    int(e.warning.Load()),
		Failed:     int(e.failed.Load()),
		InitFailed: int(e.initFailed.Load()),
	}
	if e.running.Load() == 0 {
		return r
	}
	for _, t := range e.Tasks() {
		if !t.State().IsRunning() {
			continue
		}
		switch t.Phase() {
		case PhaseQueued:
			r.Queued++
		case PhaseExecuting:
			r.Executing++
			r.PercentDone += t.PercentDone()
		default:
			r.Sent++
		}
	}
	return r
}

// broadcastProgress notifies the monitors when the report changed since the last broadcast.
func (e *Engine) broadcastProgress() {
	report := e.Progress()
	e.monitorMu.Lock()
	if e.lastReport != nil && e.lastReport.Equal(report) {
		e.monitorMu.Unlock()
		return
	}
	e.lastReport = &report
	monitors := append([]Monitor(nil), e.monitors...)
	e.monitorMu.Unlock()

	for _, m := range monitors {
		m.ProgressChanged(e, report)
	}
}

// failure aggregates the causes of the failed tasks. Tasks that failed to
// initialize only count when no task failed while running, since their
// causes repeat the failure of an input.
func (e *Engine) failure() error {
	e.mu.Lock()
	var runFailures, initFailures []TaskFailure
	for _, t := range e.tasks {
		switch t.State() {
		case StateRunFailed:
			runFailures = append(runFailures, TaskFailure{TaskID: t.id, Task: t.String(), Err: t.cause})
		case StateInitFailed:
			initFailures = append(initFailures, TaskFailure{TaskID: t.id, Task: t.String(), Err: t.cause})
		}
	}
	e.mu.Unlock()

	failures := runFailures
	if len(failures) == 0 {
		failures = initFailures
	}
	return aggregate(failures)
}
