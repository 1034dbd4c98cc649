package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"swift/job-engine/pkg/types"
)

// Phase refines RUNNING for progress reporting.
type Phase int32

const (
	PhaseNone Phase = iota
	PhaseSent
	PhaseQueued
	PhaseExecuting
)

func (p Phase) String() string {
	switch p {
	case PhaseSent:
		return "sent"
	case PhaseQueued:
		return "queued"
	case PhaseExecuting:
		return "executing"
	default:
		return "none"
	}
}

// TaskWork is the execution logic of a task.
//
// Run may be invoked several times for the same task: once when the task
// starts and again every time the task is requeued. The task finishes when
// its work calls Complete or Fail, or when Run returns an error.
type TaskWork interface {
	Run(ctx context.Context, t *Task) error
}

// TaskWorkFunc adapts a function to TaskWork.
type TaskWorkFunc func(ctx context.Context, t *Task) error

func (f TaskWorkFunc) Run(ctx context.Context, t *Task) error {
	return f(ctx, t)
}

// Task is a node of the workflow graph. A task belongs to at most one engine
// and changes state only through it.
type Task struct {
	id       string
	name     string
	priority int
	work     TaskWork

	engine atomic.Pointer[Engine]
	state  atomic.Int32

	// Guarded by the owning engine's state lock once the engine started.
	inputs  []*Task
	outputs []*Task
	pending int
	cause   error

	mu       sync.Mutex
	phase    Phase
	percent  float64
	warnings []string
	result   *types.WorkResult
}

// NewTask creates an uninitialized task.
func NewTask(name string, priority int, work TaskWork) *Task {
	return &Task{
		id:       uuid.NewString(),
		name:     name,
		priority: priority,
		work:     work,
	}
}

func (t *Task) ID() string       { return t.id }
func (t *Task) Name() string     { return t.name }
func (t *Task) Priority() int    { return t.priority }
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

// Engine returns the owning engine, or nil.
func (t *Task) Engine() *Engine {
	return t.engine.Load()
}

func (t *Task) String() string {
	if t.name != "" {
		return t.name
	}
	return t.id
}

// EffectivePriority is the task's own priority plus its engine's priority.
func (t *Task) EffectivePriority() int {
	if e := t.Engine(); e != nil {
		return t.priority + e.Priority()
	}
	return t.priority
}

// AddDependency makes input a prerequisite of t.
func (t *Task) AddDependency(input *Task) error {
	if input == nil {
		return types.NewWorkError(types.ErrKindEngine, "nil dependency", nil)
	}
	if input == t {
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("task %s cannot depend on itself", t), nil)
	}
	if te, ie := t.Engine(), input.Engine(); te != nil && ie != nil && te != ie {
		return types.NewWorkError(types.ErrKindEngine,
			fmt.Sprintf("cannot add dependency %s -> %s: tasks belong to engines %s and %s", input, t, ie.Name(), te.Name()), nil)
	}
	for _, task := range []*Task{t, input} {
		if e := task.Engine(); e != nil && e.started() {
			return types.NewWorkError(types.ErrKindEngine,
				fmt.Sprintf("cannot add dependency %s -> %s: engine %s already started", input, t, e.Name()), nil)
		}
	}
	for _, existing := range t.inputs {
		if existing == input {
			return nil
		}
	}
	t.inputs = append(t.inputs, input)
	input.outputs = append(input.outputs, t)
	return nil
}

// Inputs returns the tasks t depends on.
func (t *Task) Inputs() []*Task {
	return append([]*Task(nil), t.inputs...)
}

// Outputs returns the tasks depending on t.
func (t *Task) Outputs() []*Task {
	return append([]*Task(nil), t.outputs...)
}

// Cause returns the error recorded when the task failed.
func (t *Task) Cause() error {
	if e := t.Engine(); e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return t.cause
}

// Complete finishes a running task successfully, or with a warning if Warn was called.
func (t *Task) Complete() error {
	e, err := t.owner()
	if err != nil {
		return err
	}
	return e.transition(t, func(s TaskState) TaskState {
		if s == StateRunningWarn {
			return StateCompletedWarning
		}
		return StateCompletedSuccessfully
	}, nil)
}

// Warn records a warning. The first warning moves the task to RUNNING_WARN.
func (t *Task) Warn(msg string) error {
	e, err := t.owner()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.warnings = append(t.warnings, msg)
	t.mu.Unlock()
	return e.transition(t, func(TaskState) TaskState {
		return StateRunningWarn
	}, nil)
}

// Fail finishes a running task with cause.
func (t *Task) Fail(cause error) error {
	e, err := t.owner()
	if err != nil {
		return err
	}
	if cause == nil {
		cause = errors.New("task failed without a cause")
	}
	return e.transition(t, func(TaskState) TaskState {
		return StateRunFailed
	}, cause)
}

// Requeue schedules another invocation of the task's work.
func (t *Task) Requeue() error {
	e, err := t.owner()
	if err != nil {
		return err
	}
	if !t.State().IsRunning() {
		return types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("cannot requeue task %s in state %s", t, t.State()), nil)
	}
	e.enqueue(t)
	e.wake()
	return nil
}

func (t *Task) owner() (*Engine, error) {
	e := t.Engine()
	if e == nil {
		return nil, types.NewWorkError(types.ErrKindEngine, fmt.Sprintf("task %s does not belong to an engine", t), nil)
	}
	return e, nil
}

// SetPhase records where a running task's work currently is.
func (t *Task) SetPhase(p Phase) {
	t.mu.Lock()
	t.phase = p
	t.mu.Unlock()
}

// Phase returns the current phase.
func (t *Task) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// SetPercentDone records the completion fraction in [0, 1].
func (t *Task) SetPercentDone(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	t.mu.Lock()
	t.percent = p
	t.mu.Unlock()
}

// PercentDone returns the completion fraction.
func (t *Task) PercentDone() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

// Warnings returns the recorded warning messages.
func (t *Task) Warnings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.warnings...)
}

// SetResult records the result produced by the task's work.
func (t *Task) SetResult(r *types.WorkResult) {
	t.mu.Lock()
	t.result = r.Clone()
	t.mu.Unlock()
}

// Result returns the recorded result, or nil.
func (t *Task) Result() *types.WorkResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result.Clone()
}
