package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

var allStates = []TaskState{
	StateUninitialized, StateReady, StateRunning, StateRunningWarn,
	StateCompletedSuccessfully, StateCompletedWarning, StateRunFailed, StateInitFailed,
}

func TestStateClassification(t *testing.T) {
	tests := []struct {
		state     TaskState
		terminal  bool
		failed    bool
		succeeded bool
		running   bool
	}{
		{StateUninitialized, false, false, false, false},
		{StateReady, false, false, false, false},
		{StateRunning, false, false, false, true},
		{StateRunningWarn, false, false, false, true},
		{StateCompletedSuccessfully, true, false, true, false},
		{StateCompletedWarning, true, false, true, false},
		{StateRunFailed, true, true, false, false},
		{StateInitFailed, true, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.failed, tt.state.IsFailed())
			assert.Equal(t, tt.succeeded, tt.state.IsSucceeded())
			assert.Equal(t, tt.running, tt.state.IsRunning())
		})
	}
	assert.Equal(t, "UNKNOWN", TaskState(99).String())
}

func TestTransitions(t *testing.T) {
	assert.True(t, StateUninitialized.CanTransition(StateReady))
	assert.True(t, StateUninitialized.CanTransition(StateInitFailed))
	assert.True(t, StateReady.CanTransition(StateRunning))
	assert.True(t, StateRunning.CanTransition(StateRunningWarn))
	assert.True(t, StateRunningWarn.CanTransition(StateCompletedWarning))
	assert.True(t, StateRunningWarn.CanTransition(StateRunFailed))

	assert.False(t, StateReady.CanTransition(StateInitFailed))
	assert.False(t, StateRunning.CanTransition(StateCompletedWarning))
	assert.False(t, StateRunningWarn.CanTransition(StateCompletedSuccessfully))
	assert.False(t, StateRunning.CanTransition(StateReady))
}

// order ranks states along the lifecycle; transitions only move forward.
func order(s TaskState) int {
	switch s {
	case StateUninitialized:
		return 0
	case StateReady:
		return 1
	case StateRunning:
		return 2
	case StateRunningWarn:
		return 3
	default:
		return 4
	}
}

func TestStateMachineOnlyMovesForward(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		state := StateUninitialized
		steps := rapid.SliceOfN(rapid.SampledFrom(allStates), 1, 20).Draw(t, "steps")
		for _, next := range steps {
			if !state.CanTransition(next) {
				continue
			}
			if state.IsTerminal() {
				t.Fatalf("terminal state %s allowed a transition to %s", state, next)
			}
			if order(next) <= order(state) {
				t.Fatalf("transition %s -> %s moves backwards", state, next)
			}
			state = next
		}
	})
}

// taskOps are the calls that move a running task between states.
var taskOps = map[string]func(*Task) error{
	"complete": (*Task).Complete,
	"warn":     func(t *Task) error { return t.Warn("careful") },
	"fail":     func(t *Task) error { return t.Fail(errors.New("boom")) },
}

func TestEngineTransitionsFollowStateMachine(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ops := rapid.SliceOfN(rapid.SampledFrom([]string{"complete", "warn", "fail"}), 1, 10).Draw(rt, "ops")
		task := NewTask("t", 0, TaskWorkFunc(func(_ context.Context, task *Task) error {
			for _, op := range ops {
				before := task.State()
				err := taskOps[op](task)
				after := task.State()
				switch {
				case err != nil:
					if after != before {
						rt.Fatalf("%s failed but moved %s -> %s", op, before, after)
					}
				case after == before:
					if op != "warn" || before != StateRunningWarn {
						rt.Fatalf("%s succeeded without leaving %s", op, before)
					}
				case !before.CanTransition(after):
					rt.Fatalf("%s moved %s -> %s, which the state machine forbids", op, before, after)
				case order(after) <= order(before):
					rt.Fatalf("%s moved %s -> %s backwards", op, before, after)
				}
				if before.IsTerminal() && err == nil {
					rt.Fatalf("%s succeeded on terminal state %s", op, before)
				}
			}
			return nil
		}))
		e := NewEngine("property")
		if err := e.AddTask(task); err != nil {
			rt.Fatalf("add task: %v", err)
		}
		if err := e.Run(context.Background()); err != nil && !task.State().IsFailed() {
			rt.Fatalf("run: %v", err)
		}
	})
}
