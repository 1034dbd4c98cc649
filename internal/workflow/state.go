package workflow

// TaskState is the lifecycle state of a task.
type TaskState int32

const (
	StateUninitialized TaskState = iota
	StateReady
	StateRunning
	StateRunningWarn
	StateCompletedSuccessfully
	StateCompletedWarning
	StateRunFailed
	StateInitFailed
)

var stateNames = map[TaskState]string{
	StateUninitialized:         "UNINITIALIZED",
	StateReady:                 "READY",
	StateRunning:               "RUNNING",
	StateRunningWarn:           "RUNNING_WARN",
	StateCompletedSuccessfully: "COMPLETED_SUCCESSFULLY",
	StateCompletedWarning:      "COMPLETED_WARNING",
	StateRunFailed:             "RUN_FAILED",
	StateInitFailed:            "INIT_FAILED",
}

func (s TaskState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

var transitions = map[TaskState][]TaskState{
	StateUninitialized: {StateReady, StateInitFailed},
	StateReady:         {StateRunning},
	StateRunning:       {StateCompletedSuccessfully, StateRunningWarn, StateRunFailed},
	StateRunningWarn:   {StateCompletedWarning, StateRunFailed},
}

// CanTransition reports whether a task may move from s to next.
func (s TaskState) CanTransition(next TaskState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TaskState) IsTerminal() bool {
	return s.IsSucceeded() || s.IsFailed()
}

// IsFailed reports whether s is RUN_FAILED or INIT_FAILED.
func (s TaskState) IsFailed() bool {
	return s == StateRunFailed || s == StateInitFailed
}

// IsSucceeded reports whether s is COMPLETED_SUCCESSFULLY or COMPLETED_WARNING.
func (s TaskState) IsSucceeded() bool {
	return s == StateCompletedSuccessfully || s == StateCompletedWarning
}

// IsRunning reports whether the task has started and not yet finished.
func (s TaskState) IsRunning() bool {
	return s == StateRunning || s == StateRunningWarn
}
