package workflow

import (
	"context"
)

// Loop drives engines to completion. Engines signal new work on the loop's
// wake channel; the loop sleeps on it between Run calls.
type Loop struct {
	wake chan struct{}
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RunToCompletion calls e.Run until every task finished and returns the
// engine's aggregate failure. It returns ctx.Err() if ctx ends first.
func (l *Loop) RunToCompletion(ctx context.Context, e *Engine) error {
	for {
		finished := e.IsDone()
		err := e.Run(ctx)
		if finished || err != nil {
			return err
		}
		// A Run that started before the last task finished has neither
		// broadcast the final report nor collected the failures.
		if e.IsDone() || e.IsWorkAvailable() {
			continue
		}

		e.ResumeOnWork(l.signal)
		select {
		case <-l.wake:
		case <-e.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
