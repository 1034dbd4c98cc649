package workflow

import (
	"go.uber.org/zap"

	"swift/job-engine/pkg/types"
)

// LogMonitor writes progress reports and errors to a logger.
type LogMonitor struct {
	logger *zap.Logger
}

// NewLogMonitor creates a LogMonitor.
func NewLogMonitor(l *zap.Logger) *LogMonitor {
	return &LogMonitor{logger: l}
}

func (m *LogMonitor) ProgressChanged(e *Engine, report types.ProgressReport) {
	m.logger.Info("workflow progress",
		zap.String("engine", e.Name()),
		zap.String("progress", report.String()),
		zap.Bool("done", report.Done()))
}

func (m *LogMonitor) ErrorReported(e *Engine, err error) {
	m.logger.Error("workflow error", zap.String("engine", e.Name()), zap.Error(err))
}

// MonitorFuncs adapts functions to Monitor. Nil fields are ignored.
type MonitorFuncs struct {
	OnProgress func(e *Engine, report types.ProgressReport)
	OnError    func(e *Engine, err error)
}

func (m MonitorFuncs) ProgressChanged(e *Engine, report types.ProgressReport) {
	if m.OnProgress != nil {
		m.OnProgress(e, report)
	}
}

func (m MonitorFuncs) ErrorReported(e *Engine, err error) {
	if m.OnError != nil {
		m.OnError(e, err)
	}
}
