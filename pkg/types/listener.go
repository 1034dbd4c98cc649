package types

import (
	"fmt"
	"sync"
)

// ProgressKind classifies a ProgressInfo.
type ProgressKind string

const (
	// ProgressKindMessage carries a free-form status message.
	ProgressKindMessage ProgressKind = "message"
	// ProgressKindPercent carries a completion percentage.
	ProgressKindPercent ProgressKind = "percent"
	// ProgressKindResult carries the WorkResult, sent right before the request finishes.
	ProgressKindResult ProgressKind = "result"
)

// ProgressInfo is user-level progress information streamed while work executes.
type ProgressInfo struct {
	Kind    ProgressKind   `json:"kind"`
	Message string         `json:"message,omitempty"`
	Percent float64        `json:"percent,omitempty"`
	Result  *WorkResult    `json:"result,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ProgressListener observes a submitted work request.
type ProgressListener interface {
	RequestEnqueued(host HostInfo)
	RequestProcessingStarted(host HostInfo)
	RequestProcessingFinished()
	RequestTerminated(err error)
	UserProgressInformation(info ProgressInfo)
}

// ProgressReporter is the worker-side counterpart of ProgressListener.
type ProgressReporter interface {
	ReportStart(host HostInfo)
	ReportProgress(info ProgressInfo)
	ReportSuccess(result *WorkResult)
	ReportFailure(err error)
}

// ListenerFuncs adapts plain functions to ProgressListener. Nil fields are ignored.
type ListenerFuncs struct {
	OnEnqueued func(host HostInfo)
	OnStarted  func(host HostInfo)
	OnFinished func()
	OnFailed   func(err error)
	OnProgress func(info ProgressInfo)
}

func (l ListenerFuncs) RequestEnqueued(host HostInfo) {
	if l.OnEnqueued != nil {
		l.OnEnqueued(host)
	}
}

func (l ListenerFuncs) RequestProcessingStarted(host HostInfo) {
	if l.OnStarted != nil {
		l.OnStarted(host)
	}
}

func (l ListenerFuncs) RequestProcessingFinished() {
	if l.OnFinished != nil {
		l.OnFinished()
	}
}

func (l ListenerFuncs) RequestTerminated(err error) {
	if l.OnFailed != nil {
		l.OnFailed(err)
	}
}

func (l ListenerFuncs) UserProgressInformation(info ProgressInfo) {
	if l.OnProgress != nil {
		l.OnProgress(info)
	}
}

// ListenerEvent names a listener callback.
type ListenerEvent string

const (
	EventEnqueued ListenerEvent = "enqueued"
	EventStarted  ListenerEvent = "started"
	EventProgress ListenerEvent = "progress"
	EventFinished ListenerEvent = "finished"
	EventFailed   ListenerEvent = "failed"
)

// RecordedEvent is one callback captured by a RecordingListener.
type RecordedEvent struct {
	Event    ListenerEvent
	Host     HostInfo
	Progress ProgressInfo
	Err      error
}

func (e RecordedEvent) String() string {
	switch e.Event {
	case EventProgress:
		return fmt.Sprintf("%s(%s)", e.Event, e.Progress.Kind)
	case EventFailed:
		return fmt.Sprintf("%s(%v)", e.Event, e.Err)
	default:
		return string(e.Event)
	}
}

// RecordingListener records every callback it receives and signals Done
// once a terminal callback arrives.
type RecordingListener struct {
	mu     sync.Mutex
	events []RecordedEvent
	done   chan struct{}
	once   sync.Once
}

// NewRecordingListener creates an empty RecordingListener.
func NewRecordingListener() *RecordingListener {
	return &RecordingListener{done: make(chan struct{})}
}

func (l *RecordingListener) record(e RecordedEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	if e.Event == EventFinished || e.Event == EventFailed {
		l.once.Do(func() { close(l.done) })
	}
}

func (l *RecordingListener) RequestEnqueued(host HostInfo) {
	l.record(RecordedEvent{Event: EventEnqueued, Host: host})
}

func (l *RecordingListener) RequestProcessingStarted(host HostInfo) {
	l.record(RecordedEvent{Event: EventStarted, Host: host})
}

func (l *RecordingListener) RequestProcessingFinished() {
	l.record(RecordedEvent{Event: EventFinished})
}

func (l *RecordingListener) RequestTerminated(err error) {
	l.record(RecordedEvent{Event: EventFailed, Err: err})
}

func (l *RecordingListener) UserProgressInformation(info ProgressInfo) {
	l.record(RecordedEvent{Event: EventProgress, Progress: info})
}

// Done is closed after the first terminal callback.
func (l *RecordingListener) Done() <-chan struct{} {
	return l.done
}

// Events returns a snapshot of the recorded callbacks.
func (l *RecordingListener) Events() []RecordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RecordedEvent(nil), l.events...)
}

// Kinds returns the names of the recorded callbacks in order.
func (l *RecordingListener) Kinds() []ListenerEvent {
	events := l.Events()
	kinds := make([]ListenerEvent, len(events))
	for i, e := range events {
		kinds[i] = e.Event
	}
	return kinds
}

// Result returns the WorkResult delivered through a result progress event, if any.
func (l *RecordingListener) Result() *WorkResult {
	for _, e := range l.Events() {
		if e.Event == EventProgress && e.Progress.Kind == ProgressKindResult {
			return e.Progress.Result
		}
	}
	return nil
}

// Err returns the error delivered by RequestTerminated, if any.
func (l *RecordingListener) Err() error {
	for _, e := range l.Events() {
		if e.Event == EventFailed {
			return e.Err
		}
	}
	return nil
}
