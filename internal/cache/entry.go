package cache

import (
	"sync"

	"swift/job-engine/pkg/types"
)

// event is one recorded listener callback.
type event struct {
	kind types.ListenerEvent
	host types.HostInfo
	info types.ProgressInfo
	err  error
}

func (e event) terminal() bool {
	return e.kind == types.EventFinished || e.kind == types.EventFailed
}

func (e event) deliver(l types.ProgressListener) {
	switch e.kind {
	case types.EventEnqueued:
		l.RequestEnqueued(e.host)
	case types.EventStarted:
		l.RequestProcessingStarted(e.host)
	case types.EventProgress:
		info := e.info
		info.Result = info.Result.Clone()
		l.UserProgressInformation(info)
	case types.EventFinished:
		l.RequestProcessingFinished()
	case types.EventFailed:
		l.RequestTerminated(e.err)
	}
}

// subscriber is one attached listener. Events are queued under the entry
// lock, which fixes their order, and delivered outside it by whichever
// goroutine claims the drain. A callback may therefore submit work to the
// same cache without deadlocking.
type subscriber struct {
	listener types.ProgressListener

	mu       sync.Mutex
	queue    []event
	draining bool
}

func (s *subscriber) enqueue(evs ...event) {
	s.mu.Lock()
	s.queue = append(s.queue, evs...)
	s.mu.Unlock()
}

// drain delivers queued events in order. It returns at once if another
// call is already draining; that call picks up the new events.
func (s *subscriber) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		ev.deliver(s.listener)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// entry is one in-flight execution. Its lock guards the event log and the
// subscriber set, so a late listener receives the full history before any
// newer event.
type entry struct {
	fingerprint string

	mu     sync.Mutex
	events []event
	subs   []*subscriber
	result *types.WorkResult
	done   bool
}

func newEntry(fp string) *entry {
	return &entry{fingerprint: fp}
}

// attach replays the recorded events to l and subscribes it to later ones.
func (e *entry) attach(l types.ProgressListener) {
	s := &subscriber{listener: l}
	e.mu.Lock()
	s.enqueue(e.events...)
	if !e.done {
		e.subs = append(e.subs, s)
	}
	e.mu.Unlock()
	s.drain()
}

// record appends ev to the log and delivers it to every attached listener.
func (e *entry) record(ev event) {
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	if ev.kind == types.EventProgress && ev.info.Kind == types.ProgressKindResult {
		e.result = ev.info.Result.Clone()
	}
	e.events = append(e.events, ev)
	subs := e.subs
	for _, s := range subs {
		s.enqueue(ev)
	}
	if ev.terminal() {
		e.done = true
		e.subs = nil
	}
	e.mu.Unlock()
	for _, s := range subs {
		s.drain()
	}
}

func (e *entry) workResult() *types.WorkResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.Clone()
}
