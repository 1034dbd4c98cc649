package daemon

import (
	"sync"

	"swift/job-engine/pkg/types"
)

// listenerGuard serializes callbacks to a listener and enforces a single
// terminal call, dropping anything that arrives after it.
type listenerGuard struct {
	mu   sync.Mutex
	l    types.ProgressListener
	done bool
}

func newListenerGuard(l types.ProgressListener) *listenerGuard {
	return &listenerGuard{l: l}
}

func (g *listenerGuard) call(terminal bool, fn func(types.ProgressListener)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return
	}
	if terminal {
		g.done = true
	}
	fn(g.l)
}

func (g *listenerGuard) terminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

func (g *listenerGuard) RequestEnqueued(host types.HostInfo) {
	g.call(false, func(l types.ProgressListener) { l.RequestEnqueued(host) })
}

func (g *listenerGuard) RequestProcessingStarted(host types.HostInfo) {
	g.call(false, func(l types.ProgressListener) { l.RequestProcessingStarted(host) })
}

func (g *listenerGuard) RequestProcessingFinished() {
	g.call(true, func(l types.ProgressListener) { l.RequestProcessingFinished() })
}

func (g *listenerGuard) RequestTerminated(err error) {
	g.call(true, func(l types.ProgressListener) { l.RequestTerminated(err) })
}

func (g *listenerGuard) UserProgressInformation(info types.ProgressInfo) {
	g.call(false, func(l types.ProgressListener) { l.UserProgressInformation(info) })
}
