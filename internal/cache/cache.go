package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// Stats counts how cacheable requests were served.
type Stats struct {
	Hits     int64 `json:"hits"`     // replayed from the store
	Misses   int64 `json:"misses"`   // forwarded to the wrapped sender
	Joins    int64 `json:"joins"`    // attached to an execution already in flight
	InFlight int   `json:"in_flight"`
}

// Cache is a WorkSender decorator that runs each distinct cacheable request at most once at a time.
type Cache struct {
	next   types.WorkSender
	store  Store
	host   string
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]*entry

	hits   atomic.Int64
	misses atomic.Int64
	joins  atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore persists successful results. Without a store only in-flight requests are shared.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New wraps next.
func New(next types.WorkSender, opts ...Option) *Cache {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	c := &Cache{
		next:     next,
		host:     host,
		inflight: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("cache")
	}
	return c
}

// SendWork serves req from the store, from an identical execution already in
// flight, or by forwarding it to the wrapped sender. Requests that are not
// cacheable are always forwarded.
func (c *Cache) SendWork(ctx context.Context, req *types.WorkRequest, listener types.ProgressListener) {
	if !req.Cacheable {
		c.next.SendWork(ctx, req, listener)
		return
	}
	fp, err := Fingerprint(req)
	if err != nil {
		c.logger.Warn("cannot fingerprint request, forwarding", zap.String("service", req.Service), zap.Error(err))
		c.next.SendWork(ctx, req, listener)
		return
	}

	c.mu.Lock()
	if e, ok := c.inflight[fp]; ok {
		c.mu.Unlock()
		c.joins.Add(1)
		c.logger.Debug("joining in-flight request", zap.String("fingerprint", fp))
		e.attach(listener)
		return
	}
	e := newEntry(fp)
	c.inflight[fp] = e
	c.mu.Unlock()

	e.attach(listener)

	if result, ok := c.lookup(fp); ok {
		c.hits.Add(1)
		c.logger.Debug("cache hit", zap.String("fingerprint", fp), zap.String("service", req.Service))
		c.replay(e, req, result)
		return
	}

	c.misses.Add(1)
	c.next.SendWork(ctx, req.Clone(), &entryListener{cache: c, entry: e, req: req.Clone()})
}

func (c *Cache) lookup(fp string) (*types.WorkResult, bool) {
	if c.store == nil {
		return nil, false
	}
	result, ok, err := c.store.Lookup(fp)
	if err != nil {
		c.logger.Warn("cache lookup failed", zap.String("fingerprint", fp), zap.Error(err))
		return nil, false
	}
	return result, ok
}

// replay feeds a stored result through the entry as if it had just executed.
func (c *Cache) replay(e *entry, req *types.WorkRequest, result *types.WorkResult) {
	host := types.HostInfo{Host: c.host, Daemon: "cache", Service: req.Service, RequestID: req.ID}
	e.record(event{kind: types.EventEnqueued, host: host})
	e.record(event{kind: types.EventStarted, host: host})
	e.record(event{kind: types.EventProgress, info: types.ProgressInfo{Kind: types.ProgressKindResult, Result: result}})
	c.release(e)
	e.record(event{kind: types.EventFinished})
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	if c.inflight[e.fingerprint] == e {
		delete(c.inflight, e.fingerprint)
	}
	c.mu.Unlock()
}

// succeeded persists the result, then releases the entry before announcing
// the finish, so callers arriving afterwards find the stored result.
func (c *Cache) succeeded(e *entry, req *types.WorkRequest) {
	if c.store != nil {
		if err := c.store.Put(e.fingerprint, req, e.workResult()); err != nil {
			c.logger.Warn("persisting result failed", zap.String("fingerprint", e.fingerprint), zap.Error(err))
		}
	}
	c.release(e)
	e.record(event{kind: types.EventFinished})
}

// failed releases the entry without persisting, so the next identical request runs again.
func (c *Cache) failed(e *entry, err error) {
	c.release(e)
	e.record(event{kind: types.EventFailed, err: err})
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.inflight)
	c.mu.Unlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Joins:    c.joins.Load(),
		InFlight: n,
	}
}

// entryListener receives the events of the single underlying execution.
type entryListener struct {
	cache *Cache
	entry *entry
	req   *types.WorkRequest
}

func (l *entryListener) RequestEnqueued(host types.HostInfo) {
	l.entry.record(event{kind: types.EventEnqueued, host: host})
}

func (l *entryListener) RequestProcessingStarted(host types.HostInfo) {
	l.entry.record(event{kind: types.EventStarted, host: host})
}

func (l *entryListener) UserProgressInformation(info types.ProgressInfo) {
	l.entry.record(event{kind: types.EventProgress, info: info})
}

func (l *entryListener) RequestProcessingFinished() {
	l.cache.succeeded(l.entry, l.req)
}

func (l *entryListener) RequestTerminated(err error) {
	l.cache.failed(l.entry, err)
}
