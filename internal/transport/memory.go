package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	memoryMu      sync.Mutex
	memoryBrokers = make(map[string]*MemoryBroker)
)

// MemoryBroker is an in-process broker addressed as memory://<name>.
// Every connection to the same name shares its queues.
type MemoryBroker struct {
	name        string
	mu          sync.Mutex
	queues      map[string]*memoryQueue
	unreachable atomic.Bool
}

type memoryQueue struct {
	items  [][]byte
	signal chan struct{}
}

// MemoryBrokerFor returns the broker registered under name, creating it on first use.
func MemoryBrokerFor(name string) *MemoryBroker {
	memoryMu.Lock()
	defer memoryMu.Unlock()
	b, ok := memoryBrokers[name]
	if !ok {
		b = &MemoryBroker{name: name, queues: make(map[string]*memoryQueue)}
		memoryBrokers[name] = b
	}
	return b
}

// SetReachable controls whether new dials to this broker succeed.
func (b *MemoryBroker) SetReachable(reachable bool) {
	b.unreachable.Store(!reachable)
}

// Len returns the number of messages waiting on a queue.
func (b *MemoryBroker) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queue]; ok {
		return len(q.items)
	}
	return 0
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{signal: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) push(queue string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	q.items = append(q.items, data)
	close(q.signal)
	q.signal = make(chan struct{})
}

// pop returns the head of the queue, or the channel closed on the next push.
func (b *MemoryBroker) pop(queue string) ([]byte, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(queue)
	if len(q.items) > 0 {
		data := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		return data, nil
	}
	return nil, q.signal
}

// MemoryConnection is a connection to a MemoryBroker. Messages are encoded
// on send and decoded on receive, exactly like on a network broker.
type MemoryConnection struct {
	broker  *MemoryBroker
	started atomic.Bool
	closed  chan struct{}
	once    sync.Once
}

// DialMemory connects to the memory broker named by id.Address.
func DialMemory(_ context.Context, id Identity) (Connection, error) {
	name := strings.TrimPrefix(id.Address, "memory://")
	if i := strings.IndexAny(name, "/?"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return nil, fmt.Errorf("memory broker address %q has no name", id.Address)
	}
	b := MemoryBrokerFor(name)
	if b.unreachable.Load() {
		return nil, fmt.Errorf("%w: %s", ErrBrokerUnreachable, id)
	}
	return &MemoryConnection{broker: b, closed: make(chan struct{})}, nil
}

// Broker returns the broker this connection talks to.
func (c *MemoryConnection) Broker() *MemoryBroker {
	return c.broker
}

func (c *MemoryConnection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *MemoryConnection) Start(context.Context) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	c.started.Store(true)
	return nil
}

func (c *MemoryConnection) Send(_ context.Context, queue string, msg *Message) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	c.broker.push(queue, data)
	return nil
}

func (c *MemoryConnection) Receive(ctx context.Context, queue string, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if c.isClosed() {
			return nil, ErrConnectionClosed
		}
		data, wait := c.broker.pop(queue)
		if data != nil {
			return Decode(data)
		}
		select {
		case <-wait:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, ErrConnectionClosed
		}
	}
}

func (c *MemoryConnection) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
