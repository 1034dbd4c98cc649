package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBrokerUnreachable marks dial failures that are worth retrying.
var ErrBrokerUnreachable = errors.New("broker unreachable")

// ErrConnectionClosed is returned by operations on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// Connection is one live link to a broker.
type Connection interface {
	// Start makes the connection ready to send and receive.
	Start(ctx context.Context) error
	// Send appends msg to the named queue.
	Send(ctx context.Context, queue string, msg *Message) error
	// Receive waits up to timeout for the next message on the queue.
	// It returns nil, nil when the timeout elapses.
	Receive(ctx context.Context, queue string, timeout time.Duration) (*Message, error)
	Close() error
}

// Dialer opens a connection for an identity.
type Dialer func(ctx context.Context, id Identity) (Connection, error)

// DefaultDialer chooses the broker implementation from the address scheme.
func DefaultDialer(ctx context.Context, id Identity) (Connection, error) {
	switch id.Scheme() {
	case "memory":
		return DialMemory(ctx, id)
	case "redis", "rediss":
		return DialRedis(ctx, id)
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q in %s", id.Scheme(), id)
	}
}
