package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "jobengine:"

// RedisConnection uses Redis lists as queues: RPUSH to send, BLPOP to receive.
type RedisConnection struct {
	id      Identity
	client  *redis.Client
	started atomic.Bool
	closed  atomic.Bool
}

// NewRedisConnection creates an unstarted connection for id.
func NewRedisConnection(id Identity) (*RedisConnection, error) {
	opts, err := redisOptions(id)
	if err != nil {
		return nil, err
	}
	return &RedisConnection{id: id, client: redis.NewClient(opts)}, nil
}

func redisOptions(id Identity) (*redis.Options, error) {
	var opts *redis.Options
	if strings.Contains(id.Address, "://") {
		parsed, err := redis.ParseURL(id.Address)
		if err != nil {
			return nil, fmt.Errorf("parse broker address %s: %w", id, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: id.Address}
	}
	if id.User != "" {
		opts.Username = id.User
	}
	if id.Password != "" {
		opts.Password = id.Password
	}
	opts.MaxRetries = -1
	opts.DialTimeout = 5 * time.Second
	return opts, nil
}

// DialRedis opens and pings a Redis connection.
func DialRedis(ctx context.Context, id Identity) (Connection, error) {
	c, err := NewRedisConnection(id)
	if err != nil {
		return nil, err
	}
	if err := c.ping(ctx); err != nil {
		_ = c.client.Close()
		return nil, err
	}
	return c, nil
}

func (c *RedisConnection) ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		if isNetworkError(err) {
			return fmt.Errorf("%w: %s: %v", ErrBrokerUnreachable, c.id, err)
		}
		return fmt.Errorf("ping %s: %w", c.id, err)
	}
	return nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, net.ErrClosed)
}

func (c *RedisConnection) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if c.started.Load() {
		return nil
	}
	if err := c.ping(ctx); err != nil {
		return err
	}
	c.started.Store(true)
	return nil
}

func (c *RedisConnection) Send(ctx context.Context, queue string, msg *Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := c.client.RPush(ctx, redisKeyPrefix+queue, data).Err(); err != nil {
		return fmt.Errorf("send to %s: %w", queue, err)
	}
	return nil
}

func (c *RedisConnection) Receive(ctx context.Context, queue string, timeout time.Duration) (*Message, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	// BLPOP works in whole seconds.
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := c.client.BLPop(ctx, timeout, redisKeyPrefix+queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if c.closed.Load() || errors.Is(err, redis.ErrClosed) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("receive from %s: %w", queue, err)
	}
	// res is [key, value]
	return Decode([]byte(res[1]))
}

func (c *RedisConnection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.client.Close()
}
