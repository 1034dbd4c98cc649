package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"swift/job-engine/pkg/types"
)

// refusingDialer fails with ErrBrokerUnreachable for the first n dials.
type refusingDialer struct {
	refusals int32
	dials    atomic.Int32
	closeErr error
}

func (d *refusingDialer) dial(ctx context.Context, id Identity) (Connection, error) {
	n := d.dials.Add(1)
	if n <= d.refusals {
		return nil, fmt.Errorf("%w: attempt %d", ErrBrokerUnreachable, n)
	}
	c, err := DialMemory(ctx, Identity{Address: "memory://pool-test"})
	if err != nil {
		return nil, err
	}
	if d.closeErr != nil {
		return &failingClose{Connection: c, err: d.closeErr}, nil
	}
	return c, nil
}

type failingClose struct {
	Connection
	err error
}

func (f *failingClose) Close() error { return f.err }

func TestPoolReconnectsAfterRefusals(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := &refusingDialer{refusals: 3}
	delay := 50 * time.Millisecond
	p := NewConnectionPool(WithDialer(d.dial), WithRetryDelay(delay), WithPoolLogger(zap.New(core)))
	defer p.Close()

	start := time.Now()
	c, err := p.Get(context.Background(), "memory://pool-test", "", "")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, int32(4), d.dials.Load())
	assert.GreaterOrEqual(t, elapsed, 3*delay)
	assert.Less(t, elapsed, 3*delay+time.Second)
	assert.Equal(t, 3, logs.FilterMessage("broker unreachable, retrying").Len())
}

func TestPoolReusesConnectionPerIdentity(t *testing.T) {
	d := &refusingDialer{}
	p := NewConnectionPool(WithDialer(d.dial))
	defer p.Close()
	ctx := context.Background()

	a, err := p.Get(ctx, "memory://pool-test", "u", "p")
	require.NoError(t, err)
	b, err := p.Get(ctx, "memory://pool-test", "u", "p")
	require.NoError(t, err)
	c, err := p.Get(ctx, "memory://pool-test", "other", "p")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, int32(2), d.dials.Load())
	assert.Equal(t, 2, p.Size())
}

func TestPoolCollapsesConcurrentDials(t *testing.T) {
	d := &refusingDialer{refusals: 1}
	p := NewConnectionPool(WithDialer(d.dial), WithRetryDelay(20*time.Millisecond))
	defer p.Close()

	var wg sync.WaitGroup
	conns := make([]Connection, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Get(context.Background(), "memory://pool-test", "", "")
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range conns[1:] {
		assert.Same(t, conns[0], c)
	}
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestPoolFatalErrorIsNotRetried(t *testing.T) {
	var dials atomic.Int32
	boom := errors.New("bad credentials")
	p := NewConnectionPool(WithRetryDelay(time.Hour), WithDialer(func(context.Context, Identity) (Connection, error) {
		dials.Add(1)
		return nil, boom
	}))
	defer p.Close()

	_, err := p.Get(context.Background(), "memory://x", "", "")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, 0, p.Size())
}

func TestPoolStartFailureIsReported(t *testing.T) {
	p := NewConnectionPool(WithDialer(func(ctx context.Context, id Identity) (Connection, error) {
		c, err := DialMemory(ctx, Identity{Address: "memory://pool-start"})
		require.NoError(t, err)
		_ = c.Close()
		return c, nil
	}))
	defer p.Close()

	_, err := p.Get(context.Background(), "memory://pool-start", "", "")
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestPoolCancelAbortsRetry(t *testing.T) {
	d := &refusingDialer{refusals: 1000}
	p := NewConnectionPool(WithDialer(d.dial), WithRetryDelay(time.Hour))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Get(ctx, "memory://pool-test", "", "")
	require.Error(t, err)
	assert.True(t, types.IsUnreachable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPoolCloseSwallowsErrors(t *testing.T) {
	d := &refusingDialer{closeErr: errors.New("close failed")}
	p := NewConnectionPool(WithDialer(d.dial))

	_, err := p.Get(context.Background(), "memory://pool-test", "", "")
	require.NoError(t, err)

	assert.NotPanics(t, p.Close)
	assert.Equal(t, 0, p.Size())

	_, err = p.Get(context.Background(), "memory://pool-test", "", "")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestResolveRetryDelay(t *testing.T) {
	tests := []struct {
		env  string
		want time.Duration
	}{
		{"", 10 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"2", 2 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"soon", 10 * time.Second},
		{"-1s", 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(RetryDelayEnv, tt.env)
			assert.Equal(t, tt.want, ResolveRetryDelay(DefaultRetryDelay))
		})
	}
}

func TestPoolEnvOverridesConfiguredDelay(t *testing.T) {
	t.Setenv(RetryDelayEnv, "3s")
	assert.Equal(t, 3*time.Second, NewConnectionPool(WithRetryDelay(time.Second)).RetryDelay())

	t.Setenv(RetryDelayEnv, "")
	assert.Equal(t, time.Second, NewConnectionPool(WithRetryDelay(time.Second)).RetryDelay())
	assert.Equal(t, DefaultRetryDelay, NewConnectionPool().RetryDelay())
}
