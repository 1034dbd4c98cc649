package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceStats(t *testing.T) {
	s := NewServiceStats()
	for i := 1; i <= 100; i++ {
		s.requestReceived()
		s.requestDone(time.Duration(i)*time.Millisecond, i%10 != 0)
	}
	s.requestReceived()

	snap := s.Snapshot()
	assert.Equal(t, int64(101), snap.Received)
	assert.Equal(t, int64(90), snap.Succeeded)
	assert.Equal(t, int64(10), snap.Failed)
	assert.Equal(t, int64(1), snap.InFlight)
	assert.InDelta(t, 50, snap.P50Ms, 1)
	assert.InDelta(t, 95, snap.P95Ms, 1)
	assert.InDelta(t, 100, snap.MaxMs, 1)
}
