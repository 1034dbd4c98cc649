package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkErrorFormatting(t *testing.T) {
	err := NewProcessingError("worker crashed", errors.New("boom"))
	assert.Equal(t, "[PROCESSING_ERROR] worker crashed: boom", err.Error())
	assert.Equal(t, "[CONFIG_ERROR] bad", NewConfigError("bad", nil).Error())
}

func TestKindOfFollowsWrapping(t *testing.T) {
	err := fmt.Errorf("sending: %w", NewProtocolError("malformed", nil))
	assert.Equal(t, ErrKindProtocol, KindOf(err))
	assert.True(t, IsProtocolError(err))
	assert.False(t, IsUnreachable(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestWireErrorRoundTrip(t *testing.T) {
	assert.Nil(t, ToWireError(nil))

	w := ToWireError(errors.New("disk full"))
	require.NotNil(t, w)
	assert.Equal(t, ErrKindProcessing, w.Kind)

	back := w.Err()
	assert.True(t, IsProcessingError(back))
	assert.Contains(t, back.Error(), "disk full")

	init := ToWireError(NewInitError("t1", "input failed", nil))
	assert.True(t, IsInitError(init.Err()))
	assert.Equal(t, "[INIT_FAILED] input failed", init.Err().Error())
}
