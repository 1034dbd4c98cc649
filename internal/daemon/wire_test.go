package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swift/job-engine/pkg/types"
)

func TestDecodeResponseValidates(t *testing.T) {
	for _, body := range []string{
		`garbage`,
		`{"kind":"enqueued"}`,
		`{"kind":"progress"}`,
		`{"kind":"failed"}`,
		`{"kind":"exploded"}`,
	} {
		_, err := decodeResponse([]byte(body))
		assert.True(t, types.IsProtocolError(err), body)
	}

	data, err := encodeResponse(&response{Kind: responseFailed, Error: types.ToWireError(types.NewInitError("t", "dep failed", nil))})
	require.NoError(t, err)
	r, err := decodeResponse(data)
	require.NoError(t, err)
	assert.True(t, r.last())
	assert.True(t, types.IsInitError(r.Error.Err()))
}

func TestDecodeRequestRequiresService(t *testing.T) {
	_, err := decodeRequest([]byte(`{"type":"x"}`))
	assert.True(t, types.IsProtocolError(err))

	data, err := encodeRequest(&types.WorkRequest{Service: "s", Payload: map[string]any{"n": 1}})
	require.NoError(t, err)
	req, err := decodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, "s", req.Service)
	assert.EqualValues(t, 1, req.Payload["n"])
}
