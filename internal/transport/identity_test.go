package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceURI(t *testing.T) {
	assert.Equal(t, "redis://h:6379/0?simplequeue=align", ServiceURI("redis://h:6379/0", "align"))
	assert.Equal(t, "redis://h:6379/0?db=1&simplequeue=align", ServiceURI("redis://h:6379/0?db=1", "align"))
	assert.Equal(t, "memory://x?simplequeue=a+b", ServiceURI("memory://x", "a b"))
}

func TestParseServiceURI(t *testing.T) {
	tests := []struct {
		broker string
		queue  string
	}{
		{"redis://h:6379/0", "align"},
		{"redis://h:6379/0?db=1", "align"},
		{"memory://x", "with space"},
		{"h:6379", "q"},
	}
	for _, tt := range tests {
		broker, queue, err := ParseServiceURI(ServiceURI(tt.broker, tt.queue))
		require.NoError(t, err)
		assert.Equal(t, tt.broker, broker)
		assert.Equal(t, tt.queue, queue)
	}

	_, _, err := ParseServiceURI("redis://h:6379")
	assert.Error(t, err)
	_, _, err = ParseServiceURI("redis://h:6379?db=1")
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	id := Identity{Address: "redis://h:1", User: "u", Password: "p"}
	assert.Equal(t, "u@redis://h:1", id.String())
	assert.NotContains(t, id.String(), "p@")
	assert.Equal(t, "redis", id.Scheme())
	assert.Equal(t, "redis", Identity{Address: "h:1"}.Scheme())
	assert.Equal(t, "memory", Identity{Address: "memory://a"}.Scheme())
	assert.NotEqual(t, id.key(), Identity{Address: "redis://h:1", User: "u"}.key())
}

func TestMessageCodec(t *testing.T) {
	msg := &Message{ID: "1", CorrelationID: "c", ReplyTo: "r", Last: true, Body: []byte(`{"a":1}`)}
	data, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	_, err = Decode([]byte("not json"))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"body":"e30="}`))
	assert.Error(t, err)
	_, err = Encode(&Message{})
	assert.Error(t, err)
}
