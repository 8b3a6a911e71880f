package mediaengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	in := CreateTransportResult{ID: "t1", IceParameters: map[string]any{"foo": "bar"}}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out CreateTransportResult
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, "bar", out.IceParameters["foo"])
}

func TestJSONCodecUnmarshalEmptyIsNoop(t *testing.T) {
	c := jsonCodec{}
	var out CreateTransportResult
	require.NoError(t, c.Unmarshal(nil, &out))
	assert.Equal(t, CreateTransportResult{}, out)
}

func TestMethodPath(t *testing.T) {
	assert.Equal(t, "/mediaengine.v1.MediaEngine/Produce", methodPath("mediaengine.v1.MediaEngine", "Produce"))
}
