package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	segments, err := Split("channels/r1/a/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"channels", "r1", "a", "b"}, segments)

	for _, bad := range []string{"", "room//a", "/room", "room/", "room/a.b", "chat/#1", "x/$y", "a/[b]"} {
		_, err := Split(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func TestLayout(t *testing.T) {
	assert.Equal(t, "room/r1", PresencePath("r1"))
	assert.Equal(t, "room/r1/s1", MemberPath("r1", "s1"))
	assert.Equal(t, "chat/r1", ChatPath("r1"))
	assert.Equal(t, "channels/r1", ChannelsPath("r1"))
}

func TestEncode(t *testing.T) {
	raw, err := Encode("s1")
	require.NoError(t, err)
	assert.JSONEq(t, `"s1"`, string(raw))

	raw, err = Encode(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))

	_, err = Encode(json.RawMessage(`{`))
	assert.Error(t, err)
}
