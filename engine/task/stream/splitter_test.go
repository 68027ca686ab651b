package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitter(t *testing.T) {
	t.Run("Should hold back partial lines until the newline arrives", func(t *testing.T) {
		s := &Splitter{}
		assert.Empty(t, s.Push([]byte(`data: {"event_`)))
		assert.Equal(t, 14, s.Pending())
		lines := s.Push([]byte("name\":\"x\"}\ndata: "))
		assert.Equal(t, []string{`data: {"event_name":"x"}`}, lines)
		assert.Equal(t, []string{"data: [DONE]"}, s.Push([]byte("[DONE]\n")))
		assert.Zero(t, s.Pending())
	})
	t.Run("Should split several lines from one chunk and strip CR", func(t *testing.T) {
		s := &Splitter{}
		lines := s.Push([]byte("a\r\nb\n\nc"))
		assert.Equal(t, []string{"a", "b", ""}, lines)
		assert.Equal(t, []string{"c"}, s.Flush())
		assert.Nil(t, s.Flush())
	})
	t.Run("Should return nothing on flush when empty", func(t *testing.T) {
		s := &Splitter{}
		s.Push([]byte("line\n"))
		assert.Nil(t, s.Flush())
	})
}

func TestParseFrame(t *testing.T) {
	t.Run("Should ignore lines without data prefix", func(t *testing.T) {
		for _, line := range []string{"", ":heartbeat", "event: error", "data:{}"} {
			_, ok, err := ParseFrame(line)
			assert.NoError(t, err)
			assert.False(t, ok, line)
		}
	})
	t.Run("Should ignore the DONE sentinel", func(t *testing.T) {
		_, ok, err := ParseFrame("data: [DONE]")
		assert.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("Should decode event_name step and content", func(t *testing.T) {
		f, ok, err := ParseFrame(`data: {"event_name":"agent:lifecycle:step","step":3,"content":{"a":1}}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "agent:lifecycle:step", f.EventName)
		assert.Equal(t, 3, f.Step)
		assert.JSONEq(t, `{"a":1}`, string(f.Content))
	})
	t.Run("Should fall back to name", func(t *testing.T) {
		f, ok, err := ParseFrame(`data: {"index":0,"type":"progress","name":"agent:lifecycle:start","step":0,"content":{"request":"hi"}}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "agent:lifecycle:start", f.EventName)
	})
	t.Run("Should default missing content to an empty object", func(t *testing.T) {
		f, ok, err := ParseFrame(`data: {"event_name":"x"}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, json.RawMessage(`{}`), f.Content)
	})
	t.Run("Should report malformed payloads", func(t *testing.T) {
		for _, line := range []string{`data: {"event_name":`, `data: [1,2]`, `data: {"step":1}`} {
			_, ok, err := ParseFrame(line)
			assert.Error(t, err, line)
			assert.False(t, ok)
		}
	})
}
