package timeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand("split_clip", json.RawMessage(`{"id":"c1","at":4}`))
	require.NoError(t, err)
	assert.Equal(t, SplitClip{ID: "c1", At: 4}, cmd)

	cmd, err = DecodeCommand("move_clip", json.RawMessage(`{"id":"c1","trackId":"t2","startTime":3.5,"transient":true}`))
	require.NoError(t, err)
	mv, ok := cmd.(MoveClip)
	require.True(t, ok)
	assert.True(t, mv.Transient)
	assert.False(t, mv.RecordsHistory())

	cmd, err = DecodeCommand("clear_selection", nil)
	require.NoError(t, err)
	assert.Equal(t, ClearSelection{}, cmd)

	_, err = DecodeCommand("explode", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = DecodeCommand("set_zoom", json.RawMessage(`{"zoom":"big"}`))
	assert.Error(t, err)
}

func TestCommandNames_AllRoundTrip(t *testing.T) {
	names := CommandNames()
	assert.Contains(t, names, "delete_clips")
	assert.Contains(t, names, "split_at_playhead")
	for _, name := range names {
		cmd, err := DecodeCommand(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestDecodeCommand_DispatchThroughStore(t *testing.T) {
	st, video := newTestStore(t)
	payload, _ := json.Marshal(map[string]any{
		"clip": map[string]any{"trackId": video, "originalDuration": 6, "sourceUrl": "https://a.com/x.mp4"},
	})
	cmd, err := DecodeCommand("add_clip", payload)
	require.NoError(t, err)

	res := st.Dispatch(cmd)
	require.Equal(t, StatusApplied, res.Status)
	c, ok := st.Clip(res.ID)
	require.True(t, ok)
	assert.Equal(t, 6.0, c.Duration)
}
