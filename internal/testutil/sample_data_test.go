package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateStream(t *testing.T) {
	packets := GenerateStream(StreamSpec{
		Duration:      4 * time.Second,
		FPS:           30,
		KeyframeEvery: 2 * time.Second,
		StartPTS:      1000,
	})
	require.Len(t, packets, 120)

	assert.True(t, packets[0].Keyframe)
	assert.False(t, packets[1].Keyframe)
	assert.True(t, packets[60].Keyframe)
	assert.Equal(t, int64(1000), packets[0].PTS)
	assert.Equal(t, int64(1000+3000*119), packets[119].PTS)

	for i, p := range packets {
		assert.Equal(t, i, FrameIndex(p.AU))
	}
}

func TestFrameIndex_LargeIndex(t *testing.T) {
	assert.Equal(t, 1949, FrameIndex(Frame(1949, false)))
	assert.Equal(t, 12345, FrameIndex(Frame(12345, true)))
	assert.Equal(t, -1, FrameIndex([][]byte{SPS, PPS}))
}

func TestEncodeTS(t *testing.T) {
	data, err := EncodeTS(GenerateStream(StreamSpec{Duration: time.Second, FPS: 30}))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Zero(t, len(data)%188)
}

func TestDecodeTSFrames(t *testing.T) {
	data, err := EncodeTS(GenerateStream(StreamSpec{Duration: time.Second, FPS: 30, KeyframeEvery: 500 * time.Millisecond}))
	require.NoError(t, err)

	frames, err := DecodeTSFrames(data)
	require.NoError(t, err)
	require.Len(t, frames, 30, "final access unit flushed at end of input")
	for i, f := range frames {
		assert.Equal(t, i, f)
	}
}
