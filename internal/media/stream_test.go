package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 320x240 baseline SPS, hand-encoded.
var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1e, 0xda, 0x05, 0x07, 0xe4}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33}
	testP   = []byte{0x41, 0x9a, 0x02, 0x04}
)

func TestCaptureStreamContext_H264(t *testing.T) {
	sc, err := CaptureStreamContext(CodecH264, [][]byte{testSPS, testPPS, testIDR}, TimeBase90k)
	require.NoError(t, err)

	assert.Equal(t, CodecH264, sc.Codec)
	assert.Equal(t, testSPS, sc.SPS)
	assert.Equal(t, testPPS, sc.PPS)
	assert.Equal(t, 320, sc.Width)
	assert.Equal(t, 240, sc.Height)
	assert.True(t, sc.Complete())
	assert.False(t, sc.IsZero())
	assert.Equal(t, "h264 320x240 tb=1/90000", sc.String())
}

func TestCaptureStreamContext_MissingParams(t *testing.T) {
	sc, err := CaptureStreamContext(CodecH264, [][]byte{testIDR}, TimeBase90k)
	require.NoError(t, err)
	assert.False(t, sc.Complete())
}

func TestCaptureStreamContext_Unsupported(t *testing.T) {
	_, err := CaptureStreamContext(Codec("vp9"), nil, TimeBase90k)
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func TestCodec_IsRandomAccess(t *testing.T) {
	assert.True(t, CodecH264.IsRandomAccess([][]byte{testSPS, testPPS, testIDR}))
	assert.False(t, CodecH264.IsRandomAccess([][]byte{testP}))
	assert.False(t, Codec("").IsRandomAccess([][]byte{testIDR}))
}
