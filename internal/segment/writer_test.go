package segment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlssplit/internal/media"
	"github.com/jmylchreest/hlssplit/internal/testutil"
)

func writeSegment(t *testing.T, w *FileWriter, name string, packets []media.Packet) Info {
	t.Helper()
	seg, err := w.Open(name, testutil.StreamContext())
	require.NoError(t, err)

	origin := Start(packets[0])
	for _, p := range packets {
		require.NoError(t, seg.WritePacket(Rebase(p, origin)))
	}
	info, err := seg.Close()
	require.NoError(t, err)
	return info
}

func TestParseContainer(t *testing.T) {
	c, err := ParseContainer("")
	require.NoError(t, err)
	assert.Equal(t, ContainerMP4, c)

	c, err = ParseContainer("TS")
	require.NoError(t, err)
	assert.Equal(t, ContainerTS, c)
	assert.Equal(t, ".ts", c.Extension())

	_, err = ParseContainer("mkv")
	assert.Error(t, err)
}

func TestFileWriter_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	w, err := NewFileWriter(FileWriterConfig{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, ContainerMP4, w.Container())

	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}

func TestFileWriter_PartFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(FileWriterConfig{Dir: dir, Container: ContainerTS})
	require.NoError(t, err)

	seg, err := w.Open("seg", testutil.StreamContext())
	require.NoError(t, err)
	assert.Equal(t, "seg", seg.Name())
	assert.FileExists(t, filepath.Join(dir, "seg.ts.part"))
	assert.NoFileExists(t, filepath.Join(dir, "seg.ts"))
	assert.True(t, w.Exists("seg"), "in-progress names are taken")

	packets := testutil.GenerateStream(testutil.StreamSpec{Duration: time.Second, KeyframeEvery: time.Second})
	for _, p := range packets {
		require.NoError(t, seg.WritePacket(p))
	}
	info, err := seg.Close()
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "seg.ts"))
	assert.NoFileExists(t, filepath.Join(dir, "seg.ts.part"))
	assert.Equal(t, filepath.Join(dir, "seg.ts"), info.Path)
	assert.Equal(t, 30, info.Packets)
	assert.Equal(t, time.Second, info.Duration)
	assert.Positive(t, info.Bytes)

	st, err := os.Stat(info.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Bytes, st.Size())

	// Second close is a no-op, writes after close fail.
	_, err = seg.Close()
	assert.NoError(t, err)
	assert.ErrorIs(t, seg.WritePacket(packets[0]), media.ErrOutputWrite)
}

func TestFileWriter_AbortRemovesPart(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(FileWriterConfig{Dir: dir})
	require.NoError(t, err)

	seg, err := w.Open("broken", testutil.StreamContext())
	require.NoError(t, err)
	require.NoError(t, seg.Abort())

	assert.NoFileExists(t, filepath.Join(dir, "broken.mp4.part"))
	assert.NoFileExists(t, filepath.Join(dir, "broken.mp4"))
	assert.False(t, w.Exists("broken"))
}

func TestFileWriter_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(FileWriterConfig{Dir: dir})
	require.NoError(t, err)

	existing := filepath.Join(dir, "taken.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o644))
	assert.True(t, w.Exists("taken"))

	_, err = w.Open("taken", testutil.StreamContext())
	assert.ErrorIs(t, err, media.ErrOutputWrite)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
	assert.NoFileExists(t, existing+partSuffix)
}

func TestFileWriter_RejectsIncompleteStream(t *testing.T) {
	w, err := NewFileWriter(FileWriterConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	_, err = w.Open("x", media.StreamContext{Codec: media.CodecH264, SPS: testutil.SPS})
	assert.ErrorIs(t, err, media.ErrOutputWrite)
}

func TestFileWriter_TSOutput(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(FileWriterConfig{Dir: dir, Container: ContainerTS})
	require.NoError(t, err)

	packets := testutil.GenerateStream(testutil.StreamSpec{
		Duration:      4 * time.Second,
		KeyframeEvery: 2 * time.Second,
		StartPTS:      1_000_000,
		DTSLag:        3000,
	})
	info := writeSegment(t, w, "clip", packets)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)

	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(data))
	var (
		ptss    []int64
		indexes []int
		keyHas  []bool
	)
	for {
		d, err := dmx.NextData()
		if errors.Is(err, astits.ErrNoMorePackets) {
			break
		}
		require.NoError(t, err)
		if d.PES == nil {
			continue
		}
		require.NotNil(t, d.PES.Header.OptionalHeader)
		ptss = append(ptss, d.PES.Header.OptionalHeader.PTS.Base)

		var au h264.AnnexB
		require.NoError(t, au.Unmarshal(d.PES.Data))
		indexes = append(indexes, testutil.FrameIndex(au))

		hasSPS := false
		for _, nalu := range au {
			if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeSPS {
				hasSPS = true
			}
		}
		keyHas = append(keyHas, hasSPS)
	}

	require.Len(t, ptss, len(packets))
	assert.Equal(t, int64(0), ptss[0], "segment starts at zero")
	for i := 1; i < len(ptss); i++ {
		assert.GreaterOrEqual(t, ptss[i], ptss[i-1])
	}
	for i, idx := range indexes {
		assert.Equal(t, i, idx, "packet order preserved")
	}
	assert.True(t, keyHas[0])
	assert.True(t, keyHas[60])
}

func TestFileWriter_MP4Output(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(FileWriterConfig{Dir: dir})
	require.NoError(t, err)

	packets := testutil.GenerateStream(testutil.StreamSpec{
		Duration:      5 * time.Second,
		KeyframeEvery: 2 * time.Second,
		StartPTS:      7_000_000,
	})
	info := writeSegment(t, w, "clip", packets)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), info.Path)
	assert.Equal(t, 5*time.Second, info.Duration)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)

	mdhd, err := gomp4.ExtractBoxWithPayload(bytes.NewReader(data), nil, gomp4.BoxPath{
		gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMdhd(),
	})
	require.NoError(t, err)
	require.Len(t, mdhd, 1)
	assert.Equal(t, uint32(90000), mdhd[0].Payload.(*gomp4.Mdhd).Timescale)

	tfdts, err := gomp4.ExtractBoxWithPayload(bytes.NewReader(data), nil, gomp4.BoxPath{
		gomp4.BoxTypeMoof(), gomp4.BoxTypeTraf(), gomp4.BoxTypeTfdt(),
	})
	require.NoError(t, err)
	require.Len(t, tfdts, 3, "one fragment per GOP")

	var bases []uint64
	for _, b := range tfdts {
		bases = append(bases, b.Payload.(*gomp4.Tfdt).GetBaseMediaDecodeTime())
	}
	assert.Equal(t, []uint64{0, 180000, 360000}, bases)

	assert.Equal(t, []uint32{60, 60, 30}, trunSampleCounts(t, data))
}

func TestFileWriter_MP4SamplesDecode(t *testing.T) {
	w, err := NewFileWriter(FileWriterConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	packets := testutil.GenerateStream(testutil.StreamSpec{
		Duration:      5 * time.Second,
		KeyframeEvery: 2 * time.Second,
	})
	info := writeSegment(t, w, "decode", packets)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)

	var parts fmp4.Parts
	require.NoError(t, parts.Unmarshal(data))
	require.Len(t, parts, 3)

	var frames []int
	for i, part := range parts {
		assert.Equal(t, uint32(i+1), part.SequenceNumber)
		require.Len(t, part.Tracks, 1)
		for _, sample := range part.Tracks[0].Samples {
			au, err := sample.GetH264()
			require.NoError(t, err)
			idx := testutil.FrameIndex(au)
			assert.Equal(t, idx%60 != 0, sample.IsNonSyncSample, "frame %d", idx)
			assert.Equal(t, uint32(3000), sample.Duration)
			frames = append(frames, idx)
		}
	}
	require.Len(t, frames, 150)
	for i, f := range frames {
		assert.Equal(t, i, f)
	}
}

func TestFileWriter_MP4FragmentCap(t *testing.T) {
	w, err := NewFileWriter(FileWriterConfig{Dir: t.TempDir(), MaxFragmentSamples: 25})
	require.NoError(t, err)

	packets := testutil.GenerateStream(testutil.StreamSpec{Duration: 2 * time.Second})
	info := writeSegment(t, w, "long-gop", packets)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.Equal(t, []uint32{25, 25, 10}, trunSampleCounts(t, data))
}

func trunSampleCounts(t *testing.T, data []byte) []uint32 {
	t.Helper()
	truns, err := gomp4.ExtractBoxWithPayload(bytes.NewReader(data), nil, gomp4.BoxPath{
		gomp4.BoxTypeMoof(), gomp4.BoxTypeTraf(), gomp4.BoxTypeTrun(),
	})
	require.NoError(t, err)
	var counts []uint32
	for _, b := range truns {
		counts = append(counts, b.Payload.(*gomp4.Trun).SampleCount)
	}
	return counts
}
