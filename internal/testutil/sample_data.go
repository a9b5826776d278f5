// Package testutil provides synthetic H.264 streams and fake collaborators
// shared by package tests.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/hlssplit/internal/media"
)

// Hand-encoded H.264 NAL units. The SPS describes a 320x240 baseline stream.
var (
	SPS = []byte{0x67, 0x42, 0x00, 0x1e, 0xda, 0x05, 0x07, 0xe4}
	PPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

// StreamContext is the context matching SPS/PPS.
func StreamContext() media.StreamContext {
	return media.StreamContext{
		Codec:    media.CodecH264,
		SPS:      SPS,
		PPS:      PPS,
		Width:    320,
		Height:   240,
		TimeBase: media.TimeBase90k,
	}
}

// StreamSpec describes a synthetic constant-frame-rate video stream.
type StreamSpec struct {
	Duration time.Duration
	FPS      int

	// KeyframeEvery is the GOP length. Zero means only the first frame is a
	// keyframe.
	KeyframeEvery time.Duration

	// StartPTS is the raw timestamp of the first frame.
	StartPTS int64

	// DTSLag is subtracted from PTS to form DTS.
	DTSLag int64
}

// GenerateStream returns the packets described by spec in decode order,
// without a trailing sentinel.
func GenerateStream(spec StreamSpec) []media.Packet {
	if spec.FPS <= 0 {
		spec.FPS = 30
	}
	tb := media.TimeBase90k
	ticksPerFrame := tb.Den / (tb.Num * int64(spec.FPS))
	frames := int(spec.Duration.Seconds() * float64(spec.FPS))
	gop := int(spec.KeyframeEvery.Seconds() * float64(spec.FPS))

	packets := make([]media.Packet, 0, frames)
	for i := 0; i < frames; i++ {
		keyframe := i == 0 || (gop > 0 && i%gop == 0)
		pts := spec.StartPTS + int64(i)*ticksPerFrame
		packets = append(packets, media.NewPacket(pts, pts-spec.DTSLag, tb, keyframe, Frame(i, keyframe)))
	}
	return packets
}

// Frame builds the access unit for frame index i. The index is recoverable
// with FrameIndex.
func Frame(i int, keyframe bool) [][]byte {
	tag := []byte{byte(i%250 + 1), byte(i/250%250 + 1)}
	if keyframe {
		idr := append([]byte{0x65, 0x88, 0x84}, tag...)
		return [][]byte{SPS, PPS, idr}
	}
	return [][]byte{append([]byte{0x41, 0x9a, 0x02}, tag...)}
}

// FrameIndex recovers the index encoded by Frame, or -1.
func FrameIndex(au [][]byte) int {
	for i := len(au) - 1; i >= 0; i-- {
		nalu := au[i]
		if len(nalu) != 5 {
			continue
		}
		typ := nalu[0] & 0x1F
		if typ != 1 && typ != 5 {
			continue
		}
		return int(nalu[3]-1) + int(nalu[4]-1)*250
	}
	return -1
}

// EncodeTS muxes packets into an MPEG-TS byte stream with a single H.264
// track. Timestamps are rescaled to 90kHz.
func EncodeTS(packets []media.Packet) ([]byte, error) {
	var buf bytes.Buffer
	track := &mpegts.Track{PID: 0x100, Codec: &mpegts.CodecH264{}}
	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{track}}
	if err := w.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts writer: %w", err)
	}
	for _, p := range packets {
		if p.IsEndOfStream() {
			continue
		}
		pts := p.TimeBase.Rescale(p.PTS, media.TimeBase90k)
		dts := p.TimeBase.Rescale(p.DTS, media.TimeBase90k)
		if err := w.WriteH264(track, pts, dts, p.AU); err != nil {
			return nil, fmt.Errorf("writing frame: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeTSFrames demuxes an MPEG-TS byte stream and returns the FrameIndex
// of every H.264 access unit in decode order.
func DecodeTSFrames(data []byte) ([]int, error) {
	r := &mpegts.Reader{R: bytes.NewReader(data)}
	if err := r.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts reader: %w", err)
	}

	var frames []int
	for _, track := range r.Tracks() {
		if _, ok := track.Codec.(*mpegts.CodecH264); ok {
			r.OnDataH264(track, func(_, _ int64, au [][]byte) error {
				frames = append(frames, FrameIndex(au))
				return nil
			})
		}
	}
	for {
		if err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, err
		}
	}
}

// FakeReader replays a fixed packet list. It satisfies source.Reader.
type FakeReader struct {
	Packets []media.Packet
	Stream  media.StreamContext

	// StallAfter makes Next block until its context ends once this many
	// packets have been delivered. Negative disables stalling.
	StallAfter int

	// Err is returned once Packets is exhausted. Nil means io.EOF.
	Err error

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewFakeReader returns a reader that never stalls.
func NewFakeReader(packets []media.Packet) *FakeReader {
	return &FakeReader{Packets: packets, Stream: StreamContext(), StallAfter: -1}
}

// Next implements source.Reader.
func (f *FakeReader) Next(ctx context.Context) (media.Packet, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return media.Packet{}, io.ErrClosedPipe
	}
	if f.StallAfter >= 0 && f.pos >= f.StallAfter {
		f.mu.Unlock()
		<-ctx.Done()
		return media.Packet{}, ctx.Err()
	}
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return media.Packet{}, err
	}
	if f.pos >= len(f.Packets) {
		if f.Err != nil {
			return media.Packet{}, f.Err
		}
		return media.Packet{}, io.EOF
	}
	p := f.Packets[f.pos]
	f.pos++
	return p, nil
}

// StreamContext implements source.Reader.
func (f *FakeReader) StreamContext() media.StreamContext {
	return f.Stream
}

// Close implements source.Reader.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Delivered returns how many packets Next has returned.
func (f *FakeReader) Delivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}
