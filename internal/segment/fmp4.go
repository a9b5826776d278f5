package segment

import (
	"fmt"
	"io"
	"math"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/hlssplit/internal/media"
)

const (
	fmp4VideoTrackID = 1

	// DefaultMaxFragmentSamples bounds fragment size for long GOPs.
	DefaultMaxFragmentSamples = 300
)

// fmp4Muxer writes one video track as fragmented MP4: an init segment
// followed by one moof/mdat pair per GOP. A sample's duration is the DTS
// distance to the next sample, so the most recent sample is held back until
// its successor (or Finish) arrives.
type fmp4Muxer struct {
	w          io.Writer
	codec      media.Codec
	timeBase   media.Rational
	timeScale  uint32
	maxSamples int

	seq       uint32
	samples   []*fmp4.Sample
	fragStart int64

	pending    *fmp4.Sample
	pendingDTS int64
	lastDur    uint32

	buf seekablebuffer.Buffer
}

func newFMP4Muxer(w io.Writer, stream media.StreamContext, maxSamples int) (*fmp4Muxer, error) {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxFragmentSamples
	}

	m := &fmp4Muxer{
		w:          w,
		codec:      stream.Codec,
		maxSamples: maxSamples,
		seq:        1,
	}

	// Integer-tick time bases map straight onto the track timescale;
	// anything else is carried on the 90kHz clock.
	tb := stream.TimeBase
	if tb.Num == 1 && tb.Den > 0 && tb.Den <= math.MaxUint32 {
		m.timeBase = tb
		m.timeScale = uint32(tb.Den)
	} else {
		m.timeBase = media.TimeBase90k
		m.timeScale = uint32(media.TimeBase90k.Den)
	}

	var codec mp4.Codec
	switch stream.Codec {
	case media.CodecH264:
		codec = &mp4.CodecH264{SPS: stream.SPS, PPS: stream.PPS}
	case media.CodecH265:
		codec = &mp4.CodecH265{VPS: stream.VPS, SPS: stream.SPS, PPS: stream.PPS}
	default:
		return nil, fmt.Errorf("%w: %q", media.ErrUnsupportedCodec, stream.Codec)
	}

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        fmp4VideoTrackID,
			TimeScale: m.timeScale,
			Codec:     codec,
		}},
	}
	m.buf.Reset()
	if err := init.Marshal(&m.buf); err != nil {
		return nil, fmt.Errorf("marshaling init segment: %w", err)
	}
	if _, err := m.w.Write(m.buf.Bytes()); err != nil {
		return nil, fmt.Errorf("writing init segment: %w", err)
	}
	return m, nil
}

func (m *fmp4Muxer) WritePacket(p media.Packet) error {
	pts := p.TimeBase.Rescale(p.PTS, m.timeBase)
	dts := p.TimeBase.Rescale(p.DTS, m.timeBase)

	sample := &fmp4.Sample{}
	var err error
	if m.codec == media.CodecH265 {
		err = sample.FillH265(int32(pts-dts), p.AU)
	} else {
		err = sample.FillH264(int32(pts-dts), p.AU)
	}
	if err != nil {
		return fmt.Errorf("building sample: %w", err)
	}
	sample.IsNonSyncSample = !p.Keyframe

	if m.pending != nil {
		m.pending.Duration = uint32(dts - m.pendingDTS)
		m.lastDur = m.pending.Duration
		if err := m.push(m.pending, m.pendingDTS); err != nil {
			return err
		}
	}

	// A keyframe opens a new fragment.
	if p.Keyframe && len(m.samples) > 0 {
		if err := m.flush(); err != nil {
			return err
		}
	}

	m.pending = sample
	m.pendingDTS = dts
	return nil
}

func (m *fmp4Muxer) push(s *fmp4.Sample, dts int64) error {
	if len(m.samples) == 0 {
		m.fragStart = dts
	}
	m.samples = append(m.samples, s)
	if len(m.samples) >= m.maxSamples {
		return m.flush()
	}
	return nil
}

// Finish writes the held-back sample, reusing the previous sample duration,
// and flushes the last fragment.
func (m *fmp4Muxer) Finish() error {
	if m.pending != nil {
		m.pending.Duration = m.lastDur
		if m.pending.Duration == 0 {
			m.pending.Duration = m.timeScale / 30
		}
		s, dts := m.pending, m.pendingDTS
		m.pending = nil
		if err := m.push(s, dts); err != nil {
			return err
		}
	}
	return m.flush()
}

func (m *fmp4Muxer) flush() error {
	if len(m.samples) == 0 {
		return nil
	}

	base := m.fragStart
	if base < 0 {
		base = 0
	}
	part := &fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       fmp4VideoTrackID,
			BaseTime: uint64(base),
			Samples:  m.samples,
		}},
	}

	m.buf.Reset()
	if err := part.Marshal(&m.buf); err != nil {
		return fmt.Errorf("marshaling fragment %d: %w", m.seq, err)
	}
	if _, err := m.w.Write(m.buf.Bytes()); err != nil {
		return fmt.Errorf("writing fragment %d: %w", m.seq, err)
	}

	m.seq++
	m.samples = nil
	return nil
}
