package segment

import (
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/hlssplit/internal/media"
)

const tsVideoPID = 0x0100

// tsMuxer writes one video track as MPEG-TS on the 90kHz clock.
type tsMuxer struct {
	w      *mpegts.Writer
	track  *mpegts.Track
	codec  media.Codec
	params *paramSets
}

func newTSMuxer(w io.Writer, stream media.StreamContext) (*tsMuxer, error) {
	var codec mpegts.Codec
	switch stream.Codec {
	case media.CodecH264:
		codec = &mpegts.CodecH264{}
	case media.CodecH265:
		codec = &mpegts.CodecH265{}
	default:
		return nil, fmt.Errorf("%w: %q", media.ErrUnsupportedCodec, stream.Codec)
	}

	track := &mpegts.Track{PID: tsVideoPID, Codec: codec}
	m := &tsMuxer{
		w:      &mpegts.Writer{W: w, Tracks: []*mpegts.Track{track}},
		track:  track,
		codec:  stream.Codec,
		params: newParamSets(stream),
	}
	if err := m.w.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing mpegts writer: %w", err)
	}
	return m, nil
}

func (m *tsMuxer) WritePacket(p media.Packet) error {
	pts := p.TimeBase.Rescale(p.PTS, media.TimeBase90k)
	dts := p.TimeBase.Rescale(p.DTS, media.TimeBase90k)
	au := m.params.prepare(p.AU, p.Keyframe)

	if m.codec == media.CodecH265 {
		return m.w.WriteH265(m.track, pts, dts, au)
	}
	return m.w.WriteH264(m.track, pts, dts, au)
}

// Finish is a no-op: MPEG-TS needs no trailer.
func (m *tsMuxer) Finish() error {
	return nil
}
