package media

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// Codec identifies the video codec of the tracked stream.
type Codec string

// Supported video codecs.
const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// StreamContext is the template every output file copies its stream
// parameters from. It is captured once per connection and is read-only
// afterwards.
type StreamContext struct {
	Codec    Codec
	VPS      []byte // H.265 only
	SPS      []byte
	PPS      []byte
	Width    int
	Height   int
	TimeBase Rational
}

// IsZero reports whether the context has not been captured yet.
func (s StreamContext) IsZero() bool {
	return s.Codec == ""
}

// String summarizes the stream for logs.
func (s StreamContext) String() string {
	return fmt.Sprintf("%s %dx%d tb=%s", s.Codec, s.Width, s.Height, s.TimeBase)
}

// Complete reports whether all parameter sets required by the codec are
// present.
func (s StreamContext) Complete() bool {
	switch s.Codec {
	case CodecH264:
		return len(s.SPS) > 0 && len(s.PPS) > 0
	case CodecH265:
		return len(s.VPS) > 0 && len(s.SPS) > 0 && len(s.PPS) > 0
	default:
		return false
	}
}

// IsRandomAccess reports whether au can start a decodable sequence.
func (c Codec) IsRandomAccess(au [][]byte) bool {
	switch c {
	case CodecH264:
		return h264.IsRandomAccess(au)
	case CodecH265:
		return h265.IsRandomAccess(au)
	default:
		return false
	}
}

// CaptureStreamContext extracts parameter sets and dimensions from a
// keyframe access unit. Parameter sets missing from au are left empty; the
// caller checks Complete.
func CaptureStreamContext(codec Codec, au [][]byte, tb Rational) (StreamContext, error) {
	sc := StreamContext{Codec: codec, TimeBase: tb}

	switch codec {
	case CodecH264:
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				sc.SPS = cloneBytes(nalu)
			case h264.NALUTypePPS:
				sc.PPS = cloneBytes(nalu)
			}
		}
		if sc.SPS != nil {
			var sps h264.SPS
			if err := sps.Unmarshal(sc.SPS); err != nil {
				return sc, fmt.Errorf("parsing h264 sps: %w", err)
			}
			sc.Width = sps.Width()
			sc.Height = sps.Height()
		}

	case CodecH265:
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
			case h265.NALUType_VPS_NUT:
				sc.VPS = cloneBytes(nalu)
			case h265.NALUType_SPS_NUT:
				sc.SPS = cloneBytes(nalu)
			case h265.NALUType_PPS_NUT:
				sc.PPS = cloneBytes(nalu)
			}
		}
		if sc.SPS != nil {
			var sps h265.SPS
			if err := sps.Unmarshal(sc.SPS); err != nil {
				return sc, fmt.Errorf("parsing h265 sps: %w", err)
			}
			sc.Width = sps.Width()
			sc.Height = sps.Height()
		}

	default:
		return sc, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}

	return sc, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
