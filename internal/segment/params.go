package segment

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/hlssplit/internal/media"
)

// paramSets tracks the latest parameter sets of a stream so that every
// keyframe written to a self-contained container carries them.
type paramSets struct {
	codec media.Codec
	vps   []byte
	sps   []byte
	pps   []byte
}

func newParamSets(stream media.StreamContext) *paramSets {
	return &paramSets{
		codec: stream.Codec,
		vps:   stream.VPS,
		sps:   stream.SPS,
		pps:   stream.PPS,
	}
}

// kind classifies a NAL unit as a parameter set; zero means none.
func (ps *paramSets) kind(nalu []byte) int {
	if len(nalu) == 0 {
		return 0
	}
	if ps.codec == media.CodecH265 {
		switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
		case h265.NALUType_VPS_NUT:
			return 1
		case h265.NALUType_SPS_NUT:
			return 2
		case h265.NALUType_PPS_NUT:
			return 3
		}
		return 0
	}
	switch h264.NALUType(nalu[0] & 0x1F) {
	case h264.NALUTypeSPS:
		return 2
	case h264.NALUTypePPS:
		return 3
	}
	return 0
}

// update records in-band parameter sets carried by au.
func (ps *paramSets) update(au [][]byte) {
	for _, nalu := range au {
		switch ps.kind(nalu) {
		case 1:
			if !bytes.Equal(ps.vps, nalu) {
				ps.vps = append([]byte(nil), nalu...)
			}
		case 2:
			if !bytes.Equal(ps.sps, nalu) {
				ps.sps = append([]byte(nil), nalu...)
			}
		case 3:
			if !bytes.Equal(ps.pps, nalu) {
				ps.pps = append([]byte(nil), nalu...)
			}
		}
	}
}

// prepare returns au with any missing parameter sets prepended when it is a
// keyframe. Non-keyframes are returned unchanged.
func (ps *paramSets) prepare(au [][]byte, keyframe bool) [][]byte {
	ps.update(au)
	if !keyframe {
		return au
	}

	var have [4]bool
	for _, nalu := range au {
		have[ps.kind(nalu)] = true
	}

	var prefix [][]byte
	if ps.codec == media.CodecH265 && !have[1] && ps.vps != nil {
		prefix = append(prefix, ps.vps)
	}
	if !have[2] && ps.sps != nil {
		prefix = append(prefix, ps.sps)
	}
	if !have[3] && ps.pps != nil {
		prefix = append(prefix, ps.pps)
	}
	if len(prefix) == 0 {
		return au
	}
	return append(prefix, au...)
}
