// Package media defines the packet-level data model shared by the source,
// segment and engine packages.
package media

import (
	"fmt"
	"math"
	"math/bits"
	"time"
)

// VideoStreamIndex is the index of the single tracked video stream.
const VideoStreamIndex = 0

// Rational is a time base expressed as Num/Den seconds per tick.
type Rational struct {
	Num int64
	Den int64
}

// TimeBase90k is the MPEG-TS / HLS video clock.
var TimeBase90k = Rational{Num: 1, Den: 90000}

// IsValid reports whether r can convert ticks to wall time.
func (r Rational) IsValid() bool {
	return r.Num > 0 && r.Den > 0
}

// String renders the rational as "num/den".
func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Duration converts a tick count to a time.Duration, saturating instead of
// overflowing for very large tick counts.
func (r Rational) Duration(ticks int64) time.Duration {
	if !r.IsValid() {
		return 0
	}
	neg := ticks < 0
	abs := uint64(ticks)
	if neg {
		abs = uint64(-ticks)
	}

	hi, lo := bits.Mul64(abs, uint64(r.Num)*uint64(time.Second))
	if hi >= uint64(r.Den) {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(r.Den))
	if q > math.MaxInt64 {
		q = math.MaxInt64
	}
	if neg {
		return -time.Duration(q)
	}
	return time.Duration(q)
}

// Rescale converts ticks expressed in r into ticks expressed in to, rounding
// toward zero.
func (r Rational) Rescale(ticks int64, to Rational) int64 {
	if r == to || !r.IsValid() || !to.IsValid() {
		return ticks
	}
	// ticks * r.Num/r.Den = out * to.Num/to.Den
	num := r.Num * to.Den
	den := r.Den * to.Num
	neg := ticks < 0
	abs := uint64(ticks)
	if neg {
		abs = uint64(-ticks)
	}
	hi, lo := bits.Mul64(abs, uint64(num))
	if hi >= uint64(den) {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(den))
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// Packet is one access unit of the tracked video stream. The payload is
// treated as opaque: it is never decoded, only re-timed and re-muxed.
type Packet struct {
	// AU holds the NAL units of the access unit, without start codes.
	AU [][]byte

	PTS    int64
	DTS    int64
	HasPTS bool
	HasDTS bool

	TimeBase    Rational
	Keyframe    bool
	StreamIndex int

	// Discontinuity marks the first packet of a resumed source session.
	// Timestamps may jump relative to the previous packet.
	Discontinuity bool
}

// NewPacket returns a packet with both timestamps present.
func NewPacket(pts, dts int64, tb Rational, keyframe bool, au [][]byte) Packet {
	return Packet{
		AU:          au,
		PTS:         pts,
		DTS:         dts,
		HasPTS:      true,
		HasDTS:      true,
		TimeBase:    tb,
		Keyframe:    keyframe,
		StreamIndex: VideoStreamIndex,
	}
}

// EndOfStream returns the sentinel packet that marks the end of a stream.
// It carries no DTS and must never be written.
func EndOfStream() Packet {
	return Packet{StreamIndex: VideoStreamIndex}
}

// IsEndOfStream reports whether p is the end-of-stream sentinel.
func (p Packet) IsEndOfStream() bool {
	return !p.HasDTS
}

// Validate checks the timestamp fields of a non-sentinel packet.
func (p Packet) Validate() error {
	if p.IsEndOfStream() {
		return nil
	}
	if !p.HasPTS {
		return fmt.Errorf("%w: dts %d present without pts", ErrMalformedPacket, p.DTS)
	}
	if !p.TimeBase.IsValid() {
		return fmt.Errorf("%w: invalid time base %s", ErrMalformedPacket, p.TimeBase)
	}
	return nil
}

// Size returns the payload size in bytes.
func (p Packet) Size() int {
	n := 0
	for _, nalu := range p.AU {
		n += len(nalu)
	}
	return n
}
