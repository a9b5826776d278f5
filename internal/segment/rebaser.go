package segment

import (
	"time"

	"github.com/jmylchreest/hlssplit/internal/media"
)

// Origin holds the raw timestamps of the first packet of a segment.
type Origin struct {
	PTS int64
	DTS int64

	set bool
}

// Start records first as the origin of a new segment.
func Start(first media.Packet) Origin {
	return Origin{PTS: first.PTS, DTS: first.DTS, set: true}
}

// IsSet reports whether o was produced by Start.
func (o Origin) IsSet() bool {
	return o.set
}

// Elapsed is the presentation time between the origin and p.
func (o Origin) Elapsed(p media.Packet) time.Duration {
	return p.TimeBase.Duration(p.PTS - o.PTS)
}

// Rebase shifts p so the origin maps to zero. The time base and payload are
// unchanged. Rebase panics on an unset origin.
func Rebase(p media.Packet, o Origin) media.Packet {
	if !o.set {
		panic("segment: rebase without origin")
	}
	p.PTS -= o.PTS
	p.DTS -= o.DTS
	return p
}
