// Package segment cuts a rebased packet stream into independently playable
// files: where to cut, how to rebase timestamps, what to name each file and
// how to write it.
package segment

import "time"

// DefaultDuration is the segment length used when none is configured.
const DefaultDuration = 60 * time.Second

// ShouldCut reports whether a packet arriving elapsed after the current
// segment's origin starts a new segment. Cuts only happen on keyframes, so a
// stream without further keyframes keeps growing its segment.
func ShouldCut(elapsed time.Duration, keyframe bool, threshold time.Duration) bool {
	return keyframe && elapsed >= threshold
}

// Policy binds ShouldCut to a fixed threshold.
type Policy struct {
	Threshold time.Duration
}

// NewPolicy returns a policy for threshold, falling back to DefaultDuration
// for non-positive values.
func NewPolicy(threshold time.Duration) Policy {
	if threshold <= 0 {
		threshold = DefaultDuration
	}
	return Policy{Threshold: threshold}
}

// ShouldCut applies the package-level rule with the policy's threshold.
func (p Policy) ShouldCut(elapsed time.Duration, keyframe bool) bool {
	return ShouldCut(elapsed, keyframe, p.Threshold)
}
