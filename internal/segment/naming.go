package segment

import (
	"fmt"
	"strings"
	"time"
)

// NamingScheme selects how segment base names are derived.
type NamingScheme string

// Naming schemes.
const (
	NamingTimestamp NamingScheme = "timestamp"
	NamingSequence  NamingScheme = "sequence"
)

// TimestampLayout renders wall-clock time as YYYYMMDDhhmmss.
const TimestampLayout = "20060102150405"

// DefaultZoneOffset is the UTC offset used for timestamp names.
const DefaultZoneOffset = 9 * time.Hour

// Zone returns a fixed zone for a UTC offset, e.g. "UTC+09:00".
func Zone(offset time.Duration) *time.Location {
	sign := "+"
	abs := offset
	if offset < 0 {
		sign = "-"
		abs = -offset
	}
	h := int(abs / time.Hour)
	m := int((abs % time.Hour) / time.Minute)
	return time.FixedZone(fmt.Sprintf("UTC%s%02d:%02d", sign, h, m), int(offset/time.Second))
}

// Namer hands out unique, monotonically distinguishing base names. It is not
// safe for concurrent use.
type Namer struct {
	Scheme   NamingScheme
	Location *time.Location
	Now      func() time.Time

	// Exists reports whether a base name is already taken. Nil means nothing
	// is taken besides names this Namer returned.
	Exists func(name string) bool

	seq    int
	issued map[string]struct{}
}

// NewNamer returns a namer for scheme. Timestamp names are rendered in loc.
func NewNamer(scheme NamingScheme, loc *time.Location, exists func(string) bool) *Namer {
	if loc == nil {
		loc = Zone(DefaultZoneOffset)
	}
	return &Namer{Scheme: scheme, Location: loc, Now: time.Now, Exists: exists}
}

// Next returns the next base name. Collisions with existing or previously
// issued names get a "_1", "_2", ... suffix.
func (n *Namer) Next() string {
	if n.issued == nil {
		n.issued = make(map[string]struct{})
	}

	var name string
	switch n.Scheme {
	case NamingSequence:
		for {
			name = fmt.Sprintf("segment_%06d", n.seq)
			n.seq++
			if !n.taken(name) {
				break
			}
		}
	default:
		now := time.Now
		if n.Now != nil {
			now = n.Now
		}
		base := now().In(n.Location).Format(TimestampLayout)
		name = base
		for k := 1; n.taken(name); k++ {
			name = fmt.Sprintf("%s_%d", base, k)
		}
	}

	n.issued[name] = struct{}{}
	return name
}

func (n *Namer) taken(name string) bool {
	if _, ok := n.issued[name]; ok {
		return true
	}
	return n.Exists != nil && n.Exists(name)
}

// ParseNamingScheme validates a configured scheme name.
func ParseNamingScheme(s string) (NamingScheme, error) {
	switch NamingScheme(strings.ToLower(strings.TrimSpace(s))) {
	case NamingTimestamp, "":
		return NamingTimestamp, nil
	case NamingSequence:
		return NamingSequence, nil
	default:
		return "", fmt.Errorf("unknown naming scheme %q", s)
	}
}
