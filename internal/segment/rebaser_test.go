package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlssplit/internal/media"
)

func TestRebase(t *testing.T) {
	first := media.NewPacket(5_400_000, 5_397_000, media.TimeBase90k, true, nil)
	origin := Start(first)
	require.True(t, origin.IsSet())

	got := Rebase(first, origin)
	assert.Equal(t, int64(0), got.PTS)
	assert.Equal(t, int64(0), got.DTS)
	assert.Equal(t, media.TimeBase90k, got.TimeBase)

	later := media.NewPacket(5_406_000, 5_400_000, media.TimeBase90k, false, nil)
	got = Rebase(later, origin)
	assert.Equal(t, int64(6000), got.PTS)
	assert.Equal(t, int64(3000), got.DTS)
	assert.Equal(t, int64(5_406_000), later.PTS, "input is not mutated")
}

func TestRebase_Idempotent(t *testing.T) {
	first := media.NewPacket(123_456, 120_456, media.TimeBase90k, true, nil)
	once := Rebase(first, Start(first))
	twice := Rebase(once, Start(once))
	assert.Equal(t, once, twice)
}

func TestRebase_WithoutOriginPanics(t *testing.T) {
	assert.Panics(t, func() {
		Rebase(media.NewPacket(1, 1, media.TimeBase90k, true, nil), Origin{})
	})
}

func TestOrigin_Elapsed(t *testing.T) {
	origin := Start(media.NewPacket(90_000, 90_000, media.TimeBase90k, true, nil))
	p := media.NewPacket(90_000+60*90_000, 0, media.TimeBase90k, true, nil)
	assert.Equal(t, time.Minute, origin.Elapsed(p))
}
