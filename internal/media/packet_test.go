package media

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRational_Duration(t *testing.T) {
	tests := []struct {
		name  string
		tb    Rational
		ticks int64
		want  time.Duration
	}{
		{"one second at 90k", TimeBase90k, 90000, time.Second},
		{"sixty seconds at 90k", TimeBase90k, 5_400_000, 60 * time.Second},
		{"one frame at 30fps", TimeBase90k, 3000, time.Second / 30},
		{"negative", TimeBase90k, -90000, -time.Second},
		{"millisecond base", Rational{Num: 1, Den: 1000}, 1500, 1500 * time.Millisecond},
		{"non-unit numerator", Rational{Num: 1001, Den: 30000}, 30, 1001 * time.Millisecond},
		{"invalid base", Rational{}, 100, 0},
		{"saturates", Rational{Num: 1, Den: 1}, math.MaxInt64, math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tb.Duration(tt.ticks))
		})
	}
}

func TestRational_Rescale(t *testing.T) {
	assert.Equal(t, int64(90000), Rational{Num: 1, Den: 1000}.Rescale(1000, TimeBase90k))
	assert.Equal(t, int64(1000), TimeBase90k.Rescale(90000, Rational{Num: 1, Den: 1000}))
	assert.Equal(t, int64(-45000), Rational{Num: 1, Den: 2}.Rescale(-1, TimeBase90k))
	assert.Equal(t, int64(42), TimeBase90k.Rescale(42, TimeBase90k))
}

func TestPacket_EndOfStream(t *testing.T) {
	eos := EndOfStream()
	assert.True(t, eos.IsEndOfStream())
	assert.NoError(t, eos.Validate())

	p := NewPacket(10, 5, TimeBase90k, true, nil)
	assert.False(t, p.IsEndOfStream())
	assert.NoError(t, p.Validate())
}

func TestPacket_ValidateMissingPTS(t *testing.T) {
	p := Packet{DTS: 100, HasDTS: true, TimeBase: TimeBase90k}
	err := p.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPacket))
}

func TestPacket_ValidateTimeBase(t *testing.T) {
	p := NewPacket(0, 0, Rational{Num: 1, Den: 0}, true, nil)
	assert.ErrorIs(t, p.Validate(), ErrMalformedPacket)
}

func TestPacket_Size(t *testing.T) {
	p := NewPacket(0, 0, TimeBase90k, false, [][]byte{{1, 2, 3}, {4}})
	assert.Equal(t, 4, p.Size())
}
