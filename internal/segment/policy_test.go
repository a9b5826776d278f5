package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldCut(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		keyframe bool
		want     bool
	}{
		{"keyframe before threshold", 59 * time.Second, true, false},
		{"keyframe at threshold", 60 * time.Second, true, true},
		{"keyframe past threshold", 61 * time.Second, true, true},
		{"non-keyframe past threshold", 90 * time.Second, false, false},
		{"first packet", 0, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldCut(tt.elapsed, tt.keyframe, time.Minute))
			assert.Equal(t, tt.want, NewPolicy(time.Minute).ShouldCut(tt.elapsed, tt.keyframe))
		})
	}
}

func TestNewPolicy_Default(t *testing.T) {
	assert.Equal(t, DefaultDuration, NewPolicy(0).Threshold)
	assert.Equal(t, DefaultDuration, NewPolicy(-time.Second).Threshold)
	assert.Equal(t, 5*time.Second, NewPolicy(5*time.Second).Threshold)
}
