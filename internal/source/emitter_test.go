package source

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlssplit/internal/media"
	"github.com/jmylchreest/hlssplit/internal/testutil"
)

func TestEmitter_DiscardsUntilKeyframe(t *testing.T) {
	em := newEmitter(media.CodecH264, media.TimeBase90k, nil)

	go func() {
		em.push(0, 0, testutil.Frame(0, false))
		em.push(3000, 3000, testutil.Frame(1, false))
		em.push(6000, 6000, testutil.Frame(2, true))
		em.push(9000, 9000, testutil.Frame(3, false))
		em.finish(nil)
	}()

	ctx := context.Background()
	p, err := em.next(ctx)
	require.NoError(t, err)
	assert.True(t, p.Keyframe)
	assert.Equal(t, 2, testutil.FrameIndex(p.AU))
	assert.Equal(t, int64(6000), p.PTS)

	sc := em.streamContext()
	assert.Equal(t, 320, sc.Width)
	assert.Equal(t, 240, sc.Height)

	p, err = em.next(ctx)
	require.NoError(t, err)
	assert.False(t, p.Keyframe)

	p, err = em.next(ctx)
	require.NoError(t, err)
	assert.True(t, p.IsEndOfStream())

	_, err = em.next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEmitter_UsesOutOfBandParams(t *testing.T) {
	em := newEmitter(media.CodecH264, media.TimeBase90k, nil)
	em.params = [][]byte{testutil.SPS, testutil.PPS}

	idr := []byte{0x65, 0x88, 0x84, 0x01, 0x01}
	go em.push(0, 0, [][]byte{idr})

	p, err := em.next(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Keyframe)
	assert.True(t, em.streamContext().Complete())
}

func TestEmitter_Error(t *testing.T) {
	em := newEmitter(media.CodecH264, media.TimeBase90k, nil)
	em.finish(media.ErrConnection)

	_, err := em.next(context.Background())
	assert.ErrorIs(t, err, media.ErrConnection)
}

func TestEmitter_CloseUnblocksProducer(t *testing.T) {
	em := newEmitter(media.CodecH264, media.TimeBase90k, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- em.push(0, 0, testutil.Frame(0, true))
	}()

	time.Sleep(10 * time.Millisecond)
	em.close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	case <-time.After(time.Second):
		t.Fatal("push did not return after close")
	}

	_, err := em.next(context.Background())
	assert.ErrorIs(t, err, media.ErrConnection)
}

func TestEmitter_ContextCancel(t *testing.T) {
	em := newEmitter(media.CodecH264, media.TimeBase90k, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := em.next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
