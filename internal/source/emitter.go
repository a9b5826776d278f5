package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jmylchreest/hlssplit/internal/media"
)

// emitter hands packets from a demuxer callback goroutine to the pulling
// consumer. The channel is unbuffered so the demuxer never runs ahead of the
// consumer by more than one access unit.
//
// Access units preceding the first keyframe of a session are discarded, and
// the stream context is captured from that keyframe.
type emitter struct {
	codec  media.Codec
	tb     media.Rational
	logger *slog.Logger

	packets chan media.Packet
	done    chan struct{}

	// params are out-of-band parameter sets used when the first keyframe
	// does not carry its own.
	params [][]byte

	mu        sync.Mutex
	stream    media.StreamContext
	started   bool
	skipped   int
	err       error
	sentinel  bool
	finished  bool
	closeOnce sync.Once
}

func newEmitter(codec media.Codec, tb media.Rational, logger *slog.Logger) *emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &emitter{
		codec:   codec,
		tb:      tb,
		logger:  logger,
		packets: make(chan media.Packet),
		done:    make(chan struct{}),
	}
}

// push delivers one access unit. It returns an error once the session is
// closed so the producer can stop.
func (e *emitter) push(pts, dts int64, au [][]byte) error {
	keyframe := e.codec.IsRandomAccess(au)

	e.mu.Lock()
	if !e.started {
		if !keyframe {
			e.skipped++
			e.mu.Unlock()
			return nil
		}
		sc, err := media.CaptureStreamContext(e.codec, au, e.tb)
		if err == nil && !sc.Complete() && len(e.params) > 0 {
			withParams := append(append([][]byte(nil), e.params...), au...)
			sc, err = media.CaptureStreamContext(e.codec, withParams, e.tb)
		}
		if err != nil {
			e.mu.Unlock()
			return err
		}
		if !sc.Complete() {
			e.skipped++
			e.mu.Unlock()
			return nil
		}
		e.stream = sc
		e.started = true
		e.logger.Info("stream detected",
			slog.String("stream", sc.String()),
			slog.Int("skipped_access_units", e.skipped))
	}
	e.mu.Unlock()

	p := media.NewPacket(pts, dts, e.tb, keyframe, au)
	select {
	case e.packets <- p:
		return nil
	case <-e.done:
		return io.ErrClosedPipe
	}
}

// finish ends the session. A nil err means the stream ended normally and
// the consumer receives the end-of-stream sentinel.
func (e *emitter) finish(err error) {
	e.mu.Lock()
	if !e.finished {
		e.finished = true
		e.err = err
	}
	e.mu.Unlock()
	e.close()
}

func (e *emitter) close() {
	e.closeOnce.Do(func() { close(e.done) })
}

func (e *emitter) next(ctx context.Context) (media.Packet, error) {
	select {
	case p := <-e.packets:
		return p, nil
	case <-ctx.Done():
		return media.Packet{}, ctx.Err()
	case <-e.done:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.err != nil:
		return media.Packet{}, e.err
	case !e.finished:
		return media.Packet{}, fmt.Errorf("%w: session closed", media.ErrConnection)
	case !e.sentinel:
		e.sentinel = true
		return media.EndOfStream(), nil
	default:
		return media.Packet{}, io.EOF
	}
}

func (e *emitter) streamContext() media.StreamContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream
}
