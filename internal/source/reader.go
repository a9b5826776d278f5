// Package source pulls video access units out of a live HLS playlist.
//
// A Reader is one session against the playlist. Sessions are not
// restartable; the Reconnector re-opens them through an Opener within a
// bounded retry budget.
package source

import (
	"context"

	"github.com/jmylchreest/hlssplit/internal/media"
)

// Reader yields packets of the tracked video stream in decode order.
//
// Next blocks until a packet is available, the stream ends or ctx is done.
// The end of a finite stream is reported once as the end-of-stream sentinel
// packet, after which Next returns io.EOF. The first packet of every session
// is a keyframe.
type Reader interface {
	Next(ctx context.Context) (media.Packet, error)

	// StreamContext returns the parameters captured from the session's first
	// keyframe. It is zero until the first packet has been returned.
	StreamContext() media.StreamContext

	Close() error
}

// Opener starts a new session.
type Opener interface {
	Open(ctx context.Context) (Reader, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Reader, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context) (Reader, error) {
	return f(ctx)
}
