package media

import "errors"

// Error kinds surfaced by the segmentation pipeline. Callers match them with
// errors.Is; wrapped causes stay reachable through errors.Unwrap.
var (
	// ErrConnection is returned when the source cannot be opened or reopened
	// within the configured reconnect budget.
	ErrConnection = errors.New("source connection failed")

	// ErrStreamTimeout is returned when no packet arrives within the read
	// timeout.
	ErrStreamTimeout = errors.New("source read timed out")

	// ErrMalformedPacket is returned for packets that violate the timestamp
	// contract. The DTS-less end-of-stream sentinel is not malformed.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrOutputWrite is returned when a segment cannot be written or
	// finalized.
	ErrOutputWrite = errors.New("segment output failed")

	// ErrUnsupportedCodec is returned when the source carries no H.264 or
	// H.265 video track.
	ErrUnsupportedCodec = errors.New("unsupported video codec")
)
