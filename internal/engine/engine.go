package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/hlssplit/internal/media"
	"github.com/jmylchreest/hlssplit/internal/observability"
	"github.com/jmylchreest/hlssplit/internal/segment"
	"github.com/jmylchreest/hlssplit/internal/source"
)

// Source is a reader that must be opened before the first Next.
type Source interface {
	source.Reader
	Open(ctx context.Context) error
}

// Namer supplies base names for new segments.
type Namer interface {
	Next() string
}

// Config wires the engine's collaborators.
type Config struct {
	Policy segment.Policy
	Writer segment.Writer
	Namer  Namer

	// OnSegmentClosed is called after each segment is finalized.
	OnSegmentClosed func(info segment.Info)

	Logger *slog.Logger
}

// Result summarizes a finished run.
type Result struct {
	Segments   int
	Packets    int64
	LastClosed *segment.Info

	// Ended is set when the source signalled end of stream.
	Ended bool
	// Interrupted is set when the run stopped because ctx was cancelled.
	Interrupted bool
}

// RunError reports a fatal failure together with the last segment that was
// finalized before it.
type RunError struct {
	State      State
	LastClosed *segment.Info
	Err        error
}

func (e *RunError) Error() string {
	last := "none"
	if e.LastClosed != nil {
		last = e.LastClosed.Name
	}
	return fmt.Sprintf("engine failed while %s: %v (last closed segment: %s)", e.State, e.Err, last)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Status is a point-in-time view of a running engine.
type Status struct {
	State       string        `json:"state"`
	Stream      string        `json:"stream,omitempty"`
	OpenSegment string        `json:"open_segment,omitempty"`
	LastClosed  *segment.Info `json:"last_closed,omitempty"`
	Segments    int           `json:"segments"`
	Packets     int64         `json:"packets"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	LastError   string        `json:"last_error,omitempty"`
}

// Engine runs one recording. It is single-use.
type Engine struct {
	src    Source
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	status Status
	state  State

	// Run-loop state, owned by the Run goroutine.
	seg     segment.Segment
	origin  segment.Origin
	stream  media.StreamContext
	lastDTS int64
	result  Result
}

// New validates cfg and returns an idle engine.
func New(src Source, cfg Config) (*Engine, error) {
	if src == nil {
		return nil, errors.New("engine: source is required")
	}
	if cfg.Writer == nil {
		return nil, errors.New("engine: writer is required")
	}
	if cfg.Namer == nil {
		return nil, errors.New("engine: namer is required")
	}
	if cfg.Policy.Threshold <= 0 {
		cfg.Policy = segment.NewPolicy(cfg.Policy.Threshold)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		src:    src,
		cfg:    cfg,
		logger: observability.WithComponent(cfg.Logger, "engine"),
	}
	e.status.State = StateIdle.String()
	return e, nil
}

// Status returns a snapshot safe to read from any goroutine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	if st.LastClosed != nil {
		info := *st.LastClosed
		st.LastClosed = &info
	}
	return st
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.status.State = s.String()
	e.mu.Unlock()
	if prev != s {
		e.logger.Debug("state changed", slog.String("from", prev.String()), slog.String("to", s.String()))
	}
}

func (e *Engine) updateStatus(fn func(st *Status)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.status)
}

// Run records until the source ends, ctx is cancelled or a fatal error
// occurs. Ending and cancellation both finalize the open segment and return
// a nil error; fatal errors are returned as *RunError.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	e.updateStatus(func(st *Status) { st.StartedAt = time.Now() })
	e.setState(StateConnecting)

	if err := e.src.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return e.stop(true, false)
		}
		return e.result, e.fail(err)
	}
	defer e.src.Close()

	for {
		if ctx.Err() != nil {
			return e.stop(true, false)
		}

		p, err := e.src.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return e.stop(true, false)
			case errors.Is(err, io.EOF):
				return e.stop(false, true)
			default:
				return e.result, e.fail(err)
			}
		}
		if p.IsEndOfStream() {
			e.logger.Info("end of stream")
			return e.stop(false, true)
		}

		if err := e.handle(p); err != nil {
			return e.result, e.fail(err)
		}
	}
}

// handle routes one packet: validate, cut if needed, rebase, write.
func (e *Engine) handle(p media.Packet) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if e.seg == nil {
		if !p.Keyframe {
			return fmt.Errorf("%w: first packet is not a keyframe", media.ErrMalformedPacket)
		}
		e.stream = e.src.StreamContext()
		if e.stream.IsZero() {
			return fmt.Errorf("%w: source reported no stream parameters", media.ErrMalformedPacket)
		}
		e.logger.Info("stream", slog.String("stream", e.stream.String()))
		e.updateStatus(func(st *Status) { st.Stream = e.stream.String() })

		if err := e.open(p); err != nil {
			return err
		}
		e.setState(StateStreaming)
	} else {
		if p.Discontinuity {
			if !p.Keyframe {
				return fmt.Errorf("%w: resumed session does not start with a keyframe", media.ErrMalformedPacket)
			}
			if sc := e.src.StreamContext(); !sc.IsZero() && sc.String() != e.stream.String() {
				e.logger.Warn("stream parameters changed after reconnect",
					slog.String("was", e.stream.String()),
					slog.String("now", sc.String()))
			}
		} else if p.DTS < e.lastDTS {
			return fmt.Errorf("%w: dts went backward from %d to %d", media.ErrMalformedPacket, e.lastDTS, p.DTS)
		}

		if p.Discontinuity || e.cfg.Policy.ShouldCut(e.origin.Elapsed(p), p.Keyframe) {
			if err := e.rotate(p); err != nil {
				return err
			}
		}
	}

	rebased := segment.Rebase(p, e.origin)
	if rebased.PTS < 0 || rebased.DTS < 0 {
		return fmt.Errorf("%w: negative timestamp after rebase (pts %d, dts %d)",
			media.ErrMalformedPacket, rebased.PTS, rebased.DTS)
	}
	if err := e.seg.WritePacket(rebased); err != nil {
		return err
	}

	e.lastDTS = p.DTS
	e.result.Packets++
	e.updateStatus(func(st *Status) { st.Packets = e.result.Packets })
	return nil
}

// open starts a new segment whose origin is p.
func (e *Engine) open(p media.Packet) error {
	name := e.cfg.Namer.Next()
	seg, err := e.cfg.Writer.Open(name, e.stream)
	if err != nil {
		return err
	}
	e.seg = seg
	e.origin = segment.Start(p)
	e.updateStatus(func(st *Status) { st.OpenSegment = name })
	e.logger.Info("segment opened", slog.String("segment", name))
	return nil
}

// rotate finalizes the open segment before opening the next one at p.
func (e *Engine) rotate(p media.Packet) error {
	e.setState(StateRotating)
	if err := e.closeSegment(); err != nil {
		return err
	}
	if err := e.open(p); err != nil {
		return err
	}
	e.setState(StateStreaming)
	return nil
}

func (e *Engine) closeSegment() error {
	if e.seg == nil {
		return nil
	}
	seg := e.seg
	e.seg = nil

	info, err := seg.Close()
	if err != nil {
		return err
	}

	e.result.Segments++
	e.result.LastClosed = &info
	e.updateStatus(func(st *Status) {
		st.OpenSegment = ""
		st.LastClosed = &info
		st.Segments = e.result.Segments
	})
	e.logger.Info("segment closed",
		slog.String("segment", info.Name),
		slog.String("path", info.Path),
		slog.Duration("duration", info.Duration),
		slog.Int("packets", info.Packets))

	if e.cfg.OnSegmentClosed != nil {
		e.cfg.OnSegmentClosed(info)
	}
	return nil
}

// stop drains the open segment and reports a clean finish.
func (e *Engine) stop(interrupted, ended bool) (Result, error) {
	e.setState(StateDraining)
	if err := e.closeSegment(); err != nil {
		return e.result, e.fail(err)
	}
	e.result.Interrupted = interrupted
	e.result.Ended = ended
	e.setState(StateStopped)
	return e.result, nil
}

// fail closes whatever is open and wraps err. Output failures discard the
// broken segment; any other failure finalizes it so recorded media is kept.
func (e *Engine) fail(err error) error {
	failedIn := e.State()

	if e.seg != nil {
		if errors.Is(err, media.ErrOutputWrite) {
			if abortErr := e.seg.Abort(); abortErr != nil {
				e.logger.Warn("discarding segment failed", slog.String("error", abortErr.Error()))
			}
			e.seg = nil
		} else if closeErr := e.closeSegment(); closeErr != nil {
			e.logger.Warn("closing segment after failure", slog.String("error", closeErr.Error()))
		}
	}

	e.setState(StateError)
	e.updateStatus(func(st *Status) {
		st.OpenSegment = ""
		st.LastError = err.Error()
	})
	observability.WithError(e.logger, err).Error("recording failed", slog.String("state", failedIn.String()))

	return &RunError{State: failedIn, LastClosed: e.result.LastClosed, Err: err}
}
