package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmylchreest/hlssplit/internal/media"
)

// Reconnect defaults.
const (
	DefaultMaxReload      = 2
	DefaultReadTimeout    = 8 * time.Second
	DefaultReconnectDelay = time.Second
)

// ReconnectConfig bounds how a Reconnector retries.
type ReconnectConfig struct {
	// MaxReload is the number of consecutive reconnects allowed before the
	// reader gives up. A successful read resets the count.
	MaxReload int

	// ReadTimeout bounds each Next call on the underlying session.
	ReadTimeout time.Duration

	// Delay is the pause before each reconnect.
	Delay time.Duration

	Logger *slog.Logger
}

// Reconnector is a Reader that re-opens its session after transport
// failures and stalls. The first packet of every resumed session is marked
// as a discontinuity.
type Reconnector struct {
	opener Opener
	cfg    ReconnectConfig
	logger *slog.Logger

	cur        Reader
	failures   int
	reconnects int
	lastErr    error
	resumed    bool
}

// NewReconnector wraps opener. Call Open before Next.
func NewReconnector(opener Opener, cfg ReconnectConfig) *Reconnector {
	if cfg.MaxReload < 0 {
		cfg.MaxReload = 0
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconnector{opener: opener, cfg: cfg, logger: cfg.Logger}
}

// Open starts the first session. Failures are not retried here; the HTTP
// client already retries transient errors, and auth or not-found responses
// will not heal.
func (r *Reconnector) Open(ctx context.Context) error {
	cur, err := r.opener.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return asConnectionError(err)
	}
	r.cur = cur
	return nil
}

// Next implements Reader.
func (r *Reconnector) Next(ctx context.Context) (media.Packet, error) {
	for {
		if r.cur != nil {
			p, err := r.read(ctx)
			if err == nil {
				r.failures = 0
				if r.resumed {
					p.Discontinuity = true
					r.resumed = false
				}
				return p, nil
			}
			if ctx.Err() != nil {
				return media.Packet{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, media.ErrMalformedPacket) || errors.Is(err, media.ErrUnsupportedCodec) {
				return media.Packet{}, err
			}

			r.cur.Close()
			r.cur = nil
			r.lastErr = err
			r.logger.Warn("source session failed", slog.String("error", err.Error()))
		}

		if r.failures >= r.cfg.MaxReload {
			cause := r.lastErr
			if cause == nil {
				cause = errors.New("no session")
			}
			return media.Packet{}, fmt.Errorf("%w: giving up after %d reconnect attempts: %w",
				media.ErrConnection, r.failures, cause)
		}
		r.failures++
		r.reconnects++

		r.logger.Info("reconnecting",
			slog.Int("attempt", r.failures),
			slog.Int("max_reload", r.cfg.MaxReload),
			slog.Duration("delay", r.cfg.Delay))

		if r.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return media.Packet{}, ctx.Err()
			case <-time.After(r.cfg.Delay):
			}
		}

		cur, err := r.opener.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return media.Packet{}, ctx.Err()
			}
			r.lastErr = asConnectionError(err)
			r.logger.Warn("reconnect failed", slog.String("error", err.Error()))
			continue
		}
		r.cur = cur
		r.resumed = true
	}
}

// read performs one Next with the read timeout applied.
func (r *Reconnector) read(ctx context.Context) (media.Packet, error) {
	readCtx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	p, err := r.cur.Next(readCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return p, fmt.Errorf("%w: no data within %s", media.ErrStreamTimeout, r.cfg.ReadTimeout)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, media.ErrStreamTimeout) {
			return p, err
		}
		return p, asConnectionError(err)
	}
	return p, err
}

// StreamContext implements Reader.
func (r *Reconnector) StreamContext() media.StreamContext {
	if r.cur == nil {
		return media.StreamContext{}
	}
	return r.cur.StreamContext()
}

// Reconnects returns the number of reconnect attempts made so far.
func (r *Reconnector) Reconnects() int {
	return r.reconnects
}

// Close implements Reader.
func (r *Reconnector) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

func asConnectionError(err error) error {
	if errors.Is(err, media.ErrConnection) || errors.Is(err, media.ErrUnsupportedCodec) ||
		errors.Is(err, media.ErrMalformedPacket) {
		return err
	}
	return fmt.Errorf("%w: %w", media.ErrConnection, err)
}
