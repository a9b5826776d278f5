package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"

	"github.com/jmylchreest/hlssplit/internal/media"
)

// GohlslibConfig configures the gohlslib backend.
type GohlslibConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewGohlslibOpener returns an Opener backed by gohlslib's HLS client,
// which handles playlist reloads and segment downloads on its own.
func NewGohlslibOpener(cfg GohlslibConfig) Opener {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return OpenerFunc(func(ctx context.Context) (Reader, error) {
		return openGohlslib(ctx, cfg)
	})
}

type gohlslibReader struct {
	client *gohlslib.Client
	em     *emitter
	logger *slog.Logger
	once   sync.Once
	done   chan struct{}
}

func openGohlslib(ctx context.Context, cfg GohlslibConfig) (*gohlslibReader, error) {
	r := &gohlslibReader{
		em:     newEmitter("", media.TimeBase90k, cfg.Logger),
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
	ready := make(chan struct{})

	var client *gohlslib.Client
	client = &gohlslib.Client{
		URI:        cfg.URL,
		HTTPClient: cfg.HTTPClient,
		OnTracks: func(tracks []*gohlslib.Track) error {
			if err := r.selectTrack(client, tracks); err != nil {
				return err
			}
			close(ready)
			return nil
		},
	}
	r.client = client

	if err := client.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting hls client: %w", media.ErrConnection, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- client.Wait2()
	}()

	select {
	case <-ready:
	case err := <-waitErr:
		client.Close()
		if errors.Is(err, media.ErrUnsupportedCodec) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", media.ErrConnection, err)
	case <-ctx.Done():
		client.Close()
		<-waitErr
		return nil, ctx.Err()
	}

	go func() {
		defer close(r.done)
		err := <-waitErr
		if err == nil || errors.Is(err, gohlslib.ErrClientEOS) {
			r.em.finish(nil)
			return
		}
		r.em.finish(fmt.Errorf("%w: %w", media.ErrConnection, err))
	}()

	return r, nil
}

// selectTrack registers the first video track with the emitter.
func (r *gohlslibReader) selectTrack(client *gohlslib.Client, tracks []*gohlslib.Track) error {
	push := func(pts, dts int64, au [][]byte) {
		if err := r.em.push(pts, dts, au); err != nil {
			r.logger.Debug("dropping access unit", slog.String("error", err.Error()))
		}
	}

	for _, track := range tracks {
		switch codec := track.Codec.(type) {
		case *codecs.H264:
			r.em.codec = media.CodecH264
			r.em.params = nonEmpty(codec.SPS, codec.PPS)
			client.OnDataH26x(track, push)
			return nil
		case *codecs.H265:
			r.em.codec = media.CodecH265
			r.em.params = nonEmpty(codec.VPS, codec.SPS, codec.PPS)
			client.OnDataH26x(track, push)
			return nil
		}
	}
	return fmt.Errorf("%w: no H.264 or H.265 track in playlist", media.ErrUnsupportedCodec)
}

func (r *gohlslibReader) Next(ctx context.Context) (media.Packet, error) {
	return r.em.next(ctx)
}

func (r *gohlslibReader) StreamContext() media.StreamContext {
	return r.em.streamContext()
}

func (r *gohlslibReader) Close() error {
	r.once.Do(func() {
		r.em.close()
		r.client.Close()
		<-r.done
	})
	return nil
}

func nonEmpty(sets ...[]byte) [][]byte {
	var out [][]byte
	for _, s := range sets {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}
