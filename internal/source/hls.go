package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/grafov/m3u8"

	"github.com/jmylchreest/hlssplit/internal/media"
	"github.com/jmylchreest/hlssplit/pkg/httpclient"
)

// DefaultLiveStartIndex starts live playback three segments from the end.
const DefaultLiveStartIndex = -3

const minPlaylistPoll = 250 * time.Millisecond

// Cursor remembers the media sequence number of the next segment to fetch.
// It is shared by successive sessions so a reconnect resumes where the
// previous session stopped.
type Cursor struct {
	mu    sync.Mutex
	next  uint64
	valid bool
}

// Next returns the next media sequence number, if any segment was consumed.
func (c *Cursor) Next() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next, c.valid
}

// Advance records seq as consumed.
func (c *Cursor) Advance(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || seq+1 > c.next {
		c.next = seq + 1
		c.valid = true
	}
}

// HLSConfig configures the native HLS backend.
type HLSConfig struct {
	URL    string
	Client *httpclient.Client

	// Cursor is shared across sessions. Nil allocates one per opener.
	Cursor *Cursor

	// LiveStartIndex picks the first segment of a fresh live session,
	// counted from the end when negative. Ended playlists always start at
	// their first segment.
	LiveStartIndex int

	Logger *slog.Logger
}

// NewHLSOpener returns an Opener that fetches the playlist with the
// resilient HTTP client and demuxes the MPEG-TS segments itself.
func NewHLSOpener(cfg HLSConfig) Opener {
	if cfg.Client == nil {
		cfg.Client = httpclient.NewWithDefaults()
	}
	if cfg.Cursor == nil {
		cfg.Cursor = &Cursor{}
	}
	if cfg.LiveStartIndex == 0 {
		cfg.LiveStartIndex = DefaultLiveStartIndex
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return OpenerFunc(func(ctx context.Context) (Reader, error) {
		return openHLS(ctx, cfg)
	})
}

type hlsReader struct {
	cfg      HLSConfig
	mediaURL string
	logger   *slog.Logger

	em *emitter

	// segments carries downloaded media segments from the fetcher to the
	// demuxer. fetchErr is set before segments is closed.
	segments chan fetchedSegment
	fetchErr error

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type fetchedSegment struct {
	seq  uint64
	uri  string
	data []byte
}

type seqPosition struct {
	next  uint64
	valid bool
}

func openHLS(ctx context.Context, cfg HLSConfig) (*hlsReader, error) {
	mediaURL, pl, err := resolvePlaylist(ctx, cfg.Client, cfg.URL)
	if err != nil {
		return nil, err
	}
	if err := checkPlaylist(pl); err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &hlsReader{
		cfg:      cfg,
		mediaURL: mediaURL,
		logger:   cfg.Logger.With(slog.String("playlist", redactURL(mediaURL))),
		em:       newEmitter("", media.TimeBase90k, cfg.Logger),
		segments: make(chan fetchedSegment, 1),
		cancel:   cancel,
	}

	r.wg.Add(2)
	go r.fetch(sessCtx, pl)
	go r.demux(sessCtx)

	r.logger.Debug("hls session opened", slog.Uint64("media_sequence", pl.SeqNo))
	return r, nil
}

func (r *hlsReader) Next(ctx context.Context) (media.Packet, error) {
	return r.em.next(ctx)
}

func (r *hlsReader) StreamContext() media.StreamContext {
	return r.em.streamContext()
}

func (r *hlsReader) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.em.close()
		r.wg.Wait()
	})
	return nil
}

// fetch downloads media segments in media sequence order, reloading the
// playlist until it ends or the session is closed.
func (r *hlsReader) fetch(ctx context.Context, pl *m3u8.MediaPlaylist) {
	defer r.wg.Done()
	defer close(r.segments)

	var pos seqPosition
	pos.next, pos.valid = r.cfg.Cursor.Next()
	first := true
	for {
		progressed, err := r.fetchSegments(ctx, pl, &pos, first)
		first = false
		if err != nil {
			if ctx.Err() == nil {
				r.fetchErr = err
			}
			return
		}
		if pl.Closed {
			r.logger.Debug("playlist ended")
			return
		}

		// Reload after a target duration when new segments were consumed,
		// half of it otherwise.
		wait := targetDuration(pl)
		if !progressed {
			wait /= 2
		}
		if wait < minPlaylistPoll {
			wait = minPlaylistPoll
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		reloaded, err := fetchMediaPlaylist(ctx, r.cfg.Client, r.mediaURL)
		if err == nil {
			err = checkPlaylist(reloaded)
		}
		if err != nil {
			if ctx.Err() == nil {
				r.fetchErr = err
			}
			return
		}
		pl = reloaded
	}
}

// fetchSegments queues the segments of pl from pos onwards. pos is local to
// the fetch goroutine; the shared Cursor only advances once a segment has
// been demuxed.
func (r *hlsReader) fetchSegments(ctx context.Context, pl *m3u8.MediaPlaylist, pos *seqPosition, first bool) (bool, error) {
	segs := mediaSegments(pl)
	if len(segs) == 0 {
		return false, nil
	}

	start := pl.SeqNo
	if pos.valid {
		if pos.next < pl.SeqNo {
			r.logger.Warn("fell behind live playlist, skipping segments",
				slog.Uint64("expected", pos.next),
				slog.Uint64("available", pl.SeqNo))
		} else {
			start = pos.next
		}
	} else if first && !pl.Closed {
		idx := r.cfg.LiveStartIndex
		if idx < 0 {
			idx += len(segs)
		}
		idx = max(0, min(idx, len(segs)-1))
		start = pl.SeqNo + uint64(idx)
	}

	progressed := false
	for i, seg := range segs {
		seq := pl.SeqNo + uint64(i)
		if seq < start {
			continue
		}
		if err := r.fetchSegment(ctx, seq, seg); err != nil {
			return progressed, err
		}
		pos.next, pos.valid = seq+1, true
		progressed = true
	}
	return progressed, nil
}

func (r *hlsReader) fetchSegment(ctx context.Context, seq uint64, seg *m3u8.MediaSegment) error {
	segURL, err := resolveURL(r.mediaURL, seg.URI)
	if err != nil {
		return fmt.Errorf("%w: %w", media.ErrConnection, err)
	}

	resp, err := r.cfg.Client.Fetch(ctx, segURL)
	if err != nil {
		return fmt.Errorf("%w: fetching segment: %w", media.ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading segment: %w", media.ErrConnection, err)
	}
	r.logger.Debug("segment fetched",
		slog.String("uri", seg.URI),
		slog.Float64("duration", seg.Duration),
		slog.Int("bytes", len(data)))

	select {
	case r.segments <- fetchedSegment{seq: seq, uri: seg.URI, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// demux parses each fetched segment on its own and feeds the emitter.
// Segments restart their continuity counters, so sharing one demuxer across
// segment boundaries would drop the access unit pending at each boundary.
func (r *hlsReader) demux(ctx context.Context) {
	defer r.wg.Done()
	// Unblock the fetcher if the demuxer stops first.
	defer r.cancel()

	err := r.demuxSegments(ctx)
	switch {
	case err == nil:
		r.em.finish(nil)
	case errors.Is(err, media.ErrConnection), errors.Is(err, media.ErrUnsupportedCodec):
		r.em.finish(err)
	default:
		r.em.finish(fmt.Errorf("%w: demuxing: %w", media.ErrConnection, err))
	}
}

func (r *hlsReader) demuxSegments(ctx context.Context) error {
	for {
		var seg fetchedSegment
		var ok bool
		select {
		case seg, ok = <-r.segments:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			return r.fetchErr
		}
		if err := r.demuxSegment(seg); err != nil {
			return err
		}
		r.cfg.Cursor.Advance(seg.seq)
	}
}

// demuxSegment runs a fresh MPEG-TS reader over one segment. End of input
// flushes the access unit still pending in the demuxer.
func (r *hlsReader) demuxSegment(seg fetchedSegment) error {
	reader := &mpegts.Reader{R: bytes.NewReader(seg.data)}
	if err := reader.Initialize(); err != nil {
		if isEndOfSegment(err) {
			r.logger.Warn("segment without program tables skipped", slog.String("uri", seg.uri))
			return nil
		}
		return err
	}

	codec, err := r.selectTrack(reader)
	if err != nil {
		return err
	}
	switch {
	case r.em.codec == "":
		r.em.codec = codec
	case r.em.codec != codec:
		return fmt.Errorf("%w: codec changed from %s to %s", media.ErrConnection, r.em.codec, codec)
	}

	reader.OnDecodeError(func(err error) {
		r.logger.Debug("mpegts decode error",
			slog.String("uri", seg.uri),
			slog.String("error", err.Error()))
	})

	for {
		if err := reader.Read(); err != nil {
			if isEndOfSegment(err) {
				return nil
			}
			return err
		}
	}
}

// selectTrack registers the emitter on the first video track.
func (r *hlsReader) selectTrack(reader *mpegts.Reader) (media.Codec, error) {
	for _, track := range reader.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			reader.OnDataH264(track, r.em.push)
			return media.CodecH264, nil
		case *mpegts.CodecH265:
			reader.OnDataH265(track, r.em.push)
			return media.CodecH265, nil
		}
	}
	return "", fmt.Errorf("%w: no H.264 or H.265 track in stream", media.ErrUnsupportedCodec)
}

func isEndOfSegment(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, astits.ErrNoMorePackets)
}

// resolvePlaylist fetches url and, for a master playlist, follows the
// highest-bandwidth variant.
func resolvePlaylist(ctx context.Context, client *httpclient.Client, rawURL string) (string, *m3u8.MediaPlaylist, error) {
	pl, typ, err := fetchPlaylist(ctx, client, rawURL)
	if err != nil {
		return "", nil, err
	}
	if typ == m3u8.MEDIA {
		mpl, ok := pl.(*m3u8.MediaPlaylist)
		if !ok {
			return "", nil, fmt.Errorf("%w: unexpected playlist type", media.ErrConnection)
		}
		return rawURL, mpl, nil
	}

	master, ok := pl.(*m3u8.MasterPlaylist)
	if !ok {
		return "", nil, fmt.Errorf("%w: unexpected playlist type", media.ErrConnection)
	}
	var best *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return "", nil, fmt.Errorf("%w: master playlist contains no variants", media.ErrConnection)
	}

	variantURL, err := resolveURL(rawURL, best.URI)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", media.ErrConnection, err)
	}
	mpl, err := fetchMediaPlaylist(ctx, client, variantURL)
	if err != nil {
		return "", nil, err
	}
	return variantURL, mpl, nil
}

func fetchMediaPlaylist(ctx context.Context, client *httpclient.Client, rawURL string) (*m3u8.MediaPlaylist, error) {
	pl, typ, err := fetchPlaylist(ctx, client, rawURL)
	if err != nil {
		return nil, err
	}
	mpl, ok := pl.(*m3u8.MediaPlaylist)
	if typ != m3u8.MEDIA || !ok {
		return nil, fmt.Errorf("%w: expected a media playlist at %s", media.ErrConnection, redactURL(rawURL))
	}
	return mpl, nil
}

func fetchPlaylist(ctx context.Context, client *httpclient.Client, rawURL string) (m3u8.Playlist, m3u8.ListType, error) {
	resp, err := client.Fetch(ctx, rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: fetching playlist: %w", media.ErrConnection, err)
	}
	defer resp.Body.Close()

	pl, typ, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: parsing playlist: %w", media.ErrConnection, err)
	}
	return pl, typ, nil
}

// checkPlaylist rejects playlists whose segments cannot be demuxed as
// plain MPEG-TS.
func checkPlaylist(pl *m3u8.MediaPlaylist) error {
	if pl.Map != nil {
		return fmt.Errorf("%w: fragmented MP4 playlists are not supported", media.ErrUnsupportedCodec)
	}
	if pl.Key != nil && pl.Key.Method != "" && pl.Key.Method != "NONE" {
		return fmt.Errorf("%w: encrypted playlists are not supported", media.ErrUnsupportedCodec)
	}
	for _, seg := range mediaSegments(pl) {
		if seg.Map != nil {
			return fmt.Errorf("%w: fragmented MP4 playlists are not supported", media.ErrUnsupportedCodec)
		}
		if seg.Key != nil && seg.Key.Method != "" && seg.Key.Method != "NONE" {
			return fmt.Errorf("%w: encrypted playlists are not supported", media.ErrUnsupportedCodec)
		}
	}
	return nil
}

func mediaSegments(pl *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	segs := make([]*m3u8.MediaSegment, 0, pl.Count())
	for _, seg := range pl.Segments {
		if seg == nil {
			break
		}
		segs = append(segs, seg)
	}
	return segs
}

func targetDuration(pl *m3u8.MediaPlaylist) time.Duration {
	d := time.Duration(float64(pl.TargetDuration) * float64(time.Second))
	if d <= 0 {
		return time.Second
	}
	return d
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing segment uri %q: %w", ref, err)
	}
	resolved := b.ResolveReference(r)
	// Playlists commonly carry signed query strings that child URIs omit.
	if resolved.RawQuery == "" && b.Host == resolved.Host {
		resolved.RawQuery = b.RawQuery
	}
	return resolved.String(), nil
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	return u.Redacted()
}
