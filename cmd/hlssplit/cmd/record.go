package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/hlssplit/internal/config"
	"github.com/jmylchreest/hlssplit/internal/engine"
	internalhttp "github.com/jmylchreest/hlssplit/internal/http"
	"github.com/jmylchreest/hlssplit/internal/observability"
	"github.com/jmylchreest/hlssplit/internal/segment"
	"github.com/jmylchreest/hlssplit/internal/source"
	"github.com/jmylchreest/hlssplit/internal/version"
	"github.com/jmylchreest/hlssplit/pkg/format"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the live stream into fixed-duration files",
	Long: `Record connects to the live playlist and writes one file per segment
until the stream ends, the process receives SIGINT or SIGTERM, or a fatal
error occurs. The segment being written is always finalized before exit.

A new file starts at the first keyframe at or after the target duration, so
files run slightly longer than --duration and never shorter, except for the
last one.

Examples:
  hlssplit record --device-id 0123abcd --api-key $KEY -o ./recordings
  hlssplit record --url https://example.com/live.m3u8 -d 10m -f ts --index`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	addRecordFlags(recordCmd.Flags())
	rootCmd.AddCommand(recordCmd)
}

func addRecordFlags(f *pflag.FlagSet) {
	f.String("url", "", "playlist URL; overrides --device-id")
	f.String("device-id", "", "camera device id")
	f.String("api-key", "", "API key (default from SAFIE_API_KEY)")
	f.String("access-token", "", "OAuth2 access token (default from SAFIE_ACCESS_TOKEN)")
	f.String("backend", "native", "HLS client: native or gohlslib")
	f.Int("max-reload", 2, "reconnect attempts after a stalled or failed read once data has flowed; the first connection is not retried")
	f.Duration("read-timeout", 8*time.Second, "maximum wait for the next packet")
	f.DurationP("duration", "d", time.Minute, "target segment duration")
	f.StringP("container", "f", "mp4", "output container: mp4 or ts")
	f.String("naming", "timestamp", "file naming: timestamp or sequence")
	f.Duration("tz-offset", 9*time.Hour, "UTC offset used for timestamp names")
	f.StringP("output-dir", "o", ".", "directory for segment files")
	f.Bool("index", false, "maintain a segments.m3u8 playlist (ts only)")
	f.String("status-addr", "", "serve /status and /health on this address")
}

// applyRecordFlags overrides config values with flags the user set
// explicitly, keeping CLI flag > env var > config > default.
func applyRecordFlags(flags *pflag.FlagSet, cfg *config.Config) {
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	dur := func(name string, dst *time.Duration) {
		if flags.Changed(name) {
			*dst, _ = flags.GetDuration(name)
		}
	}

	str("url", &cfg.Source.URL)
	str("device-id", &cfg.Source.DeviceID)
	str("api-key", &cfg.Source.APIKey)
	str("access-token", &cfg.Source.AccessToken)
	str("backend", &cfg.Source.Backend)
	str("container", &cfg.Segment.Container)
	str("naming", &cfg.Segment.Naming)
	str("output-dir", &cfg.Segment.OutputDir)
	str("status-addr", &cfg.Status.Addr)
	dur("read-timeout", &cfg.Source.ReadTimeout)
	dur("duration", &cfg.Segment.Duration)
	dur("tz-offset", &cfg.Segment.TimeZoneOffset)

	if flags.Changed("max-reload") {
		cfg.Source.MaxReload, _ = flags.GetInt("max-reload")
	}
	if flags.Changed("index") {
		cfg.Segment.Index, _ = flags.GetBool("index")
	}
}

func runRecord(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRecordFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.Source.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	correlationID := ulid.Make().String()
	ctx = observability.ContextWithCorrelationID(ctx, correlationID)
	logger := observability.WithCorrelationID(slog.Default(), correlationID)

	rec, err := newRecorder(cfg, logger)
	if err != nil {
		return err
	}

	done := observability.TimedOperationWithError(ctx, logger, "record", &err)
	defer done()

	if cfg.Status.Addr != "" {
		stopStatus := rec.serveStatus(ctx, cfg)
		defer stopStatus()
	}

	_, err = rec.run(ctx)
	return err
}

// recorder is one configured recording run.
type recorder struct {
	engine    *engine.Engine
	index     *segment.Index
	outputDir string
	logger    *slog.Logger
}

// newRecorder wires the source, writer, namer, index and engine from cfg.
func newRecorder(cfg *config.Config, logger *slog.Logger) (*recorder, error) {
	container, err := segment.ParseContainer(cfg.Segment.Container)
	if err != nil {
		return nil, err
	}
	scheme, err := segment.ParseNamingScheme(cfg.Segment.Naming)
	if err != nil {
		return nil, err
	}

	writer, err := segment.NewFileWriter(segment.FileWriterConfig{
		Dir:                cfg.Segment.OutputDir,
		Container:          container,
		MaxFragmentSamples: cfg.Segment.MaxFragmentSamples,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}
	namer := segment.NewNamer(scheme, segment.Zone(cfg.Segment.TimeZoneOffset), writer.Exists)

	src, err := source.New(source.Options{
		URL:            cfg.Source.URL,
		BaseURL:        cfg.Source.BaseURL,
		DeviceID:       cfg.Source.DeviceID,
		Auth:           buildAuth(cfg.Source),
		Backend:        source.Backend(cfg.Source.Backend),
		MaxReload:      cfg.Source.MaxReload,
		ReadTimeout:    cfg.Source.ReadTimeout,
		ReconnectDelay: cfg.Source.ReconnectDelay,
		HTTPTimeout:    cfg.HTTP.Timeout,
		RetryAttempts:  cfg.HTTP.RetryAttempts,
		RetryDelay:     cfg.HTTP.RetryDelay,
		UserAgent:      version.UserAgent(),
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	rec := &recorder{outputDir: writer.Dir(), logger: logger}
	if cfg.Segment.Index {
		rec.index = segment.NewIndex(writer.Dir())
	}

	rec.engine, err = engine.New(src, engine.Config{
		Policy:          segment.NewPolicy(cfg.Segment.Duration),
		Writer:          writer,
		Namer:           namer,
		OnSegmentClosed: rec.segmentClosed,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("recorder configured",
		slog.String("output_dir", writer.Dir()),
		slog.String("container", string(container)),
		slog.String("naming", string(scheme)),
		slog.Duration("duration", cfg.Segment.Duration),
		slog.String("backend", cfg.Source.Backend),
		slog.Any("source", cfg.Source))
	return rec, nil
}

// buildAuth prefers a bearer token over an API key. Neither means the
// playlist is fetched anonymously.
func buildAuth(cfg config.SourceConfig) source.Authenticator {
	switch {
	case cfg.AccessToken != "":
		return source.BearerAuth{Token: cfg.AccessToken}
	case cfg.APIKey != "":
		return source.APIKeyAuth{Header: cfg.AuthHeader, Key: cfg.APIKey}
	default:
		return nil
	}
}

func (r *recorder) segmentClosed(info segment.Info) {
	if r.index == nil {
		return
	}
	if err := r.index.Add(info); err != nil {
		observability.WithError(r.logger, err).Warn("updating segment index failed",
			slog.String("index", r.index.Path()))
	}
}

// run records until the stream ends, ctx is cancelled or a fatal error
// occurs. The index is only marked ended on a clean stop.
func (r *recorder) run(ctx context.Context) (engine.Result, error) {
	res, err := r.engine.Run(ctx)
	if err != nil {
		var runErr *engine.RunError
		if errors.As(err, &runErr) {
			last := "none"
			if runErr.LastClosed != nil {
				last = runErr.LastClosed.Path
			}
			r.logger.Error("recording stopped with error",
				slog.String("state", runErr.State.String()),
				slog.String("last_segment", last),
				slog.Int("segments", res.Segments))
		}
		return res, err
	}

	if r.index != nil {
		if err := r.index.Finish(); err != nil {
			observability.WithError(r.logger, err).Warn("finalizing segment index failed")
		}
	}

	attrs := []any{slog.Int("segments", res.Segments), slog.String("packets", format.Number(res.Packets))}
	if res.LastClosed != nil {
		attrs = append(attrs, slog.String("last_segment", res.LastClosed.Path))
	}
	switch {
	case res.Interrupted:
		r.logger.Info("recording interrupted", attrs...)
	default:
		r.logger.Info("stream ended", attrs...)
	}
	return res, nil
}

// serveStatus starts the status server in the background and returns a
// function that stops it.
func (r *recorder) serveStatus(ctx context.Context, cfg *config.Config) func() {
	srvCfg := internalhttp.DefaultServerConfig(cfg.Status.Addr)
	srvCfg.OutputDir = r.outputDir
	srv := internalhttp.NewServer(srvCfg, r.engine, r.logger, version.Short())

	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(srvCtx); err != nil {
			observability.WithError(r.logger, err).Warn("status server failed")
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
