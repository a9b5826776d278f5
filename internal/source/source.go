package source

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/hlssplit/internal/observability"
	"github.com/jmylchreest/hlssplit/pkg/httpclient"
)

// Backend selects the HLS client implementation.
type Backend string

// Backends.
const (
	BackendNative   Backend = "native"
	BackendGohlslib Backend = "gohlslib"
)

// DefaultBaseURL is the camera API the playlist URL is derived from.
const DefaultBaseURL = "https://openapi.safie.link"

// Options describes a source connection.
type Options struct {
	// URL is the playlist URL. When empty it is built from BaseURL and
	// DeviceID.
	URL      string
	BaseURL  string
	DeviceID string

	Auth    Authenticator
	Backend Backend

	MaxReload      int
	ReadTimeout    time.Duration
	ReconnectDelay time.Duration

	HTTPTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	UserAgent     string

	Logger *slog.Logger
}

// PlaylistURL returns the live playlist URL for a device.
func PlaylistURL(baseURL, deviceID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("device id is required when no playlist url is set")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	return u.JoinPath("v2", "devices", deviceID, "live", "playlist.m3u8").String(), nil
}

// New builds a Reconnector over the configured backend. The returned reader
// is not yet open.
func New(opts Options) (*Reconnector, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := observability.WithComponent(opts.Logger, "source")

	playlist := opts.URL
	if playlist == "" {
		var err error
		playlist, err = PlaylistURL(opts.BaseURL, opts.DeviceID)
		if err != nil {
			return nil, err
		}
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Logger = logger
	httpCfg.Transport = &Transport{Auth: opts.Auth}
	if opts.HTTPTimeout > 0 {
		httpCfg.Timeout = opts.HTTPTimeout
	}
	if opts.RetryAttempts >= 0 {
		httpCfg.RetryAttempts = opts.RetryAttempts
	}
	if opts.RetryDelay > 0 {
		httpCfg.RetryDelay = opts.RetryDelay
	}
	if opts.UserAgent != "" {
		httpCfg.UserAgent = opts.UserAgent
	}
	client := httpclient.New(httpCfg)

	var opener Opener
	switch opts.Backend {
	case BackendNative, "":
		opener = NewHLSOpener(HLSConfig{
			URL:    playlist,
			Client: client,
			Cursor: &Cursor{},
			Logger: logger,
		})
	case BackendGohlslib:
		opener = NewGohlslibOpener(GohlslibConfig{
			URL:        playlist,
			HTTPClient: client.StandardClient(),
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown source backend %q", opts.Backend)
	}

	return NewReconnector(opener, ReconnectConfig{
		MaxReload:   opts.MaxReload,
		ReadTimeout: opts.ReadTimeout,
		Delay:       opts.ReconnectDelay,
		Logger:      logger,
	}), nil
}
