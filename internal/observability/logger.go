// Package observability provides structured logging for hlssplit.
package observability

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/hlssplit/internal/config"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	// CorrelationIDKey is the context key for correlation IDs.
	CorrelationIDKey contextKey = "correlation_id"
)

// LevelTrace is below debug and used for per-packet logging.
const LevelTrace = slog.Level(-8)

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively against attribute keys and
// URL query parameter names, ignoring "_" and "-".
var sensitiveKeys = []string{"password", "secret", "token", "apikey", "credential", "authorization"}

// sensitiveParam finds query parameters in URLs embedded in log values.
var sensitiveParam = regexp.MustCompile(`(?i)([?&])(password|secret|token|access_token|apikey|api_key|credential)=([^&#\s"]*)`)

// level is shared by every logger built here so it can be changed at runtime.
var level = new(slog.LevelVar)

// NewLogger creates a new slog.Logger based on the provided configuration.
// The logger writes to stderr so stdout stays free for command output.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// This is useful for testing or custom output destinations.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level.Set(parseLevel(cfg.Level))

	redactStructs := masq.New(
		masq.WithTag("secret"),
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("AccessToken"),
		masq.WithFieldName("Key"),
		masq.WithFieldName("Token"),
		masq.WithRedactMessage(Redacted),
	)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch a.Key {
				case slog.TimeKey:
					if cfg.TimeFormat != "" {
						if t, ok := a.Value.Any().(time.Time); ok {
							return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
						}
					}
					return a
				case slog.LevelKey:
					if l, ok := a.Value.Any().(slog.Level); ok && l <= LevelTrace {
						return slog.String(slog.LevelKey, "TRACE")
					}
					return a
				case slog.SourceKey:
					if src, ok := a.Value.Any().(*slog.Source); ok {
						return slog.String("logpos", relativeSource(src))
					}
					return a
				}
			}
			return redactAttr(groups, a, redactStructs)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func redactAttr(groups []string, a slog.Attr, redactStructs func([]string, slog.Attr) slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, Redacted)
		}
		if s := a.Value.String(); strings.Contains(s, "=") {
			return slog.String(a.Key, RedactURL(s))
		}
		return a
	}
	if a.Value.Kind() == slog.KindAny {
		return redactStructs(groups, a)
	}
	return a
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(key))
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactURL masks sensitive query parameter values, keeping their names.
func RedactURL(s string) string {
	return sensitiveParam.ReplaceAllString(s, "${1}${2}="+Redacted)
}

// RedactedURL is RedactURL for a parsed URL, also dropping user info.
func RedactedURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.User = nil
	return RedactURL(c.String())
}

// relativeSource trims the file path to the module-relative part.
func relativeSource(src *slog.Source) string {
	file := src.File
	for _, marker := range []string{"/internal/", "/cmd/", "/pkg/"} {
		if i := strings.LastIndex(file, marker); i >= 0 {
			file = file[i+1:]
			break
		}
	}
	return file + ":" + strconv.Itoa(src.Line)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogLevel changes the level of every logger built by this package.
func SetLogLevel(name string) {
	level.Set(parseLevel(name))
}

// GetLogLevel returns the current level name in lower case.
func GetLogLevel() string {
	l := level.Level()
	if l <= LevelTrace {
		return "trace"
	}
	return strings.ToLower(l.String())
}

// WithApp tags the logger with the application name.
func WithApp(logger *slog.Logger, app string) *slog.Logger {
	return logger.With(slog.String("app", app))
}

// WithRequestID adds a request ID to the logger.
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With(slog.String("request_id", requestID))
}

// WithCorrelationID adds a correlation ID to the logger.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With(slog.String("correlation_id", correlationID))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation adds an operation name to the logger for tracking specific operations.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext extracts a logger from the context.
// If no logger is found, returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// loggerKey is the context key for the logger.
const loggerKey contextKey = "logger"

// CorrelationIDFromContext extracts a correlation ID from the context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithCorrelationID adds a correlation ID to the context.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// SetDefault sets the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperationWithError logs the start and end of an operation. The error
// pointer is read when the returned function runs, so it may be assigned
// after this call.
//
// Usage:
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "record", &err)
//	defer done()
//	err = doSomething()
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
		} else {
			logger.InfoContext(ctx, "operation completed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
			)
		}
	}
}
