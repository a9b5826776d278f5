package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/hlssplit/internal/media"
	"github.com/jmylchreest/hlssplit/pkg/format"
)

// Container is the output file format.
type Container string

// Supported containers.
const (
	ContainerMP4 Container = "mp4"
	ContainerTS  Container = "ts"
)

// partSuffix marks files that are still being written.
const partSuffix = ".part"

// Extension returns the file extension including the dot.
func (c Container) Extension() string {
	return "." + string(c)
}

// ParseContainer validates a configured container name.
func ParseContainer(s string) (Container, error) {
	switch Container(strings.ToLower(strings.TrimSpace(s))) {
	case ContainerMP4, "":
		return ContainerMP4, nil
	case ContainerTS:
		return ContainerTS, nil
	default:
		return "", fmt.Errorf("unknown container %q", s)
	}
}

// Info describes a finalized segment.
type Info struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Packets  int           `json:"packets"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
}

// Writer opens output segments.
type Writer interface {
	Open(name string, stream media.StreamContext) (Segment, error)
}

// Segment is one open output file. Packets are appended in arrival order.
// Close finalizes the file; Abort discards it. Both are safe to call once
// either has been called.
type Segment interface {
	Name() string
	WritePacket(p media.Packet) error
	Close() (Info, error)
	Abort() error
}

// muxer encodes packets into one container format.
type muxer interface {
	WritePacket(p media.Packet) error
	Finish() error
}

// FileWriterConfig configures a FileWriter.
type FileWriterConfig struct {
	Dir       string
	Container Container

	// MaxFragmentSamples caps the samples per MP4 fragment.
	MaxFragmentSamples int

	Logger *slog.Logger
}

// FileWriter writes segments as files in a directory. Each file is written
// under a ".part" name, fsynced and renamed when closed.
type FileWriter struct {
	dir       string
	container Container
	maxFrag   int
	logger    *slog.Logger
}

// NewFileWriter creates the output directory if needed.
func NewFileWriter(cfg FileWriterConfig) (*FileWriter, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Container == "" {
		cfg.Container = ContainerMP4
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating output directory: %w", media.ErrOutputWrite, err)
	}
	return &FileWriter{
		dir:       cfg.Dir,
		container: cfg.Container,
		maxFrag:   cfg.MaxFragmentSamples,
		logger:    cfg.Logger,
	}, nil
}

// Dir returns the output directory.
func (w *FileWriter) Dir() string {
	return w.dir
}

// Container returns the output format.
func (w *FileWriter) Container() Container {
	return w.container
}

// Exists reports whether a finished or in-progress file uses name.
func (w *FileWriter) Exists(name string) bool {
	final := w.path(name)
	for _, p := range []string{final, final + partSuffix} {
		if _, err := os.Lstat(p); err == nil || !errors.Is(err, os.ErrNotExist) {
			return true
		}
	}
	return false
}

func (w *FileWriter) path(name string) string {
	return filepath.Join(w.dir, name+w.container.Extension())
}

// Open creates the part file for name and writes the container header.
func (w *FileWriter) Open(name string, stream media.StreamContext) (Segment, error) {
	if !stream.Complete() {
		return nil, fmt.Errorf("%w: incomplete stream context %s", media.ErrOutputWrite, stream)
	}

	final := w.path(name)
	part := final + partSuffix

	// O_EXCL so an existing file is never overwritten.
	f, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", media.ErrOutputWrite, part, err)
	}
	if _, err := os.Lstat(final); err == nil {
		f.Close()
		os.Remove(part)
		return nil, fmt.Errorf("%w: %s already exists", media.ErrOutputWrite, final)
	}

	s := &fileSegment{
		name:     name,
		path:     final,
		partPath: part,
		file:     f,
		logger:   w.logger.With(slog.String("segment", name)),
	}
	s.counter = &countingWriter{w: f}
	s.buf = bufio.NewWriterSize(s.counter, 64*1024)

	switch w.container {
	case ContainerTS:
		s.mux, err = newTSMuxer(s.buf, stream)
	default:
		s.mux, err = newFMP4Muxer(s.buf, stream, w.maxFrag)
	}
	if err != nil {
		s.Abort()
		return nil, fmt.Errorf("%w: %w", media.ErrOutputWrite, err)
	}

	s.logger.Debug("segment opened", slog.String("path", part))
	return s, nil
}

type fileSegment struct {
	name     string
	path     string
	partPath string

	file    *os.File
	counter *countingWriter
	buf     *bufio.Writer
	mux     muxer
	logger  *slog.Logger

	packets   int
	timeBase  media.Rational
	endPTS    int64
	lastDTS   int64
	lastDelta int64
	done      bool
}

func (s *fileSegment) Name() string {
	return s.name
}

func (s *fileSegment) WritePacket(p media.Packet) error {
	if s.done {
		return fmt.Errorf("%w: segment %s already closed", media.ErrOutputWrite, s.name)
	}
	if err := s.mux.WritePacket(p); err != nil {
		return fmt.Errorf("%w: segment %s: %w", media.ErrOutputWrite, s.name, err)
	}

	if s.packets > 0 {
		s.lastDelta = p.DTS - s.lastDTS
	}
	s.lastDTS = p.DTS
	if p.PTS > s.endPTS {
		s.endPTS = p.PTS
	}
	s.timeBase = p.TimeBase
	s.packets++
	return nil
}

func (s *fileSegment) Close() (Info, error) {
	if s.done {
		return Info{}, nil
	}
	s.done = true

	steps := []struct {
		what string
		fn   func() error
	}{
		{"finishing container", s.mux.Finish},
		{"flushing", s.buf.Flush},
		{"syncing", s.file.Sync},
		{"closing", s.file.Close},
		{"renaming", func() error { return os.Rename(s.partPath, s.path) }},
	}
	for i, step := range steps {
		if err := step.fn(); err != nil {
			if i < 3 {
				s.file.Close()
			}
			os.Remove(s.partPath)
			return Info{}, fmt.Errorf("%w: %s %s: %w", media.ErrOutputWrite, step.what, s.name, err)
		}
	}

	info := Info{
		Name:     s.name,
		Path:     s.path,
		Packets:  s.packets,
		Bytes:    s.counter.n,
		Duration: s.timeBase.Duration(s.endPTS + s.lastDelta),
	}
	s.logger.Debug("segment finalized",
		slog.String("path", s.path),
		slog.Int("packets", info.Packets),
		slog.String("size", format.Bytes(info.Bytes)),
		slog.String("duration", format.Clock(info.Duration)),
		slog.String("bitrate", format.Bitrate(info.Bytes, info.Duration)))
	return info, nil
}

func (s *fileSegment) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	closeErr := s.file.Close()
	if err := os.Remove(s.partPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", s.partPath, err)
	}
	s.logger.Warn("segment discarded", slog.String("path", s.partPath))
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return closeErr
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
