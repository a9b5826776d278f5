package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/grafov/m3u8"
)

// IndexFileName is the playlist written next to TS segments.
const IndexFileName = "segments.m3u8"

// Index maintains an EVENT playlist of finalized segments. The playlist is
// rewritten atomically after every change.
type Index struct {
	mu      sync.Mutex
	path    string
	entries []Info
	ended   bool
}

// NewIndex returns an index writing to dir/segments.m3u8.
func NewIndex(dir string) *Index {
	return &Index{path: filepath.Join(dir, IndexFileName)}
}

// Path returns the playlist location.
func (x *Index) Path() string {
	return x.path
}

// Add appends a closed segment and rewrites the playlist.
func (x *Index) Add(info Info) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = append(x.entries, info)
	return x.write()
}

// Finish marks the playlist complete with EXT-X-ENDLIST.
func (x *Index) Finish() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ended = true
	return x.write()
}

func (x *Index) write() error {
	capacity := uint(len(x.entries))
	if capacity == 0 {
		capacity = 1
	}
	pl, err := m3u8.NewMediaPlaylist(0, capacity)
	if err != nil {
		return fmt.Errorf("creating playlist: %w", err)
	}
	pl.MediaType = m3u8.EVENT
	for _, e := range x.entries {
		if err := pl.Append(filepath.Base(e.Path), e.Duration.Seconds(), ""); err != nil {
			return fmt.Errorf("appending %s: %w", e.Name, err)
		}
	}
	if x.ended {
		pl.Close()
	}

	tmp := x.path + partSuffix
	if err := os.WriteFile(tmp, pl.Encode().Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, x.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
