package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrNoFrames is returned when a FilesSource directory holds no JPEG files.
var ErrNoFrames = errors.New("no frames available")

// FilesSource plays back the JPEG files of a directory in name order,
// looping forever at a fixed framerate. It stands in for a camera during
// development.
type FilesSource struct {
	dir      string
	interval time.Duration
	loop     bool
}

// NewFilesSource creates a source replaying dir at fps frames per second.
func NewFilesSource(dir string, fps int, loop bool) *FilesSource {
	return &FilesSource{
		dir:      dir,
		interval: frameInterval(fps),
		loop:     loop,
	}
}

// Name implements Source.
func (s *FilesSource) Name() string {
	return "files"
}

// Run implements Source. Without looping it returns io.EOF after the last file.
func (s *FilesSource) Run(ctx context.Context, w io.Writer) error {
	paths, err := s.list()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(paths) {
			if !s.loop {
				return io.EOF
			}
			i = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		data, err := os.ReadFile(paths[i])
		if err != nil {
			return fmt.Errorf("read frame %s: %w", paths[i], err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("deliver frame: %w", err)
		}
	}
}

// list returns the sorted JPEG paths in the directory.
func (s *FilesSource) list() ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.jpg", "*.jpeg"} {
		matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s: %w", s.dir, ErrNoFrames)
	}
	sort.Strings(paths)
	return paths, nil
}
