package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// processedDirName is the subdirectory released frames are moved into.
const processedDirName = "processed"

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// DirSource treats a directory as a camera: every image file dropped into it
// is one frame, taken oldest first. Releasing a frame moves its file into the
// processed/ subdirectory so it is never captured twice.
//
// This suits phone apps and flatbed scanners that upload shots to a shared
// folder.
type DirSource struct {
	dir       string
	processed string
	log       *logrus.Entry

	mu       sync.Mutex
	inFlight map[string]bool
	closed   bool
}

// NewDirSource binds a DirSource to dir, creating it and its processed/
// subdirectory if needed.
func NewDirSource(dir string, log *logrus.Entry) (*DirSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: failed to resolve absolute path for %q: %w", dir, err)
	}
	processed := filepath.Join(abs, processedDirName)
	if err := os.MkdirAll(processed, 0o755); err != nil {
		return nil, fmt.Errorf("capture: failed to create %q: %w", processed, err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &DirSource{
		dir:       abs,
		processed: processed,
		log:       log.WithField("source", "dir"),
		inFlight:  make(map[string]bool),
	}, nil
}

// Acquire reads the oldest image file not already handed out. An empty
// directory yields ErrUnavailable.
func (s *DirSource) Acquire(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	path, err := s.next()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capture: failed to read %q: %w", path, err)
	}

	s.inFlight[path] = true
	return NewFrame(data, 0, path, func() { s.release(path) }), nil
}

// next returns the oldest eligible image. Must be called with s.mu held.
func (s *DirSource) next() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("capture: failed to list %q: %w", s.dir, err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if s.inFlight[path] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, candidate{path: path, modTime: info.ModTime()})
	}
	if len(files) == 0 {
		return "", ErrUnavailable
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	return files[0].path, nil
}

func (s *DirSource) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, path)

	dest := filepath.Join(s.processed, time.Now().UTC().Format("20060102T150405.000")+"_"+filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		s.log.WithError(err).WithField("file", path).Warn("failed to move released frame")
	}
}

// SetTorch always fails: a folder has no light.
func (s *DirSource) SetTorch(context.Context, bool) error {
	return ErrTorchUnsupported
}

func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
