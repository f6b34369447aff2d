package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalUploader writes objects to a directory on the local filesystem. The
// URL returned is a file:// URL and never expires.
type LocalUploader struct {
	baseDir string
}

// NewLocalUploader creates a LocalUploader that writes objects under
// baseDir. The directory is created if it does not already exist.
func NewLocalUploader(baseDir string) (*LocalUploader, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	return &LocalUploader{baseDir: abs}, nil
}

// Upload writes content to baseDir/objectName, creating any intermediate
// directories as needed. The write goes to a temporary file first so a
// partially written receipt is never visible under its final name.
func (u *LocalUploader) Upload(_ context.Context, req *UploadRequest) (*UploadResult, error) {
	dest := filepath.Join(u.baseDir, filepath.FromSlash(req.ObjectName))
	if !strings.HasPrefix(dest, u.baseDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("storage: object name %q escapes the base directory", req.ObjectName)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create directory for %q: %w", req.ObjectName, err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create file for %q: %w", req.ObjectName, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := io.Copy(f, req.Content); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: failed to write file %q: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("storage: failed to close file %q: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return nil, fmt.Errorf("storage: failed to move file into place at %q: %w", dest, err)
	}

	fileURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}

	return &UploadResult{
		ObjectName: req.ObjectName,
		SignedURL:  fileURL.String(),
		ExpiresAt:  time.Time{},
	}, nil
}
