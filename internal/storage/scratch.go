package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ScratchSpace hands out private per-job directories under a base directory.
type ScratchSpace struct {
	baseDir string
}

// NewScratchSpace creates a ScratchSpace rooted at baseDir.
// If baseDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewScratchSpace(baseDir string) (*ScratchSpace, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "frame-extractor")
	}

	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &ScratchSpace{baseDir: baseDir}, nil
}

// BaseDir returns the scratch root.
func (s *ScratchSpace) BaseDir() string {
	return s.baseDir
}

// Create makes a new private directory for jobID.
func (s *ScratchSpace) Create(jobID string) (*Scratch, error) {
	dir, err := os.MkdirTemp(s.baseDir, filepath.Base(jobID)+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch area: %w", err)
	}
	return &Scratch{dir: dir}, nil
}

// Scratch is a private working directory owned by one job attempt.
type Scratch struct {
	dir string
}

// Dir returns the scratch directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// SaveTemp copies data into a new file in the scratch area and returns its path.
// The name is used as a base for the filename with a unique suffix.
func (s *Scratch) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.dir, filepath.Base(name)+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// Cleanup removes the scratch area and everything in it.
func (s *Scratch) Cleanup() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove scratch area %s: %w", s.dir, err)
	}
	return nil
}
