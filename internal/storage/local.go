package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"pubformatter/pkg/types"

	"github.com/sirupsen/logrus"
)

// LocalStorage keeps generated documents on the local filesystem under baseDir
type LocalStorage struct {
	baseDir string
	logger  *logrus.Logger
}

func NewLocalStorage(baseDir string, logger *logrus.Logger) *LocalStorage {
	return &LocalStorage{
		baseDir: baseDir,
		logger:  logger,
	}
}

func (s *LocalStorage) Put(_ context.Context, key string, content []byte, _ string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	s.logger.WithField("path", fullPath).WithField("size", len(content)).Debug("file saved")

	return nil
}

func (s *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrHandleNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return f, nil
}

// Delete removes the file and any directories the key created that are now
// empty. Missing files are not an error.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	absBase, _ := filepath.Abs(s.baseDir)
	for dir := filepath.Dir(fullPath); dir != absBase && strings.HasPrefix(dir, absBase); dir = filepath.Dir(dir) {
		// stops at the first directory that still has entries
		if err := os.Remove(dir); err != nil {
			break
		}
	}

	return nil
}

// resolve maps key to a path under baseDir and rejects keys that escape it
func (s *LocalStorage) resolve(key string) (string, error) {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(absBase, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", key)
	}

	return absPath, nil
}
