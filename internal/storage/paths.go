package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/ofsync/internal/models"
)

// NormalizePath resolves a user-supplied folder path for one side of a pair.
//
// An existing directory is returned as an absolute, cleaned path. Anything
// else (a file, or a path that does not exist) has its trailing separators
// trimmed and is replaced by its parent directory, which must exist. The
// result is always an existing directory or a *models.PathError.
func NormalizePath(side models.Side, path string) (string, error) {
	if strings.TrimSpace(path) == "" || strings.ContainsRune(path, 0) {
		return "", &models.PathError{Side: side, Path: path, Err: models.ErrInvalidPath}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &models.PathError{Side: side, Path: path, Err: fmt.Errorf("%w: %v", models.ErrInvalidPath, err)}
	}

	if isDir(abs) {
		return abs, nil
	}

	trimmed := strings.TrimRight(abs, `\/`)
	if trimmed == "" {
		trimmed = string(filepath.Separator)
	}
	parent := filepath.Dir(trimmed)
	if !isDir(parent) {
		return "", &models.PathError{Side: side, Path: path, Err: models.ErrPathNotFound}
	}

	return parent, nil
}

// SamePath reports whether two normalized paths name the same directory.
func SamePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(ai, bi)
}

// Exists checks if a file exists.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
