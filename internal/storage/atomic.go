package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempMarker appears in the name of every in-flight atomic write.
const TempMarker = ".tmp."

// WriteAtomic replaces path with data via a synced temp file and rename, so
// readers observe either the old or the new content.
func WriteAtomic(path string, data []byte, mode os.FileMode) error {
	tempPath := fmt.Sprintf("%s%s%d", path, TempMarker, time.Now().UnixNano())

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

// RemoveIfExists deletes path, treating an absent file as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CleanTemp removes leftover temp files of interrupted atomic writes to path.
func CleanTemp(path string) {
	matches, err := filepath.Glob(path + TempMarker + "*")
	if err != nil {
		return
	}
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), filepath.Base(path)+TempMarker) {
			_ = os.Remove(m)
		}
	}
}
