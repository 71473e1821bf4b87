package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/TheMichaelB/ofsync/internal/config"
	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/storage"
)

// Default tracking file names, one per backend.
const (
	SQLiteFileName = "offline_filesync_data.db"
	JSONFileName   = "offline_filesync_data.json"
)

// TrackingStore persists the per-file records of one tracked folder side.
// Every method takes the store path so one value serves any number of folders.
type TrackingStore interface {
	// Initialize creates the store and its schema if absent. Idempotent.
	Initialize(storePath string) error

	// Load returns all records, tombstones included. ErrStoreNotFound if the
	// store was never initialized.
	Load(storePath string) (models.FileRecords, error)

	// Save replaces the stored record set with records exactly. On failure
	// the previous record set is left intact.
	Save(storePath string, records models.FileRecords) error

	// Delete removes the store. A missing store is not an error.
	Delete(storePath string) error

	// FileName is the fixed name of the store file inside a folder.
	FileName() string
}

// Errors
var (
	ErrStoreNotFound = fmt.Errorf("tracking store %w", models.ErrNotFound)
	ErrStoreCorrupt  = fmt.Errorf("tracking store is corrupt: %w", models.ErrStoreIO)
)

// StorePath returns where a store named fileName lives inside folder.
func StorePath(folder, fileName string) string {
	return filepath.Join(folder, fileName)
}

// IsStoreArtifact reports whether name is the tracking file itself or one of
// its sidecars: SQLite journals, the JSON backup and atomic-write temp files.
func IsStoreArtifact(fileName, name string) bool {
	if name == fileName {
		return true
	}
	if !strings.HasPrefix(name, fileName) {
		return false
	}
	suffix := strings.TrimPrefix(name, fileName)
	switch suffix {
	case "-journal", "-wal", "-shm", ".bak":
		return true
	}
	return strings.HasPrefix(strings.TrimPrefix(suffix, ".bak"), storage.TempMarker)
}

// New builds the tracking store selected by cfg.
func New(cfg config.TrackingConfig, logger *events.Logger) (TrackingStore, error) {
	switch cfg.Backend {
	case "", config.BackendSQLite:
		return NewSQLiteStore(cfg.FileName, logger), nil
	case config.BackendJSON:
		return NewJSONStore(cfg.FileName, logger), nil
	default:
		return nil, fmt.Errorf("unknown tracking backend %q", cfg.Backend)
	}
}

func storeErr(op, path string, err error) error {
	return &models.StoreError{Op: op, Path: path, Err: err}
}
