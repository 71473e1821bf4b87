package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/storage"
)

const trackingSchema = `
    CREATE TABLE IF NOT EXISTS tracked_files (
        id INTEGER PRIMARY KEY,
        filename TEXT NOT NULL UNIQUE,
        status TEXT NOT NULL,
        last_sync TEXT NOT NULL,
        hash TEXT NOT NULL
    );
    `

// SQLiteStore keeps each folder's records in a small SQLite file at the
// folder root. Connections are opened per call and closed before returning,
// so nothing holds the file once an operation completes.
type SQLiteStore struct {
	fileName string
	logger   *events.Logger
}

// NewSQLiteStore creates a SQLite tracking store. An empty fileName selects
// SQLiteFileName.
func NewSQLiteStore(fileName string, logger *events.Logger) *SQLiteStore {
	if fileName == "" {
		fileName = SQLiteFileName
	}
	return &SQLiteStore{
		fileName: fileName,
		logger:   logger.WithField("component", "sqlite_tracking_store"),
	}
}

// FileName returns the tracking file name.
func (s *SQLiteStore) FileName() string {
	return s.fileName
}

func (s *SQLiteStore) open(storePath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", storePath+"?_journal=DELETE&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Initialize creates the tracking file and table if absent.
func (s *SQLiteStore) Initialize(storePath string) error {
	s.logger.WithField("path", storePath).Debug("Initializing tracking store")

	db, err := s.open(storePath)
	if err != nil {
		return storeErr("initialize", storePath, err)
	}
	defer db.Close()

	if _, err := db.Exec(trackingSchema); err != nil {
		return storeErr("initialize", storePath, fmt.Errorf("create schema: %w", err))
	}

	return nil
}

// Load reads every record from the store.
func (s *SQLiteStore) Load(storePath string) (models.FileRecords, error) {
	s.logger.WithField("path", storePath).Debug("Loading tracking store")

	if err := s.ensureExists(storePath); err != nil {
		return nil, err
	}

	db, err := s.open(storePath)
	if err != nil {
		return nil, storeErr("load", storePath, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT filename, status, last_sync, hash FROM tracked_files`)
	if err != nil {
		return nil, storeErr("load", storePath, fmt.Errorf("query files: %w", err))
	}
	defer rows.Close()

	records := make(models.FileRecords)
	for rows.Next() {
		var filename, status, lastSync, hash string
		if err := rows.Scan(&filename, &status, &lastSync, &hash); err != nil {
			return nil, storeErr("load", storePath, fmt.Errorf("scan file row: %w", err))
		}

		rec, err := decodeRecord(filename, status, lastSync, hash)
		if err != nil {
			return nil, storeErr("load", storePath, fmt.Errorf("%w: %v", ErrStoreCorrupt, err))
		}
		records[filename] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("load", storePath, fmt.Errorf("iterate files: %w", err))
	}

	return records, nil
}

// Save replaces all records inside one transaction.
func (s *SQLiteStore) Save(storePath string, records models.FileRecords) error {
	s.logger.WithFields(map[string]interface{}{
		"path":  storePath,
		"files": len(records),
	}).Debug("Saving tracking store")

	if err := validateRecords(records); err != nil {
		return storeErr("save", storePath, err)
	}

	if err := s.ensureExists(storePath); err != nil {
		return err
	}

	db, err := s.open(storePath)
	if err != nil {
		return storeErr("save", storePath, err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return storeErr("save", storePath, fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM tracked_files"); err != nil {
		return storeErr("save", storePath, fmt.Errorf("delete old files: %w", err))
	}

	stmt, err := tx.Prepare(`
        INSERT INTO tracked_files (filename, status, last_sync, hash)
        VALUES (?, ?, ?, ?)
    `)
	if err != nil {
		return storeErr("save", storePath, fmt.Errorf("prepare statement: %w", err))
	}
	defer stmt.Close()

	for _, rec := range records.Sorted() {
		if _, err := stmt.Exec(rec.Filename, string(rec.Status), encodeTime(rec.LastSync), rec.Hash); err != nil {
			return storeErr("save", storePath, fmt.Errorf("insert file %s: %w", rec.Filename, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("save", storePath, fmt.Errorf("commit: %w", err))
	}

	return nil
}

// Delete removes the tracking file and any SQLite sidecars.
func (s *SQLiteStore) Delete(storePath string) error {
	s.logger.WithField("path", storePath).Info("Deleting tracking store")

	for _, p := range []string{storePath, storePath + "-journal", storePath + "-wal", storePath + "-shm"} {
		if err := storage.RemoveIfExists(p); err != nil {
			return storeErr("delete", p, err)
		}
	}

	return nil
}

func (s *SQLiteStore) ensureExists(storePath string) error {
	if _, err := os.Stat(storePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", storePath, ErrStoreNotFound)
		}
		return storeErr("stat", storePath, err)
	}
	return nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeRecord(filename, status, lastSync, hash string) (models.FileRecord, error) {
	st, err := models.ParseFileStatus(status)
	if err != nil {
		return models.FileRecord{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, lastSync)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("parse last_sync of %s: %w", filename, err)
	}
	return models.FileRecord{
		Filename: filename,
		Status:   st,
		LastSync: ts,
		Hash:     hash,
	}, nil
}

// validateRecords rejects record sets that would persist inconsistently.
func validateRecords(records models.FileRecords) error {
	for name, rec := range records {
		if name == "" {
			return errors.New("empty filename")
		}
		if rec.Filename != name {
			return fmt.Errorf("record key %q does not match filename %q", name, rec.Filename)
		}
		if !rec.Status.Valid() {
			return fmt.Errorf("file %s: unknown status %q", name, rec.Status)
		}
	}
	return nil
}
