package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/storage"
)

// CurrentSchemaVersion of the JSON tracking document.
const CurrentSchemaVersion = 1

// trackingDocument is the on-disk layout of a JSON tracking store.
type trackingDocument struct {
	SchemaVersion int                 `json:"schema_version"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	Files         []models.FileRecord `json:"files"`
	Checksum      string              `json:"checksum,omitempty"`
}

// JSONStore implements file-based tracking storage. Each write goes through
// a temp file and rename; the previous document is kept as a .bak copy and
// used when the primary fails its checksum.
type JSONStore struct {
	fileName string
	logger   *events.Logger
}

// NewJSONStore creates a JSON tracking store. An empty fileName selects
// JSONFileName.
func NewJSONStore(fileName string, logger *events.Logger) *JSONStore {
	if fileName == "" {
		fileName = JSONFileName
	}
	return &JSONStore{
		fileName: fileName,
		logger:   logger.WithField("component", "json_tracking_store"),
	}
}

// FileName returns the tracking file name.
func (s *JSONStore) FileName() string {
	return s.fileName
}

// Initialize writes an empty document if none exists.
func (s *JSONStore) Initialize(storePath string) error {
	exists, err := storage.Exists(storePath)
	if err != nil {
		return storeErr("initialize", storePath, err)
	}
	if exists {
		return nil
	}

	s.logger.WithField("path", storePath).Debug("Initializing tracking store")

	now := time.Now().UTC()
	doc := &trackingDocument{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
		Files:         []models.FileRecord{},
	}
	if err := s.write(storePath, doc); err != nil {
		return storeErr("initialize", storePath, err)
	}
	return nil
}

// Load reads the document, falling back to the backup on corruption.
func (s *JSONStore) Load(storePath string) (models.FileRecords, error) {
	s.logger.WithField("path", storePath).Debug("Loading tracking store")

	doc, _, err := s.read(storePath)
	if err != nil {
		return nil, err
	}

	records := make(models.FileRecords, len(doc.Files))
	for _, rec := range doc.Files {
		if !rec.Status.Valid() {
			return nil, storeErr("load", storePath, fmt.Errorf("%w: file %s has status %q", ErrStoreCorrupt, rec.Filename, rec.Status))
		}
		records[rec.Filename] = rec
	}
	return records, nil
}

// Save replaces the document atomically.
func (s *JSONStore) Save(storePath string, records models.FileRecords) error {
	s.logger.WithFields(map[string]interface{}{
		"path":  storePath,
		"files": len(records),
	}).Debug("Saving tracking store")

	if err := validateRecords(records); err != nil {
		return storeErr("save", storePath, err)
	}

	current, fromBackup, err := s.read(storePath)
	if err != nil {
		return err
	}

	// Keep the last good document as backup. A primary that failed
	// verification must not replace it.
	if !fromBackup {
		if data, err := os.ReadFile(storePath); err == nil {
			if err := storage.WriteAtomic(s.backupPath(storePath), data, 0644); err != nil {
				s.logger.WithError(err).Warn("Failed to write tracking store backup")
			}
		}
	}

	files := records.Sorted()
	for i := range files {
		files[i].LastSync = files[i].LastSync.UTC()
	}

	doc := &trackingDocument{
		SchemaVersion: CurrentSchemaVersion,
		CreatedAt:     current.CreatedAt,
		UpdatedAt:     time.Now().UTC(),
		Files:         files,
	}
	if err := s.write(storePath, doc); err != nil {
		return storeErr("save", storePath, err)
	}
	return nil
}

// Delete removes the document, its backup and stray temp files.
func (s *JSONStore) Delete(storePath string) error {
	s.logger.WithField("path", storePath).Info("Deleting tracking store")

	for _, p := range []string{storePath, s.backupPath(storePath)} {
		if err := storage.RemoveIfExists(p); err != nil {
			return storeErr("delete", p, err)
		}
	}
	storage.CleanTemp(storePath)
	return nil
}

// read decodes the primary document. fromBackup reports that the primary
// failed verification and the backup was used instead.
func (s *JSONStore) read(storePath string) (doc *trackingDocument, fromBackup bool, err error) {
	data, err := os.ReadFile(storePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("%s: %w", storePath, ErrStoreNotFound)
		}
		return nil, false, storeErr("load", storePath, err)
	}

	doc, err = decodeDocument(data)
	if err == nil {
		return doc, false, nil
	}

	s.logger.WithError(err).WithField("path", storePath).Error("Tracking store failed verification")

	if backup, readErr := os.ReadFile(s.backupPath(storePath)); readErr == nil {
		if doc, bErr := decodeDocument(backup); bErr == nil {
			s.logger.Warn("Loaded tracking store from backup due to corruption")
			return doc, true, nil
		}
	}

	return nil, false, storeErr("load", storePath, fmt.Errorf("%w: %v", ErrStoreCorrupt, err))
}

func (s *JSONStore) write(storePath string, doc *trackingDocument) error {
	doc.Checksum = ""
	unsigned, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	doc.Checksum = checksum(unsigned)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	return storage.WriteAtomic(storePath, data, 0644)
}

func (s *JSONStore) backupPath(storePath string) string {
	return storePath + ".bak"
}

func decodeDocument(data []byte) (*trackingDocument, error) {
	var doc trackingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	if doc.Checksum != "" {
		want := doc.Checksum
		doc.Checksum = ""
		unsigned, err := json.Marshal(&doc)
		if err != nil {
			return nil, fmt.Errorf("marshal for verification: %w", err)
		}
		if got := checksum(unsigned); got != want {
			return nil, fmt.Errorf("checksum mismatch: expected %s, got %s", want, got)
		}
		doc.Checksum = want
	}

	if doc.SchemaVersion != CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", doc.SchemaVersion)
	}
	if doc.Files == nil {
		doc.Files = []models.FileRecord{}
	}

	return &doc, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
