// Package scanner reconciles a folder's contents against its tracking store.
package scanner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"golang.org/x/text/unicode/norm"

	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/hasher"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/state"
)

// Observation is the outcome of hashing one file found on disk.
type Observation struct {
	Hash string
	Err  error
}

// Result of scanning one folder side.
type Result struct {
	Records models.FileRecords
	Hash    string
}

// Scanner walks one folder level, hashes each regular file and merges the
// result into the folder's tracking store.
type Scanner struct {
	store  state.TrackingStore
	hasher *hasher.Hasher
	logger *events.Logger

	now   func() time.Time
	newFS func(root string) billy.Filesystem
}

// New creates a scanner.
func New(store state.TrackingStore, h *hasher.Hasher, logger *events.Logger) *Scanner {
	return &Scanner{
		store:  store,
		hasher: h,
		logger: logger.WithField("component", "scanner"),
		now:    time.Now,
		newFS:  func(root string) billy.Filesystem { return osfs.New(root) },
	}
}

// Store returns the tracking store the scanner persists into.
func (s *Scanner) Store() state.TrackingStore {
	return s.store
}

// Scan loads the folder's tracking store, observes the folder, reconciles
// and saves the new record set. The store must already be initialized.
func (s *Scanner) Scan(ctx context.Context, folderPath string) (*Result, error) {
	logger := s.logger.WithField("path", folderPath)
	if name := events.GetFolder(ctx); name != "" {
		logger = logger.WithField("folder", name)
	}

	storePath := state.StorePath(folderPath, s.store.FileName())

	old, err := s.store.Load(storePath)
	if err != nil {
		return nil, fmt.Errorf("load tracking store: %w", err)
	}

	observed, err := s.observe(folderPath, logger)
	if err != nil {
		return nil, err
	}

	records := Reconcile(old, observed, s.now().UTC())

	if err := s.store.Save(storePath, records); err != nil {
		return nil, fmt.Errorf("save tracking store: %w", err)
	}

	hash := s.hasher.HashFolder(records.Live())

	counts := records.CountByStatus()
	logger.WithFields(map[string]interface{}{
		"files":    len(records),
		"new":      counts[models.FileNew],
		"modified": counts[models.FileModified],
		"deleted":  counts[models.FileDeleted],
		"errors":   counts[models.FileError],
	}).Debug("Folder scanned")

	return &Result{Records: records, Hash: hash}, nil
}

// observe hashes every regular file directly inside folderPath, following
// symlinks to files. Tracking store artifacts are skipped so the store never
// records itself.
func (s *Scanner) observe(folderPath string, logger *events.Logger) (map[string]Observation, error) {
	fsys := s.newFS(folderPath)

	entries, err := fsys.ReadDir(".")
	if err != nil {
		return nil, &models.PathError{Path: folderPath, Err: fmt.Errorf("%w: %v", models.ErrInvalidPath, err)}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	observed := make(map[string]Observation, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		mode := entry.Mode()
		if mode&os.ModeSymlink != 0 {
			target, err := fsys.Stat(name)
			if err != nil {
				logger.WithError(err).WithField("file", name).Debug("Skipping dangling symlink")
				continue
			}
			mode = target.Mode()
		}
		if !mode.IsRegular() {
			continue
		}
		if state.IsStoreArtifact(s.store.FileName(), name) {
			continue
		}

		key := norm.NFC.String(name)
		if _, dup := observed[key]; dup {
			logger.WithField("file", name).Warn("Skipping file whose normalized name collides with another entry")
			continue
		}

		hash, err := s.hasher.HashFile(fsys, name)
		if err != nil {
			logger.WithError(err).WithField("file", name).Warn("Failed to hash file")
			observed[key] = Observation{Err: err}
			continue
		}
		observed[key] = Observation{Hash: hash}
	}

	return observed, nil
}

// Reconcile merges a fresh observation of a folder into its previous record
// set. Every filename in old or observed appears exactly once in the result.
func Reconcile(old models.FileRecords, observed map[string]Observation, now time.Time) models.FileRecords {
	records := make(models.FileRecords, len(old)+len(observed))

	for name, obs := range observed {
		prev, seen := old[name]

		rec := models.FileRecord{
			Filename: name,
			Hash:     obs.Hash,
			LastSync: now,
		}

		switch {
		case obs.Err != nil:
			rec.Status = models.FileError
			rec.Hash = ""
			if seen && !prev.IsTombstone() {
				rec.LastSync = prev.LastSync
			}
		case !seen:
			rec.Status = models.FileNew
		case prev.IsTombstone():
			// Reappeared after deletion.
			switch {
			case prev.Hash == "":
				rec.Status = models.FileNew
			case prev.Hash == obs.Hash:
				rec.Status = models.FileSynced
			default:
				rec.Status = models.FileModified
			}
		default:
			rec.LastSync = prev.LastSync
			if prev.Hash == obs.Hash {
				rec.Status = models.FileSynced
			} else {
				rec.Status = models.FileModified
			}
		}

		records[name] = rec
	}

	for name, prev := range old {
		if _, ok := observed[name]; ok {
			continue
		}
		if !prev.IsTombstone() {
			prev.Status = models.FileDeleted
		}
		records[name] = prev
	}

	return records
}
