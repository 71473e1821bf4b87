// Package registry keeps the central table of tracked folder pairs and drives
// scans of both sides of each pair.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/ofsync/internal/config"
	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/scanner"
	"github.com/TheMichaelB/ofsync/internal/state"
	"github.com/TheMichaelB/ofsync/internal/storage"
)

// MaxNameLength bounds folder names, in characters.
const MaxNameLength = 255

// Registry is the persisted set of tracked folder pairs. Every read goes to
// the database; there is no in-memory copy of the table.
type Registry struct {
	db      *sql.DB
	repo    *repository
	scanner *scanner.Scanner
	store   state.TrackingStore
	locks   *lockTable
	bus     *events.Bus
	logger  *events.Logger

	now func() time.Time
}

// Open opens (creating if needed) the registry database and migrates it.
func Open(ctx context.Context, cfg config.RegistryConfig, sc *scanner.Scanner, logger *events.Logger) (*Registry, error) {
	if cfg.Path == "" {
		return nil, errors.New("registry path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logger = logger.WithField("component", "registry")
	logger.WithField("path", cfg.Path).Debug("Registry opened")

	return &Registry{
		db:      db,
		repo:    newRepository(db),
		scanner: sc,
		store:   sc.Store(),
		locks:   newLockTable(cfg.LockTimeout),
		bus:     events.NewBus(0, logger),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Subscribe registers for FolderChanged events. Call the returned func to
// unsubscribe.
func (r *Registry) Subscribe() (<-chan events.FolderChanged, func()) {
	return r.bus.Subscribe()
}

// Lock write-locks a folder for callers that compose several operations.
// Operations given the returned context skip their own locking of name.
func (r *Registry) Lock(ctx context.Context, name string) (context.Context, func(), error) {
	unlock, err := r.locks.write(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return context.WithValue(ctx, heldLock{name}, true), unlock, nil
}

// AddFolder registers a new pair, initializes a tracking store on each side
// and records the result of a first scan.
func (r *Registry) AddFolder(ctx context.Context, name, localPath, remotePath string) (*models.TrackedFolder, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	unlock, err := r.locks.write(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = events.WithFolder(ctx, name)
	logger := r.logger.WithField("folder", name)

	local, remote, err := normalizePair(localPath, remotePath)
	if err != nil {
		return nil, err
	}

	exists, err := r.repo.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("folder %q: %w", name, models.ErrAlreadyExists)
	}

	created := r.missingStores(local, remote)

	localHash, remoteHash, err := r.scanPair(ctx, local, remote)
	if err != nil {
		r.discardStores(logger, created)
		return nil, err
	}

	folder := &models.TrackedFolder{
		Name:       name,
		LocalPath:  local,
		RemotePath: remote,
		Status:     initialStatus(localHash, remoteHash),
		LocalHash:  localHash,
		RemoteHash: remoteHash,
		LastSync:   r.now().UTC(),
	}

	id, err := r.repo.insert(ctx, folder)
	if err != nil {
		r.discardStores(logger, created)
		return nil, err
	}
	folder.ID = id

	logger.WithFields(map[string]interface{}{
		"local":  local,
		"remote": remote,
		"status": string(folder.Status),
	}).Info("Folder added")

	r.bus.Publish(events.FolderChanged{Name: name, Kind: events.FolderAdded})
	return folder, nil
}

// RemoveFolder deletes both tracking stores, then the registry row. If a
// store cannot be deleted the row is kept.
func (r *Registry) RemoveFolder(ctx context.Context, name string) error {
	unlock, err := r.locks.write(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	folder, err := r.repo.get(ctx, name)
	if err != nil {
		return err
	}

	for _, side := range []models.Side{models.SideLocal, models.SideRemote} {
		storePath := state.StorePath(folder.Path(side), r.store.FileName())
		if err := r.store.Delete(storePath); err != nil {
			return fmt.Errorf("delete %s tracking store: %w", side, err)
		}
	}

	if err := r.repo.delete(ctx, name); err != nil {
		return err
	}

	r.logger.WithField("folder", name).Info("Folder removed")
	r.bus.Publish(events.FolderChanged{Name: name, Kind: events.FolderRemoved})
	return nil
}

// SetFolderData applies a partial update. A new path is normalized and
// scanned, and the tracking store left at the old path is deleted. A rename
// leaves the tracking stores alone.
func (r *Registry) SetFolderData(ctx context.Context, name string, patch models.FolderPatch) (*models.TrackedFolder, error) {
	patch.Name = strings.TrimSpace(patch.Name)
	if patch.Name != "" {
		if err := validateName(patch.Name); err != nil {
			return nil, err
		}
	}

	lockNames := []string{name}
	if patch.Name != "" {
		lockNames = append(lockNames, patch.Name)
	}
	unlock, err := r.locks.writeAll(ctx, lockNames...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = events.WithFolder(ctx, name)

	folder, err := r.repo.get(ctx, name)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return folder, nil
	}

	if patch.LocalPath != "" {
		if patch.LocalPath, err = storage.NormalizePath(models.SideLocal, patch.LocalPath); err != nil {
			return nil, err
		}
	}
	if patch.RemotePath != "" {
		if patch.RemotePath, err = storage.NormalizePath(models.SideRemote, patch.RemotePath); err != nil {
			return nil, err
		}
	}

	merged := models.FolderPatch{Name: folder.Name, LocalPath: folder.LocalPath, RemotePath: folder.RemotePath}
	if err := mergo.Merge(&merged, patch, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge folder data: %w", err)
	}

	if storage.SamePath(merged.LocalPath, merged.RemotePath) {
		return nil, &models.PathError{Path: merged.RemotePath, Err: fmt.Errorf("%w: local and remote are the same directory", models.ErrInvalidPath)}
	}

	if merged.Name != folder.Name {
		exists, err := r.repo.exists(ctx, merged.Name)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("folder %q: %w", merged.Name, models.ErrAlreadyExists)
		}
	}

	updated := *folder
	updated.Name = merged.Name
	updated.LocalPath = merged.LocalPath
	updated.RemotePath = merged.RemotePath
	updated.LastSync = r.now().UTC()

	var abandoned []string
	for _, side := range []models.Side{models.SideLocal, models.SideRemote} {
		oldPath, newPath := folder.Path(side), updated.Path(side)
		if storage.SamePath(oldPath, newPath) {
			continue
		}

		hash, err := r.scanSide(ctx, newPath)
		if err != nil {
			return nil, fmt.Errorf("scan new %s path: %w", side, err)
		}
		if side == models.SideLocal {
			updated.LocalHash = hash
		} else {
			updated.RemoteHash = hash
		}
		abandoned = append(abandoned, oldPath)
	}

	if len(abandoned) > 0 {
		updated.Status = nextStatus(folder.Status, folder.LocalHash, folder.RemoteHash, updated.LocalHash, updated.RemoteHash)
	}

	if err := r.repo.update(ctx, &updated); err != nil {
		return nil, err
	}

	logger := r.logger.WithField("folder", updated.Name)
	for _, oldPath := range abandoned {
		// The old side may now be the other side of the pair.
		if storage.SamePath(oldPath, updated.LocalPath) || storage.SamePath(oldPath, updated.RemotePath) {
			continue
		}
		if err := r.store.Delete(state.StorePath(oldPath, r.store.FileName())); err != nil {
			logger.WithError(err).WithField("path", oldPath).Warn("Failed to delete abandoned tracking store")
		}
	}

	logger.WithFields(map[string]interface{}{
		"old_name": folder.Name,
		"local":    updated.LocalPath,
		"remote":   updated.RemotePath,
		"status":   string(updated.Status),
	}).Info("Folder updated")

	ev := events.FolderChanged{Name: updated.Name, Kind: events.FolderUpdated}
	if updated.Name != folder.Name {
		ev.OldName = folder.Name
	}
	r.bus.Publish(ev)

	return &updated, nil
}

// RefreshFolder rescans both sides and reclassifies the pair.
func (r *Registry) RefreshFolder(ctx context.Context, name string) (*models.TrackedFolder, error) {
	unlock, err := r.locks.write(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx = events.WithFolder(ctx, name)

	folder, err := r.repo.get(ctx, name)
	if err != nil {
		return nil, err
	}

	localHash, remoteHash, err := r.scanPair(ctx, folder.LocalPath, folder.RemotePath)
	if err != nil {
		return nil, err
	}

	updated := *folder
	updated.LocalHash = localHash
	updated.RemoteHash = remoteHash
	updated.Status = nextStatus(folder.Status, folder.LocalHash, folder.RemoteHash, localHash, remoteHash)
	updated.LastSync = r.now().UTC()

	if err := r.repo.update(ctx, &updated); err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"folder":      name,
		"prev_status": string(folder.Status),
		"status":      string(updated.Status),
	}).Info("Folder refreshed")

	r.bus.Publish(events.FolderChanged{Name: name, Kind: events.FolderRefreshed})
	return &updated, nil
}

// ScanSide rescans one side of a pair and returns its file records. The
// registry row is not changed.
func (r *Registry) ScanSide(ctx context.Context, name string, side models.Side) (models.FileRecords, error) {
	unlock, err := r.locks.write(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	folder, err := r.repo.get(ctx, name)
	if err != nil {
		return nil, err
	}

	path := folder.Path(side)
	storePath := state.StorePath(path, r.store.FileName())
	if err := r.store.Initialize(storePath); err != nil {
		return nil, fmt.Errorf("initialize %s tracking store: %w", side, err)
	}

	res, err := r.scanner.Scan(events.WithFolder(ctx, name), path)
	if err != nil {
		return nil, fmt.Errorf("scan %s side: %w", side, err)
	}
	return res.Records, nil
}

// GetFolderData returns the stored row for name.
func (r *Registry) GetFolderData(ctx context.Context, name string) (*models.TrackedFolder, error) {
	unlock, err := r.locks.read(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return r.repo.get(ctx, name)
}

// GetAllFoldersData returns every stored row ordered by name.
func (r *Registry) GetAllFoldersData(ctx context.Context) ([]*models.TrackedFolder, error) {
	return r.repo.list(ctx)
}

// ListFolderNames returns the tracked folder names in order.
func (r *Registry) ListFolderNames(ctx context.Context) ([]string, error) {
	return r.repo.names(ctx)
}

// scanPair initializes and scans both sides concurrently.
func (r *Registry) scanPair(ctx context.Context, local, remote string) (string, string, error) {
	var localHash, remoteHash string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := r.scanSide(gctx, local)
		if err != nil {
			return fmt.Errorf("scan local side: %w", err)
		}
		localHash = h
		return nil
	})
	g.Go(func() error {
		h, err := r.scanSide(gctx, remote)
		if err != nil {
			return fmt.Errorf("scan remote side: %w", err)
		}
		remoteHash = h
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return localHash, remoteHash, nil
}

// missingStores returns the tracking store paths under the given folders
// that do not exist yet.
func (r *Registry) missingStores(paths ...string) []string {
	var missing []string
	for _, p := range paths {
		storePath := state.StorePath(p, r.store.FileName())
		if exists, err := storage.Exists(storePath); err == nil && !exists {
			missing = append(missing, storePath)
		}
	}
	return missing
}

// discardStores deletes tracking stores created by a failed AddFolder.
func (r *Registry) discardStores(logger *events.Logger, storePaths []string) {
	for _, storePath := range storePaths {
		if err := r.store.Delete(storePath); err != nil {
			logger.WithError(err).WithField("path", storePath).Warn("Failed to delete tracking store of failed add")
		}
	}
}

func (r *Registry) scanSide(ctx context.Context, path string) (string, error) {
	storePath := state.StorePath(path, r.store.FileName())
	if err := r.store.Initialize(storePath); err != nil {
		return "", fmt.Errorf("initialize tracking store: %w", err)
	}

	res, err := r.scanner.Scan(ctx, path)
	if err != nil {
		return "", err
	}
	return res.Hash, nil
}

func normalizePair(localPath, remotePath string) (string, string, error) {
	local, err := storage.NormalizePath(models.SideLocal, localPath)
	if err != nil {
		return "", "", err
	}
	remote, err := storage.NormalizePath(models.SideRemote, remotePath)
	if err != nil {
		return "", "", err
	}
	if storage.SamePath(local, remote) {
		return "", "", &models.PathError{Side: models.SideRemote, Path: remotePath, Err: fmt.Errorf("%w: local and remote are the same directory", models.ErrInvalidPath)}
	}
	return local, remote, nil
}

func validateName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.RuneLength(1, MaxNameLength),
		validation.By(func(value interface{}) error {
			if strings.ContainsAny(value.(string), "\x00\n\r") {
				return errors.New("must not contain control characters")
			}
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidName, err)
	}
	return nil
}
