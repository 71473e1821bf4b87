package registry_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/hasher"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/registry"
	"github.com/TheMichaelB/ofsync/internal/scanner"
	"github.com/TheMichaelB/ofsync/internal/state"
	"github.com/TheMichaelB/ofsync/internal/testutil"
)

const emptyDigest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func newTestRegistry(t *testing.T, store state.TrackingStore) (*registry.Registry, string) {
	t.Helper()

	dataDir := t.TempDir()
	cfg := testutil.TestConfigWithDir(dataDir)
	logger := testutil.NewTestLogger()

	sc := scanner.New(store, hasher.New(), logger)
	reg, err := registry.Open(testutil.TestContext(t), cfg.Registry, sc, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	return reg, cfg.Registry.Path
}

func sqliteStore() state.TrackingStore {
	return state.NewSQLiteStore("", testutil.NewTestLogger())
}

func TestAddFolderEmptyPairScenario(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	folder, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	assert.Equal(t, "Docs", folder.Name)
	assert.Equal(t, models.FolderSynced, folder.Status)
	assert.Equal(t, emptyDigest, folder.LocalHash)
	assert.Equal(t, folder.LocalHash, folder.RemoteHash)
	assert.NotZero(t, folder.ID)
	assert.FileExists(t, state.StorePath(pair.Local, state.SQLiteFileName))
	assert.FileExists(t, state.StorePath(pair.Remote, state.SQLiteFileName))

	testutil.WriteFile(t, pair.Local, "report.txt", "figures")

	records, err := reg.ScanSide(ctx, "Docs", models.SideLocal)
	require.NoError(t, err)
	require.Contains(t, records, "report.txt")
	assert.Equal(t, models.FileNew, records["report.txt"].Status)

	refreshed, err := reg.RefreshFolder(ctx, "Docs")
	require.NoError(t, err)
	assert.Equal(t, models.FolderLocalModified, refreshed.Status)
	assert.NotEqual(t, folder.LocalHash, refreshed.LocalHash)
	assert.Equal(t, folder.RemoteHash, refreshed.RemoteHash)

	stored, err := reg.GetFolderData(ctx, "Docs")
	require.NoError(t, err)
	assert.Equal(t, refreshed.Status, stored.Status)
	assert.Equal(t, refreshed.LocalHash, stored.LocalHash)
}

func TestRefreshDivergenceDetection(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)
	testutil.WriteFile(t, pair.Local, "a.txt", "same")
	testutil.WriteFile(t, pair.Remote, "a.txt", "same")

	folder, err := reg.AddFolder(ctx, "Pair", pair.Local, pair.Remote)
	require.NoError(t, err)
	require.Equal(t, models.FolderSynced, folder.Status)

	// Nothing changed.
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderSynced, folder.Status)

	// Remote only.
	testutil.WriteFile(t, pair.Remote, "a.txt", "remote edit")
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderRemoteModified, folder.Status)

	// Unchanged since last refresh keeps the status.
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderRemoteModified, folder.Status)

	// Both sides move and disagree.
	testutil.WriteFile(t, pair.Local, "a.txt", "local edit")
	testutil.WriteFile(t, pair.Remote, "a.txt", "another remote edit")
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderConflict, folder.Status)

	// Converge.
	testutil.WriteFile(t, pair.Remote, "a.txt", "local edit")
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderSynced, folder.Status)
	assert.Equal(t, folder.LocalHash, folder.RemoteHash)

	// Local moves, then remote moves on a later refresh.
	testutil.WriteFile(t, pair.Local, "a.txt", "second local edit")
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderLocalModified, folder.Status)

	testutil.WriteFile(t, pair.Remote, "a.txt", "second remote edit")
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderConflict, folder.Status)

	// One side moving again does not clear the conflict.
	testutil.WriteFile(t, pair.Remote, "a.txt", "third remote edit")
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderConflict, folder.Status)

	testutil.WriteFile(t, pair.Remote, "a.txt", "second local edit")
	folder, err = reg.RefreshFolder(ctx, "Pair")
	require.NoError(t, err)
	assert.Equal(t, models.FolderSynced, folder.Status)
}

func TestAddFolderInsertFailureDiscardsNewStores(t *testing.T) {
	reg, dbPath := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)
	testutil.WriteFile(t, pair.Local, "a.txt", "alpha")

	// A store that was already on the remote side is not ours to delete.
	existing := state.StorePath(pair.Remote, state.SQLiteFileName)
	require.NoError(t, sqliteStore().Initialize(existing))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `CREATE TRIGGER reject_insert BEFORE INSERT ON tracked_folders
BEGIN SELECT RAISE(ABORT, 'insert rejected'); END`)
	require.NoError(t, err)

	_, err = reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.Error(t, err)

	assert.NoFileExists(t, state.StorePath(pair.Local, state.SQLiteFileName))
	assert.FileExists(t, existing)

	names, err := reg.ListFolderNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestAddFolderDifferentContentIsConflict(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	pair := testutil.NewFolderPair(t)
	testutil.WriteFile(t, pair.Local, "a.txt", "one")

	folder, err := reg.AddFolder(testutil.TestContext(t), "Diff", pair.Local, pair.Remote)
	require.NoError(t, err)
	assert.Equal(t, models.FolderConflict, folder.Status)
}

func TestAddFolderValidation(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)
	missing := filepath.Join(t.TempDir(), "no", "such", "dir")

	tests := []struct {
		name    string
		folder  string
		local   string
		remote  string
		wantErr error
	}{
		{"empty name", "  ", pair.Local, pair.Remote, models.ErrInvalidName},
		{"long name", strings.Repeat("x", registry.MaxNameLength+1), pair.Local, pair.Remote, models.ErrInvalidName},
		{"missing local parent", "A", missing, pair.Remote, models.ErrPathNotFound},
		{"missing remote parent", "B", pair.Local, missing, models.ErrInvalidPath},
		{"same directory", "C", pair.Local, pair.Local + string(filepath.Separator), models.ErrInvalidPath},
		{"empty path", "D", "", pair.Remote, models.ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.AddFolder(ctx, tt.folder, tt.local, tt.remote)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	names, err := reg.ListFolderNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "failed adds must not leave rows")

	var pathErr *models.PathError
	_, err = reg.AddFolder(ctx, "E", missing, pair.Remote)
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, models.SideLocal, pathErr.Side)
}

func TestAddFolderPathFallsBackToParent(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	pair := testutil.NewFolderPair(t)
	testutil.WriteFile(t, pair.Local, "file.txt", "x")

	folder, err := reg.AddFolder(testutil.TestContext(t), "Parent",
		filepath.Join(pair.Local, "file.txt"),
		filepath.Join(pair.Remote, "not-yet-created")+string(filepath.Separator))
	require.NoError(t, err)

	assert.Equal(t, pair.Local, folder.LocalPath)
	assert.Equal(t, pair.Remote, folder.RemotePath)
}

func TestAddFolderDuplicateName(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	first := testutil.NewFolderPair(t)
	second := testutil.NewFolderPair(t)

	_, err := reg.AddFolder(ctx, "Docs", first.Local, first.Remote)
	require.NoError(t, err)

	_, err = reg.AddFolder(ctx, "Docs", second.Local, second.Remote)
	assert.ErrorIs(t, err, models.ErrAlreadyExists)
}

func TestRemoveFolder(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)
	testutil.WriteFile(t, pair.Local, "keep.txt", "data")

	_, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	require.NoError(t, reg.RemoveFolder(ctx, "Docs"))

	assert.NoFileExists(t, state.StorePath(pair.Local, state.SQLiteFileName))
	assert.NoFileExists(t, state.StorePath(pair.Remote, state.SQLiteFileName))
	assert.FileExists(t, filepath.Join(pair.Local, "keep.txt"), "user files are never touched")

	_, err = reg.GetFolderData(ctx, "Docs")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = reg.RemoveFolder(ctx, "Docs")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRemoveFolderWithMissingStore(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	_, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	require.NoError(t, os.Remove(state.StorePath(pair.Local, state.SQLiteFileName)))

	require.NoError(t, reg.RemoveFolder(ctx, "Docs"))

	names, err := reg.ListFolderNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRemoveFolderStoreFailureKeepsRow(t *testing.T) {
	store := state.NewMockStore()
	reg, _ := newTestRegistry(t, store)
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	_, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	store.Fail("delete", os.ErrPermission)

	err = reg.RemoveFolder(ctx, "Docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreIO)

	_, err = reg.GetFolderData(ctx, "Docs")
	assert.NoError(t, err, "row must survive a failed store deletion")
}

func TestRefreshStoreFailure(t *testing.T) {
	store := state.NewMockStore()
	reg, _ := newTestRegistry(t, store)
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	before, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	store.Fail("save", errors.New("read-only media"))
	testutil.WriteFile(t, pair.Remote, "new.txt", "x")

	_, err = reg.RefreshFolder(ctx, "Docs")
	assert.ErrorIs(t, err, models.ErrStoreIO)

	after, err := reg.GetFolderData(ctx, "Docs")
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.RemoteHash, after.RemoteHash)
}

func TestSetFolderDataRename(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	original, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	ch, unsubscribe := reg.Subscribe()
	defer unsubscribe()

	renamed, err := reg.SetFolderData(ctx, "Docs", models.FolderPatch{Name: "Papers"})
	require.NoError(t, err)

	assert.Equal(t, "Papers", renamed.Name)
	assert.Equal(t, original.ID, renamed.ID)
	assert.Equal(t, original.LocalPath, renamed.LocalPath)
	assert.Equal(t, original.LocalHash, renamed.LocalHash)
	assert.False(t, renamed.LastSync.Before(original.LastSync))
	assert.FileExists(t, state.StorePath(pair.Local, state.SQLiteFileName))

	_, err = reg.GetFolderData(ctx, "Docs")
	assert.ErrorIs(t, err, models.ErrNotFound)

	ev := receive(t, ch)
	assert.Equal(t, events.FolderUpdated, ev.Kind)
	assert.Equal(t, "Papers", ev.Name)
	assert.Equal(t, "Docs", ev.OldName)
}

func TestSetFolderDataRenameTaken(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	a := testutil.NewFolderPair(t)
	b := testutil.NewFolderPair(t)

	_, err := reg.AddFolder(ctx, "A", a.Local, a.Remote)
	require.NoError(t, err)
	_, err = reg.AddFolder(ctx, "B", b.Local, b.Remote)
	require.NoError(t, err)

	_, err = reg.SetFolderData(ctx, "A", models.FolderPatch{Name: "B"})
	assert.ErrorIs(t, err, models.ErrAlreadyExists)

	_, err = reg.SetFolderData(ctx, "missing", models.FolderPatch{Name: "C"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetFolderDataPathChange(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	original, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	newLocal := testutil.NewFolder(t, map[string]string{"moved.txt": "content"})

	updated, err := reg.SetFolderData(ctx, "Docs", models.FolderPatch{LocalPath: newLocal})
	require.NoError(t, err)

	assert.Equal(t, newLocal, updated.LocalPath)
	assert.Equal(t, original.RemotePath, updated.RemotePath)
	assert.NotEqual(t, original.LocalHash, updated.LocalHash)
	assert.Equal(t, original.RemoteHash, updated.RemoteHash)
	assert.Equal(t, models.FolderLocalModified, updated.Status)

	assert.FileExists(t, state.StorePath(newLocal, state.SQLiteFileName))
	assert.NoFileExists(t, state.StorePath(pair.Local, state.SQLiteFileName))
	assert.FileExists(t, state.StorePath(pair.Remote, state.SQLiteFileName))

	stored, err := reg.GetFolderData(ctx, "Docs")
	require.NoError(t, err)
	assert.Equal(t, updated.LocalHash, stored.LocalHash)
}

func TestSetFolderDataInvalidPath(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	_, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	_, err = reg.SetFolderData(ctx, "Docs", models.FolderPatch{RemotePath: filepath.Join(t.TempDir(), "a", "b")})
	assert.ErrorIs(t, err, models.ErrPathNotFound)

	_, err = reg.SetFolderData(ctx, "Docs", models.FolderPatch{RemotePath: pair.Local})
	assert.ErrorIs(t, err, models.ErrInvalidPath)

	stored, err := reg.GetFolderData(ctx, "Docs")
	require.NoError(t, err)
	assert.Equal(t, pair.Remote, stored.RemotePath)
}

func TestEventsPublished(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	ch, unsubscribe := reg.Subscribe()
	defer unsubscribe()

	_, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)
	_, err = reg.RefreshFolder(ctx, "Docs")
	require.NoError(t, err)
	require.NoError(t, reg.RemoveFolder(ctx, "Docs"))

	// Failed operations publish nothing.
	_, err = reg.RefreshFolder(ctx, "Docs")
	require.Error(t, err)

	var kinds []events.ChangeKind
	for i := 0; i < 3; i++ {
		ev := receive(t, ch)
		assert.Equal(t, "Docs", ev.Name)
		assert.NotEmpty(t, ev.ID)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []events.ChangeKind{events.FolderAdded, events.FolderRefreshed, events.FolderRemoved}, kinds)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestLockExcludesOtherCallers(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)

	_, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)

	lockedCtx, unlock, err := reg.Lock(ctx, "Docs")
	require.NoError(t, err)

	start := time.Now()
	_, err = reg.RefreshFolder(ctx, "Docs")
	assert.ErrorIs(t, err, models.ErrLocked)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	_, err = reg.GetFolderData(ctx, "Docs")
	assert.ErrorIs(t, err, models.ErrLocked, "readers wait for writers")

	// The holder composes operations freely.
	_, err = reg.RefreshFolder(lockedCtx, "Docs")
	assert.NoError(t, err)
	_, err = reg.GetFolderData(lockedCtx, "Docs")
	assert.NoError(t, err)

	// Other folders are unaffected.
	_, err = reg.GetFolderData(ctx, "Other")
	assert.ErrorIs(t, err, models.ErrNotFound)

	unlock()
	unlock()

	_, err = reg.RefreshFolder(ctx, "Docs")
	assert.NoError(t, err)
}

func TestLockHonoursCancellation(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())

	_, unlock, err := reg.Lock(context.Background(), "Docs")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = reg.Lock(ctx, "Docs")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetAllFoldersData(t *testing.T) {
	reg, dbPath := newTestRegistry(t, sqliteStore())
	ctx := testutil.TestContext(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		pair := testutil.NewFolderPair(t)
		_, err := reg.AddFolder(ctx, name, pair.Local, pair.Remote)
		require.NoError(t, err)
	}

	names, err := reg.ListFolderNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	all, err := reg.GetAllFoldersData(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name)

	// A second handle on the same database sees the same rows.
	logger := testutil.NewTestLogger()
	cfg := testutil.TestConfigWithDir(filepath.Dir(dbPath))
	other, err := registry.Open(ctx, cfg.Registry, scanner.New(sqliteStore(), hasher.New(), logger), logger)
	require.NoError(t, err)
	defer other.Close()

	names, err = other.ListFolderNames(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

func TestScanSideUnknownFolder(t *testing.T) {
	reg, _ := newTestRegistry(t, sqliteStore())

	_, err := reg.ScanSide(testutil.TestContext(t), "nope", models.SideRemote)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJSONBackendRegistry(t *testing.T) {
	reg, _ := newTestRegistry(t, state.NewJSONStore("", testutil.NewTestLogger()))
	ctx := testutil.TestContext(t)
	pair := testutil.NewFolderPair(t)
	testutil.WriteFile(t, pair.Local, "a.txt", "A")
	testutil.WriteFile(t, pair.Remote, "a.txt", "A")

	folder, err := reg.AddFolder(ctx, "Docs", pair.Local, pair.Remote)
	require.NoError(t, err)
	assert.Equal(t, models.FolderSynced, folder.Status)
	assert.FileExists(t, state.StorePath(pair.Local, state.JSONFileName))

	folder, err = reg.RefreshFolder(ctx, "Docs")
	require.NoError(t, err)
	assert.Equal(t, models.FolderSynced, folder.Status, "store artifacts must not perturb the hash")

	require.NoError(t, reg.RemoveFolder(ctx, "Docs"))
	assert.NoFileExists(t, state.StorePath(pair.Local, state.JSONFileName))
}

func receive(t *testing.T, ch <-chan events.FolderChanged) events.FolderChanged {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.FolderChanged{}
	}
}
