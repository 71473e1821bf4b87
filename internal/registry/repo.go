package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/ofsync/internal/models"
)

const folderTable = "tracked_folders"

var folderColumns = []string{
	"id", "foldername", "status", "local_hash", "remote_hash", "local_path", "remote_path", "last_sync",
}

// repository maps TrackedFolder rows to and from the registry database.
type repository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func newRepository(db *sql.DB) *repository {
	return &repository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func (r *repository) insert(ctx context.Context, f *models.TrackedFolder) (int64, error) {
	query, args, err := r.sb.Insert(folderTable).
		Columns(folderColumns[1:]...).
		Values(f.Name, string(f.Status), f.LocalHash, f.RemoteHash, f.LocalPath, f.RemotePath, encodeTime(f.LastSync)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("folder %q: %w", f.Name, models.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert folder: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert folder: %w", err)
	}
	return id, nil
}

func (r *repository) get(ctx context.Context, name string) (*models.TrackedFolder, error) {
	query, args, err := r.sb.Select(folderColumns...).
		From(folderTable).
		Where(sq.Eq{"foldername": name}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	folder, err := scanFolder(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder %q: %w", name, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get folder %q: %w", name, err)
	}
	return folder, nil
}

func (r *repository) exists(ctx context.Context, name string) (bool, error) {
	query, args, err := r.sb.Select("COUNT(1)").
		From(folderTable).
		Where(sq.Eq{"foldername": name}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build count: %w", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("count folder %q: %w", name, err)
	}
	return n > 0, nil
}

func (r *repository) list(ctx context.Context) ([]*models.TrackedFolder, error) {
	query, args, err := r.sb.Select(folderColumns...).
		From(folderTable).
		OrderBy("foldername").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.TrackedFolder
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		folders = append(folders, folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	return folders, nil
}

func (r *repository) names(ctx context.Context) ([]string, error) {
	query, args, err := r.sb.Select("foldername").
		From(folderTable).
		OrderBy("foldername").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list folder names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list folder names: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list folder names: %w", err)
	}
	return names, nil
}

// update rewrites every mutable column of the row identified by f.ID.
func (r *repository) update(ctx context.Context, f *models.TrackedFolder) error {
	query, args, err := r.sb.Update(folderTable).
		SetMap(map[string]interface{}{
			"foldername":  f.Name,
			"status":      string(f.Status),
			"local_hash":  f.LocalHash,
			"remote_hash": f.RemoteHash,
			"local_path":  f.LocalPath,
			"remote_path": f.RemotePath,
			"last_sync":   encodeTime(f.LastSync),
		}).
		Where(sq.Eq{"id": f.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("folder %q: %w", f.Name, models.ErrAlreadyExists)
		}
		return fmt.Errorf("update folder %q: %w", f.Name, err)
	}
	return expectOneRow(res, f.Name)
}

func (r *repository) delete(ctx context.Context, name string) error {
	query, args, err := r.sb.Delete(folderTable).
		Where(sq.Eq{"foldername": name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete folder %q: %w", name, err)
	}
	return expectOneRow(res, name)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(row rowScanner) (*models.TrackedFolder, error) {
	var (
		f        models.TrackedFolder
		status   string
		lastSync string
	)
	if err := row.Scan(&f.ID, &f.Name, &status, &f.LocalHash, &f.RemoteHash, &f.LocalPath, &f.RemotePath, &lastSync); err != nil {
		return nil, err
	}

	st, err := models.ParseFolderStatus(status)
	if err != nil {
		return nil, fmt.Errorf("folder %q: %w", f.Name, err)
	}
	f.Status = st

	ts, err := time.Parse(time.RFC3339Nano, lastSync)
	if err != nil {
		return nil, fmt.Errorf("folder %q: parse last_sync: %w", f.Name, err)
	}
	f.LastSync = ts

	return &f, nil
}

func expectOneRow(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("folder %q: rows affected: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("folder %q: %w", name, models.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
