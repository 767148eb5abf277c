package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/foldervault/foldervault/internal/drive"
)

const schema = `
CREATE TABLE IF NOT EXISTS folders (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	parent_id  TEXT NULL REFERENCES folders(id),
	owner_id   TEXT NOT NULL,
	is_trashed BOOLEAN NOT NULL DEFAULT 0,
	is_starred BOOLEAN NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_folders_owner_parent ON folders(owner_id, parent_id);
CREATE INDEX IF NOT EXISTS idx_folders_trashed_updated ON folders(is_trashed, updated_at);

CREATE TABLE IF NOT EXISTS files (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	folder_id    TEXT NULL REFERENCES folders(id),
	owner_id     TEXT NOT NULL,
	storage_path TEXT NOT NULL UNIQUE,
	size         INTEGER NOT NULL DEFAULT 0,
	mime_type    TEXT NOT NULL DEFAULT '',
	checksum     TEXT NOT NULL DEFAULT '',
	is_trashed   BOOLEAN NOT NULL DEFAULT 0,
	is_starred   BOOLEAN NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_owner_folder ON files(owner_id, folder_id);
CREATE INDEX IF NOT EXISTS idx_files_trashed_updated ON files(is_trashed, updated_at);
`

const (
	folderColumns = "id, name, parent_id, owner_id, is_trashed, is_starred, created_at, updated_at"
	fileColumns   = "id, name, folder_id, owner_id, storage_path, size, mime_type, checksum, is_trashed, is_starred, created_at, updated_at"
)

// SQLite is a MetadataStore backed by a SQLite database file.
type SQLite struct {
	db *sql.DB
}

var _ drive.MetadataStore = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY storms; reads are cheap enough to share it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// InsertFolder stores a new folder.
func (s *SQLite) InsertFolder(ctx context.Context, f *drive.Folder) error {
	if f.ID == "" {
		return drive.Errorf(drive.KindInvalidArgument, "insert folder", "id is required")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO folders ("+folderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.Name, nullable(f.ParentID), f.OwnerID, f.Trashed, f.Starred,
		f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano())
	return classify("insert folder", err)
}

// InsertFile stores a new file record.
func (s *SQLite) InsertFile(ctx context.Context, f *drive.File) error {
	if f.ID == "" {
		return drive.Errorf(drive.KindInvalidArgument, "insert file", "id is required")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO files ("+fileColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.Name, nullable(f.FolderID), f.OwnerID, f.StoragePath, f.Size, f.MimeType, f.Checksum,
		f.Trashed, f.Starred, f.CreatedAt.UnixNano(), f.UpdatedAt.UnixNano())
	return classify("insert file", err)
}

// GetFolder returns a folder by id.
func (s *SQLite) GetFolder(ctx context.Context, id string) (*drive.Folder, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+folderColumns+" FROM folders WHERE id = ?", id)
	f, err := scanFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, drive.ErrFolderNotFound
	}
	if err != nil {
		return nil, classify("get folder", err)
	}
	return f, nil
}

// GetFile returns a file by id.
func (s *SQLite) GetFile(ctx context.Context, id string) (*drive.File, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+fileColumns+" FROM files WHERE id = ?", id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, drive.ErrFileNotFound
	}
	if err != nil {
		return nil, classify("get file", err)
	}
	return f, nil
}

// UpdateFolder applies a patch to a folder.
func (s *SQLite) UpdateFolder(ctx context.Context, id string, p drive.Patch) (*drive.Folder, error) {
	set, args := patchClause(p)
	res, err := s.db.ExecContext(ctx, "UPDATE folders SET "+set+" WHERE id = ?", append(args, id)...)
	if err != nil {
		return nil, classify("update folder", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, drive.ErrFolderNotFound
	}
	return s.GetFolder(ctx, id)
}

// UpdateFile applies a patch to a file.
func (s *SQLite) UpdateFile(ctx context.Context, id string, p drive.Patch) (*drive.File, error) {
	set, args := patchClause(p)
	res, err := s.db.ExecContext(ctx, "UPDATE files SET "+set+" WHERE id = ?", append(args, id)...)
	if err != nil {
		return nil, classify("update file", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, drive.ErrFileNotFound
	}
	return s.GetFile(ctx, id)
}

// DeleteFolder removes an empty folder. The foreign keys reject folders with children.
func (s *SQLite) DeleteFolder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return classify("delete folder", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return drive.ErrFolderNotFound
	}
	return nil
}

// DeleteFile removes a file record.
func (s *SQLite) DeleteFile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id)
	if err != nil {
		return classify("delete file", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return drive.ErrFileNotFound
	}
	return nil
}

// QueryFolders returns the folders matching q.
func (s *SQLite) QueryFolders(ctx context.Context, q drive.Query) ([]drive.Folder, error) {
	where, args := whereClause(q, "parent_id")
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+folderColumns+" FROM folders"+where+orderClause(q.Order)+limitClause(q.Limit), args...)
	if err != nil {
		return nil, classify("query folders", err)
	}
	defer func() { _ = rows.Close() }()

	var out []drive.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, classify("scan folder", err)
		}
		out = append(out, *f)
	}
	return out, classify("query folders", rows.Err())
}

// QueryFiles returns the files matching q.
func (s *SQLite) QueryFiles(ctx context.Context, q drive.Query) ([]drive.File, error) {
	where, args := whereClause(q, "folder_id")
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files"+where+orderClause(q.Order)+limitClause(q.Limit), args...)
	if err != nil {
		return nil, classify("query files", err)
	}
	defer func() { _ = rows.Close() }()

	var out []drive.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, classify("scan file", err)
		}
		out = append(out, *f)
	}
	return out, classify("query files", rows.Err())
}

// SumFileSize totals the size of every file of owner.
func (s *SQLite) SumFileSize(ctx context.Context, ownerID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT SUM(size) FROM files WHERE owner_id = ?", ownerID).Scan(&total)
	if err != nil {
		return 0, classify("sum file size", err)
	}
	return total.Int64, nil
}

// Tally aggregates the folders and files matching q.
func (s *SQLite) Tally(ctx context.Context, q drive.Query) (drive.Tally, error) {
	var t drive.Tally

	where, args := whereClause(q, "parent_id")
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM folders"+where, args...).Scan(&t.Folders); err != nil {
		return t, classify("tally folders", err)
	}

	var total sql.NullInt64
	where, args = whereClause(q, "folder_id")
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), SUM(size) FROM files"+where, args...).Scan(&t.Files, &total); err != nil {
		return t, classify("tally files", err)
	}
	t.Bytes = total.Int64
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(row scanner) (*drive.Folder, error) {
	var (
		out              drive.Folder
		parent           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&out.ID, &out.Name, &parent, &out.OwnerID, &out.Trashed, &out.Starred, &created, &updated); err != nil {
		return nil, err
	}
	if parent.Valid {
		out.ParentID = &parent.String
	}
	out.CreatedAt = time.Unix(0, created).UTC()
	out.UpdatedAt = time.Unix(0, updated).UTC()
	return &out, nil
}

func scanFile(row scanner) (*drive.File, error) {
	var (
		out              drive.File
		folder           sql.NullString
		created, updated int64
	)
	if err := row.Scan(&out.ID, &out.Name, &folder, &out.OwnerID, &out.StoragePath, &out.Size,
		&out.MimeType, &out.Checksum, &out.Trashed, &out.Starred, &created, &updated); err != nil {
		return nil, err
	}
	if folder.Valid {
		out.FolderID = &folder.String
	}
	out.CreatedAt = time.Unix(0, created).UTC()
	out.UpdatedAt = time.Unix(0, updated).UTC()
	return &out, nil
}

func whereClause(q drive.Query, parentCol string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	switch q.Parent {
	case drive.RootOnly:
		conds = append(conds, parentCol+" IS NULL")
	case drive.InParent:
		conds = append(conds, parentCol+" = ?")
		args = append(args, q.ParentID)
	}
	if q.Trashed != nil {
		conds = append(conds, "is_trashed = ?")
		args = append(args, *q.Trashed)
	}
	if q.Starred != nil {
		conds = append(conds, "is_starred = ?")
		args = append(args, *q.Starred)
	}
	if q.NameContains != "" {
		conds = append(conds, `LOWER(name) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(q.NameContains))+"%")
	}
	if !q.UpdatedBefore.IsZero() {
		conds = append(conds, "updated_at < ?")
		args = append(args, q.UpdatedBefore.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(o drive.Order) string {
	switch o {
	case drive.OrderNameAsc:
		return " ORDER BY name ASC, id ASC"
	case drive.OrderUpdatedDesc:
		return " ORDER BY updated_at DESC, id ASC"
	case drive.OrderUpdatedAsc:
		return " ORDER BY updated_at ASC, id ASC"
	default:
		return " ORDER BY id ASC"
	}
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}

func patchClause(p drive.Patch) (string, []any) {
	sets := []string{"updated_at = ?"}
	args := []any{p.UpdatedAt.UnixNano()}
	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Trashed != nil {
		sets = append(sets, "is_trashed = ?")
		args = append(args, *p.Trashed)
	}
	if p.Starred != nil {
		sets = append(sets, "is_starred = ?")
		args = append(args, *p.Starred)
	}
	return strings.Join(sets, ", "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// classify maps driver errors onto the drive error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintForeignKey:
			return drive.E(drive.KindPreconditionFailed, op, fmt.Errorf("referenced folder missing or folder not empty: %w", err))
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return drive.E(drive.KindMetadataFailure, op, fmt.Errorf("duplicate record: %w", err))
		}
	}
	return drive.E(drive.KindMetadataFailure, op, err)
}
