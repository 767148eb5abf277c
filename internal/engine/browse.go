package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/foldervault/foldervault/internal/drive"
)

// RecentLimit caps the number of items returned by Recent.
const RecentLimit = 50

// ListChildren returns the active folders and files directly inside folderID
// ("" = tree root), sorted by name.
func (e *Engine) ListChildren(ctx context.Context, owner, folderID string) ([]drive.Item, error) {
	const op = "list children"
	if folderID != "" {
		if _, err := e.ownedFolder(ctx, owner, folderID); err != nil {
			return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
	}
	q := drive.Children(owner, folderID)
	q.Trashed = drive.Bool(false)
	items, err := e.queryItems(ctx, q)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	sortByName(items)
	return items, nil
}

// Search returns the active folders and files of owner whose name contains query,
// ignoring case. A blank query matches nothing.
func (e *Engine) Search(ctx context.Context, owner, query string) ([]drive.Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []drive.Item{}, nil
	}
	items, err := e.queryItems(ctx, drive.Query{
		OwnerID:      owner,
		Trashed:      drive.Bool(false),
		NameContains: query,
		Order:        drive.OrderNameAsc,
	})
	if err != nil {
		return nil, drive.WithOp("search", drive.KindMetadataFailure, err)
	}
	sortByName(items)
	return items, nil
}

// Recent returns the most recently modified active items, newest first. With a
// folderID only direct children of that folder are considered.
func (e *Engine) Recent(ctx context.Context, owner, folderID string) ([]drive.Item, error) {
	const op = "recent"
	q, err := e.scopedQuery(ctx, op, owner, folderID)
	if err != nil {
		return nil, err
	}
	q.Trashed = drive.Bool(false)
	q.Order = drive.OrderUpdatedDesc
	q.Limit = RecentLimit

	items, err := e.queryItems(ctx, q)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	sortByUpdatedDesc(items)
	if len(items) > RecentLimit {
		items = items[:RecentLimit]
	}
	return items, nil
}

// Starred returns the starred active items sorted by name.
func (e *Engine) Starred(ctx context.Context, owner, folderID string) ([]drive.Item, error) {
	const op = "starred"
	q, err := e.scopedQuery(ctx, op, owner, folderID)
	if err != nil {
		return nil, err
	}
	q.Trashed = drive.Bool(false)
	q.Starred = drive.Bool(true)
	q.Order = drive.OrderNameAsc

	items, err := e.queryItems(ctx, q)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	sortByName(items)
	return items, nil
}

// Trashed returns the items in trash, most recently trashed first.
func (e *Engine) Trashed(ctx context.Context, owner, folderID string) ([]drive.Item, error) {
	const op = "trashed"
	q, err := e.scopedQuery(ctx, op, owner, folderID)
	if err != nil {
		return nil, err
	}
	q.Trashed = drive.Bool(true)
	q.Order = drive.OrderUpdatedDesc

	items, err := e.queryItems(ctx, q)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	sortByUpdatedDesc(items)
	return items, nil
}

// StorageUsage returns the total size of every file of owner, including files in trash.
func (e *Engine) StorageUsage(ctx context.Context, owner string) (int64, error) {
	total, err := e.meta.SumFileSize(ctx, owner)
	if err != nil {
		return 0, drive.WithOp("storage usage", drive.KindMetadataFailure, err)
	}
	return total, nil
}

// RenameFolder changes the name of a folder.
func (e *Engine) RenameFolder(ctx context.Context, owner, id, name string) (f *drive.Folder, err error) {
	const op = "rename folder"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	name, err = drive.ValidateName(name)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindInvalidArgument, err)
	}
	if _, err := e.ownedFolder(ctx, owner, id); err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	f, err = e.meta.UpdateFolder(ctx, id, drive.Patch{Name: &name, UpdatedAt: e.now()})
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	return f, nil
}

// RenameFile changes the name of a file. The blob key is not affected.
func (e *Engine) RenameFile(ctx context.Context, owner, id, name string) (f *drive.File, err error) {
	const op = "rename file"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	name, err = drive.ValidateName(name)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindInvalidArgument, err)
	}
	if _, err := e.ownedFile(ctx, owner, id); err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	f, err = e.meta.UpdateFile(ctx, id, drive.Patch{Name: &name, UpdatedAt: e.now()})
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	return f, nil
}

// ToggleStarFolder flips the starred flag of a folder.
func (e *Engine) ToggleStarFolder(ctx context.Context, owner, id string) (f *drive.Folder, err error) {
	const op = "star folder"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	cur, err := e.ownedFolder(ctx, owner, id)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	f, err = e.meta.UpdateFolder(ctx, id, drive.Patch{Starred: drive.Bool(!cur.Starred), UpdatedAt: e.now()})
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	return f, nil
}

// ToggleStarFile flips the starred flag of a file.
func (e *Engine) ToggleStarFile(ctx context.Context, owner, id string) (f *drive.File, err error) {
	const op = "star file"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	cur, err := e.ownedFile(ctx, owner, id)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	f, err = e.meta.UpdateFile(ctx, id, drive.Patch{Starred: drive.Bool(!cur.Starred), UpdatedAt: e.now()})
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	return f, nil
}

// DownloadURL returns a time-limited URL for the content of a file.
func (e *Engine) DownloadURL(ctx context.Context, owner, id string) (string, error) {
	const op = "download url"
	f, err := e.ownedFile(ctx, owner, id)
	if err != nil {
		return "", drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	u, err := e.blobs.SignedURL(ctx, f.StoragePath, e.urlTTL)
	if err != nil {
		return "", drive.WithOp(op, drive.KindStorageFailure, err)
	}
	return u, nil
}

// GetFolder returns one folder of owner.
func (e *Engine) GetFolder(ctx context.Context, owner, id string) (*drive.Folder, error) {
	f, err := e.ownedFolder(ctx, owner, id)
	if err != nil {
		return nil, drive.WithOp("get folder", drive.KindMetadataFailure, err)
	}
	return f, nil
}

// GetFile returns one file of owner.
func (e *Engine) GetFile(ctx context.Context, owner, id string) (*drive.File, error) {
	f, err := e.ownedFile(ctx, owner, id)
	if err != nil {
		return nil, drive.WithOp("get file", drive.KindMetadataFailure, err)
	}
	return f, nil
}

// scopedQuery returns a query over all records of owner, or over the direct children
// of folderID when one is given.
func (e *Engine) scopedQuery(ctx context.Context, op, owner, folderID string) (drive.Query, error) {
	if folderID == "" {
		return drive.Query{OwnerID: owner}, nil
	}
	if _, err := e.ownedFolder(ctx, owner, folderID); err != nil {
		return drive.Query{}, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	return drive.Query{OwnerID: owner, Parent: drive.InParent, ParentID: folderID}, nil
}

// queryItems runs q against both tables and merges the results, folders first.
func (e *Engine) queryItems(ctx context.Context, q drive.Query) ([]drive.Item, error) {
	folders, err := e.meta.QueryFolders(ctx, q)
	if err != nil {
		return nil, err
	}
	files, err := e.meta.QueryFiles(ctx, q)
	if err != nil {
		return nil, err
	}
	items := make([]drive.Item, 0, len(folders)+len(files))
	for _, f := range folders {
		items = append(items, drive.FolderItem(f))
	}
	for _, f := range files {
		items = append(items, drive.FileItem(f))
	}
	return items, nil
}

// sortByName orders items by name; on equal names folders come first.
func sortByName(items []drive.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Name() < items[j].Name()
	})
}

func sortByUpdatedDesc(items []drive.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt().After(items[j].UpdatedAt())
	})
}
