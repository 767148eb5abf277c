package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/foldervault/foldervault/internal/drive"
)

// TreeStats counts the records touched by a recursive trash or restore.
type TreeStats struct {
	Folders int `json:"folders"`
	Files   int `json:"files"`
}

// DeleteStats counts what a permanent deletion destroyed.
type DeleteStats struct {
	Folders int   `json:"folders"`
	Files   int   `json:"files"`
	Bytes   int64 `json:"bytes"`
}

// Add accumulates o into s.
func (s *DeleteStats) Add(o DeleteStats) {
	s.Folders += o.Folders
	s.Files += o.Files
	s.Bytes += o.Bytes
}

// TrashFolder moves a folder and everything below it to trash. The walk is pre-order:
// a folder is flagged before its files and child folders. Items that are already in
// trash keep their own UpdatedAt, so re-trashing a tree does not postpone their purge.
func (e *Engine) TrashFolder(ctx context.Context, owner, id string) (stats TreeStats, err error) {
	const op = "trash folder"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	root, err := e.ownedFolder(ctx, owner, id)
	if err != nil {
		return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
	}

	stack := []drive.Folder{*root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("%s %s: %w", op, root.ID, err)
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !cur.Trashed {
			if _, err := e.meta.UpdateFolder(ctx, cur.ID, drive.Patch{Trashed: drive.Bool(true), UpdatedAt: e.now()}); err != nil {
				if drive.IsNotFound(err) && cur.ID != root.ID {
					continue
				}
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
			stats.Folders++
		}

		files, err := e.meta.QueryFiles(ctx, childQuery(owner, cur.ID, false))
		if err != nil {
			return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		for _, f := range files {
			if _, err := e.meta.UpdateFile(ctx, f.ID, drive.Patch{Trashed: drive.Bool(true), UpdatedAt: e.now()}); err != nil {
				if drive.IsNotFound(err) {
					continue
				}
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
			stats.Files++
		}

		children, err := e.meta.QueryFolders(ctx, childQuery(owner, cur.ID, false))
		if err != nil {
			return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		stack = append(stack, children...)
	}

	e.logger.Info().
		Str("owner_id", owner).
		Str("folder_id", root.ID).
		Int("folders", stats.Folders).
		Int("files", stats.Files).
		Msg("Folder moved to trash")
	return stats, nil
}

// RestoreFolder brings a folder and everything below it back from trash. Ancestors are
// left as they are: restoring a folder inside a trashed folder keeps it unreachable
// from the tree root until the ancestor is restored too.
func (e *Engine) RestoreFolder(ctx context.Context, owner, id string) (stats TreeStats, err error) {
	const op = "restore folder"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	root, err := e.ownedFolder(ctx, owner, id)
	if err != nil {
		return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
	}

	stack := []drive.Folder{*root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("%s %s: %w", op, root.ID, err)
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.Trashed {
			if _, err := e.meta.UpdateFolder(ctx, cur.ID, drive.Patch{Trashed: drive.Bool(false), UpdatedAt: e.now()}); err != nil {
				if drive.IsNotFound(err) && cur.ID != root.ID {
					continue
				}
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
			stats.Folders++
		}

		files, err := e.meta.QueryFiles(ctx, childQuery(owner, cur.ID, true))
		if err != nil {
			return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		for _, f := range files {
			if _, err := e.meta.UpdateFile(ctx, f.ID, drive.Patch{Trashed: drive.Bool(false), UpdatedAt: e.now()}); err != nil {
				if drive.IsNotFound(err) {
					continue
				}
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
			stats.Files++
		}

		q := drive.Children(owner, cur.ID)
		q.Order = drive.OrderNone
		children, err := e.meta.QueryFolders(ctx, q)
		if err != nil {
			return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		stack = append(stack, children...)
	}

	e.logger.Info().
		Str("owner_id", owner).
		Str("folder_id", root.ID).
		Int("folders", stats.Folders).
		Int("files", stats.Files).
		Msg("Folder restored from trash")
	return stats, nil
}

// TrashFile moves a single file to trash.
func (e *Engine) TrashFile(ctx context.Context, owner, id string) (f *drive.File, err error) {
	const op = "trash file"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()
	return e.setFileTrashed(ctx, op, owner, id, true)
}

// RestoreFile brings a single file back from trash.
func (e *Engine) RestoreFile(ctx context.Context, owner, id string) (f *drive.File, err error) {
	const op = "restore file"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()
	return e.setFileTrashed(ctx, op, owner, id, false)
}

func (e *Engine) setFileTrashed(ctx context.Context, op, owner, id string, trashed bool) (*drive.File, error) {
	f, err := e.ownedFile(ctx, owner, id)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	if f.Trashed == trashed {
		return f, nil
	}
	f, err = e.meta.UpdateFile(ctx, id, drive.Patch{Trashed: drive.Bool(trashed), UpdatedAt: e.now()})
	if err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	return f, nil
}

// deleteFrame is one folder on the post-order deletion stack.
type deleteFrame struct {
	id       string
	parent   int  // stack index of the parent frame, -1 for the root
	expanded bool // trashed files destroyed and trashed child folders pushed
	kept     bool // an active item sits somewhere below; the record must stay
}

// DeleteFolder permanently destroys a trashed folder and everything trashed below it.
// The walk is post-order: a folder record is removed only after all of its files and
// child folders are gone, so an interrupted deletion leaves a consistent, smaller tree.
//
// Items restored from trash inside the folder are never destroyed. Their branch is
// left in place, the folders on the path to them are kept, and ErrActiveDescendant is
// returned alongside the stats of what was removed.
func (e *Engine) DeleteFolder(ctx context.Context, owner, id string) (stats DeleteStats, err error) {
	const op = "delete folder"
	start := time.Now()
	defer func() {
		e.observe(op, start, err)
		e.metrics.RecordDelete(stats.Folders, stats.Files, stats.Bytes)
	}()

	root, err := e.ownedFolder(ctx, owner, id)
	if err != nil {
		return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	if !root.Trashed {
		return stats, drive.WithOp(op, drive.KindPreconditionFailed, drive.ErrNotTrashed)
	}

	rootKept := false
	stack := []deleteFrame{{id: root.ID, parent: -1}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("%s %s: %w", op, root.ID, err)
		}
		top := len(stack) - 1

		if !stack[top].expanded {
			folderID := stack[top].id
			stack[top].expanded = true

			files, err := e.meta.QueryFiles(ctx, childQuery(owner, folderID, true))
			if err != nil {
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
			for i := range files {
				if err := ctx.Err(); err != nil {
					return stats, fmt.Errorf("%s %s: %w", op, root.ID, err)
				}
				if err := e.destroyFile(ctx, &files[i]); err != nil {
					return stats, err
				}
				stats.Files++
				stats.Bytes += files[i].Size
			}

			active, err := e.hasActiveChild(ctx, owner, folderID)
			if err != nil {
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
			if active {
				stack[top].kept = true
			}

			children, err := e.meta.QueryFolders(ctx, childQuery(owner, folderID, true))
			if err != nil {
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
			for _, c := range children {
				stack = append(stack, deleteFrame{id: c.ID, parent: top})
			}
			continue
		}

		frame := stack[top]
		stack = stack[:top]
		if frame.kept {
			if frame.parent >= 0 {
				stack[frame.parent].kept = true
			} else {
				rootKept = true
			}
			continue
		}
		if err := e.meta.DeleteFolder(ctx, frame.id); err != nil {
			if !drive.IsNotFound(err) {
				return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
			}
		} else {
			stats.Folders++
		}
	}

	if rootKept {
		e.logger.Warn().
			Str("owner_id", owner).
			Str("folder_id", root.ID).
			Int("folders", stats.Folders).
			Int("files", stats.Files).
			Msg("Folder kept: it contains items restored from trash")
		return stats, drive.WithOp(op, drive.KindPreconditionFailed, drive.ErrActiveDescendant)
	}

	e.logger.Info().
		Str("owner_id", owner).
		Str("folder_id", root.ID).
		Int("folders", stats.Folders).
		Int("files", stats.Files).
		Int64("bytes", stats.Bytes).
		Msg("Folder permanently deleted")
	return stats, nil
}

// hasActiveChild reports whether folderID directly holds a file or folder that is not
// in trash.
func (e *Engine) hasActiveChild(ctx context.Context, owner, folderID string) (bool, error) {
	q := childQuery(owner, folderID, false)
	q.Limit = 1
	files, err := e.meta.QueryFiles(ctx, q)
	if err != nil {
		return false, err
	}
	if len(files) > 0 {
		return true, nil
	}
	folders, err := e.meta.QueryFolders(ctx, q)
	if err != nil {
		return false, err
	}
	return len(folders) > 0, nil
}

// DeleteFile permanently destroys a trashed file.
func (e *Engine) DeleteFile(ctx context.Context, owner, id string) (stats DeleteStats, err error) {
	const op = "delete file"
	start := time.Now()
	defer func() {
		e.observe(op, start, err)
		e.metrics.RecordDelete(stats.Folders, stats.Files, stats.Bytes)
	}()

	f, err := e.ownedFile(ctx, owner, id)
	if err != nil {
		return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	if !f.Trashed {
		return stats, drive.WithOp(op, drive.KindPreconditionFailed, drive.ErrNotTrashed)
	}
	if err := e.destroyFile(ctx, f); err != nil {
		return stats, err
	}
	stats.Files = 1
	stats.Bytes = f.Size

	e.logger.Info().
		Str("owner_id", owner).
		Str("file_id", f.ID).
		Int64("bytes", f.Size).
		Msg("File permanently deleted")
	return stats, nil
}

// destroyFile removes the blob, then the record. Once the blob is gone the record is
// removed even if the caller cancels, so no record points at missing content.
func (e *Engine) destroyFile(ctx context.Context, f *drive.File) error {
	if err := e.blobs.Delete(ctx, f.StoragePath); err != nil {
		return drive.WithOp("delete blob", drive.KindStorageFailure, err)
	}
	if err := e.meta.DeleteFile(context.WithoutCancel(ctx), f.ID); err != nil && !drive.IsNotFound(err) {
		return drive.WithOp("delete file record", drive.KindMetadataFailure, err)
	}
	return nil
}

// childQuery selects the direct children of folderID with the given trash state.
func childQuery(owner, folderID string, trashed bool) drive.Query {
	return drive.Query{OwnerID: owner, Parent: drive.InParent, ParentID: folderID, Trashed: drive.Bool(trashed)}
}
