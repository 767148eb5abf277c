package engine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/foldervault/foldervault/internal/drive"
)

// ArchiveStats counts what ArchiveFolder wrote.
type ArchiveStats struct {
	Files   int
	Bytes   int64
	Skipped int // files whose content could not be opened
}

type archiveFrame struct {
	id     string
	prefix string // entry name prefix, "" at the archive root
}

// ArchiveFolder streams the active files below folderID into zw. Entry names are the
// "/"-joined paths relative to the folder, without the folder's own name. Trashed
// folders are not descended and trashed files are left out. Only one directory level
// is listed at a time and file content is copied straight from the blob store, so
// memory use does not grow with the size of the tree.
//
// The caller owns zw and must Close it.
func (e *Engine) ArchiveFolder(ctx context.Context, owner, folderID string, zw *zip.Writer) (stats ArchiveStats, err error) {
	const op = "archive folder"
	start := time.Now()
	defer func() {
		e.observe(op, start, err)
		e.metrics.RecordArchive(stats.Files, stats.Bytes, stats.Skipped)
	}()

	root, err := e.ownedFolder(ctx, owner, folderID)
	if err != nil {
		return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
	}

	stack := []archiveFrame{{id: root.ID}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("%s %s: %w", op, root.ID, err)
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		fq := childQuery(owner, cur.id, false)
		fq.Order = drive.OrderNameAsc
		files, err := e.meta.QueryFiles(ctx, fq)
		if err != nil {
			return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		for i := range files {
			n, err := e.archiveFile(ctx, zw, cur.prefix+files[i].Name, &files[i])
			if err != nil {
				if drive.KindOf(err) == drive.KindStorageFailure || drive.IsNotFound(err) {
					e.logger.Warn().Err(err).
						Str("file_id", files[i].ID).
						Str("storage_path", files[i].StoragePath).
						Msg("Skipping file in archive: content unavailable")
					stats.Skipped++
					continue
				}
				return stats, err
			}
			stats.Files++
			stats.Bytes += n
		}

		cq := childQuery(owner, cur.id, false)
		cq.Order = drive.OrderNameAsc
		children, err := e.meta.QueryFolders(ctx, cq)
		if err != nil {
			return stats, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		// Reversed so folders pop off the stack in name order.
		for _, c := range slices.Backward(children) {
			stack = append(stack, archiveFrame{id: c.ID, prefix: cur.prefix + c.Name + "/"})
		}
	}

	e.logger.Debug().
		Str("owner_id", owner).
		Str("folder_id", root.ID).
		Int("files", stats.Files).
		Int("skipped", stats.Skipped).
		Int64("bytes", stats.Bytes).
		Msg("Folder archived")
	return stats, nil
}

// archiveFile copies one blob into a new zip entry. A blob that cannot be opened is
// reported as a storage failure before anything is written to zw; a failure after
// that leaves the archive unusable and is returned as an archive write error.
func (e *Engine) archiveFile(ctx context.Context, zw *zip.Writer, name string, f *drive.File) (int64, error) {
	rc, err := e.blobs.Open(ctx, f.StoragePath)
	if err != nil {
		return 0, drive.WithOp("open blob", drive.KindStorageFailure, err)
	}
	defer func() { _ = rc.Close() }()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: f.UpdatedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("write archive entry %q: %w", name, err)
	}
	n, err := io.Copy(w, rc)
	if err != nil {
		return n, fmt.Errorf("write archive entry %q: %w", name, err)
	}
	return n, nil
}
