package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"time"

	"lukechampine.com/blake3"

	"github.com/foldervault/foldervault/internal/drive"
)

// UploadEntry is one file of an upload batch.
type UploadEntry struct {
	// Path is the file path relative to the destination folder. A bare name uploads
	// into the destination itself; "a/b/x.txt" creates or reuses folders a and a/b.
	Path     string
	Content  io.Reader
	Size     int64 // -1 when unknown
	MimeType string
}

// EntryFailure reports why one entry of a batch was not stored.
type EntryFailure struct {
	Path string
	Err  error
}

// UploadResult lists the outcome of every entry of a batch.
type UploadResult struct {
	Created        []drive.File
	Failed         []EntryFailure
	FoldersCreated int
}

// Upload stores a batch of files under folderID ("" = tree root) of owner, recreating
// the folder structure carried by the entry paths.
//
// Each entry writes its blob first and its record second. If the record insert fails
// the blob is deleted again before the failure is reported. Entries are independent:
// when some fail, the stored ones are kept and the error is of KindPartialBatchFailure.
func (e *Engine) Upload(ctx context.Context, owner, folderID string, entries []UploadEntry) (res *UploadResult, err error) {
	const op = "upload"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	if len(entries) == 0 {
		return nil, drive.WithOp(op, drive.KindInvalidArgument, drive.ErrEmptyBatch)
	}
	var root *string
	if folderID != "" {
		dest, err := e.ownedFolder(ctx, owner, folderID)
		if err != nil {
			return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		if dest.Trashed {
			return nil, drive.Errorf(drive.KindPreconditionFailed, op, "destination folder %s is in trash", dest.ID)
		}
		root = &dest.ID
	}

	res = &UploadResult{}
	parsed := make([]uploadPath, len(entries))
	order := make([]int, 0, len(entries))
	nested := false
	for i, entry := range entries {
		p, err := parseUploadPath(entry.Path)
		if err != nil {
			res.Failed = append(res.Failed, EntryFailure{Path: entry.Path, Err: drive.WithOp(op, drive.KindInvalidArgument, err)})
			continue
		}
		parsed[i] = p
		order = append(order, i)
		if p.dir != "" {
			nested = true
		}
	}
	// Parents before children, so every prefix is resolved once from its nearest ancestor.
	sort.SliceStable(order, func(a, b int) bool { return parsed[order[a]].depth < parsed[order[b]].depth })

	resolver := newPathResolver(e, owner, root)
	var uploaded int64
	for n, i := range order {
		if ctxErr := ctx.Err(); ctxErr != nil {
			for _, rest := range order[n:] {
				res.Failed = append(res.Failed, EntryFailure{Path: entries[rest].Path, Err: ctxErr})
			}
			break
		}

		parent := root
		if nested {
			parent, err = resolver.resolve(ctx, parsed[i].dir)
			if err != nil {
				res.Failed = append(res.Failed, EntryFailure{Path: entries[i].Path, Err: err})
				continue
			}
		}

		f, err := e.uploadOne(ctx, owner, parent, parsed[i].name, entries[i])
		if err != nil {
			e.logger.Warn().Err(err).
				Str("owner_id", owner).
				Str("path", entries[i].Path).
				Msg("Upload entry failed")
			res.Failed = append(res.Failed, EntryFailure{Path: entries[i].Path, Err: err})
			continue
		}
		res.Created = append(res.Created, *f)
		uploaded += f.Size
	}
	res.FoldersCreated = resolver.made
	e.metrics.RecordUpload(len(res.Created), uploaded)

	e.logger.Info().
		Str("owner_id", owner).
		Str("folder_id", folderID).
		Int("created", len(res.Created)).
		Int("failed", len(res.Failed)).
		Int("folders_created", res.FoldersCreated).
		Int64("bytes", uploaded).
		Msg("Upload batch finished")

	if len(res.Failed) > 0 {
		cause := fmt.Errorf("%d of %d entries failed", len(res.Failed), len(entries))
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = errors.Join(cause, ctxErr)
		}
		return res, drive.E(drive.KindPartialBatchFailure, op, cause)
	}
	return res, nil
}

// uploadOne writes one blob and its record, deleting the blob again when the record
// cannot be stored.
func (e *Engine) uploadOne(ctx context.Context, owner string, parent *string, name string, entry UploadEntry) (*drive.File, error) {
	const op = "upload"
	if entry.Content == nil {
		return nil, drive.Errorf(drive.KindInvalidArgument, op, "entry %q has no content", entry.Path)
	}

	id := e.newID()
	key := owner + "/" + id + "-" + name
	contentType := entry.MimeType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	hasher := blake3.New(32, nil)
	counter := &countingWriter{}
	body := io.TeeReader(entry.Content, io.MultiWriter(hasher, counter))

	if err := e.blobs.Put(ctx, key, body, entry.Size, contentType); err != nil {
		return nil, drive.WithOp(op, drive.KindStorageFailure, err)
	}

	now := e.now()
	f := &drive.File{
		ID:          id,
		Name:        name,
		FolderID:    parent,
		OwnerID:     owner,
		StoragePath: key,
		Size:        counter.n,
		MimeType:    contentType,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.meta.InsertFile(ctx, f); err != nil {
		insertErr := drive.WithOp(op, drive.KindMetadataFailure, err)
		// The blob is ours alone until the record exists; remove it even if the
		// caller has gone away.
		if derr := e.blobs.Delete(context.WithoutCancel(ctx), key); derr != nil {
			e.metrics.RecordCompensation(false)
			e.logger.Error().Err(derr).
				Str("storage_path", key).
				Str("owner_id", owner).
				Msg("Orphaned blob: compensation delete failed")
			return nil, errors.Join(insertErr, drive.WithOp("upload compensation", drive.KindStorageFailure, derr))
		}
		e.metrics.RecordCompensation(true)
		return nil, insertErr
	}
	return f, nil
}

// CreateFolder creates an empty folder called name under parentID ("" = tree root).
func (e *Engine) CreateFolder(ctx context.Context, owner, name, parentID string) (f *drive.Folder, err error) {
	const op = "create folder"
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	name, err = drive.ValidateName(name)
	if err != nil {
		return nil, drive.WithOp(op, drive.KindInvalidArgument, err)
	}
	var parent *string
	if parentID != "" {
		p, err := e.ownedFolder(ctx, owner, parentID)
		if err != nil {
			return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
		}
		if p.Trashed {
			return nil, drive.Errorf(drive.KindPreconditionFailed, op, "parent folder %s is in trash", p.ID)
		}
		parent = &p.ID
	}

	now := e.now()
	f = &drive.Folder{
		ID:        e.newID(),
		Name:      name,
		ParentID:  parent,
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.meta.InsertFolder(ctx, f); err != nil {
		return nil, drive.WithOp(op, drive.KindMetadataFailure, err)
	}
	return f, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
