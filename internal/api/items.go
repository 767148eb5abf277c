package api

import (
	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/pkg/proto"
)

func folderItem(f *drive.Folder) proto.Item {
	return proto.Item{
		Type:      string(drive.ItemFolder),
		ID:        f.ID,
		Name:      f.Name,
		ParentID:  f.ParentID,
		OwnerID:   f.OwnerID,
		Trashed:   f.Trashed,
		Starred:   f.Starred,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func fileItem(f *drive.File) proto.Item {
	return proto.Item{
		Type:      string(drive.ItemFile),
		ID:        f.ID,
		Name:      f.Name,
		ParentID:  f.FolderID,
		OwnerID:   f.OwnerID,
		Size:      f.Size,
		MimeType:  f.MimeType,
		Checksum:  f.Checksum,
		Trashed:   f.Trashed,
		Starred:   f.Starred,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// toItems converts a listing. The result is never nil so it encodes as [].
func toItems(items []drive.Item) []proto.Item {
	out := make([]proto.Item, 0, len(items))
	for _, it := range items {
		switch {
		case it.Folder != nil:
			out = append(out, folderItem(it.Folder))
		case it.File != nil:
			out = append(out, fileItem(it.File))
		}
	}
	return out
}
