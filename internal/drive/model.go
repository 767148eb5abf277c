// Package drive defines the folder/file data model shared by the storage engine and its
// metadata and blob store adapters.
package drive

import (
	"strings"
	"time"
)

// Folder is a node in an owner's folder forest.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"` // nil for folders at the tree root
	OwnerID   string    `json:"owner_id"`
	Trashed   bool      `json:"is_trashed"`
	Starred   bool      `json:"is_starred"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// File is the metadata record of one stored blob.
type File struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	FolderID    *string   `json:"folder_id"` // nil for files at the tree root
	OwnerID     string    `json:"owner_id"`
	StoragePath string    `json:"-"`
	Size        int64     `json:"size"`
	MimeType    string    `json:"mime_type"`
	Checksum    string    `json:"checksum,omitempty"` // BLAKE3 hex digest of the content
	Trashed     bool      `json:"is_trashed"`
	Starred     bool      `json:"is_starred"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemType tags the members of a mixed folder/file listing.
type ItemType string

const (
	ItemFolder ItemType = "folder"
	ItemFile   ItemType = "file"
)

// Item is either a folder or a file. Exactly one of Folder and File is set.
type Item struct {
	Type   ItemType
	Folder *Folder
	File   *File
}

// FolderItem wraps a folder as a listing item.
func FolderItem(f Folder) Item {
	return Item{Type: ItemFolder, Folder: &f}
}

// FileItem wraps a file as a listing item.
func FileItem(f File) Item {
	return Item{Type: ItemFile, File: &f}
}

// ID returns the identifier of the wrapped record.
func (i Item) ID() string {
	if i.Folder != nil {
		return i.Folder.ID
	}
	if i.File != nil {
		return i.File.ID
	}
	return ""
}

// Name returns the name of the wrapped record.
func (i Item) Name() string {
	if i.Folder != nil {
		return i.Folder.Name
	}
	if i.File != nil {
		return i.File.Name
	}
	return ""
}

// UpdatedAt returns the last modification time of the wrapped record.
func (i Item) UpdatedAt() time.Time {
	if i.Folder != nil {
		return i.Folder.UpdatedAt
	}
	if i.File != nil {
		return i.File.UpdatedAt
	}
	return time.Time{}
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrVal dereferences p, returning "" for nil.
func StrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ValidateName checks a folder or file name supplied by a user and returns the trimmed form.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Errorf(KindInvalidArgument, "validate name", "name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", Errorf(KindInvalidArgument, "validate name", "name %q must not contain path separators", name)
	}
	if name == "." || name == ".." {
		return "", Errorf(KindInvalidArgument, "validate name", "name %q is reserved", name)
	}
	return name, nil
}
