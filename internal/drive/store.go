package drive

import (
	"context"
	"io"
	"time"
)

// ParentScope selects records by their parent reference.
type ParentScope int

const (
	// AnyParent does not filter on the parent reference.
	AnyParent ParentScope = iota
	// RootOnly selects records that sit at the tree root.
	RootOnly
	// InParent selects records whose parent is Query.ParentID.
	InParent
)

// Order selects the ordering of query results.
type Order int

const (
	OrderNone Order = iota
	OrderNameAsc
	OrderUpdatedDesc
	OrderUpdatedAsc
)

// Query is an equality-filtered, ordered and limited scan of one record table.
// The zero value matches every record. Folders are filtered by ParentID on their
// parent reference, files on their folder reference.
type Query struct {
	OwnerID       string // empty matches every owner
	Parent        ParentScope
	ParentID      string
	Trashed       *bool
	Starred       *bool
	NameContains  string    // case-insensitive substring
	UpdatedBefore time.Time // strict; zero disables
	Order         Order
	Limit         int // 0 means unlimited
}

// Children returns a query for the direct children of folderID ("" = root) of owner.
func Children(ownerID, folderID string) Query {
	q := Query{OwnerID: ownerID, Parent: RootOnly, Order: OrderNameAsc}
	if folderID != "" {
		q.Parent = InParent
		q.ParentID = folderID
	}
	return q
}

// Bool returns a pointer to b for use in Query filters and Patch fields.
func Bool(b bool) *bool {
	return &b
}

// Patch is a partial update. Nil fields are left untouched; UpdatedAt is always written.
type Patch struct {
	Name      *string
	Trashed   *bool
	Starred   *bool
	UpdatedAt time.Time
}

// MetadataStore is the record store holding folders and files.
//
// Get, Update and Delete return an error of KindNotFound for a missing id. Deleting a
// folder that still has children fails with KindPreconditionFailed.
// Tally aggregates the records matching a query.
type Tally struct {
	Folders int
	Files   int
	Bytes   int64
}

type MetadataStore interface {
	InsertFolder(ctx context.Context, f *Folder) error
	InsertFile(ctx context.Context, f *File) error

	GetFolder(ctx context.Context, id string) (*Folder, error)
	GetFile(ctx context.Context, id string) (*File, error)

	UpdateFolder(ctx context.Context, id string, p Patch) (*Folder, error)
	UpdateFile(ctx context.Context, id string, p Patch) (*File, error)

	DeleteFolder(ctx context.Context, id string) error
	DeleteFile(ctx context.Context, id string) error

	QueryFolders(ctx context.Context, q Query) ([]Folder, error)
	QueryFiles(ctx context.Context, q Query) ([]File, error)

	// SumFileSize returns the total size of every file of owner, trashed included.
	SumFileSize(ctx context.Context, ownerID string) (int64, error)

	// Tally counts the folders and files matching q and totals the file sizes.
	// Order and Limit are ignored.
	Tally(ctx context.Context, q Query) (Tally, error)

	Close() error
}

// BlobStore holds file content by opaque key.
//
// Delete of a missing key succeeds. Open of a missing key returns ErrBlobNotFound.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
