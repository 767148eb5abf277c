// Package proto defines the JSON bodies exchanged with the foldervault HTTP API.
package proto

import (
	"time"
)

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"` // full error chain, omitted in production
}

// Item is one entry of a mixed folder/file listing.
type Item struct {
	Type      string    `json:"type"` // "folder" or "file"
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"` // containing folder, nil at the root
	OwnerID   string    `json:"owner_id"`
	Size      int64     `json:"size,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
	Trashed   bool      `json:"is_trashed"`
	Starred   bool      `json:"is_starred"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListResponse wraps a listing.
type ListResponse struct {
	Success bool   `json:"success"`
	Items   []Item `json:"items"`
}

// ItemResponse wraps a single folder or file.
type ItemResponse struct {
	Success bool `json:"success"`
	Item    Item `json:"item"`
}

// CreateFolderRequest is the body of POST /api/folders.
type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// RenameRequest is the body of the rename endpoints.
type RenameRequest struct {
	Name string `json:"name"`
}

// UploadFailure reports one entry of an upload batch that was not stored.
type UploadFailure struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// UploadResponse reports the outcome of an upload batch. Status 207 signals that some
// entries failed.
type UploadResponse struct {
	Success        bool            `json:"success"`
	Files          []Item          `json:"files"`
	Failed         []UploadFailure `json:"failed,omitempty"`
	FoldersCreated int             `json:"folders_created"`
}

// TreeResponse reports how many records a trash or restore touched.
type TreeResponse struct {
	Success bool `json:"success"`
	Folders int  `json:"folders"`
	Files   int  `json:"files"`
}

// DeleteResponse reports what a permanent deletion destroyed.
type DeleteResponse struct {
	Success bool  `json:"success"`
	Folders int   `json:"folders"`
	Files   int   `json:"files"`
	Bytes   int64 `json:"bytes"`
}

// DownloadResponse carries a time-limited download link.
type DownloadResponse struct {
	Success   bool      `json:"success"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StorageResponse reports an owner's storage usage.
type StorageResponse struct {
	Success   bool   `json:"success"`
	UsedBytes int64  `json:"used_bytes"`
	UsedHuman string `json:"used_human"`
}
