// Package metastore provides MetadataStore implementations: a SQLite-backed store for
// production and an in-memory store for tests and ephemeral deployments.
package metastore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/foldervault/foldervault/internal/drive"
)

var errFolderNotEmpty = errors.New("folder still has children")

// Memory is an in-memory MetadataStore. It enforces the same referential rules as the
// SQLite schema: parents must exist on insert and non-empty folders cannot be deleted.
type Memory struct {
	folders map[string]drive.Folder
	files   map[string]drive.File
	paths   map[string]string // storage path -> file id
	mu      sync.RWMutex
}

var _ drive.MetadataStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		folders: make(map[string]drive.Folder),
		files:   make(map[string]drive.File),
		paths:   make(map[string]string),
	}
}

// InsertFolder stores a new folder.
func (m *Memory) InsertFolder(ctx context.Context, f *drive.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == "" {
		return drive.Errorf(drive.KindInvalidArgument, "insert folder", "id is required")
	}
	if _, ok := m.folders[f.ID]; ok {
		return drive.Errorf(drive.KindMetadataFailure, "insert folder", "folder %s already exists", f.ID)
	}
	if f.ParentID != nil {
		if _, ok := m.folders[*f.ParentID]; !ok {
			return drive.Errorf(drive.KindPreconditionFailed, "insert folder", "parent folder %s does not exist", *f.ParentID)
		}
	}
	m.folders[f.ID] = cloneFolder(*f)
	return nil
}

// InsertFile stores a new file record.
func (m *Memory) InsertFile(ctx context.Context, f *drive.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == "" {
		return drive.Errorf(drive.KindInvalidArgument, "insert file", "id is required")
	}
	if _, ok := m.files[f.ID]; ok {
		return drive.Errorf(drive.KindMetadataFailure, "insert file", "file %s already exists", f.ID)
	}
	if _, ok := m.paths[f.StoragePath]; ok {
		return drive.Errorf(drive.KindMetadataFailure, "insert file", "storage path %q already referenced", f.StoragePath)
	}
	if f.FolderID != nil {
		if _, ok := m.folders[*f.FolderID]; !ok {
			return drive.Errorf(drive.KindPreconditionFailed, "insert file", "folder %s does not exist", *f.FolderID)
		}
	}
	m.files[f.ID] = cloneFile(*f)
	m.paths[f.StoragePath] = f.ID
	return nil
}

// GetFolder returns a folder by id.
func (m *Memory) GetFolder(ctx context.Context, id string) (*drive.Folder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.folders[id]
	if !ok {
		return nil, drive.ErrFolderNotFound
	}
	out := cloneFolder(f)
	return &out, nil
}

// GetFile returns a file by id.
func (m *Memory) GetFile(ctx context.Context, id string) (*drive.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return nil, drive.ErrFileNotFound
	}
	out := cloneFile(f)
	return &out, nil
}

// UpdateFolder applies a patch to a folder.
func (m *Memory) UpdateFolder(ctx context.Context, id string, p drive.Patch) (*drive.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.folders[id]
	if !ok {
		return nil, drive.ErrFolderNotFound
	}
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Trashed != nil {
		f.Trashed = *p.Trashed
	}
	if p.Starred != nil {
		f.Starred = *p.Starred
	}
	f.UpdatedAt = p.UpdatedAt
	m.folders[id] = f
	out := cloneFolder(f)
	return &out, nil
}

// UpdateFile applies a patch to a file.
func (m *Memory) UpdateFile(ctx context.Context, id string, p drive.Patch) (*drive.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return nil, drive.ErrFileNotFound
	}
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Trashed != nil {
		f.Trashed = *p.Trashed
	}
	if p.Starred != nil {
		f.Starred = *p.Starred
	}
	f.UpdatedAt = p.UpdatedAt
	m.files[id] = f
	out := cloneFile(f)
	return &out, nil
}

// DeleteFolder removes an empty folder.
func (m *Memory) DeleteFolder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.folders[id]; !ok {
		return drive.ErrFolderNotFound
	}
	for _, f := range m.folders {
		if f.ParentID != nil && *f.ParentID == id {
			return drive.E(drive.KindPreconditionFailed, "delete folder", errFolderNotEmpty)
		}
	}
	for _, f := range m.files {
		if f.FolderID != nil && *f.FolderID == id {
			return drive.E(drive.KindPreconditionFailed, "delete folder", errFolderNotEmpty)
		}
	}
	delete(m.folders, id)
	return nil
}

// DeleteFile removes a file record.
func (m *Memory) DeleteFile(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return drive.ErrFileNotFound
	}
	delete(m.files, id)
	delete(m.paths, f.StoragePath)
	return nil
}

// QueryFolders returns the folders matching q.
func (m *Memory) QueryFolders(ctx context.Context, q drive.Query) ([]drive.Folder, error) {
	m.mu.RLock()
	var out []drive.Folder
	for _, f := range m.folders {
		if matches(q, f.OwnerID, f.ParentID, f.Trashed, f.Starred, f.Name, f.UpdatedAt.UnixNano()) {
			out = append(out, cloneFolder(f))
		}
	}
	m.mu.RUnlock()

	sortRecords(out, q.Order,
		func(f drive.Folder) string { return f.Name },
		func(f drive.Folder) int64 { return f.UpdatedAt.UnixNano() },
		func(f drive.Folder) string { return f.ID })
	return limit(out, q.Limit), nil
}

// QueryFiles returns the files matching q.
func (m *Memory) QueryFiles(ctx context.Context, q drive.Query) ([]drive.File, error) {
	m.mu.RLock()
	var out []drive.File
	for _, f := range m.files {
		if matches(q, f.OwnerID, f.FolderID, f.Trashed, f.Starred, f.Name, f.UpdatedAt.UnixNano()) {
			out = append(out, cloneFile(f))
		}
	}
	m.mu.RUnlock()

	sortRecords(out, q.Order,
		func(f drive.File) string { return f.Name },
		func(f drive.File) int64 { return f.UpdatedAt.UnixNano() },
		func(f drive.File) string { return f.ID })
	return limit(out, q.Limit), nil
}

// SumFileSize totals the size of every file of owner.
func (m *Memory) SumFileSize(ctx context.Context, ownerID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, f := range m.files {
		if f.OwnerID == ownerID {
			total += f.Size
		}
	}
	return total, nil
}

// Tally aggregates the folders and files matching q.
func (m *Memory) Tally(ctx context.Context, q drive.Query) (drive.Tally, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var t drive.Tally
	for _, f := range m.folders {
		if matches(q, f.OwnerID, f.ParentID, f.Trashed, f.Starred, f.Name, f.UpdatedAt.UnixNano()) {
			t.Folders++
		}
	}
	for _, f := range m.files {
		if matches(q, f.OwnerID, f.FolderID, f.Trashed, f.Starred, f.Name, f.UpdatedAt.UnixNano()) {
			t.Files++
			t.Bytes += f.Size
		}
	}
	return t, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// Counts returns the number of folder and file records, for tests and diagnostics.
func (m *Memory) Counts() (folders, files int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.folders), len(m.files)
}

func matches(q drive.Query, owner string, parent *string, trashed, starred bool, name string, updated int64) bool {
	if q.OwnerID != "" && owner != q.OwnerID {
		return false
	}
	switch q.Parent {
	case drive.RootOnly:
		if parent != nil {
			return false
		}
	case drive.InParent:
		if parent == nil || *parent != q.ParentID {
			return false
		}
	}
	if q.Trashed != nil && trashed != *q.Trashed {
		return false
	}
	if q.Starred != nil && starred != *q.Starred {
		return false
	}
	if q.NameContains != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(q.NameContains)) {
		return false
	}
	if !q.UpdatedBefore.IsZero() && updated >= q.UpdatedBefore.UnixNano() {
		return false
	}
	return true
}

func sortRecords[T any](recs []T, order drive.Order, name func(T) string, updated func(T) int64, id func(T) string) {
	switch order {
	case drive.OrderNameAsc:
		sort.SliceStable(recs, func(i, j int) bool {
			if name(recs[i]) != name(recs[j]) {
				return name(recs[i]) < name(recs[j])
			}
			return id(recs[i]) < id(recs[j])
		})
	case drive.OrderUpdatedDesc:
		sort.SliceStable(recs, func(i, j int) bool {
			if updated(recs[i]) != updated(recs[j]) {
				return updated(recs[i]) > updated(recs[j])
			}
			return id(recs[i]) < id(recs[j])
		})
	case drive.OrderUpdatedAsc:
		sort.SliceStable(recs, func(i, j int) bool {
			if updated(recs[i]) != updated(recs[j]) {
				return updated(recs[i]) < updated(recs[j])
			}
			return id(recs[i]) < id(recs[j])
		})
	default:
		// Map iteration is random; keep results deterministic.
		sort.SliceStable(recs, func(i, j int) bool { return id(recs[i]) < id(recs[j]) })
	}
}

func limit[T any](recs []T, n int) []T {
	if n > 0 && len(recs) > n {
		return recs[:n]
	}
	return recs
}

func cloneFolder(f drive.Folder) drive.Folder {
	if f.ParentID != nil {
		p := *f.ParentID
		f.ParentID = &p
	}
	return f
}

func cloneFile(f drive.File) drive.File {
	if f.FolderID != nil {
		p := *f.FolderID
		f.FolderID = &p
	}
	return f
}
