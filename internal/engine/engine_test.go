package engine

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/foldervault/foldervault/internal/blobstore"
	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/metastore"
	"github.com/foldervault/foldervault/testutil"
)

// faultyMeta injects failures into a MetadataStore and counts folder inserts.
type faultyMeta struct {
	drive.MetadataStore
	mu            sync.Mutex
	folderInserts map[string]int // name -> inserts
	failFile      func(f *drive.File) error
}

func (m *faultyMeta) InsertFolder(ctx context.Context, f *drive.Folder) error {
	m.mu.Lock()
	if m.folderInserts == nil {
		m.folderInserts = make(map[string]int)
	}
	m.folderInserts[f.Name]++
	m.mu.Unlock()
	return m.MetadataStore.InsertFolder(ctx, f)
}

func (m *faultyMeta) InsertFile(ctx context.Context, f *drive.File) error {
	if m.failFile != nil {
		if err := m.failFile(f); err != nil {
			return err
		}
	}
	return m.MetadataStore.InsertFile(ctx, f)
}

// faultyBlobs injects failures into a BlobStore.
type faultyBlobs struct {
	drive.BlobStore
	failPut    func(key string) error
	failDelete func(key string) error
	failOpen   func(key string) error
}

func (b *faultyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if b.failPut != nil {
		if err := b.failPut(key); err != nil {
			return err
		}
	}
	return b.BlobStore.Put(ctx, key, r, size, contentType)
}

func (b *faultyBlobs) Delete(ctx context.Context, key string) error {
	if b.failDelete != nil {
		if err := b.failDelete(key); err != nil {
			return err
		}
	}
	return b.BlobStore.Delete(ctx, key)
}

func (b *faultyBlobs) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if b.failOpen != nil {
		if err := b.failOpen(key); err != nil {
			return nil, err
		}
	}
	return b.BlobStore.Open(ctx, key)
}

type fixture struct {
	eng       *Engine
	store     *metastore.Memory
	blobStore *blobstore.Memory
	meta      *faultyMeta
	blobs     *faultyBlobs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := metastore.NewMemory()
	blobStore := blobstore.NewMemory()
	fx := &fixture{
		store:     store,
		blobStore: blobStore,
		meta:      &faultyMeta{MetadataStore: store},
		blobs:     &faultyBlobs{BlobStore: blobStore},
	}
	fx.eng = New(fx.meta, fx.blobs, zerolog.Nop(), WithClock(testutil.NewClock(time.Millisecond).Now))
	return fx
}

func entry(path, content string) UploadEntry {
	return UploadEntry{Path: path, Content: strings.NewReader(content), Size: int64(len(content))}
}

// upload stores a batch for owner and fails the test on any error.
func (fx *fixture) upload(t *testing.T, owner, folderID string, entries ...UploadEntry) *UploadResult {
	t.Helper()
	res, err := fx.eng.Upload(context.Background(), owner, folderID, entries)
	require.NoError(t, err)
	return res
}

func (fx *fixture) mkdir(t *testing.T, owner, name, parentID string) *drive.Folder {
	t.Helper()
	f, err := fx.eng.CreateFolder(context.Background(), owner, name, parentID)
	require.NoError(t, err)
	return f
}

// folderByName finds the single active folder called name among the children of parentID.
func (fx *fixture) folderByName(t *testing.T, owner, parentID, name string) *drive.Folder {
	t.Helper()
	folders, err := fx.store.QueryFolders(context.Background(), drive.Children(owner, parentID))
	require.NoError(t, err)
	for _, f := range folders {
		if f.Name == name {
			return &f
		}
	}
	t.Fatalf("folder %q not found under %q", name, parentID)
	return nil
}

func itemNames(items []drive.Item) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name()
	}
	return names
}
