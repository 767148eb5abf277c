package purge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldervault/foldervault/internal/blobstore"
	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/engine"
	"github.com/foldervault/foldervault/internal/metastore"
	"github.com/foldervault/foldervault/internal/metrics"
	"github.com/foldervault/foldervault/testutil"
)

const day = 24 * time.Hour

type env struct {
	clock *testutil.Clock
	store *metastore.Memory
	blobs *blobstore.Memory
	eng   *engine.Engine
}

func newEnv(t *testing.T, step time.Duration) *env {
	t.Helper()
	e := &env{
		clock: testutil.NewClock(step),
		store: metastore.NewMemory(),
		blobs: blobstore.NewMemory(),
	}
	e.eng = engine.New(e.store, e.blobs, zerolog.Nop(), engine.WithClock(e.clock.Now))
	return e
}

func (e *env) scheduler(d Deleter, cfg Config, opts ...Option) *Scheduler {
	if d == nil {
		d = e.eng
	}
	opts = append([]Option{WithClock(e.clock.Now)}, opts...)
	return New(d, e.store, cfg, zerolog.Nop(), opts...)
}

// trashedFiles uploads the named files for owner at the root and trashes them.
func (e *env) trashedFiles(t *testing.T, owner string, names ...string) []drive.File {
	t.Helper()
	ctx := context.Background()
	entries := make([]engine.UploadEntry, len(names))
	for i, n := range names {
		entries[i] = engine.UploadEntry{Path: n, Content: strings.NewReader(n), Size: int64(len(n))}
	}
	res, err := e.eng.Upload(ctx, owner, "", entries)
	require.NoError(t, err)
	for _, f := range res.Created {
		_, err := e.eng.TrashFile(ctx, owner, f.ID)
		require.NoError(t, err)
	}
	return res.Created
}

func TestRunOnceKeepsRecentTrash(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	e.trashedFiles(t, "alice", "a.txt")
	e.clock.Advance(time.Second)

	res, err := e.scheduler(nil, Config{RetentionDays: 30}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Purged())

	_, files := e.store.Counts()
	assert.Equal(t, 1, files)
	assert.Equal(t, 1, e.blobs.Len())
}

func TestRunOncePurgesExpiredAcrossOwners(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	ctx := context.Background()
	e.trashedFiles(t, "alice", "a.txt")
	e.trashedFiles(t, "bob", "bb.txt")
	_, err := e.eng.Upload(ctx, "alice", "", []engine.UploadEntry{{Path: "kept.txt", Content: strings.NewReader("k"), Size: 1}})
	require.NoError(t, err)

	e.clock.Advance(31 * day)
	res, err := e.scheduler(nil, Config{RetentionDays: 30}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, int64(len("a.txt")+len("bb.txt")), res.Bytes)
	assert.Zero(t, res.Failed)

	files, err := e.store.QueryFiles(ctx, drive.Query{})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "kept.txt", files[0].Name)
	assert.Equal(t, 1, e.blobs.Len())
}

func TestRunOnceRetentionBoundaryIsStrict(t *testing.T) {
	e := newEnv(t, 0)
	e.trashedFiles(t, "alice", "a.txt")
	s := e.scheduler(nil, Config{RetentionDays: 30})

	e.clock.Advance(30 * day)
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Files)

	e.clock.Advance(time.Nanosecond)
	res, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
}

func TestRunOnceNestedFoldersSkipped(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	ctx := context.Background()

	res, err := e.eng.Upload(ctx, "alice", "", []engine.UploadEntry{
		{Path: "docs/readme.md", Content: strings.NewReader("r"), Size: 1},
		{Path: "docs/drafts/x.txt", Content: strings.NewReader("xx"), Size: 2},
		{Path: "docs/drafts/deep/y.txt", Content: strings.NewReader("yyy"), Size: 3},
		{Path: "docs/img/z.png", Content: strings.NewReader("zzzz"), Size: 4},
		{Path: "other.txt", Content: strings.NewReader("o"), Size: 1},
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 5)

	folders, err := e.store.QueryFolders(ctx, drive.Children("alice", ""))
	require.NoError(t, err)
	require.Len(t, folders, 1)
	_, err = e.eng.TrashFolder(ctx, "alice", folders[0].ID)
	require.NoError(t, err)

	e.clock.Advance(31 * day)
	sweep, err := e.scheduler(nil, Config{RetentionDays: 30}).RunOnce(ctx)
	require.NoError(t, err)

	// The folders are trashed top-down, so docs is the oldest and destroys the rest.
	assert.Equal(t, 4, sweep.Folders)
	assert.Equal(t, 4, sweep.Files)
	assert.Equal(t, int64(10), sweep.Bytes)
	assert.Equal(t, 3, sweep.Skipped)
	assert.Zero(t, sweep.Failed)

	nFolders, nFiles := e.store.Counts()
	assert.Zero(t, nFolders)
	assert.Equal(t, 1, nFiles)
	assert.Equal(t, 1, e.blobs.Len())
}

type flakyDeleter struct {
	Deleter
	fail map[string]error
}

func (d *flakyDeleter) DeleteFile(ctx context.Context, owner, id string) (engine.DeleteStats, error) {
	if err, ok := d.fail[id]; ok {
		return engine.DeleteStats{}, err
	}
	return d.Deleter.DeleteFile(ctx, owner, id)
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	files := e.trashedFiles(t, "alice", "a.txt", "b.txt", "c.txt")
	e.clock.Advance(31 * day)

	d := &flakyDeleter{Deleter: e.eng, fail: map[string]error{
		files[1].ID: drive.E(drive.KindStorageFailure, "delete blob", errors.New("bucket offline")),
	}}
	m := metrics.New(prometheus.NewRegistry())
	res, err := e.scheduler(d, Config{RetentionDays: 30}, WithMetrics(m)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 1, res.Failed)

	_, err = e.store.GetFile(context.Background(), files[1].ID)
	require.NoError(t, err)

	assert.InDelta(t, 2, promtest.ToFloat64(m.PurgeItems.WithLabelValues("purged")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.PurgeItems.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.PurgeSweeps.WithLabelValues("completed")), 0)
}

func TestRunOnceSkipsRestoredItems(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	files := e.trashedFiles(t, "alice", "a.txt")
	e.clock.Advance(31 * day)

	d := &restoringDeleter{Deleter: e.eng, eng: e.eng}
	res, err := e.scheduler(d, Config{RetentionDays: 30}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)

	f, err := e.store.GetFile(context.Background(), files[0].ID)
	require.NoError(t, err)
	assert.False(t, f.Trashed)
}

func TestRunOnceKeepsRestoredChildOfExpiredFolder(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	ctx := context.Background()
	res, err := e.eng.Upload(ctx, "alice", "", []engine.UploadEntry{
		{Path: "docs/a.txt", Content: strings.NewReader("aa"), Size: 2},
		{Path: "docs/b.txt", Content: strings.NewReader("bbb"), Size: 3},
	})
	require.NoError(t, err)
	docs := *res.Created[0].FolderID
	restored := res.Created[0]
	if restored.Name != "a.txt" {
		restored = res.Created[1]
	}

	_, err = e.eng.TrashFolder(ctx, "alice", docs)
	require.NoError(t, err)
	_, err = e.eng.RestoreFile(ctx, "alice", restored.ID)
	require.NoError(t, err)

	e.clock.Advance(31 * day)
	sweep, err := e.scheduler(nil, Config{RetentionDays: 30}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Files)
	assert.Equal(t, int64(3), sweep.Bytes)
	assert.Zero(t, sweep.Folders)
	assert.Equal(t, 1, sweep.Skipped)
	assert.Zero(t, sweep.Failed)

	f, err := e.store.GetFile(ctx, restored.ID)
	require.NoError(t, err)
	assert.False(t, f.Trashed)
	content, ok := e.blobs.Content(f.StoragePath)
	require.True(t, ok)
	assert.Equal(t, "aa", string(content))

	folder, err := e.store.GetFolder(ctx, docs)
	require.NoError(t, err)
	assert.True(t, folder.Trashed)
}

// restoringDeleter restores a file just before deleting it, as a concurrent user would.
type restoringDeleter struct {
	Deleter
	eng *engine.Engine
}

func (d *restoringDeleter) DeleteFile(ctx context.Context, owner, id string) (engine.DeleteStats, error) {
	if _, err := d.eng.RestoreFile(ctx, owner, id); err != nil {
		return engine.DeleteStats{}, err
	}
	return d.Deleter.DeleteFile(ctx, owner, id)
}

func TestRunOnceBatchSize(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	e.trashedFiles(t, "alice", "a.txt", "b.txt", "c.txt")
	e.clock.Advance(31 * day)
	s := e.scheduler(nil, Config{RetentionDays: 30, BatchSize: 2})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)

	res, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.Sweeps)
	assert.Equal(t, uint64(3), st.ItemsPurged)
	assert.False(t, st.LastSweepAt.IsZero())
}

// blockingDeleter parks in DeleteFile until released.
type blockingDeleter struct {
	Deleter
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDeleter) DeleteFile(ctx context.Context, owner, id string) (engine.DeleteStats, error) {
	d.entered <- struct{}{}
	<-d.release
	return d.Deleter.DeleteFile(ctx, owner, id)
}

func TestRunOnceOverlapGuard(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	e.trashedFiles(t, "alice", "a.txt")
	e.clock.Advance(31 * day)

	d := &blockingDeleter{Deleter: e.eng, entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := metrics.New(prometheus.NewRegistry())
	s := e.scheduler(d, Config{RetentionDays: 30}, WithMetrics(m))

	done := make(chan SweepResult, 1)
	go func() {
		res, err := s.RunOnce(context.Background())
		assert.NoError(t, err)
		done <- res
	}()
	<-d.entered

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Equal(t, uint64(1), s.Stats().OverlapsSkipped)
	assert.InDelta(t, 1, promtest.ToFloat64(m.PurgeSweeps.WithLabelValues("skipped_overlap")), 0)

	close(d.release)
	res := <-done
	assert.Equal(t, 1, res.Files)

	// The guard is released once the sweep finishes.
	_, err = s.RunOnce(context.Background())
	assert.NoError(t, err)
}

func TestRunOnceCancelled(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	e.trashedFiles(t, "alice", "a.txt", "b.txt")
	e.clock.Advance(31 * day)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.scheduler(nil, Config{RetentionDays: 30}).RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, files := e.store.Counts()
	assert.Equal(t, 2, files)
}

func TestDisabled(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	e.trashedFiles(t, "alice", "a.txt")
	e.clock.Advance(365 * day)

	s := e.scheduler(nil, Config{RetentionDays: 0, Interval: time.Millisecond})
	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)

	s.Start()
	s.Stop()
	_, files := e.store.Counts()
	assert.Equal(t, 1, files)
}

func TestStartStop(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	e.trashedFiles(t, "alice", "a.txt")
	e.clock.Advance(31 * day)

	s := e.scheduler(nil, Config{RetentionDays: 30, Interval: 5 * time.Millisecond})
	swept := make(chan SweepResult, 16)
	s.OnSweepComplete = func(r SweepResult) {
		select {
		case swept <- r:
		default:
		}
	}

	s.Start()
	defer s.Stop()

	select {
	case r := <-swept:
		assert.Equal(t, 1, r.Files)
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep completed")
	}
	require.Eventually(t, func() bool {
		_, files := e.store.Counts()
		return files == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBacklog(t *testing.T) {
	e := newEnv(t, time.Millisecond)
	ctx := context.Background()
	e.trashedFiles(t, "alice", "old.txt")
	e.clock.Advance(31 * day)
	e.trashedFiles(t, "bob", "new.txt")
	folder, err := e.eng.CreateFolder(ctx, "bob", "dir", "")
	require.NoError(t, err)
	_, err = e.eng.TrashFolder(ctx, "bob", folder.ID)
	require.NoError(t, err)

	b, err := e.scheduler(nil, Config{RetentionDays: 30}).Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, metrics.Backlog{
		TrashedFolders: 1,
		TrashedFiles:   2,
		TrashedBytes:   int64(len("old.txt") + len("new.txt")),
		ExpiredFiles:   1,
	}, b)
}

func TestNewDefaults(t *testing.T) {
	s := New(nil, metastore.NewMemory(), Config{RetentionDays: 7}, zerolog.Nop())
	assert.Equal(t, DefaultInterval, s.cfg.Interval)
	assert.Equal(t, DefaultBatchSize, s.cfg.BatchSize)
}
