// Package engine keeps folder/file metadata and blob content consistent across
// multi-record operations: tree building from upload paths, batch upload with
// compensation, recursive trash/restore/delete and archive streaming.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/metrics"
)

// DefaultDownloadTTL is the lifetime of URLs returned by DownloadURL.
const DefaultDownloadTTL = time.Hour

// Engine runs the storage operations against one metadata store and one blob store.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	meta    drive.MetadataStore
	blobs   drive.BlobStore
	logger  zerolog.Logger
	metrics *metrics.Metrics

	now    func() time.Time
	newID  func() string
	urlTTL time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the generator of folder/file ids and blob key prefixes.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithMetrics records operation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDownloadTTL sets the lifetime of download URLs.
func WithDownloadTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.urlTTL = ttl
		}
	}
}

// New creates an engine over the given stores.
func New(meta drive.MetadataStore, blobs drive.BlobStore, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		meta:   meta,
		blobs:  blobs,
		logger: logger.With().Str("component", "engine").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		urlTTL: DefaultDownloadTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Metadata returns the metadata store the engine runs against.
func (e *Engine) Metadata() drive.MetadataStore {
	return e.meta
}

// Blobs returns the blob store the engine runs against.
func (e *Engine) Blobs() drive.BlobStore {
	return e.blobs
}

// DownloadTTL returns the lifetime of the URLs issued by DownloadURL.
func (e *Engine) DownloadTTL() time.Duration {
	return e.urlTTL
}

// ownedFolder loads a folder and hides folders of other owners as missing.
func (e *Engine) ownedFolder(ctx context.Context, owner, id string) (*drive.Folder, error) {
	if id == "" {
		return nil, drive.Errorf(drive.KindInvalidArgument, "", "folder id is required")
	}
	f, err := e.meta.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != owner {
		return nil, drive.ErrFolderNotFound
	}
	return f, nil
}

// ownedFile loads a file and hides files of other owners as missing.
func (e *Engine) ownedFile(ctx context.Context, owner, id string) (*drive.File, error) {
	if id == "" {
		return nil, drive.Errorf(drive.KindInvalidArgument, "", "file id is required")
	}
	f, err := e.meta.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != owner {
		return nil, drive.ErrFileNotFound
	}
	return f, nil
}

// observe records the outcome and duration of one operation.
func (e *Engine) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = drive.KindOf(err).String()
	}
	e.metrics.RecordOperation(op, result, time.Since(start))
}
