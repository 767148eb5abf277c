// Package purge permanently deletes trash older than the retention period.
package purge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/engine"
	"github.com/foldervault/foldervault/internal/logging/audit"
	"github.com/foldervault/foldervault/internal/metrics"
)

const (
	DefaultRetentionDays = 30
	DefaultInterval      = 24 * time.Hour
	DefaultBatchSize     = 1000
)

var (
	// ErrSweepInProgress is returned by RunOnce while another sweep is running.
	ErrSweepInProgress = errors.New("purge sweep already in progress")
	// ErrDisabled is returned by RunOnce when the retention period is not positive.
	ErrDisabled = errors.New("purge disabled")
)

// Deleter is the permanent deletion path. *engine.Engine satisfies it.
type Deleter interface {
	DeleteFolder(ctx context.Context, owner, id string) (engine.DeleteStats, error)
	DeleteFile(ctx context.Context, owner, id string) (engine.DeleteStats, error)
}

// Config controls retention and pacing.
type Config struct {
	RetentionDays int           // trash older than this is purged; <= 0 disables
	Interval      time.Duration // time between sweeps
	BatchSize     int           // max items examined per sweep; negative means unlimited
}

// SweepResult is the outcome of one sweep.
type SweepResult struct {
	Cutoff   time.Time     `json:"cutoff"`
	Folders  int           `json:"folders"`
	Files    int           `json:"files"`
	Bytes    int64         `json:"bytes"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Purged returns the number of records destroyed.
func (r SweepResult) Purged() int {
	return r.Folders + r.Files
}

// Stats holds lifetime counters of the scheduler.
type Stats struct {
	Sweeps          uint64    `json:"sweeps"`
	OverlapsSkipped uint64    `json:"overlaps_skipped"`
	ItemsPurged     uint64    `json:"items_purged"`
	BytesFreed      int64     `json:"bytes_freed"`
	Failures        uint64    `json:"failures"`
	LastSweepAt     time.Time `json:"last_sweep_at"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used to compute the cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records sweep outcomes into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithAudit writes per-item and per-sweep audit events to a.
func WithAudit(a *audit.Logger) Option {
	return func(s *Scheduler) { s.audit = a }
}

// Scheduler periodically purges expired trash. Only one sweep runs at a time.
type Scheduler struct {
	deleter Deleter
	meta    drive.MetadataStore
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	now     func() time.Time

	running atomic.Bool

	sweeps          atomic.Uint64
	overlapsSkipped atomic.Uint64
	itemsPurged     atomic.Uint64
	bytesFreed      atomic.Int64
	failures        atomic.Uint64
	lastSweepAt     atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnSweepComplete is called after each completed sweep. Set before Start.
	OnSweepComplete func(SweepResult)
}

// New creates a scheduler. Zero Interval and BatchSize take their defaults.
func New(deleter Deleter, meta drive.MetadataStore, cfg Config, logger zerolog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		deleter: deleter,
		meta:    meta,
		cfg:     cfg,
		logger:  logger.With().Str("component", "purge").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background sweep loop. It is a no-op when purging is disabled.
func (s *Scheduler) Start() {
	if s.cfg.RetentionDays <= 0 {
		s.logger.Info().Msg("Trash purge disabled")
		return
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Info().
		Int("retention_days", s.cfg.RetentionDays).
		Dur("interval", s.cfg.Interval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Trash purge scheduler started")
}

// Stop cancels the loop, aborts a running sweep between items and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Trash purge scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	_, err := s.RunOnce(s.ctx)
	switch {
	case err == nil, errors.Is(err, ErrSweepInProgress):
	case errors.Is(err, context.Canceled):
		s.logger.Debug().Msg("Trash purge sweep interrupted by shutdown")
	default:
		s.logger.Error().Err(err).Msg("Trash purge sweep failed")
	}
}

// Cutoff returns the instant before which trashed items are due for purging.
func (s *Scheduler) Cutoff() time.Time {
	return s.now().AddDate(0, 0, -s.cfg.RetentionDays)
}

// RunOnce performs a single sweep. Per-item failures are counted in the result and do
// not stop the sweep; an error is returned only when the sweep could not run or was
// cancelled, together with what was purged up to that point.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	if s.cfg.RetentionDays <= 0 {
		return SweepResult{}, ErrDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		s.overlapsSkipped.Add(1)
		s.metrics.RecordSweepOverlap()
		s.logger.Warn().Msg("Previous trash purge sweep still running, skipping")
		return SweepResult{}, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	res := SweepResult{Cutoff: s.Cutoff()}

	err := s.sweep(ctx, &res)
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	at := s.now()
	s.sweeps.Add(1)
	s.itemsPurged.Add(uint64(res.Purged()))
	s.bytesFreed.Add(res.Bytes)
	s.failures.Add(uint64(res.Failed))
	s.lastSweepAt.Store(at.UnixNano())
	s.metrics.RecordSweep(res.Purged(), res.Failed, res.Skipped, res.Duration, at)
	s.audit.LogPurgeSweep(res.Folders, res.Files, res.Bytes, res.Failed, res.Skipped)

	s.logger.Info().
		Time("cutoff", res.Cutoff).
		Int("folders", res.Folders).
		Int("files", res.Files).
		Int64("bytes", res.Bytes).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Dur("duration", res.Duration).
		Msg("Trash purge sweep completed")

	if s.OnSweepComplete != nil {
		s.OnSweepComplete(res)
	}
	return res, nil
}

// sweep purges expired files first, then expired folders, oldest first.
func (s *Scheduler) sweep(ctx context.Context, res *SweepResult) error {
	q := drive.Query{
		Trashed:       drive.Bool(true),
		UpdatedBefore: res.Cutoff,
		Order:         drive.OrderUpdatedAsc,
		Limit:         max(s.cfg.BatchSize, 0),
	}

	files, err := s.meta.QueryFiles(ctx, q)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := s.deleter.DeleteFile(ctx, f.OwnerID, f.ID)
		s.account(res, "file", f.OwnerID, f.ID, stats, err)
	}

	if q.Limit > 0 {
		q.Limit -= len(files)
		if q.Limit == 0 {
			return nil
		}
	}

	folders, err := s.meta.QueryFolders(ctx, q)
	if err != nil {
		return err
	}
	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats, err := s.deleter.DeleteFolder(ctx, f.OwnerID, f.ID)
		s.account(res, "folder", f.OwnerID, f.ID, stats, err)
	}
	return nil
}

// account folds one deletion outcome into res. Items destroyed earlier in the sweep by
// an ancestor, restored since the query, or folders holding restored items are skipped.
func (s *Scheduler) account(res *SweepResult, itemType, owner, id string, stats engine.DeleteStats, err error) {
	res.Folders += stats.Folders
	res.Files += stats.Files
	res.Bytes += stats.Bytes

	switch {
	case err == nil:
		s.audit.LogPurge(owner, itemType, id, audit.ResultOK, "")
	case drive.IsNotFound(err), errors.Is(err, drive.ErrNotTrashed), errors.Is(err, drive.ErrActiveDescendant):
		res.Skipped++
		s.logger.Debug().Str("item_type", itemType).Str("id", id).Err(err).Msg("Skipping trash item")
	default:
		res.Failed++
		s.logger.Error().
			Err(err).
			Str("item_type", itemType).
			Str("id", id).
			Str("owner_id", owner).
			Msg("Failed to purge trash item")
		s.audit.LogPurge(owner, itemType, id, audit.ResultFailed, err.Error())
	}
}

// Backlog reports how much is in the trash and how much of it is past retention.
func (s *Scheduler) Backlog(ctx context.Context) (metrics.Backlog, error) {
	var b metrics.Backlog
	q := drive.Query{Trashed: drive.Bool(true)}

	all, err := s.meta.Tally(ctx, q)
	if err != nil {
		return b, err
	}
	b.TrashedFolders = all.Folders
	b.TrashedFiles = all.Files
	b.TrashedBytes = all.Bytes

	if s.cfg.RetentionDays > 0 {
		q.UpdatedBefore = s.Cutoff()
		expired, err := s.meta.Tally(ctx, q)
		if err != nil {
			return b, err
		}
		b.ExpiredFolders = expired.Folders
		b.ExpiredFiles = expired.Files
	}
	return b, nil
}

// Stats returns lifetime counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Sweeps:          s.sweeps.Load(),
		OverlapsSkipped: s.overlapsSkipped.Load(),
		ItemsPurged:     s.itemsPurged.Load(),
		BytesFreed:      s.bytesFreed.Load(),
		Failures:        s.failures.Load(),
	}
	if ns := s.lastSweepAt.Load(); ns != 0 {
		st.LastSweepAt = time.Unix(0, ns).UTC()
	}
	return st
}
