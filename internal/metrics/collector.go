package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Backlog is a snapshot of the trash contents.
type Backlog struct {
	TrashedFolders int
	TrashedFiles   int
	TrashedBytes   int64
	ExpiredFolders int // past the retention period, due for purging
	ExpiredFiles   int
}

// BacklogSource reports the current trash backlog.
type BacklogSource interface {
	Backlog(ctx context.Context) (Backlog, error)
}

// Collector periodically samples gauges that are too expensive to maintain inline.
type Collector struct {
	metrics *Metrics
	source  BacklogSource
	logger  zerolog.Logger
}

// NewCollector creates a collector that samples source into m.
func NewCollector(m *Metrics, source BacklogSource, logger zerolog.Logger) *Collector {
	return &Collector{
		metrics: m,
		source:  source,
		logger:  logger.With().Str("component", "metrics-collector").Logger(),
	}
}

// Collect samples the backlog once.
func (c *Collector) Collect(ctx context.Context) error {
	if c.metrics == nil || c.source == nil {
		return nil
	}
	b, err := c.source.Backlog(ctx)
	if err != nil {
		return err
	}
	c.metrics.TrashItems.WithLabelValues("folder").Set(float64(b.TrashedFolders))
	c.metrics.TrashItems.WithLabelValues("file").Set(float64(b.TrashedFiles))
	c.metrics.ExpiredItems.WithLabelValues("folder").Set(float64(b.ExpiredFolders))
	c.metrics.ExpiredItems.WithLabelValues("file").Set(float64(b.ExpiredFiles))
	c.metrics.TrashBytes.Set(float64(b.TrashedBytes))
	return nil
}

// Run collects immediately and then every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collectAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectAndLog(ctx)
		}
	}
}

func (c *Collector) collectAndLog(ctx context.Context) {
	if err := c.Collect(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn().Err(err).Msg("Failed to sample trash backlog")
	}
}
