package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foldervault/foldervault/internal/api"
	"github.com/foldervault/foldervault/internal/auth"
	"github.com/foldervault/foldervault/internal/blobstore"
	"github.com/foldervault/foldervault/internal/config"
	"github.com/foldervault/foldervault/internal/drive"
	"github.com/foldervault/foldervault/internal/engine"
	"github.com/foldervault/foldervault/internal/logging/audit"
	"github.com/foldervault/foldervault/internal/metastore"
	"github.com/foldervault/foldervault/internal/metrics"
	"github.com/foldervault/foldervault/internal/purge"
)

const (
	shutdownTimeout   = 30 * time.Second
	backlogSampleRate = time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the storage server",
		Long: `Run the HTTP API, the trash purge scheduler and the metrics endpoint.

Examples:
  foldervault serve --config /etc/foldervault/foldervault.yaml
  foldervault serve --log-level debug`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cfg)
}

// stack holds the wired storage components shared by serve and purge.
type stack struct {
	meta      drive.MetadataStore
	blobs     drive.BlobStore
	links     api.BlobLinks // nil unless blobs are served by this process
	eng       *engine.Engine
	apiSigner *auth.Signer
	metrics   *metrics.Metrics
	audit     *audit.Logger
	scheduler *purge.Scheduler
}

func openStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	secret, err := cfg.ResolveSecret()
	if err != nil {
		return nil, err
	}
	apiSigner, err := auth.NewSigner(secret, auth.AudienceAPI)
	if err != nil {
		return nil, fmt.Errorf("api signer: %w", err)
	}
	blobSigner, err := auth.NewSigner(secret, auth.AudienceBlob)
	if err != nil {
		return nil, fmt.Errorf("blob signer: %w", err)
	}

	st := &stack{
		apiSigner: apiSigner,
		metrics:   metrics.New(nil),
		audit:     audit.NewLogger(log.Logger),
	}

	switch cfg.Blobs.Backend {
	case config.BackendS3:
		s3, err := blobstore.NewS3(ctx, blobstore.S3Options{
			Endpoint:  cfg.Blobs.S3.Endpoint,
			AccessKey: cfg.Blobs.S3.AccessKey,
			SecretKey: cfg.Blobs.S3.SecretKey,
			Bucket:    cfg.Blobs.S3.Bucket,
			Region:    cfg.Blobs.S3.Region,
			UseSSL:    cfg.Blobs.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		st.blobs = s3
	default:
		local, err := blobstore.NewLocal(blobstore.LocalOptions{
			Dir:       cfg.Blobs.Local.Dir,
			Compress:  cfg.Blobs.Local.Compress,
			PublicURL: cfg.PublicURL,
			Signer:    blobSigner,
		})
		if err != nil {
			return nil, err
		}
		st.blobs = local
		st.links = local
	}

	meta, err := metastore.OpenSQLite(cfg.Metadata.Path)
	if err != nil {
		return nil, err
	}
	st.meta = meta

	st.eng = engine.New(meta, st.blobs, log.Logger,
		engine.WithMetrics(st.metrics),
		engine.WithDownloadTTL(cfg.URLTTL()),
	)
	st.scheduler = purge.New(st.eng, meta, purge.Config{
		RetentionDays: cfg.RetentionDays(),
		Interval:      cfg.PurgeInterval(),
		BatchSize:     cfg.Purge.BatchSize,
	}, log.Logger, purge.WithMetrics(st.metrics), purge.WithAudit(st.audit))

	log.Info().
		Str("backend", cfg.Blobs.Backend).
		Str("metadata", cfg.Metadata.Path).
		Msg("Storage opened")
	return st, nil
}

func (st *stack) Close() error {
	return st.meta.Close()
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Msg("Starting foldervault")

	st, err := openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close metadata store")
		}
	}()

	st.scheduler.Start()
	defer st.scheduler.Stop()

	collector := metrics.NewCollector(st.metrics, st.scheduler, log.Logger)
	go collector.Run(ctx, backlogSampleRate)

	handler := api.New(st.eng, st.apiSigner, log.Logger, api.Options{
		Production:       cfg.Production,
		MaxRequestBytes:  cfg.MaxRequestBytes(),
		CompressionLevel: cfg.Archive.CompressionLevel,
		BlobLinks:        st.links,
		Metrics:          metrics.Handler(),
		Audit:            st.audit,
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Str("public_url", cfg.PublicURL).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down...")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	return nil
}
