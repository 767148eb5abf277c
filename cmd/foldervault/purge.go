package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foldervault/foldervault/internal/purge"
)

var purgeJSON bool

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Run one trash purge sweep",
		Long: `Permanently delete trashed items older than purge.retention_days, once.

The sweep uses the same store as the server. It is safe to run while the server is
running; items restored in the meantime are skipped.`,
		Args: cobra.NoArgs,
		RunE: runPurge,
	}
	cmd.Flags().BoolVar(&purgeJSON, "json", false, "print the sweep result as JSON")
	return cmd
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	res, err := st.scheduler.RunOnce(ctx)
	if errors.Is(err, purge.ErrDisabled) {
		return errors.New("purge is disabled in the configuration")
	}
	if err != nil {
		log.Error().Err(err).Msg("Sweep did not complete")
	}

	if purgeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(res); encErr != nil {
			return encErr
		}
		return err
	}

	fmt.Printf("Cutoff:   %s\n", res.Cutoff.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Folders:  %d\n", res.Folders)
	fmt.Printf("Files:    %d\n", res.Files)
	fmt.Printf("Freed:    %s\n", humanize.Bytes(uint64(res.Bytes)))
	fmt.Printf("Failed:   %d\n", res.Failed)
	fmt.Printf("Skipped:  %d\n", res.Skipped)
	fmt.Printf("Duration: %s\n", res.Duration)
	return err
}
