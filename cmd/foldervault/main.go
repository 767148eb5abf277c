// foldervault is the hierarchical file storage server.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foldervault/foldervault/internal/config"
	"github.com/foldervault/foldervault/internal/svc"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Hidden flag set by the service manager.
	serviceRun bool
)

func main() {
	if svc.IsServiceRun(os.Args) {
		runAsService()
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "foldervault",
		Short: "Foldervault - hierarchical file storage server",
		Long: `Foldervault stores files in per-user folder trees, keeps deleted items in a
trash with a retention period, and streams folders as zip archives.

QUICK START:

  # Run with a config file:
  foldervault serve --config /etc/foldervault/foldervault.yaml

  # Issue an API token for a user:
  foldervault token alice --config /etc/foldervault/foldervault.yaml

  # Purge expired trash now instead of waiting for the next sweep:
  foldervault purge --config /etc/foldervault/foldervault.yaml

For more help on any command, use: foldervault <command> --help`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPurgeCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newServiceCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("foldervault %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// loadConfig reads the config file named by --config, or the defaults when none is
// given, and applies the --log-level override.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogging configures the global logger. The text format is meant for terminals;
// json is for log collectors.
func setupLogging(level, format string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
}
