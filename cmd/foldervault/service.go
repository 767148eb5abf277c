package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/foldervault/foldervault/internal/svc"
)

// serviceLogPath receives the server log when running under a service manager that
// does not capture stderr.
const serviceLogPath = "/var/log/foldervault-service.log"

var (
	serviceName  string
	serviceUser  string
	forceInstall bool
	logsFollow   bool
	logsLines    int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the Foldervault system service",
		Long: `Install, control, and manage Foldervault as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  sudo foldervault service install --config /etc/foldervault/foldervault.yaml
  sudo foldervault service start
  sudo foldervault service status
  sudo foldervault service logs --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install Foldervault as a system service",
		Long: `Install Foldervault as a system service that starts automatically at boot.

Requires administrator/root privileges.`,
		RunE: runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the Foldervault system service",
		RunE:  runServiceUninstall,
	})

	for _, action := range []string{"start", "stop", "restart"} {
		serviceCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the Foldervault service", capitalize(action)),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServiceControl(cmd, action)
			},
		})
	}

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show Foldervault service status",
		RunE:  runServiceStatus,
	})

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View Foldervault service logs",
		Long: `View logs from the Foldervault service.

Log locations by platform:
  - Linux:   journalctl -u foldervault
  - macOS:   /var/log/foldervault.{out,err}.log
  - Windows: Event Viewer > Application log`,
		RunE: runServiceLogs,
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")
	serviceCmd.AddCommand(logsCmd)

	serviceCmd.PersistentFlags().StringVarP(&serviceName, "name", "n", "", "Service name (default: foldervault)")

	return serviceCmd
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func getServiceConfig() *svc.Config {
	cfg := svc.DefaultConfig(serviceName, cfgFile)
	cfg.UserName = serviceUser
	return cfg
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	setupLogging(logLevel, "text", os.Stderr)
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("service config %s: %w (pass --config to point at an existing file)", cfg.ConfigPath, err)
	}
	log.Info().Str("service", cfg.Name).Str("config_path", cfg.ConfigPath).Msg("Installing foldervault service")

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Installed service %s (config %s)\n", cfg.Name, cfg.ConfigPath)
	fmt.Fprintf(out, "Start it with: foldervault service start --name %s\n", cfg.Name)
	return nil
}

func runServiceUninstall(cmd *cobra.Command, args []string) error {
	setupLogging(logLevel, "text", os.Stderr)
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	log.Info().Str("service", cfg.Name).Msg("Removing foldervault service")
	if err := svc.Uninstall(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed service %s\n", cfg.Name)
	return nil
}

func runServiceControl(cmd *cobra.Command, action string) error {
	setupLogging(logLevel, "text", os.Stderr)

	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	log.Info().Str("name", cfg.Name).Str("action", action).Msg("Controlling service")

	if err := svc.Control(cfg, action); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Service %s: %s ok\n", cfg.Name, action)
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()
	out := cmd.OutOrStdout()

	state := "not installed"
	status, err := svc.Status(cfg)
	if err == nil {
		state = svc.StatusString(status)
	}
	fmt.Fprintf(out, "%-8s %s\n", "name", cfg.Name)
	fmt.Fprintf(out, "%-8s %s\n", "state", state)
	fmt.Fprintf(out, "%-8s %s\n", "config", cfg.ConfigPath)
	if err != nil {
		log.Debug().Err(err).Str("service", cfg.Name).Msg("Service status unavailable")
	}
	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	return svc.ViewLogs(svc.LogOptions{
		ServiceName: getServiceConfig().Name,
		Follow:      logsFollow,
		Lines:       logsLines,
	})
}

// runAsService is the entry point when the service manager starts the binary.
func runAsService() {
	setupServiceLogging()

	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	cfg := svc.DefaultConfig("", configPath)

	log.Info().
		Str("version", Version).
		Str("config", cfg.ConfigPath).
		Msg("Starting as service")

	prg := &svc.Program{
		ConfigPath: cfg.ConfigPath,
		Run:        runServeFromService,
	}
	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("Service error")
	}
}

// runServeFromService loads the config named in the service definition and serves
// until the service manager stops the program.
func runServeFromService(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Error().Err(err).Str("config", configPath).Msg("Failed to load config")
		return err
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat, serviceLogWriter())
	return serve(ctx, cfg)
}

// setupServiceLogging logs to serviceLogPath as well as stderr, since launchd does not
// always redirect stderr.
func setupServiceLogging() {
	setupLogging("info", "text", serviceLogWriter())
}

var serviceLogWriter = sync.OnceValue(func() io.Writer {
	f, err := os.OpenFile(serviceLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return os.Stderr
	}
	return io.MultiWriter(f, os.Stderr)
})
