// Package svc runs the foldervault server under the platform service manager
// (systemd, launchd or the Windows Service Control Manager).
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// RunFlag marks a process started by the service manager.
const RunFlag = "--service-run"

// DefaultName is the service name used when none is given.
const DefaultName = "foldervault"

// RunFunc runs the server until ctx is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program adapts a RunFunc to service.Interface.
type Program struct {
	ConfigPath string
	Run        RunFunc

	cancel context.CancelFunc
	done   chan error
}

// Start launches the server in the background. The service manager requires it not to block.
func (p *Program) Start(_ service.Service) error {
	if p.Run == nil {
		return errors.New("no run function configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() {
		p.done <- p.Run(ctx, p.ConfigPath)
	}()
	return nil
}

// Stop cancels the server and waits for it to return.
func (p *Program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	if err := <-p.done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Config describes the installed service.
type Config struct {
	Name        string
	DisplayName string
	Description string
	ConfigPath  string
	UserName    string // Linux/macOS only
}

// DefaultConfig returns the service description for name, using the platform's default
// config file when configPath is empty.
func DefaultConfig(name, configPath string) *Config {
	if name == "" {
		name = DefaultName
	}
	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	return &Config{
		Name:        name,
		DisplayName: "Foldervault Storage Server",
		Description: "Foldervault hierarchical file storage server",
		ConfigPath:  configPath,
	}
}

// DefaultConfigPath returns the platform's default config file location.
func DefaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "Foldervault", "foldervault.yaml")
	}
	return "/etc/foldervault/foldervault.yaml"
}

// serviceConfig builds the service manager definition for goos.
func (c *Config) serviceConfig(goos string) *service.Config {
	sc := &service.Config{
		Name:        c.Name,
		DisplayName: c.DisplayName,
		Description: c.Description,
		Arguments:   []string{RunFlag, "serve", "--config", c.ConfigPath},
	}

	switch goos {
	case "linux":
		sc.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		sc.Option = service.KeyValue{"Restart": "on-failure", "RestartSec": "5"}
		sc.UserName = c.UserName
	case "darwin":
		sc.Option = service.KeyValue{"KeepAlive": true, "RunAtLoad": true}
		sc.UserName = c.UserName
	case "windows":
		sc.Option = service.KeyValue{"OnFailure": "restart", "OnFailureDelayDuration": "5s"}
	}
	return sc
}

func newService(prg *Program, cfg *Config) (service.Service, error) {
	s, err := service.New(prg, cfg.serviceConfig(runtime.GOOS))
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return s, nil
}

// Install registers the service. An existing installation is replaced only with force.
func Install(cfg *Config, force bool) error {
	s, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return err
	}

	if status, err := s.Status(); err == nil && status != service.StatusUnknown {
		if !force {
			return fmt.Errorf("service %q already installed (%s); use --force to reinstall", cfg.Name, StatusString(status))
		}
		if status == service.StatusRunning {
			if err := s.Stop(); err != nil {
				log.Warn().Err(err).Msg("Failed to stop service")
			}
		}
		if err := s.Uninstall(); err != nil {
			log.Warn().Err(err).Msg("Failed to uninstall service")
		}
	}

	if err := s.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall stops the service if it is running and removes it.
func Uninstall(cfg *Config) error {
	s, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return err
	}
	if status, _ := s.Status(); status == service.StatusRunning {
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop service")
		}
	}
	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Control runs one of "start", "stop" or "restart" against the installed service.
func Control(cfg *Config, action string) error {
	if !slices.Contains([]string{"start", "stop", "restart"}, action) {
		return fmt.Errorf("unknown service action %q", action)
	}
	s, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("%s service: %w", action, err)
	}
	return nil
}

// Status reports the state of the installed service.
func Status(cfg *Config) (service.Status, error) {
	s, err := newService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return service.StatusUnknown, err
	}
	return s.Status()
}

// StatusString returns a human-readable status.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run hands control to the service manager. It returns when the service is stopped.
func Run(prg *Program, cfg *Config) error {
	s, err := newService(prg, cfg)
	if err != nil {
		return err
	}
	return s.Run()
}

// CheckPrivileges reports whether the caller may manage system services.
func CheckPrivileges() error {
	if runtime.GOOS == "windows" {
		// The service manager reports missing rights itself.
		return nil
	}
	if os.Geteuid() != 0 {
		return errors.New("root privileges required (use sudo)")
	}
	return nil
}

// IsServiceRun reports whether args carry RunFlag.
func IsServiceRun(args []string) bool {
	return slices.Contains(args, RunFlag)
}
