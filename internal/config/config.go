// Package config handles configuration loading and validation for foldervault.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Blob backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

const (
	defaultListen         = ":8080"
	defaultPublicURL      = "http://localhost:8080"
	defaultDataDir        = "/var/lib/foldervault"
	defaultURLTTL         = time.Hour
	defaultMaxRequestSize = "512MB"
	defaultPurgeInterval  = 24 * time.Hour
)

// AuthConfig holds the secret that signs bearer tokens and download links.
type AuthConfig struct {
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"` // read, or generated if missing, when secret is empty
}

// MetadataConfig locates the SQLite record store.
type MetadataConfig struct {
	Path string `yaml:"path"`
}

// LocalBlobConfig configures the filesystem blob backend.
type LocalBlobConfig struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
}

// S3BlobConfig configures the S3-compatible blob backend.
type S3BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// BlobsConfig selects and configures the blob backend.
type BlobsConfig struct {
	Backend string          `yaml:"backend"` // local | s3
	Local   LocalBlobConfig `yaml:"local"`
	S3      S3BlobConfig    `yaml:"s3"`
}

// DownloadConfig controls download links.
type DownloadConfig struct {
	URLTTL string `yaml:"url_ttl"` // Duration string, e.g. "1h"
}

// UploadConfig limits upload requests.
type UploadConfig struct {
	MaxRequestSize string `yaml:"max_request_size"` // e.g. "512MB"
}

// ArchiveConfig controls folder zip downloads.
type ArchiveConfig struct {
	CompressionLevel int `yaml:"compression_level"` // flate level, -2..9
}

// PurgeConfig controls the trash retention sweep.
type PurgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RetentionDays int    `yaml:"retention_days"`
	Interval      string `yaml:"interval"` // Duration string, e.g. "24h"
	BatchSize     int    `yaml:"batch_size"`
}

// Config is the foldervault server configuration.
type Config struct {
	Listen     string         `yaml:"listen"`
	PublicURL  string         `yaml:"public_url"`
	LogLevel   string         `yaml:"log_level"`
	LogFormat  string         `yaml:"log_format"` // text | json
	Production bool           `yaml:"production"`
	Auth       AuthConfig     `yaml:"auth"`
	Metadata   MetadataConfig `yaml:"metadata"`
	Blobs      BlobsConfig    `yaml:"blobs"`
	Download   DownloadConfig `yaml:"download"`
	Upload     UploadConfig   `yaml:"upload"`
	Archive    ArchiveConfig  `yaml:"archive"`
	Purge      PurgeConfig    `yaml:"purge"`
}

// Default returns the configuration used when no file is given. Booleans and numbers
// that have a meaningful zero value are seeded here, before a file is unmarshalled
// on top.
func Default() *Config {
	cfg := &Config{
		Blobs: BlobsConfig{
			Local: LocalBlobConfig{Compress: true},
		},
		Archive: ArchiveConfig{CompressionLevel: 6},
		Purge: PurgeConfig{
			Enabled:       true,
			RetentionDays: 30,
			BatchSize:     1000,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.PublicURL == "" {
		c.PublicURL = defaultPublicURL
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Metadata.Path == "" {
		c.Metadata.Path = filepath.Join(defaultDataDir, "metadata.db")
	}
	if c.Blobs.Backend == "" {
		c.Blobs.Backend = BackendLocal
	}
	if c.Blobs.Local.Dir == "" {
		c.Blobs.Local.Dir = filepath.Join(defaultDataDir, "blobs")
	}
	if c.Blobs.S3.Endpoint == "" {
		c.Blobs.S3.Endpoint = "localhost:9000"
	}
	if c.Blobs.S3.Bucket == "" {
		c.Blobs.S3.Bucket = "foldervault"
	}
	if c.Download.URLTTL == "" {
		c.Download.URLTTL = defaultURLTTL.String()
	}
	if c.Upload.MaxRequestSize == "" {
		c.Upload.MaxRequestSize = defaultMaxRequestSize
	}
	if c.Purge.Interval == "" {
		c.Purge.Interval = defaultPurgeInterval.String()
	}

	c.Metadata.Path = expandHome(c.Metadata.Path)
	c.Blobs.Local.Dir = expandHome(c.Blobs.Local.Dir)
	c.Auth.SecretFile = expandHome(c.Auth.SecretFile)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid public_url %q", c.PublicURL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.Auth.Secret == "" && c.Auth.SecretFile == "" {
		return fmt.Errorf("auth.secret or auth.secret_file is required")
	}
	if c.Auth.Secret != "" && len(c.Auth.Secret) < MinSecretLength {
		return fmt.Errorf("auth.secret must be at least %d characters", MinSecretLength)
	}
	if c.Metadata.Path == "" {
		return fmt.Errorf("metadata.path is required")
	}

	switch c.Blobs.Backend {
	case BackendLocal:
		if c.Blobs.Local.Dir == "" {
			return fmt.Errorf("blobs.local.dir is required")
		}
	case BackendS3:
		if c.Blobs.S3.Endpoint == "" {
			return fmt.Errorf("blobs.s3.endpoint is required")
		}
		if c.Blobs.S3.Bucket == "" {
			return fmt.Errorf("blobs.s3.bucket is required")
		}
	default:
		return fmt.Errorf("blobs.backend must be %s or %s, got %q", BackendLocal, BackendS3, c.Blobs.Backend)
	}

	if ttl, err := time.ParseDuration(c.Download.URLTTL); err != nil || ttl <= 0 {
		return fmt.Errorf("invalid download.url_ttl %q", c.Download.URLTTL)
	}
	if n, err := humanize.ParseBytes(c.Upload.MaxRequestSize); err != nil || n == 0 {
		return fmt.Errorf("invalid upload.max_request_size %q", c.Upload.MaxRequestSize)
	}
	if c.Archive.CompressionLevel < -2 || c.Archive.CompressionLevel > 9 {
		return fmt.Errorf("archive.compression_level must be between -2 and 9")
	}

	if c.Purge.Enabled {
		if c.Purge.RetentionDays <= 0 {
			return fmt.Errorf("purge.retention_days must be positive when purge is enabled")
		}
		if iv, err := time.ParseDuration(c.Purge.Interval); err != nil || iv <= 0 {
			return fmt.Errorf("invalid purge.interval %q", c.Purge.Interval)
		}
		if c.Purge.BatchSize < 0 {
			return fmt.Errorf("purge.batch_size must not be negative")
		}
	}
	return nil
}

// URLTTL returns the lifetime of download links.
func (c *Config) URLTTL() time.Duration {
	ttl, err := time.ParseDuration(c.Download.URLTTL)
	if err != nil || ttl <= 0 {
		return defaultURLTTL
	}
	return ttl
}

// MaxRequestBytes returns the upload request size limit in bytes.
func (c *Config) MaxRequestBytes() int64 {
	n, err := humanize.ParseBytes(c.Upload.MaxRequestSize)
	if err != nil || n == 0 {
		n, _ = humanize.ParseBytes(defaultMaxRequestSize)
	}
	return int64(n)
}

// PurgeInterval returns the time between purge sweeps.
func (c *Config) PurgeInterval() time.Duration {
	iv, err := time.ParseDuration(c.Purge.Interval)
	if err != nil || iv <= 0 {
		return defaultPurgeInterval
	}
	return iv
}

// RetentionDays returns the trash retention period, or 0 when purging is disabled.
func (c *Config) RetentionDays() int {
	if !c.Purge.Enabled {
		return 0
	}
	return c.Purge.RetentionDays
}
