// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"gh-media-proxy/internal/rewrite"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/gh-media-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Owner    string `kong:"help='GitHub account or organization (overrides config).',env='MIRROR_OWNER'"`
	Repo     string `kong:"help='GitHub repository (overrides config).',env='MIRROR_REPO'"`
	Ref      string `kong:"help='Branch or tag served by the mirror (overrides config).',env='MIRROR_REF'"`
	Hosting  string `kong:"help='Delivery template: raw|pages|cdn (overrides config).',env='MIRROR_HOSTING'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration. It is built once at
// startup and never mutated afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Mirror   MirrorConfig   `toml:"mirror"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// MirrorConfig identifies the GitHub repository backing the delivery mirror
// and the inbound path prefix the proxy serves.
type MirrorConfig struct {
	Owner        string `toml:"owner"`
	Repo         string `toml:"repo"`
	Ref          string `toml:"ref"`
	Hosting      string `toml:"hosting"`
	Prefix       string `toml:"prefix"`
	FallbackRoot string `toml:"fallback_root"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/gh-media-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Owner != "" {
		c.Mirror.Owner = cli.Owner
	}
	if cli.Repo != "" {
		c.Mirror.Repo = cli.Repo
	}
	if cli.Ref != "" {
		c.Mirror.Ref = cli.Ref
	}
	if cli.Hosting != "" {
		c.Mirror.Hosting = cli.Hosting
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Mirror coordinates: required, and they end up inside hostnames and
	// URL path segments, so reject separators outright.
	if c.Mirror.Owner == "" {
		return fmt.Errorf("mirror.owner is required")
	}
	if c.Mirror.Repo == "" {
		return fmt.Errorf("mirror.repo is required")
	}
	for _, field := range []struct{ name, val string }{
		{"mirror.owner", c.Mirror.Owner},
		{"mirror.repo", c.Mirror.Repo},
		{"mirror.ref", c.Mirror.Ref},
	} {
		if strings.ContainsAny(field.val, "/?#@ ") {
			return fmt.Errorf("%s must not contain '/', '?', '#', '@' or spaces; got %q", field.name, field.val)
		}
	}

	// Serve prefix: empty means "use default"; otherwise it must be an
	// absolute directory-style prefix so the strip leaves a clean remainder.
	if p := c.Mirror.Prefix; p != "" {
		if !strings.HasPrefix(p, "/") || !strings.HasSuffix(p, "/") {
			return fmt.Errorf("mirror.prefix must start and end with '/'; got %q", p)
		}
	}

	// mirror.hosting is deliberately not validated: unrecognized values
	// resolve to the CDN template (see rewrite.ParseHosting).

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		reserved := []string{"/healthz", "/mirror/status"}
		if c.Mirror.Prefix != "" {
			reserved = append(reserved, strings.TrimSuffix(c.Mirror.Prefix, "/"))
		}
		for _, r := range reserved {
			if p == r || strings.HasPrefix(p, r+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, r)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Mirror.Ref == "" {
		c.Mirror.Ref = "main"
	}
	if c.Mirror.Prefix == "" {
		c.Mirror.Prefix = "/uploads/"
	}
	if c.Mirror.FallbackRoot == "" {
		c.Mirror.FallbackRoot = "wp-content"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// MirrorSpec returns the rewrite-layer mirror identity, with the hosting
// string resolved to a concrete delivery template.
func (c *Config) MirrorSpec() rewrite.Mirror {
	return rewrite.Mirror{
		Owner:   c.Mirror.Owner,
		Repo:    c.Mirror.Repo,
		Ref:     c.Mirror.Ref,
		Hosting: rewrite.ParseHosting(c.Mirror.Hosting),
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
