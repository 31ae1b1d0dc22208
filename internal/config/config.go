// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Internal routes served by the proxy itself. Every other path is forwarded upstream.
const (
	InternalPrefix = "/_proxy/"
	HealthPath     = InternalPrefix + "healthz"
	StatusPath     = InternalPrefix + "status"
)

// DefaultBaseURL is the BomControle integration API.
const DefaultBaseURL = "https://apinewintegracao.bomcontrole.com.br/integracao"

const placeholderAPIKey = "YOUR_API_KEY_HERE"

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/bomcontrole-proxy/config.toml",
	"configs/config.toml",
	"configs/config.yaml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIKey   string `kong:"help='BomControle API key (overrides config).',env='BOMCONTROLE_API_KEY'"`
	BaseURL  string `kong:"help='Upstream base URL (overrides config).',env='BOMCONTROLE_BASE_URL'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"short='v',help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string     `toml:"host" yaml:"host"`
	Port         int        `toml:"port" yaml:"port"` // 0 means "use default" (10000)
	BodyMaxBytes int64      `toml:"body_max_bytes" yaml:"body_max_bytes"`
	CORS         CORSConfig `toml:"cors" yaml:"cors"`
}

// CORSConfig controls which browser origins may call the proxy.
type CORSConfig struct {
	AllowOrigins []string `toml:"allow_origins" yaml:"allow_origins"`
}

// UpstreamConfig holds upstream connection settings and the credential injected
// into every forwarded request.
type UpstreamConfig struct {
	BaseURL         string         `toml:"base_url" yaml:"base_url"`
	APIKey          string         `toml:"api_key" yaml:"api_key"`
	TimeoutSeconds  int            `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int            `toml:"idle_connections" yaml:"idle_connections"`
	AllowInsecure   bool           `toml:"allow_insecure" yaml:"allow_insecure"`
	QueryDefaults   []QueryDefault `toml:"query_defaults" yaml:"query_defaults"`
}

// QueryDefault adds query parameters to requests for one exact path when the
// caller did not send them. Used for endpoints that require pagination params.
type QueryDefault struct {
	Path   string            `toml:"path" yaml:"path"`
	Params map[string]string `toml:"params" yaml:"params"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level        string `toml:"level" yaml:"level"`
	Format       string `toml:"format" yaml:"format"`
	File         string `toml:"file" yaml:"file"`
	MaxSizeMB    int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups   int    `toml:"max_backups" yaml:"max_backups"`
	DumpBodies   bool   `toml:"dump_bodies" yaml:"dump_bodies"`
	DumpMaxBytes int    `toml:"dump_max_bytes" yaml:"dump_max_bytes"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the optional config file and applies CLI/env overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// configSearchPaths; if none exists the proxy runs from flags, env and defaults.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = toml.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.filePath = path
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIKey != "" {
		c.Upstream.APIKey = cli.APIKey
	}
	if cli.BaseURL != "" {
		c.Upstream.BaseURL = cli.BaseURL
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	key := strings.TrimSpace(c.Upstream.APIKey)
	if key == "" {
		return fmt.Errorf("upstream.api_key is required; set it in the config file or via BOMCONTROLE_API_KEY")
	}
	if key == placeholderAPIKey {
		return fmt.Errorf("upstream.api_key contains placeholder value; set a real key")
	}

	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && c.Upstream.AllowInsecure:
	case u.Scheme == "http":
		return fmt.Errorf("upstream.base_url must use HTTPS unless upstream.allow_insecure is set; got %q", c.Upstream.BaseURL)
	default:
		return fmt.Errorf("upstream.base_url must be an http(s) URL; got %q", c.Upstream.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", c.Upstream.BaseURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("upstream.base_url must not carry a query or fragment; got %q", c.Upstream.BaseURL)
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0-65535; got %d", c.Server.Port)
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
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.DumpMaxBytes < 0 {
		return fmt.Errorf("log.max_size_mb, log.max_backups and log.dump_max_bytes must be non-negative")
	}

	for i, qd := range c.Upstream.QueryDefaults {
		if !strings.HasPrefix(qd.Path, "/") {
			return fmt.Errorf("upstream.query_defaults[%d].path must start with '/'; got %q", i, qd.Path)
		}
		if len(qd.Params) == 0 {
			return fmt.Errorf("upstream.query_defaults[%d] for %q has no params", i, qd.Path)
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
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
		// Anything outside the internal prefix would shadow an upstream path.
		if !strings.HasPrefix(p, InternalPrefix) || len(p) == len(InternalPrefix) {
			return fmt.Errorf("metrics.path must live under %q; got %q", InternalPrefix, p)
		}
		for _, reserved := range []string{HealthPath, StatusPath} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish between
// an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 10000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if len(c.Server.CORS.AllowOrigins) == 0 {
		c.Server.CORS.AllowOrigins = []string{"*"}
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultBaseURL
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 25
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
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.DumpMaxBytes == 0 {
		c.Log.DumpMaxBytes = 4096
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/_proxy/metrics"
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

// MaskedAPIKey returns the last six characters of the key for startup logs.
func (c *UpstreamConfig) MaskedAPIKey() string {
	k := c.APIKey
	if len(k) <= 6 {
		return "..."
	}
	return "..." + k[len(k)-6:]
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
