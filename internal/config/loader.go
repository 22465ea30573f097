package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// DataDir is the root for downloaded weights and generated images.
	DataDir        string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	CheckpointsDir string `json:"checkpoints_dir" yaml:"checkpoints_dir" toml:"checkpoints_dir"`
	LorasDir       string `json:"loras_dir" yaml:"loras_dir" toml:"loras_dir"`
	ImagesDir      string `json:"images_dir" yaml:"images_dir" toml:"images_dir"`
	// PublicBaseURL prefixes returned image URLs; defaults to http://<addr>.
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url" toml:"public_base_url"`

	MaxResident      int     `json:"max_resident" yaml:"max_resident" toml:"max_resident"`
	HostRAMBuffer    float64 `json:"host_ram_buffer" yaml:"host_ram_buffer" toml:"host_ram_buffer"`
	UploadWorkers    int     `json:"upload_workers" yaml:"upload_workers" toml:"upload_workers"`
	LeaseWaitSeconds int     `json:"lease_wait_seconds" yaml:"lease_wait_seconds" toml:"lease_wait_seconds"`
	UserAgent        string  `json:"user_agent" yaml:"user_agent" toml:"user_agent"`

	Backend      string `json:"backend" yaml:"backend" toml:"backend"`
	SimVRAMMB    int    `json:"sim_vram_mb" yaml:"sim_vram_mb" toml:"sim_vram_mb"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// WarmDefaultModel loads DefaultModel onto the accelerator at startup.
	WarmDefaultModel bool `json:"warm_default_model" yaml:"warm_default_model" toml:"warm_default_model"`
	// RescanSeconds re-reads the checkpoints directory periodically (0 = never).
	RescanSeconds int `json:"rescan_seconds" yaml:"rescan_seconds" toml:"rescan_seconds"`
	// GenerateTimeoutSeconds bounds one /generate call (0 = unbounded).
	GenerateTimeoutSeconds int `json:"generate_timeout_seconds" yaml:"generate_timeout_seconds" toml:"generate_timeout_seconds"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// Defaults.
const (
	DefaultAddr          = ":8080"
	DefaultDataDir       = "~/.imaged"
	DefaultHostRAMBuffer = 0.25
	DefaultUploadWorkers = 4
	DefaultLeaseWait     = 30
	DefaultBackend       = "sim"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultMaxBodyBytes  = 1 << 20
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// WithDefaults returns a copy of c with every unset field filled in. Weight
// and image directories default to subdirectories of DataDir.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.CheckpointsDir == "" {
		c.CheckpointsDir = filepath.Join(c.DataDir, "checkpoints")
	}
	if c.LorasDir == "" {
		c.LorasDir = filepath.Join(c.DataDir, "loras")
	}
	if c.ImagesDir == "" {
		c.ImagesDir = filepath.Join(c.DataDir, "images")
	}
	if c.PublicBaseURL == "" {
		host := c.Addr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		c.PublicBaseURL = "http://" + host
	}
	if c.HostRAMBuffer == 0 {
		c.HostRAMBuffer = DefaultHostRAMBuffer
	}
	if c.UploadWorkers <= 0 {
		c.UploadWorkers = DefaultUploadWorkers
	}
	if c.LeaseWaitSeconds <= 0 {
		c.LeaseWaitSeconds = DefaultLeaseWait
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Validate rejects values that cannot be served.
func (c Config) Validate() error {
	if c.MaxResident < 0 {
		return fmt.Errorf("max_resident must be >= 0, got %d", c.MaxResident)
	}
	if c.HostRAMBuffer < 0 || c.HostRAMBuffer >= 1 {
		return fmt.Errorf("host_ram_buffer must be in [0, 1), got %v", c.HostRAMBuffer)
	}
	if c.SimVRAMMB < 0 {
		return fmt.Errorf("sim_vram_mb must be >= 0, got %d", c.SimVRAMMB)
	}
	if c.RescanSeconds < 0 {
		return fmt.Errorf("rescan_seconds must be >= 0, got %d", c.RescanSeconds)
	}
	if c.GenerateTimeoutSeconds < 0 {
		return fmt.Errorf("generate_timeout_seconds must be >= 0, got %d", c.GenerateTimeoutSeconds)
	}
	switch c.Backend {
	case "sim":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// LeaseWait is LeaseWaitSeconds as a duration.
func (c Config) LeaseWait() time.Duration {
	return time.Duration(c.LeaseWaitSeconds) * time.Second
}
