// Package config holds the server configuration: capture and batching
// cadence, buffer capacities, and backpressure limits. Defaults can be
// overridden by a YAML file and then by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config tunes the streaming engine. All capacities are configurable; the
// lossy-under-pressure policies (chunk eviction, send dropping) are part of
// the design and not switchable.
type Config struct {
	// Port the HTTP/WebSocket server listens on.
	Port int `yaml:"port"`

	// CaptureInterval is the tick of each session's capture loop.
	CaptureInterval time.Duration `yaml:"captureInterval"`
	// InputBatchTimeout is the tick of each session's input flush loop.
	InputBatchTimeout time.Duration `yaml:"inputBatchTimeout"`
	// MaxInputBatch caps how many queued commands one flush drains.
	MaxInputBatch int `yaml:"maxInputBatch"`
	// MaxBufferSize is the per-session terminal buffer capacity in bytes.
	MaxBufferSize int `yaml:"maxBufferSize"`
	// MaxConcurrentCaptures bounds system-wide concurrent capture-pane
	// invocations.
	MaxConcurrentCaptures int `yaml:"maxConcurrentCaptures"`
	// ChunkQueueDepth is the slot capacity of the sequenced chunk queue.
	ChunkQueueDepth int `yaml:"chunkQueueDepth"`
	// MaxLines caps terminal history retained per snapshot.
	MaxLines int `yaml:"maxLines"`

	// BackpressureThreshold is the per-client outstanding-message permit
	// count; sends beyond it are dropped.
	BackpressureThreshold int `yaml:"backpressureThreshold"`
	// BatchWindow is the per-client outbound coalescing window.
	BatchWindow time.Duration `yaml:"batchWindow"`
	// MaxMessageSize bounds a single framed message.
	MaxMessageSize int `yaml:"maxMessageSize"`
	// OutputChunkSize splits oversized batched output before framing.
	OutputChunkSize int `yaml:"outputChunkSize"`

	// SessionGracePeriod keeps an empty shared session alive for quick
	// reconnects before it is torn down.
	SessionGracePeriod time.Duration `yaml:"sessionGracePeriod"`
	// CommandTimeout bounds each external tmux invocation.
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	// MaxConsecutiveCaptureFailures kills a session's capture loop.
	MaxConsecutiveCaptureFailures int `yaml:"maxConsecutiveCaptureFailures"`

	// DotfilesDir is where the dotfiles service looks for managed files.
	// Empty means the user's home directory.
	DotfilesDir string `yaml:"dotfilesDir"`

	// Dev enables console logging.
	Dev bool `yaml:"dev"`
}

// Default returns the stock configuration: ~30fps capture, 5ms input
// batching, 10MiB buffers, ten concurrent captures.
func Default() *Config {
	return &Config{
		Port:                          6565,
		CaptureInterval:               33 * time.Millisecond,
		InputBatchTimeout:             5 * time.Millisecond,
		MaxInputBatch:                 100,
		MaxBufferSize:                 10 * 1024 * 1024,
		MaxConcurrentCaptures:         10,
		ChunkQueueDepth:               1024,
		MaxLines:                      10000,
		BackpressureThreshold:         256,
		BatchWindow:                   5 * time.Millisecond,
		MaxMessageSize:                1 << 20,
		OutputChunkSize:               32 * 1024,
		SessionGracePeriod:            30 * time.Second,
		CommandTimeout:                5 * time.Second,
		MaxConsecutiveCaptureFailures: 10,
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("WEBMUX_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("WEBMUX_CAPTURE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CaptureInterval = d
		}
	}
	if v := os.Getenv("WEBMUX_MAX_BUFFER_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			c.MaxBufferSize = size
		}
	}
	if v := os.Getenv("WEBMUX_DOTFILES_DIR"); v != "" {
		c.DotfilesDir = v
	}
	if v := os.Getenv("WEBMUX_DEV"); v == "true" || v == "1" {
		c.Dev = true
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.CaptureInterval <= 0 {
		return fmt.Errorf("capture interval must be positive")
	}
	if c.MaxBufferSize < 4096 {
		return fmt.Errorf("buffer size %d too small", c.MaxBufferSize)
	}
	if c.MaxInputBatch <= 0 {
		return fmt.Errorf("input batch size must be positive")
	}
	if c.BackpressureThreshold <= 0 {
		return fmt.Errorf("backpressure threshold must be positive")
	}
	if c.OutputChunkSize > c.MaxMessageSize {
		return fmt.Errorf("output chunk size exceeds max message size")
	}
	return nil
}
