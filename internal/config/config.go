package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/DeusData/tapaconv/internal/pipeline"
)

// FileName is the per-directory config file looked up next to a kernel.
const FileName = ".tapaconv.yaml"

// Config holds user-overridable conversion settings.
type Config struct {
	Propagation PropagationConfig `yaml:"propagation"`
	Rewrite     RewriteConfig     `yaml:"rewrite"`
	Operations  OperationsConfig  `yaml:"operations"`
	Format      FormatConfig      `yaml:"format"`
	History     HistoryConfig     `yaml:"history"`
}

// PropagationConfig holds direction propagation settings.
type PropagationConfig struct {
	// MaxIterations bounds the call passes. Default: 10.
	MaxIterations *int `yaml:"max_iterations"`
}

// RewriteConfig holds the spelling of generated code.
type RewriteConfig struct {
	MmapType        string `yaml:"mmap_type"`
	StreamNamespace string `yaml:"stream_namespace"`
}

// OperationsConfig lists extra channel method names, added to (not
// replacing) the built-in read/write names.
type OperationsConfig struct {
	Read  []string `yaml:"read"`
	Write []string `yaml:"write"`
}

// FormatConfig holds output formatting settings.
type FormatConfig struct {
	// Command is an external formatter fed on stdin, e.g. "astyle --style=google".
	Command string `yaml:"command"`
	// Normalize trims whitespace in the rewritten regions. Default: true.
	Normalize *bool `yaml:"normalize"`
}

// HistoryConfig points at the run history database.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{}
}

// LoadConfig reads .tapaconv.yaml from dir. A missing file gives the
// defaults; so does an invalid one, with a warning.
func LoadConfig(dir string) *Config {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig()
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("config.invalid", "path", path, "err", err)
		return DefaultConfig()
	}
	return cfg
}

// LoadFile reads an explicitly named config file. Unlike LoadConfig, a
// missing or invalid file is an error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Load returns the explicit config when path is set, else the one next to
// the input file.
func Load(path, input string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	dir := "."
	if input != "" {
		dir = filepath.Dir(input)
	}
	return LoadConfig(dir), nil
}

// Validate rejects settings that cannot produce a conversion.
func (c *Config) Validate() error {
	if c.Propagation.MaxIterations != nil && *c.Propagation.MaxIterations <= 0 {
		return fmt.Errorf("propagation.max_iterations must be positive, got %d", *c.Propagation.MaxIterations)
	}
	return nil
}

// EffectiveMaxIterations returns the configured bound or the default.
func (c *Config) EffectiveMaxIterations() int {
	if c.Propagation.MaxIterations != nil && *c.Propagation.MaxIterations > 0 {
		return *c.Propagation.MaxIterations
	}
	return pipeline.DefaultMaxIterations
}

// EffectiveNormalize returns the configured normalize setting, or true.
func (c *Config) EffectiveNormalize() bool {
	if c.Format.Normalize != nil {
		return *c.Format.Normalize
	}
	return true
}

// Options converts the config into converter options.
func (c *Config) Options() pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.MaxIterations = c.EffectiveMaxIterations()
	if c.Rewrite.MmapType != "" {
		opts.MmapType = c.Rewrite.MmapType
	}
	if c.Rewrite.StreamNamespace != "" {
		opts.StreamNamespace = c.Rewrite.StreamNamespace
	}
	opts.ReadOps = c.Operations.Read
	opts.WriteOps = c.Operations.Write
	opts.Normalize = c.EffectiveNormalize()
	opts.FormatCommand = c.Format.Command
	return opts
}
