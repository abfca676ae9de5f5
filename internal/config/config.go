// Package config loads protoconv settings from an optional YAML file and
// resolves them into the file paths a conversion run touches.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/printguard/protoconv/internal/convert"
	"github.com/printguard/protoconv/internal/logging"
	"github.com/printguard/protoconv/internal/source"
)

// Default file names, relative to the tool directory.
const (
	DefaultSource = "../model/prototypes/cache/prototypes.pkl"
	DefaultOutput = "prototypes.json"
	DefaultCopyTo = "../model/prototypes/cache/prototypes.json"
)

// ErrInvalid is returned for settings that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting. Empty paths take their defaults relative to Dir.
type Config struct {
	Dir    string    `yaml:"dir"`
	Source string    `yaml:"source"`
	Output string    `yaml:"output"`
	CopyTo string    `yaml:"copy_to"`
	NoCopy bool      `yaml:"no_copy"`
	Format string    `yaml:"format"`
	Log    LogConfig `yaml:"log"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Dir:    ".",
		Format: source.FormatAuto.String(),
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	//nolint:gosec // G304: config path is given by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML settings on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if _, err := source.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("%w: format: %w", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// SourceFormat returns the configured source format.
func (c *Config) SourceFormat() (source.Format, error) {
	return source.ParseFormat(c.Format)
}

// Resolve returns absolute paths for a run. Explicit paths are taken
// relative to the working directory, defaults relative to Dir.
func (c *Config) Resolve() (convert.Paths, error) {
	dir := c.Dir
	if dir == "" {
		dir = "."
	}

	var (
		p   convert.Paths
		err error
	)
	if p.Source, err = resolve(c.Source, dir, DefaultSource); err != nil {
		return convert.Paths{}, err
	}
	if p.Primary, err = resolve(c.Output, dir, DefaultOutput); err != nil {
		return convert.Paths{}, err
	}
	if !c.NoCopy {
		if p.Secondary, err = resolve(c.CopyTo, dir, DefaultCopyTo); err != nil {
			return convert.Paths{}, err
		}
	}
	return p, nil
}

func resolve(path, dir, def string) (string, error) {
	if path == "" {
		path = filepath.Join(dir, def)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}
