// Package config loads the thomas CLI's YAML configuration via viper and
// exposes typed accessors with sane defaults, mirroring the teacher's
// viper-backed internal/config package.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// LogConfig controls where and how the process logs.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge     int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// HTTPReaderConfig tunes the segmented HTTP reader (C3).
type HTTPReaderConfig struct {
	Segments         int `yaml:"segments" mapstructure:"segments"`
	BufferFactor     int `yaml:"buffer_factor" mapstructure:"buffer_factor"`
	PieceGroupSize   int `yaml:"piece_group_size" mapstructure:"piece_group_size"`
	MinPieceSizeBits int `yaml:"min_piece_size_bits" mapstructure:"min_piece_size_bits"`
	MaxPieceSizeBits int `yaml:"max_piece_size_bits" mapstructure:"max_piece_size_bits"`
	MaxPieceCount    int `yaml:"max_piece_count" mapstructure:"max_piece_count"`
}

// RarConfig tunes the virtual multi-volume RAR reader (C7).
type RarConfig struct {
	Lazy bool `yaml:"lazy" mapstructure:"lazy"`
}

// Config is the root configuration for the thomas CLI.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	HTTPReader HTTPReaderConfig `yaml:"http_reader" mapstructure:"http_reader"`
	Rar        RarConfig        `yaml:"rar" mapstructure:"rar"`
}

// Default returns a Config populated with the package defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSize:    5,
			MaxBackups: 5,
			MaxAge:     14,
		},
		HTTPReader: HTTPReaderConfig{
			Segments:         6,
			BufferFactor:     3,
			PieceGroupSize:   100,
			MinPieceSizeBits: 20,
			MaxPieceSizeBits: 28,
			MaxPieceCount:    1000,
		},
		Rar: RarConfig{
			Lazy: true,
		},
	}
}

// Load reads the YAML config at path (if it exists) over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// GetSegments returns the configured worker count, defaulting to 6.
func (c *Config) GetSegments() int {
	if c.HTTPReader.Segments <= 0 {
		return 6
	}
	return c.HTTPReader.Segments
}

// GetBufferFactor returns the sliding-window buffer factor, defaulting to 3.
func (c *Config) GetBufferFactor() int {
	if c.HTTPReader.BufferFactor <= 0 {
		return 3
	}
	return c.HTTPReader.BufferFactor
}

// GetPieceGroupSize returns the work-group size, defaulting to 100.
func (c *Config) GetPieceGroupSize() int {
	if c.HTTPReader.PieceGroupSize <= 0 {
		return 100
	}
	return c.HTTPReader.PieceGroupSize
}

// GetLogLevel returns the configured log level, defaulting to info.
func (c *Config) GetLogLevel() string {
	if c.Log.Level == "" {
		return "info"
	}
	return c.Log.Level
}

// AdmissionPollInterval equals the bounded wait of Piece.Read (§4.1), which
// hardcodes the same value rather than reading this constant.
const AdmissionPollInterval = 100 * time.Millisecond

// GatePollInterval equals the default bound a range worker uses when
// polling a piece's admission gate (§4.3); httpio takes that bound from
// Options.GatePoll, not from this constant.
const GatePollInterval = 2 * time.Second
