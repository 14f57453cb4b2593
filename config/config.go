// Package config loads config.toml into the typed shape every delila
// binary wires its components from. It follows dastard's pattern of
// calling viper.UnmarshalKey per top-level table rather than unmarshaling
// the whole file into one struct, so a malformed optional section
// (e.g. an unused [network.monitor]) doesn't block loading the sections
// that are present.
package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// SourceConfig is one [[network.sources]] entry. DigitizerURL empty means
// the Source runs against source.Emulator instead of real hardware.
type SourceConfig struct {
	ID            uint32 `mapstructure:"id"`
	Bind          string `mapstructure:"bind"`
	Command       string `mapstructure:"command"`
	PipelineOrder int    `mapstructure:"pipeline_order"`
	DigitizerURL  string `mapstructure:"digitizer_url"`
	Decoder       string `mapstructure:"decoder"` // "psd1" or "psd2"
}

// MergerConfig is [network.merger].
type MergerConfig struct {
	Subscribe        []string `mapstructure:"subscribe"`
	Publish          string   `mapstructure:"publish"`
	Command          string   `mapstructure:"command"`
	PipelineOrder    int      `mapstructure:"pipeline_order"`
	ForwardQueueWarn int      `mapstructure:"forward_queue_warn"`
}

// RecorderConfig is [network.recorder].
type RecorderConfig struct {
	Subscribe       string  `mapstructure:"subscribe"`
	Command         string  `mapstructure:"command"`
	OutputDir       string  `mapstructure:"output_dir"`
	PipelineOrder   int     `mapstructure:"pipeline_order"`
	MarginRatio     float64 `mapstructure:"margin_ratio"`
	MinMargin       int     `mapstructure:"min_margin"`
	MinBufferEvents int     `mapstructure:"min_buffer_events"`
	RotationBytes   uint64  `mapstructure:"rotation_bytes"`
	RotationSeconds int     `mapstructure:"rotation_seconds"`
	Archive         string  `mapstructure:"archive"` // "", "lz4", "s2", "zstd"
}

// RotationPeriod converts RotationSeconds to a time.Duration.
func (r RecorderConfig) RotationPeriod() time.Duration {
	return time.Duration(r.RotationSeconds) * time.Second
}

// MonitorConfig is [network.monitor].
type MonitorConfig struct {
	Subscribe     string `mapstructure:"subscribe"`
	Command       string `mapstructure:"command"`
	HTTPPort      int    `mapstructure:"http_port"`
	PipelineOrder int    `mapstructure:"pipeline_order"`
}

// Network bundles every [network.*] table.
type Network struct {
	Sources  []SourceConfig  `mapstructure:"sources"`
	Merger   MergerConfig    `mapstructure:"merger"`
	Recorder RecorderConfig  `mapstructure:"recorder"`
	Monitor  MonitorConfig   `mapstructure:"monitor"`
}

// Config is the root of config.toml.
type Config struct {
	Network Network `mapstructure:"network"`
}

// Load reads path with viper and unmarshals each [network.*] table
// independently, so one malformed optional section does not prevent the
// rest of the file from loading.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	log.Info().Str("file", v.ConfigFileUsed()).Msg("config: loaded")

	var cfg Config
	var sources []SourceConfig
	if err := v.UnmarshalKey("network.sources", &sources); err != nil {
		return Config{}, fmt.Errorf("config: network.sources: %w", err)
	}
	cfg.Network.Sources = sources

	if err := v.UnmarshalKey("network.merger", &cfg.Network.Merger); err != nil {
		log.Warn().Err(err).Msg("config: network.merger not loaded")
	}
	if err := v.UnmarshalKey("network.recorder", &cfg.Network.Recorder); err != nil {
		log.Warn().Err(err).Msg("config: network.recorder not loaded")
	}
	if err := v.UnmarshalKey("network.monitor", &cfg.Network.Monitor); err != nil {
		log.Warn().Err(err).Msg("config: network.monitor not loaded")
	}

	return cfg, nil
}
