package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"evoviz/internal/dataset"
	"evoviz/internal/summary"
)

const EnvPrefix = "EVOVIZ"

// Config holds every knob of a summary run. Keys match the config file, the
// EVOVIZ_* environment variables and the command-line flags.
type Config struct {
	LogDir            string  `mapstructure:"log_dir"`
	OutDir            string  `mapstructure:"out_dir"`
	TempDir           string  `mapstructure:"temp_dir"`
	Suffix            string  `mapstructure:"suffix"`
	Title             string  `mapstructure:"title"`
	CadenceEvery      int     `mapstructure:"cadence_every"`
	CadenceFirst      int     `mapstructure:"cadence_first"`
	FPS               float64 `mapstructure:"fps"`
	ClosingPad        int     `mapstructure:"closing_pad"`
	PanelWidth        int     `mapstructure:"panel_width"`
	PanelHeight       int     `mapstructure:"panel_height"`
	TopologyFile      string  `mapstructure:"topology_file"`
	KeepFrames        bool    `mapstructure:"keep_frames"`
	RequireCompanions bool    `mapstructure:"require_companions"`
	Store             string  `mapstructure:"store"`
	DBPath            string  `mapstructure:"db_path"`
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"`
}

func Defaults() Config {
	return Config{
		LogDir:            ".",
		OutDir:            "evoviz-out",
		Suffix:            dataset.DefaultLogSuffix,
		CadenceEvery:      summary.DefaultEvery,
		CadenceFirst:      summary.DefaultFirst,
		FPS:               1,
		ClosingPad:        summary.DefaultClosingPad,
		PanelWidth:        480,
		PanelHeight:       320,
		RequireCompanions: true,
		Store:             "memory",
		DBPath:            "evoviz.db",
		LogLevel:          "info",
		LogFormat:         "auto",
	}
}

// SetDefaults registers every key so environment variables bind during Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log_dir", d.LogDir)
	v.SetDefault("out_dir", d.OutDir)
	v.SetDefault("temp_dir", d.TempDir)
	v.SetDefault("suffix", d.Suffix)
	v.SetDefault("title", d.Title)
	v.SetDefault("cadence_every", d.CadenceEvery)
	v.SetDefault("cadence_first", d.CadenceFirst)
	v.SetDefault("fps", d.FPS)
	v.SetDefault("closing_pad", d.ClosingPad)
	v.SetDefault("panel_width", d.PanelWidth)
	v.SetDefault("panel_height", d.PanelHeight)
	v.SetDefault("topology_file", d.TopologyFile)
	v.SetDefault("keep_frames", d.KeepFrames)
	v.SetDefault("require_companions", d.RequireCompanions)
	v.SetDefault("store", d.Store)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Load reads an optional config file, overlays the environment and returns
// the validated result. An explicit path must exist; without one a missing
// evoviz.{yaml,json,toml} in the working directory is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("evoviz")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Suffix) == "" {
		return errors.New("invalid configuration: suffix is required")
	}
	if c.CadenceEvery < 0 {
		return fmt.Errorf("invalid configuration: cadence_every must be >= 0, got %d", c.CadenceEvery)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid configuration: fps must be > 0, got %g", c.FPS)
	}
	if c.ClosingPad < 0 {
		return fmt.Errorf("invalid configuration: closing_pad must be >= 0, got %d", c.ClosingPad)
	}
	if c.PanelWidth <= 0 || c.PanelHeight <= 0 {
		return fmt.Errorf("invalid configuration: panel size must be positive, got %dx%d", c.PanelWidth, c.PanelHeight)
	}
	switch c.Store {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("invalid configuration: unsupported store %q", c.Store)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("invalid configuration: unsupported log_format %q", c.LogFormat)
	}
	return nil
}

func (c Config) Cadence() summary.Cadence {
	return summary.Cadence{Every: c.CadenceEvery, First: c.CadenceFirst}
}
