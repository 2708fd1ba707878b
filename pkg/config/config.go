// Package config loads zipsend settings from defaults, an optional YAML
// file and ZIPSEND_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"zipsend/pkg/core"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "ZIPSEND"

// Config is the root application configuration.
type Config struct {
	// BufferSize of the copy buffer, e.g. "1MiB" or "65536".
	BufferSize string `mapstructure:"buffer_size"`

	// Compression method for file entries: store, deflate, lz4 or snappy.
	Compression string `mapstructure:"compression"`

	// WorkDir holds archives built for sending and received archives.
	WorkDir string `mapstructure:"work_dir"`

	// KeepArchive leaves working archives on disk after a successful run.
	KeepArchive bool `mapstructure:"keep_archive"`

	// BindAddress is where receive mode listens.
	BindAddress string `mapstructure:"bind_address"`

	// DialTimeout bounds connection setup in send mode. Zero waits forever.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// Quiet suppresses periodic progress messages.
	Quiet bool `mapstructure:"quiet"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// File to log into. Empty or "stderr" logs to stderr, "stdout" to stdout.
	File string `mapstructure:"file"`

	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		BufferSize:  "1MiB",
		Compression: string(core.MethodStore),
		WorkDir:     ".",
		BindAddress: "localhost:6969",
		Log: LogConfig{
			Level:      "info",
			File:       "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("buffer_size", d.BufferSize)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("keep_archive", d.KeepArchive)
	v.SetDefault("bind_address", d.BindAddress)
	v.SetDefault("dial_timeout", d.DialTimeout)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// Load reads the configuration. An empty path skips the config file.
// Environment variables such as ZIPSEND_BUFFER_SIZE or ZIPSEND_LOG_LEVEL
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, errors.Wrapf(err, "expand config path %s", path)
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", expanded)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be caught by decoding alone.
func (c *Config) Validate() error {
	if _, err := c.BufferBytes(); err != nil {
		return err
	}
	if _, err := c.Method(); err != nil {
		return err
	}
	if c.DialTimeout < 0 {
		return errors.Errorf("negative dial_timeout %s", c.DialTimeout)
	}
	return nil
}

// BufferBytes parses BufferSize.
func (c *Config) BufferBytes() (int, error) {
	n, err := humanize.ParseBytes(c.BufferSize)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid buffer_size %q", c.BufferSize)
	}
	if n == 0 || n > 1<<30 {
		return 0, errors.Errorf("buffer_size %q out of range", c.BufferSize)
	}
	return int(n), nil
}

// Method parses Compression.
func (c *Config) Method() (core.Method, error) {
	return core.ParseMethod(c.Compression)
}

// WorkDirPath returns WorkDir with a leading ~ expanded.
func (c *Config) WorkDirPath() (string, error) {
	return homedir.Expand(c.WorkDir)
}
