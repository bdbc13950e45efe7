// Package config handles daemon configuration file management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config represents the daemon configuration
type Config struct {
	// Name is the last element of the MPRIS bus name (org.mpris.MediaPlayer2.<name>)
	Name string `mapstructure:"name" validate:"required,alphanum"`

	// Identity is the player name shown by MPRIS clients
	Identity string `mapstructure:"identity" validate:"required"`

	// DesktopFile is the path of the application's .desktop file
	DesktopFile string `mapstructure:"desktop_file"`

	// Volume is the initial playback volume, 0-100
	Volume int `mapstructure:"volume" validate:"min=0,max=100"`

	Announce AnnounceConfig `mapstructure:"announce"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AnnounceConfig contains presence service settings
type AnnounceConfig struct {
	// Enabled turns the startup notification on
	Enabled bool `mapstructure:"enabled"`

	// AppType is the indicator type sent to the service
	AppType string `mapstructure:"app_type" validate:"required"`

	// ServiceName is the bus name probed for the presence service
	ServiceName string `mapstructure:"service_name" validate:"required"`

	// Always announces whenever a session bus is reachable
	Always bool `mapstructure:"always"`
}

// LoggerConfig contains logging settings
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=logfmt json text"`
}

// MetricsConfig contains the prometheus endpoint settings
type MetricsConfig struct {
	// Listen is the address for /metrics; empty disables the endpoint
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// DesktopEntry returns the desktop file basename without its extension,
// as MPRIS expects in the DesktopEntry property.
func (c *Config) DesktopEntry() string {
	if c.DesktopFile == "" {
		return c.Name
	}
	return strings.TrimSuffix(filepath.Base(c.DesktopFile), ".desktop")
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("name", "mprisd")
	v.SetDefault("identity", "mprisd")
	v.SetDefault("desktop_file", "/usr/share/applications/mprisd.desktop")
	v.SetDefault("volume", 100)
	v.SetDefault("announce.enabled", true)
	v.SetDefault("announce.app_type", "music.mprisd")
	v.SetDefault("announce.service_name", "com.canonical.indicate")
	v.SetDefault("announce.always", false)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "logfmt")
	v.SetDefault("metrics.listen", "")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Manager handles loading and saving configuration
type Manager struct {
	configDir  string
	configPath string
	viper      *viper.Viper
	config     *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("MPRISD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.yaml"),
		viper:      v,
		config:     DefaultConfig(),
	}
}

// BindFlags lets command line flags override file and environment values.
// Flags missing from fs are skipped.
func (m *Manager) BindFlags(fs *pflag.FlagSet) error {
	bind := map[string]string{
		"desktop_file":     "desktop-file",
		"name":             "name",
		"logger.level":     "log-level",
		"logger.format":    "log-format",
		"metrics.listen":   "metrics-listen",
		"announce.enabled": "announce",
	}
	for key, flag := range bind {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := m.viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the configuration from disk. A missing file is created with
// the defaults.
func (m *Manager) Load() error {
	if _, err := os.Stat(m.configPath); errors.Is(err, os.ErrNotExist) {
		defaults := viper.New()
		SetDefaults(defaults)
		if err := write(defaults, m.configDir, m.configPath); err != nil {
			return err
		}
	}

	m.viper.SetConfigFile(m.configPath)
	if err := m.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	m.config = cfg
	return nil
}

func write(v *viper.Viper, dir, path string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	return m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

var validate = validator.New()

// Validate checks a configuration
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
