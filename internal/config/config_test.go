package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mprisd")
	m := NewManager(dir)

	require.NoError(t, m.Load())

	_, err := os.Stat(m.GetPath())
	require.NoError(t, err, "default config file is written")

	cfg := m.Get()
	assert.Equal(t, "mprisd", cfg.Name)
	assert.Equal(t, "/usr/share/applications/mprisd.desktop", cfg.DesktopFile)
	assert.Equal(t, "music.mprisd", cfg.Announce.AppType)
	assert.True(t, cfg.Announce.Enabled)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 100, cfg.Volume)
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`name: jukebox
desktop_file: /opt/jukebox/jukebox.desktop
logger:
  level: debug
  format: json
announce:
  enabled: false
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0600))

	m := NewManager(dir)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, "jukebox", cfg.Name)
	assert.Equal(t, "jukebox", cfg.DesktopEntry())
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "json", cfg.Logger.Format)
	assert.False(t, cfg.Announce.Enabled)
	assert.Equal(t, "mprisd", cfg.Identity, "unset keys keep their defaults")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("logger:\n  level: loud\n"), 0600))

	err := NewManager(dir).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("MPRISD_DESKTOP_FILE", "/tmp/other.desktop")
	m := NewManager(t.TempDir())

	require.NoError(t, m.Load())
	assert.Equal(t, "/tmp/other.desktop", m.Get().DesktopFile)
}

func TestFlagsOverrideFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("desktop-file", "", "")
	fs.String("log-level", "", "")
	require.NoError(t, fs.Parse([]string{"--desktop-file", "/srv/x.desktop", "--log-level", "debug"}))

	m := NewManager(t.TempDir())
	require.NoError(t, m.BindFlags(fs))
	require.NoError(t, m.Load())

	assert.Equal(t, "/srv/x.desktop", m.Get().DesktopFile)
	assert.Equal(t, "debug", m.Get().Logger.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad bus name", func(c *Config) { c.Name = "has.dots" }, true},
		{"volume too high", func(c *Config) { c.Volume = 101 }, true},
		{"bad format", func(c *Config) { c.Logger.Format = "xml" }, true},
		{"metrics address", func(c *Config) { c.Metrics.Listen = "localhost:9090" }, false},
		{"bad metrics address", func(c *Config) { c.Metrics.Listen = "nope" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDesktopEntry(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "mprisd", cfg.DesktopEntry())

	cfg.DesktopFile = ""
	cfg.Name = "player"
	assert.Equal(t, "player", cfg.DesktopEntry())
}
