package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "framesrc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
inputs:
  - /media/a.ts
  - /media/b.mov
downscale: 2
seek_frame: 10
max_frames: 100
captions: true
metrics_addr: ":9100"
log_level: warn
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"/media/a.ts", "/media/b.mov"}, cfg.Inputs)
	require.Equal(t, 2, cfg.Downscale)
	require.Equal(t, int64(10), cfg.SeekFrame)
	require.Equal(t, int64(100), cfg.MaxFrames)
	require.True(t, cfg.Captions)
	require.Equal(t, ":9100", cfg.MetricsAddr)
	require.Equal(t, 2, cfg.Concurrency, "unset fields keep defaults")

	level, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "inputs: [unclosed"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"FRAMESRC_INPUTS":      "x.y4m,y.wav",
		"FRAMESRC_DOWNSCALE":   "4",
		"FRAMESRC_MAX_FRAMES":  "12",
		"FRAMESRC_CAPTIONS":    "true",
		"FRAMESRC_CONCURRENCY": "8",
		"DEBUG":                "1",
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))
	require.Equal(t, []string{"x.y4m", "y.wav"}, cfg.Inputs)
	require.Equal(t, 4, cfg.Downscale)
	require.Equal(t, int64(12), cfg.MaxFrames)
	require.Equal(t, 8, cfg.Concurrency)
	require.True(t, cfg.Captions)
	require.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, Validate(cfg))
}

func TestApplyEnvBadNumber(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := cfg.applyEnv(func(k string) string {
		if k == "FRAMESRC_SEEK_FRAME" {
			return "ten"
		}
		return ""
	})
	require.ErrorContains(t, err, "FRAMESRC_SEEK_FRAME")
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"no_inputs", func(c *Config) { c.Inputs = nil }, "no inputs"},
		{"empty_input", func(c *Config) { c.Inputs = []string{" "} }, "input 0 is empty"},
		{"downscale_not_pow2", func(c *Config) { c.Downscale = 3 }, "power of two"},
		{"downscale_zero", func(c *Config) { c.Downscale = 0 }, "power of two"},
		{"negative_seek", func(c *Config) { c.SeekFrame = -1 }, "seek_frame"},
		{"negative_max", func(c *Config) { c.MaxFrames = -1 }, "max_frames"},
		{"negative_depth", func(c *Config) { c.ReorderDepth = -2 }, "reorder_depth"},
		{"no_concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"bad_level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.Inputs = []string{"in.mov"}
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
