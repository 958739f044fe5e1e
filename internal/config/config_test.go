package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(New(), "")
	assert.NoError(t, err)
	assert.Equal(t, &Config{
		Format:             "json",
		Interpolation:      "nearest",
		ElevationCacheSize: 1 << 20,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}, cfg)
}

func TestLoad(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "osmslope.yaml")
	assert.NoError(t, os.WriteFile(configFile, []byte(strings.Join([]string{
		"filter: highway,cycleway=lane",
		"format: geojson",
		"workers: 3",
		"elevation-cache-size: 0",
		"log:",
		"  level: debug",
	}, "\n")), 0o666))
	t.Setenv("OSMSLOPE_WORKERS", "5")
	t.Setenv("OSMSLOPE_LOG_FORMAT", "json")

	cfg, err := Load(New(), configFile)
	assert.NoError(t, err)
	assert.Equal(t, &Config{
		Filter:             "highway,cycleway=lane",
		Format:             "geojson",
		Interpolation:      "nearest",
		Workers:            5,
		ElevationCacheSize: 0,
		Log: LogConfig{
			Level:  "debug",
			Format: "json",
		},
	}, cfg)
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
	}{
		{name: "format", env: map[string]string{"OSMSLOPE_FORMAT": "csv"}},
		{name: "workers", env: map[string]string{"OSMSLOPE_WORKERS": "-1"}},
		{name: "elevation_cache_size", env: map[string]string{"OSMSLOPE_ELEVATION_CACHE_SIZE": "-1"}},
		{name: "log_level", env: map[string]string{"OSMSLOPE_LOG_LEVEL": "verbose"}},
		{name: "log_format", env: map[string]string{"OSMSLOPE_LOG_FORMAT": "xml"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("HOME", t.TempDir())
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := Load(New(), "")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	for _, tc := range []struct {
		name      string
		logConfig LogConfig
		expected  string
	}{
		{
			name:      "text",
			logConfig: LogConfig{Level: "info", Format: "text"},
			expected:  "level=INFO msg=shown\n",
		},
		{
			name:      "json",
			logConfig: LogConfig{Level: "warn", Format: "json"},
			expected:  `{"level":"WARN","msg":"shown"}` + "\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := &Config{Log: tc.logConfig}
			logger := cfg.NewLogger(&buf)
			logger.Debug("hidden")
			switch tc.logConfig.Level {
			case "warn":
				logger.Info("hidden")
				logger.Warn("shown")
			default:
				logger.Info("shown")
			}
			assert.Equal(t, tc.expected, stripTime(buf.String()))
		})
	}
}

// stripTime removes the time attribute that slog's handlers add.
func stripTime(s string) string {
	if strings.HasPrefix(s, "{") {
		_, rest, _ := strings.Cut(s, `"time":`)
		_, rest, _ = strings.Cut(rest, ",")
		return "{" + rest
	}
	_, rest, _ := strings.Cut(s, " ")
	return rest
}
