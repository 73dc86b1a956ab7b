package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1280, cfg.Capture.FrameWidth)
	assert.Equal(t, 720, cfg.Capture.FrameHeight)
	assert.Equal(t, 3, cfg.Capture.ProbeAttempts)
	assert.Equal(t, 2*time.Second, cfg.Capture.OpenBackoff)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.ReadBackoff)
	assert.InDelta(t, 0.3, cfg.Detection.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Counter.LinePosition, 1e-9)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 60*time.Second, cfg.Sync.ErrorInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.LocalRetention)
	assert.Equal(t, 30*time.Second, cfg.Plates.DedupWindow)
	assert.Equal(t, BackendNone, cfg.Sync.Backend)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
port: 9090
sync:
  backend: mqtt
  batch_size: 20
  interval: 45s
sources:
  - id: gate
    origin: "0"
  - id: highway
    origin: rtsp://10.0.0.2/stream
    line_position: 0.4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("SYNC_BATCH_SIZE", "75")
	t.Setenv("SOURCE_LIST", "gate=1,lot=videos/lot.mp4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, BackendMQTT, cfg.Sync.Backend)
	assert.Equal(t, 75, cfg.Sync.BatchSize)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval)

	require.Len(t, cfg.Sources, 3)
	assert.Equal(t, SourceConfig{ID: "gate", Origin: "1", LinePosition: 0.6}, cfg.Sources[0])
	assert.Equal(t, SourceConfig{ID: "highway", Origin: "rtsp://10.0.0.2/stream", LinePosition: 0.4}, cfg.Sources[1])
	assert.Equal(t, "lot", cfg.Sources[2].ID)
}

func TestParseSources(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []SourceConfig
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "cam1=0", want: []SourceConfig{{ID: "cam1", Origin: "0"}}},
		{name: "url with query", raw: "a=rtsp://h/s?x=1, b=2", want: []SourceConfig{
			{ID: "a", Origin: "rtsp://h/s?x=1"},
			{ID: "b", Origin: "2"},
		}},
		{name: "missing origin", raw: "cam1=", wantErr: true},
		{name: "missing separator", raw: "cam1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSources(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }},
		{"line out of range", func(c *Config) { c.Counter.LinePosition = 1.5 }},
		{"unknown backend", func(c *Config) { c.Sync.Backend = "s3" }},
		{"horizon below window", func(c *Config) { c.Plates.CacheHorizon = time.Second }},
		{"duplicate source", func(c *Config) {
			c.Sources = []SourceConfig{{ID: "a", Origin: "0", LinePosition: 0.5}, {ID: "a", Origin: "1", LinePosition: 0.5}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Password = "hunter2"
	cfg.Remote.MQTT.Password = "mqttpass"

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "mqttpass")
	assert.Contains(t, string(out), "batch_size: 50")
	assert.Equal(t, "hunter2", cfg.Password)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TC_TEST_ENV_KEY=loaded\n"), 0o644))
	t.Setenv("TC_TEST_ENV_KEY", "")
	require.NoError(t, os.Unsetenv("TC_TEST_ENV_KEY"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("TC_TEST_ENV_KEY"))
	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}
