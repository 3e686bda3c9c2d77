package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1, cfg.Loop.FrameSkip)
	assert.Equal(t, 3, cfg.Loop.FailureThreshold)
	assert.Equal(t, 20, cfg.Loop.LogEvery)
	assert.Equal(t, []int{0, 1}, cfg.Camera.Devices)
	assert.Equal(t, 416, cfg.Model.InputSize)
	assert.Equal(t, "mp4v", cfg.Recording.Codec)
	assert.Equal(t, DefaultClasses, cfg.Model.Classes)
	assert.Equal(t, "GPIO17", cfg.LED.Pins["antraknosa"])
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Loop, cfg.Loop)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
model:
  path: /opt/models/chili_int8.tflite
  confidence: 0.6
loop:
  frame_skip: 3
  stats_interval: 10s
telemetry:
  enabled: true
  transport: zmq
  format: cbor
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/models/chili_int8.tflite", cfg.Model.Path)
	assert.Equal(t, 0.6, cfg.Model.Confidence)
	assert.Equal(t, 0.45, cfg.Model.IoU, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Loop.FrameSkip)
	assert.Equal(t, 10*time.Second, cfg.Loop.StatsInterval)
	assert.Equal(t, "zmq", cfg.Telemetry.Transport)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "frame skip zero", mutate: func(c *Config) { c.Loop.FrameSkip = 0 }, wantErr: true},
		{name: "frame skip negative", mutate: func(c *Config) { c.Loop.FrameSkip = -2 }, wantErr: true},
		{name: "threshold zero", mutate: func(c *Config) { c.Loop.FailureThreshold = 0 }, wantErr: true},
		{name: "input size not multiple of 32", mutate: func(c *Config) { c.Model.InputSize = 420 }, wantErr: true},
		{name: "confidence above one", mutate: func(c *Config) { c.Model.Confidence = 1.5 }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Model.Backend = "caffe" }, wantErr: true},
		{name: "queue too deep", mutate: func(c *Config) { c.Camera.QueueSize = 5 }, wantErr: true},
		{name: "no camera", mutate: func(c *Config) { c.Camera.Devices = nil }, wantErr: true},
		{name: "file source without devices", mutate: func(c *Config) {
			c.Camera.Devices = nil
			c.Camera.Source = "clip.mp4"
		}},
		{name: "bad codec", mutate: func(c *Config) {
			c.Recording.Enabled = true
			c.Recording.Codec = "h264x"
		}, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Transport = "amqp"
		}, wantErr: true},
		{name: "disabled telemetry ignores transport", mutate: func(c *Config) {
			c.Telemetry.Transport = "amqp"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
