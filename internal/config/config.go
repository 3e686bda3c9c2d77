// Package config loads the chilieye runtime configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Camera    CameraConfig    `yaml:"camera"`
	Loop      LoopConfig      `yaml:"loop"`
	Display   DisplayConfig   `yaml:"display"`
	Recording RecordingConfig `yaml:"recording"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	GPS       GPSConfig       `yaml:"gps"`
	LED       LEDConfig       `yaml:"led"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
}

// ModelConfig contains detector configuration
type ModelConfig struct {
	Path        string   `yaml:"path"`
	Backend     string   `yaml:"backend"` // "", "tflite" or "onnx"; empty picks by extension
	InputSize   int      `yaml:"input_size"`
	Confidence  float64  `yaml:"confidence"`
	IoU         float64  `yaml:"iou"`
	Classes     []string `yaml:"classes"`
	Allowed     []string `yaml:"allowed_classes"`
	Threads     int      `yaml:"threads"`
	ONNXLibrary string   `yaml:"onnx_library"`
}

// CameraConfig contains capture configuration
type CameraConfig struct {
	Devices   []int  `yaml:"devices"`
	Source    string `yaml:"source"` // video file instead of a device
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FPS       int    `yaml:"fps"`
	Async     bool   `yaml:"async"`
	QueueSize int    `yaml:"queue_size"`
}

// LoopConfig contains inference loop configuration
type LoopConfig struct {
	FrameSkip        int           `yaml:"frame_skip"`
	FailureThreshold int           `yaml:"failure_threshold"`
	StatsInterval    time.Duration `yaml:"stats_interval"`
	LogEvery         int           `yaml:"log_every"`
}

// DisplayConfig contains preview window configuration
type DisplayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
}

// RecordingConfig contains video recording configuration
type RecordingConfig struct {
	Enabled bool    `yaml:"enabled"`
	Path    string  `yaml:"path"`
	Dir     string  `yaml:"dir"`
	Codec   string  `yaml:"codec"`
	FPS     float64 `yaml:"fps"`
}

// StoreConfig contains detection log storage configuration
type StoreConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	ExportDir string `yaml:"export_dir"`
}

// TelemetryConfig contains detection publishing configuration
type TelemetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Transport   string        `yaml:"transport"` // "mqtt" or "zmq"
	Format      string        `yaml:"format"`    // "json" or "cbor"
	Broker      string        `yaml:"broker"`
	Topic       string        `yaml:"topic"`
	ClientID    string        `yaml:"client_id"`
	QoS         int           `yaml:"qos"`
	ZMQEndpoint string        `yaml:"zmq_endpoint"`
	Timeout     time.Duration `yaml:"timeout"`
}

// GPSConfig contains serial GPS configuration
type GPSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     string `yaml:"port"`
	BaudRate uint   `yaml:"baud_rate"`
}

// LEDConfig maps class labels to GPIO pin names
type LEDConfig struct {
	Enabled bool              `yaml:"enabled"`
	Pins    map[string]string `yaml:"pins"`
}

// DashboardConfig contains web dashboard configuration
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultClasses are the labels the chili model was trained on.
var DefaultClasses = []string{"antraknosa", "cabai_normal", "lalat_buah"}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			InputSize:  416,
			Confidence: 0.5,
			IoU:        0.45,
			Classes:    append([]string(nil), DefaultClasses...),
			Allowed:    append([]string(nil), DefaultClasses...),
			Threads:    runtime.NumCPU(),
		},
		Camera: CameraConfig{
			Devices:   []int{0, 1},
			Width:     416,
			Height:    416,
			FPS:       30,
			QueueSize: 1,
		},
		Loop: LoopConfig{
			FrameSkip:        1,
			FailureThreshold: 3,
			StatsInterval:    5 * time.Second,
			LogEvery:         20,
		},
		Display: DisplayConfig{
			Enabled: true,
			Title:   "Chili Disease Detection",
		},
		Recording: RecordingConfig{
			Dir:   ".",
			Codec: "mp4v",
			FPS:   20,
		},
		Store: StoreConfig{
			Enabled:   true,
			Path:      "chilieye.db",
			ExportDir: ".",
		},
		Telemetry: TelemetryConfig{
			Transport:   "mqtt",
			Format:      "json",
			Broker:      "tcp://broker.hivemq.com:1883",
			Topic:       "chili/detections",
			QoS:         1,
			ZMQEndpoint: "tcp://*:5556",
			Timeout:     5 * time.Second,
		},
		GPS: GPSConfig{
			Port:     "/dev/serial0",
			BaudRate: 9600,
		},
		LED: LEDConfig{
			Pins: map[string]string{
				"antraknosa":   "GPIO17",
				"cabai_normal": "GPIO27",
				"lalat_buah":   "GPIO22",
			},
		},
		Dashboard: DashboardConfig{
			Addr: ":5000",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the configuration file at path on top of the defaults.
// An empty path returns the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	return cfg, nil
}

// setDefaults fills values a partial file may have zeroed.
func (c *Config) setDefaults() {
	d := Default()

	if c.Model.InputSize == 0 {
		c.Model.InputSize = d.Model.InputSize
	}
	if len(c.Model.Classes) == 0 {
		c.Model.Classes = d.Model.Classes
	}
	if c.Model.Threads <= 0 {
		c.Model.Threads = d.Model.Threads
	}
	if len(c.Camera.Devices) == 0 {
		c.Camera.Devices = d.Camera.Devices
	}
	if c.Camera.QueueSize == 0 {
		c.Camera.QueueSize = d.Camera.QueueSize
	}
	if c.Loop.StatsInterval == 0 {
		c.Loop.StatsInterval = d.Loop.StatsInterval
	}
	if c.Loop.LogEvery == 0 {
		c.Loop.LogEvery = d.Loop.LogEvery
	}
	if c.Recording.Codec == "" {
		c.Recording.Codec = d.Recording.Codec
	}
	if c.Recording.FPS == 0 {
		c.Recording.FPS = d.Recording.FPS
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = d.Log.Output
	}
}
