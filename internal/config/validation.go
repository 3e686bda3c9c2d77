package config

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Validate checks the configuration for values the loop cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Loop.FrameSkip < 1 {
		errs = append(errs, fmt.Errorf("loop.frame_skip must be >= 1, got %d", c.Loop.FrameSkip))
	}
	if c.Loop.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("loop.failure_threshold must be >= 1, got %d", c.Loop.FailureThreshold))
	}
	if c.Loop.LogEvery < 1 {
		errs = append(errs, fmt.Errorf("loop.log_every must be >= 1, got %d", c.Loop.LogEvery))
	}
	if c.Model.InputSize <= 0 || c.Model.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("model.input_size must be a positive multiple of 32, got %d", c.Model.InputSize))
	}
	if c.Model.Confidence <= 0 || c.Model.Confidence > 1 {
		errs = append(errs, fmt.Errorf("model.confidence must be in (0,1], got %v", c.Model.Confidence))
	}
	if c.Model.IoU <= 0 || c.Model.IoU > 1 {
		errs = append(errs, fmt.Errorf("model.iou must be in (0,1], got %v", c.Model.IoU))
	}
	switch c.Model.Backend {
	case "", "tflite", "onnx":
	default:
		errs = append(errs, fmt.Errorf("model.backend %q is not supported", c.Model.Backend))
	}
	if c.Camera.Source == "" && len(c.Camera.Devices) == 0 {
		errs = append(errs, errors.New("camera.devices or camera.source is required"))
	}
	if c.Camera.QueueSize < 1 || c.Camera.QueueSize > 2 {
		errs = append(errs, fmt.Errorf("camera.queue_size must be 1 or 2, got %d", c.Camera.QueueSize))
	}
	if c.Recording.Enabled && len(c.Recording.Codec) != 4 {
		errs = append(errs, fmt.Errorf("recording.codec must be a fourcc, got %q", c.Recording.Codec))
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Transport {
		case "mqtt", "zmq":
		default:
			errs = append(errs, fmt.Errorf("telemetry.transport %q is not supported", c.Telemetry.Transport))
		}
		switch c.Telemetry.Format {
		case "json", "cbor":
		default:
			errs = append(errs, fmt.Errorf("telemetry.format %q is not supported", c.Telemetry.Format))
		}
		if c.Telemetry.QoS < 0 || c.Telemetry.QoS > 2 {
			errs = append(errs, fmt.Errorf("telemetry.qos must be 0, 1 or 2, got %d", c.Telemetry.QoS))
		}
	}

	return multierr.Combine(errs...)
}
