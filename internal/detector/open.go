package detector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Open loads the model at path with the backend named by backend, or picked
// from the file extension when backend is empty.
func Open(path, backend string, config Config) (Detector, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("model file %s is a directory", path)
	}
	if len(config.Classes) == 0 {
		return nil, fmt.Errorf("no class labels configured")
	}

	if backend == "" {
		backend = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}

	switch backend {
	case "tflite":
		return NewTFLiteDetector(path, config)
	case "onnx":
		return NewONNXDetector(path, config)
	default:
		return nil, fmt.Errorf("unsupported model format %q", backend)
	}
}
