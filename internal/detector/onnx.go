package detector

import (
	"fmt"
	"image"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
)

var (
	ortMu    sync.Mutex
	ortUsers int
)

// acquireRuntime initializes the shared onnxruntime environment on first use.
func acquireRuntime(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ortUsers == 0 {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}
	ortUsers++
	return nil
}

func releaseRuntime() error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ortUsers == 0 {
		return nil
	}
	ortUsers--
	if ortUsers == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// ONNXDetector runs a YOLO model exported to ONNX.
type ONNXDetector struct {
	config  Config
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	size    image.Point
	head    head
	mu      sync.Mutex
	closed  bool
}

// NewONNXDetector creates a session for the model at path. The model must take a
// single "images" input of [1,3,S,S] and produce "output0".
func NewONNXDetector(path string, config Config) (*ONNXDetector, error) {
	if err := acquireRuntime(config.ONNXLibrary); err != nil {
		return nil, err
	}

	d, err := newONNXSession(path, config)
	if err != nil {
		releaseRuntime()
		return nil, err
	}
	return d, nil
}

func newONNXSession(path string, config Config) (*ONNXDetector, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if config.Threads > 0 {
		options.SetIntraOpNumThreads(config.Threads)
		options.SetInterOpNumThreads(1)
	}

	size := config.InputSize
	h := head{
		numClasses: len(config.Classes),
		numBoxes:   numAnchors(size),
		layout:     LayoutAttrsFirst,
		coordScale: 1,
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(size), int64(size)))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(h.numClasses+4), int64(h.numBoxes)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ONNXDetector{
		config:  config,
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		size:    image.Pt(size, size),
		head:    h,
	}, nil
}

// InputSize returns the configured square input resolution.
func (d *ONNXDetector) InputSize() image.Point {
	return d.size
}

// Detect runs one inference.
func (d *ONNXDetector) Detect(frame *gocv.Mat) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Result{}, &InferenceError{Message: "detect", Cause: ErrClosed}
	}
	if err := checkInput(frame, d.size); err != nil {
		return Result{}, err
	}

	start := time.Now()

	if err := fillNCHW(frame, d.size, d.input.GetData()); err != nil {
		return Result{}, &InferenceError{Message: "prepare input", Cause: err}
	}

	if err := d.session.Run(); err != nil {
		return Result{}, &InferenceError{Message: "run session", Cause: err}
	}

	dets, err := d.config.decode(d.output.GetData(), d.head, d.size)
	if err != nil {
		return Result{}, &InferenceError{Message: "decode output", Cause: err}
	}

	return Result{Detections: dets, Inference: time.Since(start)}, nil
}

// Close destroys the session and its tensors.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	if d.output != nil {
		d.output.Destroy()
	}
	return releaseRuntime()
}
