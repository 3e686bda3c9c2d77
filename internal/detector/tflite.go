package detector

import (
	"image"
	"strings"
	"sync"
	"time"

	tflite "github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/ayusman/chilieye/internal/logger"
)

// TFLiteDetector runs a YOLO model exported to TensorFlow Lite.
type TFLiteDetector struct {
	config      Config
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	size        image.Point
	head        head
	mu          sync.Mutex
	closed      bool
}

// errorReporter forwards interpreter diagnostics to log.
func errorReporter(log *logger.Logger) func(msg string, userData interface{}) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return func(msg string, userData interface{}) {
		log.Warn("tflite", "message", strings.TrimSpace(msg))
	}
}

// NewTFLiteDetector loads the model at path and allocates its tensors.
func NewTFLiteDetector(path string, config Config) (*TFLiteDetector, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, errors.Errorf("failed to load tflite model %s", path)
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	if config.Threads > 0 {
		options.SetNumThread(config.Threads)
	}
	options.SetErrorReporter(errorReporter(config.Logger), nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to create interpreter")
	}

	d := &TFLiteDetector{
		config:      config,
		model:       model,
		options:     options,
		interpreter: interpreter,
	}

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		d.Close()
		return nil, errors.New("failed to allocate tensors")
	}

	input := interpreter.GetInputTensor(0)
	if input.NumDims() != 4 || input.Dim(3) != 3 {
		d.Close()
		return nil, errors.Errorf("unsupported input shape with %d dims", input.NumDims())
	}
	d.size = image.Pt(input.Dim(2), input.Dim(1))

	output := interpreter.GetOutputTensor(0)
	dims := make([]int, output.NumDims())
	for i := range dims {
		dims[i] = output.Dim(i)
	}
	h, err := headFromDims(dims, len(config.Classes))
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, "inspect output tensor")
	}
	// Ultralytics tflite exports emit coordinates normalized to the input size.
	h.coordScale = float32(d.size.X)
	d.head = h

	return d, nil
}

// InputSize returns the resolution read from the model's input tensor.
func (d *TFLiteDetector) InputSize() image.Point {
	return d.size
}

// Detect runs one inference.
func (d *TFLiteDetector) Detect(frame *gocv.Mat) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Result{}, &InferenceError{Message: "detect", Cause: ErrClosed}
	}
	if err := checkInput(frame, d.size); err != nil {
		return Result{}, err
	}

	start := time.Now()

	if err := d.setInput(rgbBytes(frame)); err != nil {
		return Result{}, &InferenceError{Message: "copy input", Cause: err}
	}

	if status := d.interpreter.Invoke(); status != tflite.OK {
		return Result{}, &InferenceError{Message: "invoke failed"}
	}

	out, err := d.readOutput()
	if err != nil {
		return Result{}, &InferenceError{Message: "read output", Cause: err}
	}

	dets, err := d.config.decode(out, d.head, d.size)
	if err != nil {
		return Result{}, &InferenceError{Message: "decode output", Cause: err}
	}

	return Result{Detections: dets, Inference: time.Since(start)}, nil
}

func (d *TFLiteDetector) setInput(rgb []byte) error {
	input := d.interpreter.GetInputTensor(0)

	var status tflite.Status
	switch input.Type() {
	case tflite.UInt8:
		status = input.CopyFromBuffer(rgb)
	case tflite.Int8:
		q := input.QuantizationParams()
		buf := make([]int8, len(rgb))
		quantizeInt8(rgb, q.Scale, q.ZeroPoint, buf)
		status = input.CopyFromBuffer(buf)
	case tflite.Float32:
		buf := make([]float32, len(rgb))
		fillNHWC(rgb, buf)
		status = input.CopyFromBuffer(buf)
	default:
		return errors.Errorf("unsupported input tensor type %v", input.Type())
	}

	if status != tflite.OK {
		return errors.New("copying to buffer failed")
	}
	return nil
}

func (d *TFLiteDetector) readOutput() ([]float32, error) {
	output := d.interpreter.GetOutputTensor(0)
	n := (d.head.numClasses + 4) * d.head.numBoxes

	switch output.Type() {
	case tflite.Float32:
		buf := make([]float32, n)
		if status := output.CopyToBuffer(buf); status != tflite.OK {
			return nil, errors.New("copying from buffer failed")
		}
		return buf, nil
	case tflite.Int8:
		buf := make([]int8, n)
		if status := output.CopyToBuffer(buf); status != tflite.OK {
			return nil, errors.New("copying from buffer failed")
		}
		q := output.QuantizationParams()
		return dequantizeInt8(buf, q.Scale, q.ZeroPoint), nil
	case tflite.UInt8:
		buf := make([]uint8, n)
		if status := output.CopyToBuffer(buf); status != tflite.OK {
			return nil, errors.New("copying from buffer failed")
		}
		q := output.QuantizationParams()
		return dequantizeUint8(buf, q.Scale, q.ZeroPoint), nil
	}
	return nil, errors.Errorf("unsupported output tensor type %v", output.Type())
}

// Close deletes the interpreter, options and model.
func (d *TFLiteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.interpreter != nil {
		d.interpreter.Delete()
	}
	if d.options != nil {
		d.options.Delete()
	}
	if d.model != nil {
		d.model.Delete()
	}
	return nil
}
