// Package pipeline implements the capture, detect, render and output loop.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ayusman/chilieye/internal/capture"
	"github.com/ayusman/chilieye/internal/detector"
	"github.com/ayusman/chilieye/internal/logger"
	"github.com/ayusman/chilieye/internal/render"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Defaults applied to zero Options fields.
const (
	DefaultFailureThreshold = 3
	DefaultStatsInterval    = 5 * time.Second
)

// Options are the immutable run parameters.
type Options struct {
	SessionID string
	// FrameSkip runs detection on every FrameSkip-th frame. Must be >= 1.
	FrameSkip int
	// FailureThreshold is the consecutive failure count that aborts the run.
	FailureThreshold int
	StatsInterval    time.Duration
	Clock            clock.Clock
	Logger           *logger.Logger
}

// Components are the resources a run acquires, in INIT order.
type Components struct {
	OpenDetector func() (detector.Detector, error)
	// Camera is opened by the loop after the detector loads.
	Camera capture.Camera
	// OpenRecorder is nil when recording is disabled.
	OpenRecorder func() (Recorder, error)
	// OpenDisplay is nil when the display is disabled.
	OpenDisplay func() (Display, error)
	Observers   []Observer
	FrameSinks  []FrameSink
}

// Summary describes a finished run.
type Summary struct {
	SessionID      string
	Started        time.Time
	Ended          time.Time
	Frames         int
	Inferences     int
	Detections     int
	PerClass       map[string]int
	Duration       time.Duration
	AverageFPS     float64
	RecordedFrames int
	Reason         StopReason
}

// Loop runs the inference pipeline once.
type Loop struct {
	opts  Options
	comps Components
	log   *logger.Logger
	clock clock.Clock
	state atomic.Int32
	used  atomic.Bool
}

// New creates a Loop. Zero options fall back to defaults.
func New(opts Options, comps Components) *Loop {
	if opts.FrameSkip < 1 {
		opts.FrameSkip = 1
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	return &Loop{
		opts:  opts,
		comps: comps,
		log:   opts.Logger.With("session", opts.SessionID),
		clock: opts.Clock,
	}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.log.Debug("state changed", "state", s.String())
}

// SessionID returns the id of this run.
func (l *Loop) SessionID() string {
	return l.opts.SessionID
}

// resources are the handles acquired during INIT.
type resources struct {
	detector detector.Detector
	camera   capture.Camera
	recorder Recorder
	display  Display
}

// Run executes INIT, RUNNING and STOPPING. It returns a *StartupError if a
// resource could not be acquired, an *EscalationError if a failure kind
// repeated past the threshold, and nil on a graceful stop. Every acquired
// resource is released before Run returns.
func (l *Loop) Run(ctx context.Context) (summary Summary, err error) {
	if !l.used.CompareAndSwap(false, true) {
		return Summary{}, errors.New("loop already ran")
	}

	counters := NewCounters(l.clock)
	summary = Summary{SessionID: l.opts.SessionID, Started: l.clock.Now()}
	var res resources

	defer func() {
		l.setState(StateStopping)
		if res.recorder != nil {
			summary.RecordedFrames = res.recorder.Frames()
		}
		if cerr := l.release(res); cerr != nil {
			l.log.Warn("cleanup finished with errors", "error", cerr)
		}

		snap := counters.Snapshot()
		summary.Ended = l.clock.Now()
		summary.Frames = snap.Frames
		summary.Inferences = snap.Inferences
		summary.Detections = snap.Detections
		summary.PerClass = snap.PerClass
		summary.Duration = snap.Elapsed
		summary.AverageFPS = snap.AverageFPS
		l.setState(StateTerminated)
	}()

	l.setState(StateInit)
	if err := l.acquire(&res); err != nil {
		summary.Reason = StopStartup
		return summary, err
	}

	counters.Reset()
	summary.Started = l.clock.Now()
	l.setState(StateRunning)
	l.log.Info("inference loop started",
		"frame_skip", l.opts.FrameSkip,
		"failure_threshold", l.opts.FailureThreshold,
		"input", res.detector.InputSize().String(),
	)

	summary.Reason, err = l.run(ctx, res, counters)
	return summary, err
}

// acquire opens resources in order and stops at the first failure.
func (l *Loop) acquire(res *resources) error {
	if l.comps.OpenDetector == nil {
		return &StartupError{Stage: StageDetector, Err: errors.New("no detector configured")}
	}
	det, err := l.comps.OpenDetector()
	if err != nil {
		return &StartupError{Stage: StageDetector, Err: err}
	}
	res.detector = det

	if l.comps.Camera == nil {
		return &StartupError{Stage: StageCamera, Err: errors.New("no camera configured")}
	}
	if err := l.comps.Camera.Open(); err != nil {
		return &StartupError{Stage: StageCamera, Err: err}
	}
	res.camera = l.comps.Camera

	if l.comps.OpenRecorder != nil {
		rec, err := l.comps.OpenRecorder()
		if err != nil {
			return &StartupError{Stage: StageRecorder, Err: err}
		}
		res.recorder = rec
	}

	if l.comps.OpenDisplay != nil {
		disp, err := l.comps.OpenDisplay()
		if err != nil {
			return &StartupError{Stage: StageDisplay, Err: err}
		}
		res.display = disp
	}

	return nil
}

// release closes every acquired resource regardless of earlier errors.
func (l *Loop) release(res resources) error {
	var err error
	if res.camera != nil {
		err = multierr.Append(err, res.camera.Close())
	}
	if res.recorder != nil {
		rerr := res.recorder.Close()
		err = multierr.Append(err, rerr)
		if rerr == nil {
			l.log.Info("recording finalized", "frames", res.recorder.Frames())
		}
	}
	if res.display != nil {
		err = multierr.Append(err, res.display.Close())
	}
	if res.detector != nil {
		err = multierr.Append(err, res.detector.Close())
	}
	return err
}

func (l *Loop) run(ctx context.Context, res resources, counters *Counters) (StopReason, error) {
	tracker := NewFailureTracker(l.opts.FailureThreshold)
	stats := l.clock.Ticker(l.opts.StatsInterval)
	defer stats.Stop()

	var last detector.Result

	for {
		select {
		case <-stats.C:
			l.logStats(counters.Snapshot())
		default:
		}
		if err := ctx.Err(); err != nil {
			l.log.Info("stop requested", "reason", err.Error())
			return StopSignal, nil
		}

		frame, err := res.camera.ReadFrame()
		if err != nil {
			if errors.Is(err, capture.ErrEndOfStream) {
				l.log.Info("end of stream", "frames", counters.FrameIndex())
				return StopEndOfStream, nil
			}
			if tracker.Fail(FailureCapture) {
				return StopEscalated, &EscalationError{Kind: FailureCapture, Count: tracker.Streak(FailureCapture), Err: err}
			}
			l.log.Warn("frame capture failed", "error", err, "streak", tracker.Streak(FailureCapture))
			continue
		}
		tracker.Succeed(FailureCapture)

		index := counters.FrameIndex()
		if ShouldProcess(index, l.opts.FrameSkip) {
			result, err := l.detect(res.detector, frame)
			if err != nil {
				if tracker.Fail(FailureInference) {
					frame.Close()
					return StopEscalated, &EscalationError{Kind: FailureInference, Count: tracker.Streak(FailureInference), Err: err}
				}
				l.log.Warn("inference failed, reusing last result", "frame", index, "error", err)
			} else {
				tracker.Succeed(FailureInference)
				last = result
				ev := Event{
					SessionID:  l.opts.SessionID,
					FrameIndex: index,
					Time:       l.clock.Now(),
					Result:     result,
				}
				counters.Inferred(result.Inference, ev.Labels())
				ev.Inference = counters.Snapshot().Inferences
				l.notify(ev)
			}
		}

		out := render.Render(*frame, last.Detections, render.HUD{FPS: counters.FPS(), Inference: last.Inference})
		frame.Close()

		if res.recorder != nil {
			if err := res.recorder.Write(out); err != nil {
				if tracker.Fail(FailureRecording) {
					out.Close()
					return StopEscalated, &EscalationError{Kind: FailureRecording, Count: tracker.Streak(FailureRecording), Err: err}
				}
				l.log.Warn("recording write failed", "frame", index, "error", err)
			} else {
				tracker.Succeed(FailureRecording)
			}
		}

		for _, s := range l.comps.FrameSinks {
			s.Publish(out)
		}

		quit := false
		if res.display != nil {
			quit = res.display.Show(out)
		}
		out.Close()
		counters.FrameDone()

		if quit {
			l.log.Info("quit requested from display")
			return StopUserQuit, nil
		}
	}
}

// detect letterboxes frame to the model input and maps boxes back to frame pixels.
func (l *Loop) detect(det detector.Detector, frame *gocv.Mat) (detector.Result, error) {
	input, tf := capture.Letterbox(*frame, det.InputSize())
	defer input.Close()

	start := l.clock.Now()
	result, err := det.Detect(&input)
	if err != nil {
		return detector.Result{}, err
	}
	if result.Inference == 0 {
		result.Inference = l.clock.Since(start)
	}

	mapped := make([]detector.Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		d.Box = tf.ToSource(d.Box)
		if d.Box.Empty() {
			continue
		}
		mapped = append(mapped, d)
	}
	result.Detections = mapped
	return result, nil
}

func (l *Loop) notify(ev Event) {
	for _, o := range l.comps.Observers {
		if err := o.Observe(ev); err != nil {
			l.log.Warn("observer failed", "frame", ev.FrameIndex, "error", err)
		}
	}
}

func (l *Loop) logStats(s Snapshot) {
	l.log.Info("stats",
		"fps", s.FPS,
		"average_fps", s.AverageFPS,
		"frames", s.Frames,
		"inferences", s.Inferences,
		"detections", s.Detections,
		"inference_ms", s.Inference.Milliseconds(),
	)
}
