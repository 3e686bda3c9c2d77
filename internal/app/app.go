// Package app wires the configuration into a running chili disease detector.
package app

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ayusman/chilieye/internal/capture"
	"github.com/ayusman/chilieye/internal/config"
	"github.com/ayusman/chilieye/internal/detector"
	"github.com/ayusman/chilieye/internal/gps"
	"github.com/ayusman/chilieye/internal/led"
	"github.com/ayusman/chilieye/internal/logger"
	"github.com/ayusman/chilieye/internal/pipeline"
	"github.com/ayusman/chilieye/internal/server"
	"github.com/ayusman/chilieye/internal/sink"
	"github.com/ayusman/chilieye/internal/store"
	"github.com/ayusman/chilieye/internal/telemetry"
)

// telemetryQueue bounds detections waiting for the broker.
const telemetryQueue = 64

// App is the main application that runs one detection session.
type App struct {
	cfg   *config.Config
	log   *logger.Logger
	clock clock.Clock

	openDetector func() (detector.Detector, error)
	camera       capture.Camera
	openRecorder func() (pipeline.Recorder, error)
	openDisplay  func() (pipeline.Display, error)
	publisher    telemetry.Publisher
	location     LocationSource
	leds         Indicator
}

// Option customizes an App. Options replace hardware-backed components.
type Option func(*App)

// WithDetector replaces the model loader.
func WithDetector(open func() (detector.Detector, error)) Option {
	return func(a *App) { a.openDetector = open }
}

// WithCamera replaces the configured frame source.
func WithCamera(c capture.Camera) Option {
	return func(a *App) { a.camera = c }
}

// WithRecorder replaces the video recorder. It is only used when recording is enabled.
func WithRecorder(open func() (pipeline.Recorder, error)) Option {
	return func(a *App) { a.openRecorder = open }
}

// WithDisplay replaces the preview window. It is only used when the display is enabled.
func WithDisplay(open func() (pipeline.Display, error)) Option {
	return func(a *App) { a.openDisplay = open }
}

// WithPublisher replaces the telemetry connection.
func WithPublisher(p telemetry.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithLocation replaces the GPS receiver.
func WithLocation(l LocationSource) Option {
	return func(a *App) { a.location = l }
}

// WithIndicator replaces the GPIO LEDs.
func WithIndicator(i Indicator) Option {
	return func(a *App) { a.leds = i }
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(a *App) { a.clock = clk }
}

// New creates an App from cfg.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) *App {
	if log == nil {
		log = logger.NewNopLogger()
	}
	a := &App{cfg: cfg, log: log, clock: clock.New()}
	for _, opt := range opts {
		opt(a)
	}

	if a.openDetector == nil {
		a.openDetector = a.loadDetector
	}
	if a.camera == nil {
		a.camera = a.buildCamera()
	}
	if a.openRecorder == nil {
		a.openRecorder = a.newRecorder
	}
	if a.openDisplay == nil {
		a.openDisplay = func() (pipeline.Display, error) {
			return sink.NewWindow(cfg.Display.Title), nil
		}
	}
	return a
}

// DetectorConfig converts the model section into detector settings.
func DetectorConfig(m config.ModelConfig) detector.Config {
	return detector.Config{
		InputSize:   m.InputSize,
		Confidence:  float32(m.Confidence),
		IoU:         float32(m.IoU),
		Classes:     m.Classes,
		Allowed:     m.Allowed,
		Threads:     m.Threads,
		ONNXLibrary: m.ONNXLibrary,
	}
}

func (a *App) loadDetector() (detector.Detector, error) {
	cfg := DetectorConfig(a.cfg.Model)
	cfg.Logger = a.log.With("component", "detector")
	d, err := detector.Open(a.cfg.Model.Path, a.cfg.Model.Backend, cfg)
	if err != nil {
		return nil, err
	}
	a.log.Info("model loaded", "path", a.cfg.Model.Path, "input", d.InputSize().String())
	return d, nil
}

func (a *App) buildCamera() capture.Camera {
	c := a.cfg.Camera
	var cam capture.Camera
	if c.Source != "" {
		cam = capture.NewFileSource(c.Source)
	} else {
		cam = capture.NewCamera(capture.Options{
			Devices: c.Devices,
			Width:   c.Width,
			Height:  c.Height,
			FPS:     c.FPS,
		})
	}
	if c.Async {
		cam = capture.NewAsyncCamera(cam, c.QueueSize)
	}
	return cam
}

func (a *App) newRecorder() (pipeline.Recorder, error) {
	r := a.cfg.Recording
	path := r.Path
	if path == "" {
		path = sink.DefaultRecordingPath(r.Dir, a.clock.Now())
	}
	rec, err := sink.NewRecorder(path, r.Codec, r.FPS, image.Pt(a.cfg.Camera.Width, a.cfg.Camera.Height))
	if err != nil {
		return nil, err
	}
	a.log.Info("recording video", "path", rec.Path())
	return rec, nil
}

func (a *App) source() string {
	if a.cfg.Camera.Source != "" {
		return a.cfg.Camera.Source
	}
	return fmt.Sprintf("camera:%v", a.cfg.Camera.Devices)
}

// session holds the auxiliary components attached to one run.
type session struct {
	id        string
	store     *store.Store
	journal   *store.Journal
	publisher telemetry.Publisher
	gps       *gps.Reader
	leds      Indicator
	location  LocationSource
	dashboard context.CancelFunc
	dashDone  chan error
	frames    *server.FrameBuffer
	hub       *server.Hub
}

// Run executes one detection session until ctx is cancelled, the source ends,
// the user quits or a failure escalates. The returned error is the loop error;
// auxiliary component failures are logged.
//
// The model is loaded before anything else is opened, so a missing or broken
// model leaves no database, port, pin or listener behind.
func (a *App) Run(ctx context.Context) (pipeline.Summary, error) {
	sess := &session{id: uuid.NewString()}

	det, err := a.openDetector()
	if err != nil {
		summary := pipeline.Summary{SessionID: sess.id, Reason: pipeline.StopStartup}
		err = &pipeline.StartupError{Stage: pipeline.StageDetector, Err: err}
		a.logSummary(summary, err)
		return summary, err
	}

	defer func() {
		if err := a.closeSession(sess); err != nil {
			a.log.Warn("shutdown finished with errors", "error", err)
		}
	}()

	a.openAuxiliary(ctx, sess)

	comps := pipeline.Components{
		OpenDetector: func() (detector.Detector, error) { return det, nil },
		Camera:       a.camera,
		Observers:    a.observers(sess),
	}
	if a.cfg.Recording.Enabled {
		comps.OpenRecorder = a.openRecorder
	}
	if a.cfg.Display.Enabled {
		comps.OpenDisplay = a.openDisplay
	}
	if sess.frames != nil {
		comps.FrameSinks = append(comps.FrameSinks, sess.frames)
	}

	loop := pipeline.New(pipeline.Options{
		SessionID:        sess.id,
		FrameSkip:        a.cfg.Loop.FrameSkip,
		FailureThreshold: a.cfg.Loop.FailureThreshold,
		StatsInterval:    a.cfg.Loop.StatsInterval,
		Clock:            a.clock,
		Logger:           a.log,
	}, comps)

	summary, err := loop.Run(ctx)
	a.finishSession(sess, summary)
	a.logSummary(summary, err)
	return summary, err
}

// openAuxiliary starts the optional components. A component that fails to
// start is disabled for this session.
func (a *App) openAuxiliary(ctx context.Context, sess *session) {
	cfg := a.cfg

	if cfg.Store.Enabled {
		s, err := store.New(cfg.Store.Path)
		if err != nil {
			a.log.Warn("detection log disabled", "error", err)
		} else {
			sess.store = s
			err = s.Sessions().Create(&store.Session{
				ID:        sess.id,
				Model:     filepath.Base(cfg.Model.Path),
				Source:    a.source(),
				FrameSkip: cfg.Loop.FrameSkip,
				StartedAt: a.clock.Now(),
			})
			if err != nil {
				a.log.Warn("failed to record session", "error", err)
			}
		}

		j, err := store.NewJournal(cfg.Store.ExportDir)
		if err != nil {
			a.log.Warn("session file disabled", "error", err)
		} else {
			sess.journal = j
		}
	}

	sess.location = a.location
	if sess.location == nil && cfg.GPS.Enabled {
		r, err := gps.Open(cfg.GPS.Port, cfg.GPS.BaudRate, a.log.With("component", "gps"))
		if err != nil {
			a.log.Warn("gps disabled", "port", cfg.GPS.Port, "error", err)
		} else {
			r.Start(ctx)
			sess.gps = r
			sess.location = r
			a.log.Info("gps connected", "port", cfg.GPS.Port)
		}
	}

	sess.leds = a.leds
	if sess.leds == nil && cfg.LED.Enabled {
		c, err := led.New(cfg.LED.Pins)
		if err != nil {
			a.log.Warn("leds disabled", "error", err)
		} else {
			sess.leds = c
		}
	}

	pub := a.publisher
	if pub == nil && cfg.Telemetry.Enabled {
		p, err := telemetry.New(cfg.Telemetry)
		if err != nil {
			a.log.Warn("telemetry disabled", "transport", cfg.Telemetry.Transport, "error", err)
		} else {
			pub = p
			a.log.Info("telemetry connected", "transport", cfg.Telemetry.Transport, "topic", cfg.Telemetry.Topic)
		}
	}
	if pub != nil {
		sess.publisher = telemetry.NewAsync(pub, telemetryQueue, a.log.With("component", "telemetry"))
	}

	if cfg.Dashboard.Enabled {
		sess.frames = server.NewFrameBuffer(0, a.clock)
		sess.hub = server.NewHub(a.log.With("component", "dashboard"))
		srv := server.New(server.Config{
			StaticDir: cfg.Dashboard.StaticDir,
			ExportDir: cfg.Store.ExportDir,
			Store:     sess.store,
			Frames:    sess.frames,
			Hub:       sess.hub,
			Location:  sess.location,
			Logger:    a.log.With("component", "dashboard"),
		})

		dashCtx, cancel := context.WithCancel(context.Background())
		sess.dashboard = cancel
		sess.dashDone = make(chan error, 1)
		go func() {
			sess.dashDone <- srv.Run(dashCtx, cfg.Dashboard.Addr)
		}()
	}
}

func (a *App) observers(sess *session) []pipeline.Observer {
	var obs []pipeline.Observer
	if sess.leds != nil {
		obs = append(obs, ledObserver(sess.leds))
	}
	if sess.hub != nil {
		obs = append(obs, sess.hub)
	}
	logEvery := pipeline.EveryN(a.cfg.Loop.LogEvery, &detectionLog{
		sessionID: sess.id,
		store:     sess.store,
		journal:   sess.journal,
		publisher: sess.publisher,
		location:  sess.location,
		log:       a.log,
	})
	return append(obs, logEvery)
}

func (a *App) finishSession(sess *session, summary pipeline.Summary) {
	if sess.store != nil {
		err := sess.store.Sessions().Finish(sess.id, store.Outcome{
			EndedAt:    a.clock.Now(),
			Frames:     summary.Frames,
			Inferences: summary.Inferences,
			Detections: summary.Detections,
			AverageFPS: summary.AverageFPS,
			Reason:     string(summary.Reason),
		})
		if err != nil {
			a.log.Warn("failed to finish session", "error", err)
		}
	}

	if sess.journal != nil {
		path, err := sess.journal.Export(a.clock.Now())
		switch {
		case err != nil:
			a.log.Warn("failed to export detections", "error", err)
		case path != "":
			a.log.Info("detections exported", "path", path, "count", sess.journal.Len())
		}
	}
}

func (a *App) closeSession(sess *session) error {
	var err error
	if sess.leds != nil {
		err = multierr.Append(err, sess.leds.Close())
	}
	if sess.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if ap, ok := sess.publisher.(*telemetry.AsyncPublisher); ok {
			err = multierr.Append(err, ap.Shutdown(ctx))
		} else {
			err = multierr.Append(err, sess.publisher.Close())
		}
		cancel()
	}
	if sess.gps != nil {
		err = multierr.Append(err, sess.gps.Close())
	}
	if sess.dashboard != nil {
		sess.dashboard()
		err = multierr.Append(err, <-sess.dashDone)
	}
	if sess.store != nil {
		err = multierr.Append(err, sess.store.Close())
	}
	return err
}

func (a *App) logSummary(s pipeline.Summary, err error) {
	kv := []interface{}{
		"session", s.SessionID,
		"reason", string(s.Reason),
		"frames", s.Frames,
		"inferences", s.Inferences,
		"detections", s.Detections,
		"average_fps", s.AverageFPS,
		"duration", s.Duration.String(),
		"recorded_frames", s.RecordedFrames,
	}
	for class, n := range s.PerClass {
		kv = append(kv, "count_"+class, n)
	}
	if err != nil {
		a.log.Error("session failed", append(kv, "error", err)...)
		return
	}
	a.log.Info("session finished", kv...)
}
