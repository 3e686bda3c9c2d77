package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ayusman/chilieye/internal/app"
	"github.com/ayusman/chilieye/internal/config"
	"github.com/ayusman/chilieye/internal/logger"
	"github.com/ayusman/chilieye/internal/pipeline"
	"github.com/ayusman/chilieye/internal/store"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitEscalated = 3
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// Errors carrying an exit code already terminated the process.
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitUsage)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "chilieye",
		Usage: "real-time chili leaf and fruit disease detection",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "path to the .tflite or .onnx model (required)"},
			&cli.BoolFlag{Name: "no-display", Usage: "run headless without the preview window"},
			&cli.BoolFlag{Name: "save-video", Usage: "record the annotated stream"},
			&cli.StringFlag{Name: "output", Usage: "recording file path"},
			&cli.IntFlag{Name: "frame-skip", Value: 1, Usage: "run inference on every k-th frame"},
			&cli.IntFlag{Name: "failure-threshold", Usage: "consecutive failures that stop the loop"},
			&cli.IntSliceFlag{Name: "camera", Usage: "camera device indices to try in order"},
			&cli.StringFlag{Name: "source", Usage: "read frames from a video file"},
			&cli.BoolFlag{Name: "dashboard", Usage: "serve the web dashboard while running"},
			&cli.BoolFlag{Name: "gps", Usage: "tag detections with the serial GPS position"},
			&cli.BoolFlag{Name: "leds", Usage: "drive the per-class GPIO LEDs"},
			&cli.StringFlag{Name: "telemetry", Usage: "publish detections over mqtt or zmq"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: runDetector,
		Commands: []*cli.Command{
			{
				Name:   "dashboard",
				Usage:  "serve the dashboard over the stored detection log",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "addr", Usage: "listen address"}},
				Action: runDashboard,
			},
			{
				Name:   "sessions",
				Usage:  "list recent detection sessions",
				Flags:  []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20}},
				Action: listSessions,
			},
			{
				Name:   "export",
				Usage:  "write the detections of a session to a JSON backup",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "session", Required: true}},
				Action: exportSession,
			},
			{
				Name:  "archive",
				Usage: "move exported detection files into a timestamped directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "export directory"},
					&cli.BoolFlag{Name: "delete", Usage: "delete the files instead"},
				},
				Action: archiveExports,
			},
		},
	}
}

// loadConfig reads --config and applies the flags that were set.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("model") {
		cfg.Model.Path = c.String("model")
	}
	if c.Bool("no-display") {
		cfg.Display.Enabled = false
	}
	if c.Bool("save-video") {
		cfg.Recording.Enabled = true
	}
	if c.IsSet("output") {
		cfg.Recording.Path = c.String("output")
	}
	if c.IsSet("frame-skip") || cfg.Loop.FrameSkip == 0 {
		cfg.Loop.FrameSkip = c.Int("frame-skip")
	}
	if c.IsSet("failure-threshold") {
		cfg.Loop.FailureThreshold = c.Int("failure-threshold")
	}
	if c.IsSet("camera") {
		cfg.Camera.Devices = c.IntSlice("camera")
	}
	if c.IsSet("source") {
		cfg.Camera.Source = c.String("source")
	}
	if c.Bool("dashboard") {
		cfg.Dashboard.Enabled = true
	}
	if c.Bool("gps") {
		cfg.GPS.Enabled = true
	}
	if c.Bool("leds") {
		cfg.LED.Enabled = true
	}
	if c.IsSet("telemetry") {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Transport = c.String("telemetry")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func runDetector(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	if cfg.Model.Path == "" {
		return cli.Exit("--model is required", exitUsage)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitUsage)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err, exitFailure)
	}
	defer log.Sync()

	ctx, stop := signalContext(c)
	defer stop()

	log.Info("starting chili disease detection",
		"model", cfg.Model.Path,
		"frame_skip", cfg.Loop.FrameSkip,
		"display", cfg.Display.Enabled,
		"recording", cfg.Recording.Enabled,
	)
	summary, err := app.New(cfg, log).Run(ctx)
	if code := exitCode(err); code != exitOK {
		return cli.Exit(fmt.Sprintf("stopped (%s): %v", summary.Reason, err), code)
	}
	return nil
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var esc *pipeline.EscalationError
	if errors.As(err, &esc) {
		return exitEscalated
	}
	return exitFailure
}

func runDashboard(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	if c.IsSet("addr") {
		cfg.Dashboard.Addr = c.String("addr")
	}
	log, err := newLogger(cfg)
	if err != nil {
		return cli.Exit(err, exitFailure)
	}
	defer log.Sync()

	ctx, stop := signalContext(c)
	defer stop()

	if err := app.ServeDashboard(ctx, cfg, log); err != nil {
		return cli.Exit(err, exitFailure)
	}
	return nil
}

func listSessions(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return cli.Exit(err, exitFailure)
	}
	defer s.Close()

	sessions, err := s.Sessions().List(c.Int("limit"))
	if err != nil {
		return cli.Exit(err, exitFailure)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tFRAMES\tINFERENCES\tDETECTIONS\tFPS\tREASON")
	for _, sess := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f\t%s\n",
			sess.ID,
			sess.StartedAt.Format(store.DatetimeLayout),
			sess.Frames,
			sess.Inferences,
			sess.Detections,
			sess.AverageFPS,
			sess.Reason,
		)
	}
	return w.Flush()
}

func exportSession(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	path, n, err := app.ExportSession(cfg, c.String("session"), time.Now())
	if err != nil {
		return cli.Exit(err, exitFailure)
	}
	fmt.Fprintf(c.App.Writer, "exported %d detections to %s\n", n, path)
	return nil
}

func archiveExports(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	dir := cfg.Store.ExportDir
	if c.IsSet("dir") {
		dir = c.String("dir")
	}

	res, err := store.Archive(dir, time.Now(), c.Bool("delete"))
	if err != nil {
		return cli.Exit(err, exitFailure)
	}
	switch {
	case res.Count == 0:
		fmt.Fprintln(c.App.Writer, "no detection files to archive")
	case res.Dir != "":
		fmt.Fprintf(c.App.Writer, "archived %d files to %s\n", res.Count, res.Dir)
	default:
		fmt.Fprintf(c.App.Writer, "deleted %d files\n", res.Count)
	}
	return nil
}
