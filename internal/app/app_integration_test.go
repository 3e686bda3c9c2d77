package app

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/chilieye/internal/capture"
	"github.com/ayusman/chilieye/internal/config"
	"github.com/ayusman/chilieye/internal/detector"
	"github.com/ayusman/chilieye/internal/gps"
	"github.com/ayusman/chilieye/internal/pipeline"
	"github.com/ayusman/chilieye/internal/store"
	"github.com/ayusman/chilieye/internal/telemetry"
	"github.com/ayusman/chilieye/internal/testutil"
)

type fakePublisher struct {
	mu     sync.Mutex
	msgs   []telemetry.Message
	closed bool
}

func (p *fakePublisher) Publish(ctx context.Context, msg telemetry.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeIndicator struct {
	sets   [][]string
	closed bool
}

func (i *fakeIndicator) Set(labels []string) error {
	i.sets = append(i.sets, labels)
	return nil
}

func (i *fakeIndicator) Close() error {
	i.closed = true
	return nil
}

type fixedLocation struct {
	fix gps.Fix
	err error
}

func (l fixedLocation) Fix() (gps.Fix, error) { return l.fix, l.err }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Model.Path = filepath.Join(dir, "best.tflite")
	cfg.Display.Enabled = false
	cfg.Recording.Enabled = false
	cfg.Store.Path = filepath.Join(dir, "chilieye.db")
	cfg.Store.ExportDir = filepath.Join(dir, "exports")
	cfg.Loop.LogEvery = 1
	return cfg
}

func anthracnose() detector.Result {
	return detector.Result{
		Detections: []detector.Detection{
			{ClassID: 0, Label: "antraknosa", Confidence: 0.876, Box: image.Rect(40, 40, 120, 120)},
		},
		Inference: 30 * time.Millisecond,
	}
}

func TestApp_Run_LogsDetections(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := testConfig(t)
	frames := testutil.Frames(5, 416, 416)
	defer testutil.CloseAll(frames)

	det := detector.NewMockDetector()
	det.SetResult(anthracnose())
	pub := &fakePublisher{}
	leds := &fakeIndicator{}
	loc := fixedLocation{fix: gps.Fix{Latitude: -7.25, Longitude: 112.75, Altitude: 12, Satellites: 7, Quality: 1}}

	a := New(cfg, nil,
		WithCamera(capture.NewMockCamera(frames, false)),
		WithDetector(func() (detector.Detector, error) { return det, nil }),
		WithPublisher(pub),
		WithIndicator(leds),
		WithLocation(loc),
	)

	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StopEndOfStream, summary.Reason)
	assert.Equal(t, 5, summary.Frames)
	assert.Equal(t, 5, summary.Inferences)
	assert.True(t, det.Closed())

	// Hardware and telemetry are released with the session.
	assert.Len(t, leds.sets, 5)
	assert.Equal(t, []string{"antraknosa"}, leds.sets[0])
	assert.True(t, leds.closed)
	assert.True(t, pub.closed)
	require.Len(t, pub.msgs, 5)
	assert.Equal(t, "antraknosa", pub.msgs[0].Class)
	assert.Equal(t, 0.88, pub.msgs[0].Confidence)
	assert.Equal(t, [4]int{40, 40, 120, 120}, pub.msgs[0].Box)
	require.NotNil(t, pub.msgs[0].Location)
	assert.Equal(t, -7.25, pub.msgs[0].Location.Latitude)

	s, err := store.New(cfg.Store.Path)
	require.NoError(t, err)
	defer s.Close()

	sess, err := s.Sessions().GetByID(summary.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "best.tflite", sess.Model)
	assert.Equal(t, 5, sess.Frames)
	assert.Equal(t, string(pipeline.StopEndOfStream), sess.Reason)
	assert.NotNil(t, sess.EndedAt)

	dets, err := s.Detections().BySession(summary.SessionID)
	require.NoError(t, err)
	require.Len(t, dets, 5)
	assert.Equal(t, store.Box{X1: 40, Y1: 40, X2: 120, Y2: 120}, dets[0].Box)
	require.NotNil(t, dets[0].Location)
	assert.Equal(t, 7, dets[0].Location.Satellites)

	records, err := store.ReadRecords(filepath.Join(cfg.Store.ExportDir, store.SessionFile))
	require.NoError(t, err)
	assert.Len(t, records, 5)

	files, err := store.ListDetectionFiles(cfg.Store.ExportDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestApp_Run_LogEverySamplesInferences(t *testing.T) {
	cfg := testConfig(t)
	cfg.Loop.LogEvery = 2
	frames := testutil.Frames(5, 416, 416)
	defer testutil.CloseAll(frames)

	det := detector.NewMockDetector()
	det.SetResult(anthracnose())
	pub := &fakePublisher{}

	a := New(cfg, nil,
		WithCamera(capture.NewMockCamera(frames, false)),
		WithDetector(func() (detector.Detector, error) { return det, nil }),
		WithPublisher(pub),
		WithLocation(fixedLocation{err: gps.ErrNoFix}),
	)

	_, err := a.Run(context.Background())
	require.NoError(t, err)

	// Inferences 2 and 4 are logged, without a location.
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, 1, pub.msgs[0].FrameIndex)
	assert.Equal(t, 3, pub.msgs[1].FrameIndex)
	assert.Nil(t, pub.msgs[0].Location)
}

func TestApp_Run_MissingModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Addr = "127.0.0.1:0"
	cam := capture.NewMockCamera(nil, false)
	pub := &fakePublisher{}
	leds := &fakeIndicator{}

	a := New(cfg, nil, WithCamera(cam), WithPublisher(pub), WithIndicator(leds))
	summary, err := a.Run(context.Background())

	var startup *pipeline.StartupError
	require.True(t, errors.As(err, &startup), "error = %v", err)
	assert.Equal(t, pipeline.StageDetector, startup.Stage)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, pipeline.StopStartup, summary.Reason)
	assert.Equal(t, 0, cam.OpenCalls())

	// Nothing past the model is touched: no database, export dir or indicator use.
	_, err = os.Stat(cfg.Store.Path)
	assert.True(t, os.IsNotExist(err), "database created: %v", err)
	_, err = os.Stat(cfg.Store.ExportDir)
	assert.True(t, os.IsNotExist(err), "export dir created: %v", err)
	assert.Empty(t, leds.sets)
	assert.False(t, leds.closed)
	assert.False(t, pub.closed)
}

func TestApp_Run_InferenceFailuresEscalate(t *testing.T) {
	cfg := testConfig(t)
	frames := testutil.Frames(10, 416, 416)
	defer testutil.CloseAll(frames)

	det := detector.NewMockDetector()
	det.SetError(errors.New("tensor allocation failed"))
	leds := &fakeIndicator{}

	a := New(cfg, nil,
		WithCamera(capture.NewMockCamera(frames, false)),
		WithDetector(func() (detector.Detector, error) { return det, nil }),
		WithIndicator(leds),
	)

	summary, err := a.Run(context.Background())
	var esc *pipeline.EscalationError
	require.True(t, errors.As(err, &esc), "error = %v", err)
	assert.Equal(t, pipeline.StopEscalated, summary.Reason)
	assert.Equal(t, 3, det.Calls())
	assert.Empty(t, leds.sets)
	assert.True(t, leds.closed)
}

func TestApp_Run_DisabledStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Enabled = false
	frames := testutil.Frames(2, 416, 416)
	defer testutil.CloseAll(frames)

	det := detector.NewMockDetector()
	det.SetResult(anthracnose())

	a := New(cfg, nil,
		WithCamera(capture.NewMockCamera(frames, false)),
		WithDetector(func() (detector.Detector, error) { return det, nil }),
	)
	_, err := a.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(cfg.Store.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.Store.ExportDir, store.SessionFile))
	assert.True(t, os.IsNotExist(err))
}

func TestExportSession(t *testing.T) {
	cfg := testConfig(t)
	frames := testutil.Frames(3, 416, 416)
	defer testutil.CloseAll(frames)

	det := detector.NewMockDetector()
	det.SetResult(anthracnose())
	a := New(cfg, nil,
		WithCamera(capture.NewMockCamera(frames, false)),
		WithDetector(func() (detector.Detector, error) { return det, nil }),
	)
	summary, err := a.Run(context.Background())
	require.NoError(t, err)

	now := time.Now().Add(time.Hour)
	path, n, err := ExportSession(cfg, summary.SessionID, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, filepath.Join(cfg.Store.ExportDir, "detections_"+strconv.FormatInt(now.Unix(), 10)+".json"), path)

	records, err := store.ReadRecords(path)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "antraknosa", records[0].Class)

	_, _, err = ExportSession(cfg, "missing", now)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
