package pipeline

import (
	"context"
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/chilieye/internal/detector"
	"github.com/ayusman/chilieye/internal/sink"
)

func TestLoop_QuitLeavesPlayableRecording(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping codec test in short mode")
	}

	path := filepath.Join(t.TempDir(), "session.avi")
	rec, err := sink.NewRecorder(path, "MJPG", 20, image.Pt(416, 416))
	if err != nil {
		t.Skipf("video encoder not available: %v", err)
	}

	h := newHarness(t, 100)
	h.detector.SetResult(detection("antraknosa", 0))
	h.display.quitAt = 10

	l := New(Options{FrameSkip: 2, Clock: h.clock}, Components{
		OpenDetector: func() (detector.Detector, error) { return h.detector, nil },
		Camera:       h.camera,
		OpenRecorder: func() (Recorder, error) { return rec, nil },
		OpenDisplay:  func() (Display, error) { return h.display, nil },
	})

	summary, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StopUserQuit, summary.Reason)
	assert.Equal(t, 10, summary.RecordedFrames)
	assert.Equal(t, 5, h.detector.Calls())

	vc, err := gocv.VideoCaptureFile(path)
	require.NoError(t, err)
	defer vc.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	n := 0
	for vc.Read(&frame) && !frame.Empty() {
		n++
	}
	assert.Equal(t, 10, n)
}
