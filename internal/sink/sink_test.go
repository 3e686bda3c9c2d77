package sink

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/chilieye/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestIsQuitKey(t *testing.T) {
	tests := []struct {
		key  int
		want bool
	}{
		{key: -1, want: false},
		{key: 'q', want: true},
		{key: 'Q', want: true},
		{key: 27, want: true},
		{key: 'a', want: false},
		{key: 0x100 | 'q', want: true},
	}
	for _, tt := range tests {
		if got := IsQuitKey(tt.key); got != tt.want {
			t.Errorf("IsQuitKey(%d) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestDefaultRecordingPath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, filepath.Join("videos", "output_20260304_050607.mp4"), DefaultRecordingPath("videos", now))
}

func TestNewRecorder_InvalidSize(t *testing.T) {
	_, err := NewRecorder(filepath.Join(t.TempDir(), "x.avi"), "MJPG", 20, image.Point{})
	assert.Error(t, err)
}

// openRecorder skips the test when the local OpenCV build has no usable encoder.
func openRecorder(t *testing.T, path string, size image.Point) *Recorder {
	t.Helper()
	rec, err := NewRecorder(path, "MJPG", 20, size)
	if err != nil {
		t.Skipf("video encoder not available: %v", err)
	}
	return rec
}

func countFrames(t *testing.T, path string) int {
	t.Helper()
	vc, err := gocv.VideoCaptureFile(path)
	require.NoError(t, err)
	defer vc.Close()

	n := 0
	m := gocv.NewMat()
	defer m.Close()
	for vc.Read(&m) {
		if m.Empty() {
			break
		}
		n++
	}
	return n
}

func TestRecorder_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping codec test in short mode")
	}

	path := filepath.Join(t.TempDir(), "clip.avi")
	size := image.Pt(160, 120)
	rec := openRecorder(t, path, size)

	frames := testutil.Frames(10, size.X, size.Y)
	defer testutil.CloseAll(frames)

	for _, f := range frames {
		require.NoError(t, rec.Write(*f))
	}
	assert.Equal(t, 10, rec.Frames())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "second Close is a no-op")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.Equal(t, 10, countFrames(t, path))
}

func TestRecorder_ResizesMismatchedFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping codec test in short mode")
	}

	path := filepath.Join(t.TempDir(), "resized.avi")
	rec := openRecorder(t, path, image.Pt(160, 120))

	big := testutil.Frame(0, 320, 240)
	defer big.Close()

	require.NoError(t, rec.Write(big))
	require.NoError(t, rec.Close())

	assert.ErrorIs(t, rec.Write(big), ErrRecorderClosed)
	assert.Equal(t, 1, countFrames(t, path))
}
