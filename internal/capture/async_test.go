package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/ayusman/chilieye/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestAsyncCamera_DropsOldest(t *testing.T) {
	frames := testutil.Frames(5, 64, 48)
	defer testutil.CloseAll(frames)

	cam := NewAsyncCamera(NewMockCamera(frames, false), 1)
	require.NoError(t, cam.Open())
	defer cam.Close()

	select {
	case <-cam.done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not finish")
	}

	assert.Equal(t, int64(4), cam.Dropped())

	// Only the freshest frame survives.
	f, err := cam.ReadFrame()
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, matEqual(*frames[4], *f), "expected the last captured frame")

	_, err = cam.ReadFrame()
	assert.True(t, errors.Is(err, ErrEndOfStream), "got %v", err)
}

func TestAsyncCamera_PreservesOrder(t *testing.T) {
	frames := testutil.Frames(6, 64, 48)
	defer testutil.CloseAll(frames)

	cam := NewAsyncCamera(NewMockCamera(frames, false), 2)
	require.NoError(t, cam.Open())
	defer cam.Close()

	last := -1
	for {
		f, err := cam.ReadFrame()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)

		idx := indexOf(frames, *f)
		f.Close()
		require.GreaterOrEqual(t, idx, 0)
		assert.Greater(t, idx, last, "frames must arrive in capture order")
		last = idx
	}
	assert.Equal(t, 5, last, "the final frame is never dropped")
}

func TestAsyncCamera_ForwardsTransientErrors(t *testing.T) {
	frames := testutil.Frames(1, 64, 48)
	defer testutil.CloseAll(frames)

	inner := NewMockCamera(frames, false)
	inner.FailRead(0, ErrEmptyFrame)

	cam := NewAsyncCamera(inner, 2)
	require.NoError(t, cam.Open())
	defer cam.Close()

	_, err := cam.ReadFrame()
	assert.True(t, errors.Is(err, ErrEmptyFrame), "got %v", err)

	f, err := cam.ReadFrame()
	require.NoError(t, err)
	f.Close()
}

func TestAsyncCamera_ErrorsKeepCaptureOrder(t *testing.T) {
	frames := testutil.Frames(1, 64, 48)
	defer testutil.CloseAll(frames)

	inner := NewMockCamera(frames, false)
	inner.FailRead(1, ErrEmptyFrame)

	cam := NewAsyncCamera(inner, 2)
	require.NoError(t, cam.Open())
	defer cam.Close()

	select {
	case <-cam.done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not finish")
	}

	// The frame was captured before the failed read and must come first.
	f, err := cam.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, f)
	f.Close()

	_, err = cam.ReadFrame()
	assert.True(t, errors.Is(err, ErrEmptyFrame), "got %v", err)

	_, err = cam.ReadFrame()
	assert.True(t, errors.Is(err, ErrEndOfStream), "got %v", err)
}

func TestAsyncCamera_DroppedErrorsAreNotFrames(t *testing.T) {
	frames := testutil.Frames(1, 64, 48)
	defer testutil.CloseAll(frames)

	inner := NewMockCamera(frames, false)
	inner.FailRead(0, ErrEmptyFrame)
	inner.FailRead(1, ErrEmptyFrame)

	cam := NewAsyncCamera(inner, 1)
	require.NoError(t, cam.Open())
	defer cam.Close()

	select {
	case <-cam.done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not finish")
	}

	assert.Equal(t, int64(0), cam.Dropped())
	f, err := cam.ReadFrame()
	require.NoError(t, err)
	f.Close()
}

func TestAsyncCamera_CloseStopsReads(t *testing.T) {
	frames := testutil.Frames(1, 64, 48)
	defer testutil.CloseAll(frames)

	cam := NewAsyncCamera(NewMockCamera(frames, true), 1)
	require.NoError(t, cam.Open())
	require.NoError(t, cam.Close())

	_, err := cam.ReadFrame()
	assert.True(t, errors.Is(err, ErrCameraNotOpen), "got %v", err)
	assert.False(t, cam.IsOpen())
}

func matEqual(a, b gocv.Mat) bool {
	if a.Rows() != b.Rows() || a.Cols() != b.Cols() {
		return false
	}
	ab, bb := a.ToBytes(), b.ToBytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

func indexOf(frames []*gocv.Mat, m gocv.Mat) int {
	for i, f := range frames {
		if matEqual(*f, m) {
			return i
		}
	}
	return -1
}
