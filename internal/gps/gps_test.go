package gps

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix = "$GPGGA,123519,4807.038,N,01131.000,E,0,00,0.9,545.4,M,46.9,M,,*4E"
	rmc      = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
)

func newTestReader(src string) *Reader {
	r := NewReader(io.NopCloser(strings.NewReader(src)), nil)
	r.now = func() time.Time { return time.Unix(1767225600, 0) }
	return r
}

func TestReader_Update(t *testing.T) {
	r := newTestReader("")

	_, err := r.Fix()
	assert.ErrorIs(t, err, ErrNoFix)

	require.NoError(t, r.Update(ggaFix+"\r\n"))

	fix, err := r.Fix()
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.516666, fix.Longitude, 1e-4)
	assert.InDelta(t, 545.4, fix.Altitude, 1e-9)
	assert.Equal(t, 8, fix.Satellites)
	assert.Equal(t, 1, fix.Quality)
	assert.Equal(t, int64(1767225600), fix.Time.Unix())
}

func TestReader_UpdateIgnores(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"blank", "  \r\n", false},
		{"other sentence", rmc, false},
		{"no fix", ggaNoFix, false},
		{"bad checksum", strings.Replace(ggaFix, "*47", "*00", 1), true},
		{"garbage", "hello", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReader("")
			err := r.Update(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			_, err = r.Fix()
			assert.ErrorIs(t, err, ErrNoFix)
		})
	}
}

func TestReader_NoFixKeepsLastPosition(t *testing.T) {
	r := newTestReader("")
	require.NoError(t, r.Update(ggaFix))
	require.NoError(t, r.Update(ggaNoFix))

	fix, err := r.Fix()
	require.NoError(t, err)
	assert.Equal(t, 8, fix.Satellites)
}

func TestReader_Start(t *testing.T) {
	stream := strings.Join([]string{"garbage", rmc, ggaFix, ""}, "\r\n")
	r := newTestReader(stream)

	r.Start(context.Background())

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not stop at end of stream")
	}

	fix, err := r.Fix()
	require.NoError(t, err)
	assert.Equal(t, 8, fix.Satellites)
	assert.ErrorIs(t, r.Err(), io.EOF)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}

func TestOpen_MissingPort(t *testing.T) {
	_, err := Open("/dev/does-not-exist-chilieye", 9600, nil)
	assert.Error(t, err)
}
