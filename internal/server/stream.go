package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
)

const maxSnapshotWidth = 1920

// StreamHandler serves the rendered preview as MJPEG.
type StreamHandler struct {
	frames *FrameBuffer
}

// NewStreamHandler creates a new StreamHandler over frames.
func NewStreamHandler(frames *FrameBuffer) *StreamHandler {
	return &StreamHandler{frames: frames}
}

// ServeHTTP streams MJPEG frames until the client disconnects.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var seq uint64
	for {
		jpeg, next, err := h.frames.Next(r.Context(), seq)
		if err != nil {
			return
		}
		seq = next

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// SnapshotHandler serves the latest preview frame as a JPEG, optionally
// scaled to ?width=.
type SnapshotHandler struct {
	frames *FrameBuffer
}

// NewSnapshotHandler creates a new SnapshotHandler over frames.
func NewSnapshotHandler(frames *FrameBuffer) *SnapshotHandler {
	return &SnapshotHandler{frames: frames}
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jpeg, seq := h.frames.Latest()
	if seq == 0 {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	width := 0
	if raw := r.URL.Query().Get("width"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSnapshotWidth {
			http.Error(w, "Invalid width", http.StatusBadRequest)
			return
		}
		width = n
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")

	if width == 0 {
		w.Write(jpeg)
		return
	}

	img, err := imaging.Decode(bytes.NewReader(jpeg))
	if err != nil {
		http.Error(w, "Failed to decode frame", http.StatusInternalServerError)
		return
	}
	thumb := imaging.Resize(img, width, 0, imaging.Lanczos)

	var out bytes.Buffer
	if err := imaging.Encode(&out, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}
	w.Write(out.Bytes())
}
