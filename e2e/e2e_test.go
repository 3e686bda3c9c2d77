package e2e

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/chilieye/internal/app"
	"github.com/ayusman/chilieye/internal/capture"
	"github.com/ayusman/chilieye/internal/config"
	"github.com/ayusman/chilieye/internal/detector"
	"github.com/ayusman/chilieye/internal/gps"
	"github.com/ayusman/chilieye/internal/pipeline"
	"github.com/ayusman/chilieye/internal/server"
	"github.com/ayusman/chilieye/internal/store"
	"github.com/ayusman/chilieye/internal/testutil"
)

type staticFix struct{}

func (staticFix) Fix() (gps.Fix, error) {
	return gps.Fix{Latitude: -6.2, Longitude: 106.8, Altitude: 8, Satellites: 9, Quality: 1}, nil
}

func getJSON(t *testing.T, client *http.Client, url string, v interface{}) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d, want %d", url, resp.StatusCode, http.StatusOK)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s error = %v", url, err)
	}
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	cfg := config.Default()
	cfg.Model.Path = filepath.Join(tmpDir, "best.tflite")
	cfg.Display.Enabled = false
	cfg.Store.Path = filepath.Join(tmpDir, "data.db")
	cfg.Store.ExportDir = filepath.Join(tmpDir, "exports")
	cfg.Loop.FrameSkip = 2
	cfg.Loop.LogEvery = 1

	frames := testutil.Frames(6, 416, 416)
	defer testutil.CloseAll(frames)

	mockDetector := detector.NewMockDetector()
	mockDetector.Script(
		detector.Step{Result: detector.Result{Detections: []detector.Detection{
			{ClassID: 2, Label: "lalat_buah", Confidence: 0.91, Box: image.Rect(10, 10, 90, 90)},
		}}},
		detector.Step{Result: detector.Result{Detections: []detector.Detection{
			{ClassID: 0, Label: "antraknosa", Confidence: 0.66, Box: image.Rect(200, 150, 260, 230)},
			{ClassID: 1, Label: "cabai_normal", Confidence: 0.72, Box: image.Rect(20, 220, 120, 400)},
		}}},
	)

	application := app.New(cfg, nil,
		app.WithCamera(capture.NewMockCamera(frames, false)),
		app.WithDetector(func() (detector.Detector, error) { return mockDetector, nil }),
		app.WithLocation(staticFix{}),
	)

	var summary pipeline.Summary
	t.Run("RunSession", func(t *testing.T) {
		var err error
		summary, err = application.Run(context.Background())
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if summary.Reason != pipeline.StopEndOfStream {
			t.Errorf("Reason = %s, want %s", summary.Reason, pipeline.StopEndOfStream)
		}
		if summary.Frames != 6 || summary.Inferences != 3 {
			t.Errorf("Frames = %d, Inferences = %d, want 6 and 3", summary.Frames, summary.Inferences)
		}
		if mockDetector.Calls() != 3 {
			t.Errorf("detector calls = %d, want 3", mockDetector.Calls())
		}
	})

	s, err := store.New(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	srv := server.New(server.Config{Store: s, ExportDir: cfg.Store.ExportDir})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	t.Run("ListSessions", func(t *testing.T) {
		var body struct {
			Sessions []store.Session `json:"sessions"`
			Total    int             `json:"total"`
		}
		getJSON(t, client, ts.URL+"/api/sessions", &body)
		if body.Total != 1 || body.Sessions[0].ID != summary.SessionID {
			t.Fatalf("sessions = %+v, want the finished session", body.Sessions)
		}
		if body.Sessions[0].FrameSkip != 2 {
			t.Errorf("FrameSkip = %d, want 2", body.Sessions[0].FrameSkip)
		}
	})

	t.Run("Detections", func(t *testing.T) {
		var body struct {
			Detections []store.Detection `json:"detections"`
			Total      int               `json:"total"`
		}
		getJSON(t, client, ts.URL+"/api/detections", &body)
		// The third inference reuses the scripted fallback with no detections.
		if body.Total != 3 {
			t.Fatalf("total = %d, want 3", body.Total)
		}
		for _, d := range body.Detections {
			if d.Location == nil || d.Location.Satellites != 9 {
				t.Errorf("detection %d location = %+v, want the GPS fix", d.ID, d.Location)
			}
		}
	})

	t.Run("Stats", func(t *testing.T) {
		var stats store.Stats
		getJSON(t, client, ts.URL+"/api/stats?session="+summary.SessionID, &stats)
		if stats.Total != 3 {
			t.Errorf("Total = %d, want 3", stats.Total)
		}
		if stats.PerClass["lalat_buah"] != 1 || stats.PerClass["antraknosa"] != 1 {
			t.Errorf("PerClass = %v", stats.PerClass)
		}
		if stats.WithLocation != 3 {
			t.Errorf("WithLocation = %d, want 3", stats.WithLocation)
		}
	})

	t.Run("SessionFile", func(t *testing.T) {
		var body struct {
			Detections []store.Record `json:"detections"`
			Total      int            `json:"total"`
		}
		getJSON(t, client, ts.URL+"/api/detections?file="+store.SessionFile, &body)
		if body.Total != 3 {
			t.Errorf("total = %d, want 3", body.Total)
		}
	})

	t.Run("ExportAndArchive", func(t *testing.T) {
		if _, _, err := app.ExportSession(cfg, summary.SessionID, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("ExportSession() error = %v", err)
		}

		var files struct {
			Files []store.DetectionFile `json:"files"`
			Total int                   `json:"total"`
		}
		getJSON(t, client, ts.URL+"/api/detection-files", &files)
		if files.Total != 2 {
			t.Fatalf("files = %d, want the session backup and the export", files.Total)
		}

		resp, err := client.Post(ts.URL+"/api/clear-detections?db=true", "application/json", nil)
		if err != nil {
			t.Fatalf("clear error = %v", err)
		}
		defer resp.Body.Close()
		var cleared struct {
			Success       bool  `json:"success"`
			ArchivedCount int   `json:"archived_count"`
			Cleared       int64 `json:"cleared_rows"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&cleared); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if !cleared.Success || cleared.ArchivedCount != 2 || cleared.Cleared != 3 {
			t.Errorf("clear = %+v, want 2 archived files and 3 rows", cleared)
		}

		getJSON(t, client, ts.URL+"/api/detection-files", &files)
		if files.Total != 0 {
			t.Errorf("files after clear = %d, want 0", files.Total)
		}
	})
}
