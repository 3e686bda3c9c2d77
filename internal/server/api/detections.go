package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ayusman/chilieye/internal/gps"
	"github.com/ayusman/chilieye/internal/store"
)

const defaultLimit = 100

// LocationSource reports the live GPS position.
type LocationSource interface {
	Fix() (gps.Fix, error)
}

// DetectionHandler serves the detection log.
type DetectionHandler struct {
	store     *store.Store
	exportDir string
	location  LocationSource
	now       func() time.Time
}

// NewDetectionHandler creates a DetectionHandler. loc may be nil.
func NewDetectionHandler(s *store.Store, exportDir string, loc LocationSource) *DetectionHandler {
	if exportDir == "" {
		exportDir = "."
	}
	return &DetectionHandler{store: s, exportDir: exportDir, location: loc, now: time.Now}
}

type listDetectionsResponse struct {
	Detections interface{} `json:"detections"`
	Total      int         `json:"total"`
}

// List handles GET /api/detections. With ?file= it returns the records of an
// exported backup or the current session file; otherwise the newest logged
// detections, up to ?limit= (default 100).
func (h *DetectionHandler) List(w http.ResponseWriter, r *http.Request) {
	if file := r.URL.Query().Get("file"); file != "" {
		h.listFile(w, file)
		return
	}

	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Detection log disabled")
		return
	}

	limit, ok := queryInt(r, "limit", defaultLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	dets, err := h.store.Detections().Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detections")
		return
	}
	if dets == nil {
		dets = []*store.Detection{}
	}

	writeJSON(w, http.StatusOK, listDetectionsResponse{Detections: dets, Total: len(dets)})
}

func (h *DetectionHandler) listFile(w http.ResponseWriter, file string) {
	if file != filepath.Base(file) || !(file == store.SessionFile ||
		(strings.HasPrefix(file, "detections_") && strings.HasSuffix(file, ".json"))) {
		writeError(w, http.StatusBadRequest, "Invalid detection file")
		return
	}

	records, err := store.ReadRecords(filepath.Join(h.exportDir, file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusOK, listDetectionsResponse{Detections: []store.Record{}, Total: 0})
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read detection file")
		return
	}

	// Only entries with a fix can be placed on the map.
	located := make([]store.Record, 0, len(records))
	for _, rec := range records {
		if rec.Location != nil && rec.Location.Latitude != 0 && rec.Location.Longitude != 0 {
			located = append(located, rec)
		}
	}

	writeJSON(w, http.StatusOK, listDetectionsResponse{Detections: located, Total: len(located)})
}

// Stats handles GET /api/stats, optionally scoped with ?session=.
func (h *DetectionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "Detection log disabled")
		return
	}

	stats, err := h.store.Detections().Stats(r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type clearResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ArchivedCount int    `json:"archived_count"`
	ArchiveDir    string `json:"archive_dir,omitempty"`
	Cleared       int64  `json:"cleared_rows"`
}

// Clear handles POST /api/clear-detections. Backups move to a timestamped
// archive directory; ?db=true also empties the detection table.
func (h *DetectionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	res, err := store.Archive(h.exportDir, h.now(), false)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, clearResponse{Message: err.Error()})
		return
	}

	resp := clearResponse{
		Success:       true,
		ArchivedCount: res.Count,
		ArchiveDir:    res.Dir,
	}
	if res.Count == 0 {
		resp.Message = "No detection files to clear"
	} else {
		resp.Message = fmt.Sprintf("Archived %d detection file(s)", res.Count)
	}

	if r.URL.Query().Get("db") == "true" && h.store != nil {
		n, err := h.store.Detections().Clear()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, clearResponse{Message: err.Error()})
			return
		}
		resp.Cleared = n
	}

	writeJSON(w, http.StatusOK, resp)
}

type locationResponse struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Altitude   *float64 `json:"altitude"`
	Satellites int      `json:"satellites"`
	Live       bool     `json:"live"`
}

// CurrentLocation handles GET /api/current-location. The live fix wins over
// the location of the newest logged detection.
func (h *DetectionHandler) CurrentLocation(w http.ResponseWriter, r *http.Request) {
	if h.location != nil {
		if fix, err := h.location.Fix(); err == nil {
			writeJSON(w, http.StatusOK, locationResponse{
				Latitude:   &fix.Latitude,
				Longitude:  &fix.Longitude,
				Altitude:   &fix.Altitude,
				Satellites: fix.Satellites,
				Live:       true,
			})
			return
		}
	}

	if h.store != nil {
		loc, err := h.store.Detections().LatestLocation()
		if err == nil {
			writeJSON(w, http.StatusOK, locationResponse{
				Latitude:   &loc.Latitude,
				Longitude:  &loc.Longitude,
				Altitude:   &loc.Altitude,
				Satellites: loc.Satellites,
			})
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "Failed to read location")
			return
		}
	}

	writeJSON(w, http.StatusOK, locationResponse{})
}
