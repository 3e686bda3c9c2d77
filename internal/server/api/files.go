package api

import (
	"net/http"

	"github.com/ayusman/chilieye/internal/store"
)

type listFilesResponse struct {
	Files []store.DetectionFile `json:"files"`
	Total int                   `json:"total"`
}

// Files handles GET /api/detection-files.
func (h *DetectionHandler) Files(w http.ResponseWriter, r *http.Request) {
	files, err := store.ListDetectionFiles(h.exportDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list detection files")
		return
	}

	writeJSON(w, http.StatusOK, listFilesResponse{Files: files, Total: len(files)})
}
