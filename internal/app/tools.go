package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ayusman/chilieye/internal/config"
	"github.com/ayusman/chilieye/internal/gps"
	"github.com/ayusman/chilieye/internal/logger"
	"github.com/ayusman/chilieye/internal/server"
	"github.com/ayusman/chilieye/internal/store"
)

// ServeDashboard runs the dashboard without a camera until ctx ends. It serves
// the stored detection log and, when configured, the live GPS position.
func ServeDashboard(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()

	var loc LocationSource
	if cfg.GPS.Enabled {
		r, err := gps.Open(cfg.GPS.Port, cfg.GPS.BaudRate, log.With("component", "gps"))
		if err != nil {
			log.Warn("gps disabled", "port", cfg.GPS.Port, "error", err)
		} else {
			defer r.Close()
			r.Start(ctx)
			loc = r
		}
	}

	srv := server.New(server.Config{
		StaticDir: cfg.Dashboard.StaticDir,
		ExportDir: cfg.Store.ExportDir,
		Store:     s,
		Location:  loc,
		Logger:    log,
	})
	return srv.Run(ctx, cfg.Dashboard.Addr)
}

// ExportSession writes the stored detections of one session to a
// detections_<unix>.json file in the export directory and returns its path.
func ExportSession(cfg *config.Config, sessionID string, now time.Time) (string, int, error) {
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return "", 0, err
	}
	defer s.Close()

	if _, err := s.Sessions().GetByID(sessionID); err != nil {
		return "", 0, fmt.Errorf("session %s: %w", sessionID, err)
	}
	dets, err := s.Detections().BySession(sessionID)
	if err != nil {
		return "", 0, err
	}

	records := make([]store.Record, 0, len(dets))
	for _, d := range dets {
		records = append(records, store.NewRecord(d))
	}
	path, err := store.WriteBackup(cfg.Store.ExportDir, records, now)
	if err != nil {
		return "", 0, err
	}
	return path, len(records), nil
}
