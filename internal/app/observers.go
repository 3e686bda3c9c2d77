package app

import (
	"context"
	"math"
	"time"

	"go.uber.org/multierr"

	"github.com/ayusman/chilieye/internal/gps"
	"github.com/ayusman/chilieye/internal/logger"
	"github.com/ayusman/chilieye/internal/pipeline"
	"github.com/ayusman/chilieye/internal/store"
	"github.com/ayusman/chilieye/internal/telemetry"
)

// publishTimeout bounds handing a message to the telemetry queue.
const publishTimeout = time.Second

// LocationSource reports the current GPS position.
type LocationSource interface {
	Fix() (gps.Fix, error)
}

// Indicator lights one output per detected class.
type Indicator interface {
	Set(labels []string) error
	Close() error
}

// ledObserver mirrors the classes of every inference on the indicator.
func ledObserver(ind Indicator) pipeline.Observer {
	return pipeline.ObserverFunc(func(ev pipeline.Event) error {
		return ind.Set(ev.Labels())
	})
}

// detectionLog records the detections of an inference in the database, the
// session file and the telemetry stream. Each sink is optional.
type detectionLog struct {
	sessionID string
	store     *store.Store
	journal   *store.Journal
	publisher telemetry.Publisher
	location  LocationSource
	log       *logger.Logger
}

func (l *detectionLog) Observe(ev pipeline.Event) error {
	if ev.Result.Empty() {
		return nil
	}

	loc := l.currentLocation()
	dets := make([]*store.Detection, 0, len(ev.Result.Detections))
	for _, d := range ev.Result.Detections {
		dets = append(dets, &store.Detection{
			SessionID:  l.sessionID,
			FrameIndex: ev.FrameIndex,
			Class:      d.Label,
			Confidence: roundConfidence(d.Confidence),
			Box: store.Box{
				X1: d.Box.Min.X,
				Y1: d.Box.Min.Y,
				X2: d.Box.Max.X,
				Y2: d.Box.Max.Y,
			},
			Location:   loc,
			DetectedAt: ev.Time,
		})
	}

	var err error
	if l.store != nil {
		err = multierr.Append(err, l.store.Detections().Insert(dets))
	}
	if l.journal != nil {
		err = multierr.Append(err, l.journal.Append(dets...))
	}
	if l.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		for _, d := range dets {
			err = multierr.Append(err, l.publisher.Publish(ctx, message(d)))
		}
		cancel()
	}

	for _, d := range dets {
		kv := []interface{}{"class", d.Class, "confidence", d.Confidence, "frame", d.FrameIndex}
		if d.Location != nil {
			kv = append(kv, "latitude", d.Location.Latitude, "longitude", d.Location.Longitude)
		}
		l.log.Info("Detected", kv...)
	}
	return err
}

func (l *detectionLog) currentLocation() *store.Location {
	if l.location == nil {
		return nil
	}
	fix, err := l.location.Fix()
	if err != nil {
		return nil
	}
	return &store.Location{
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Altitude:   fix.Altitude,
		Satellites: fix.Satellites,
	}
}

func message(d *store.Detection) telemetry.Message {
	msg := telemetry.Message{
		SessionID:  d.SessionID,
		FrameIndex: d.FrameIndex,
		Timestamp:  float64(d.DetectedAt.UnixNano()) / float64(time.Second),
		Datetime:   d.DetectedAt.Format(store.DatetimeLayout),
		Class:      d.Class,
		Confidence: d.Confidence,
		Box:        [4]int{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
	}
	if d.Location != nil {
		msg.Location = &telemetry.Location{
			Latitude:   d.Location.Latitude,
			Longitude:  d.Location.Longitude,
			Altitude:   d.Location.Altitude,
			Satellites: d.Location.Satellites,
		}
	}
	return msg
}

// roundConfidence keeps two decimals like the exported detection files.
func roundConfidence(c float32) float64 {
	return math.Round(float64(c)*100) / 100
}
