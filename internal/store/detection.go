package store

import (
	"database/sql"
	"time"
)

// Location is a GPS fix attached to a detection.
type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   float64 `json:"altitude"`
	Satellites int     `json:"satellites"`
}

// Box is a bounding box in source-frame pixels.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is one logged detection.
type Detection struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	FrameIndex int       `json:"frame_index"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Box        Box       `json:"box"`
	Location   *Location `json:"location"`
	DetectedAt time.Time `json:"detected_at"`
}

// Stats summarizes logged detections.
type Stats struct {
	Total        int            `json:"total_detections"`
	PerClass     map[string]int `json:"disease_counts"`
	WithLocation int            `json:"gps_enabled_count"`
	Latest       *Detection     `json:"latest_detection"`
}

// DetectionRepository provides operations on the detection log.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// Insert stores detections in a single transaction and sets their IDs.
func (r *DetectionRepository) Insert(dets []*Detection) error {
	if len(dets) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO detections (session_id, frame_index, class, confidence, x1, y1, x2, y2,
			latitude, longitude, altitude, satellites, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range dets {
		if d.DetectedAt.IsZero() {
			d.DetectedAt = time.Now()
		}
		var lat, lon, alt sql.NullFloat64
		var sats sql.NullInt64
		if d.Location != nil {
			lat = sql.NullFloat64{Float64: d.Location.Latitude, Valid: true}
			lon = sql.NullFloat64{Float64: d.Location.Longitude, Valid: true}
			alt = sql.NullFloat64{Float64: d.Location.Altitude, Valid: true}
			sats = sql.NullInt64{Int64: int64(d.Location.Satellites), Valid: true}
		}

		res, err := stmt.Exec(d.SessionID, d.FrameIndex, d.Class, d.Confidence,
			d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, lat, lon, alt, sats, d.DetectedAt)
		if err != nil {
			return err
		}
		if d.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const detectionColumns = `id, session_id, frame_index, class, confidence, x1, y1, x2, y2,
	latitude, longitude, altitude, satellites, detected_at`

func scanDetection(row scanner) (*Detection, error) {
	d := &Detection{}
	var lat, lon, alt sql.NullFloat64
	var sats sql.NullInt64
	err := row.Scan(&d.ID, &d.SessionID, &d.FrameIndex, &d.Class, &d.Confidence,
		&d.Box.X1, &d.Box.Y1, &d.Box.X2, &d.Box.Y2, &lat, &lon, &alt, &sats, &d.DetectedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		d.Location = &Location{
			Latitude:   lat.Float64,
			Longitude:  lon.Float64,
			Altitude:   alt.Float64,
			Satellites: int(sats.Int64),
		}
	}
	return d, nil
}

func (r *DetectionRepository) query(q string, args ...any) ([]*Detection, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dets []*Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		dets = append(dets, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return dets, nil
}

// Recent returns up to limit detections, newest first. A limit <= 0 returns all.
func (r *DetectionRepository) Recent(limit int) ([]*Detection, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(
		`SELECT `+detectionColumns+` FROM detections ORDER BY id DESC LIMIT ?`, limit,
	)
}

// BySession returns the detections of a session in insertion order.
func (r *DetectionRepository) BySession(sessionID string) ([]*Detection, error) {
	return r.query(
		`SELECT `+detectionColumns+` FROM detections WHERE session_id = ? ORDER BY id`, sessionID,
	)
}

// Stats summarizes the detections of a session, or all detections when
// sessionID is empty.
func (r *DetectionRepository) Stats(sessionID string) (*Stats, error) {
	where, args := "", []any{}
	if sessionID != "" {
		where, args = " WHERE session_id = ?", []any{sessionID}
	}

	stats := &Stats{PerClass: make(map[string]int)}

	rows, err := r.db.Query(`SELECT class, COUNT(*) FROM detections`+where+` GROUP BY class`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		stats.PerClass[class] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	locWhere := " WHERE latitude IS NOT NULL"
	if sessionID != "" {
		locWhere += " AND session_id = ?"
	}
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM detections`+locWhere, args...).Scan(&stats.WithLocation); err != nil {
		return nil, err
	}

	latest, err := r.query(`SELECT `+detectionColumns+` FROM detections`+where+` ORDER BY id DESC LIMIT 1`, args...)
	if err != nil {
		return nil, err
	}
	if len(latest) > 0 {
		stats.Latest = latest[0]
	}

	return stats, nil
}

// LatestLocation returns the location of the newest detection that has one.
func (r *DetectionRepository) LatestLocation() (*Location, error) {
	dets, err := r.query(
		`SELECT ` + detectionColumns + ` FROM detections WHERE latitude IS NOT NULL ORDER BY id DESC LIMIT 1`,
	)
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, ErrNotFound
	}
	return dets[0].Location, nil
}

// Count returns the number of logged detections.
func (r *DetectionRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&n)
	return n, err
}

// Clear removes every logged detection and returns how many were removed.
func (r *DetectionRepository) Clear() (int64, error) {
	result, err := r.db.Exec(`DELETE FROM detections`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
