package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// Session is one run of the inference loop.
type Session struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Source     string     `json:"source"`
	FrameSkip  int        `json:"frame_skip"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Frames     int        `json:"frames"`
	Inferences int        `json:"inferences"`
	Detections int        `json:"detections"`
	AverageFPS float64    `json:"average_fps"`
	Reason     string     `json:"reason,omitempty"`
}

// Outcome holds the counters written when a session finishes.
type Outcome struct {
	EndedAt    time.Time
	Frames     int
	Inferences int
	Detections int
	AverageFPS float64
	Reason     string
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a new session. A zero StartedAt is set to now.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	if sess.FrameSkip < 1 {
		sess.FrameSkip = 1
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (id, model, source, frame_skip, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Model, sess.Source, sess.FrameSkip, sess.StartedAt,
	)
	return err
}

// Finish records the final counters of a session.
func (r *SessionRepository) Finish(id string, out Outcome) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET ended_at = ?, frames = ?, inferences = ?, detections = ?, average_fps = ?, reason = ?
		 WHERE id = ?`,
		out.EndedAt, out.Frames, out.Inferences, out.Detections, out.AverageFPS, out.Reason, id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

const sessionColumns = `id, model, source, frame_skip, started_at, ended_at, frames, inferences, detections, average_fps, reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var ended sql.NullTime
	err := row.Scan(&sess.ID, &sess.Model, &sess.Source, &sess.FrameSkip, &sess.StartedAt, &ended,
		&sess.Frames, &sess.Inferences, &sess.Detections, &sess.AverageFPS, &sess.Reason)
	if err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	return sess, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	sess, err := scanSession(r.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

// List returns the most recent sessions first. A limit <= 0 returns all.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Delete removes a session and its detections.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
