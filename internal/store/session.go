package store

import (
	"database/sql"
	"errors"
	"time"
)

// Transport identifies how a client received frames.
type Transport string

const (
	// TransportMJPEG is a multipart/x-mixed-replace HTTP stream.
	TransportMJPEG Transport = "mjpeg"
	// TransportWebSocket is a WebSocket carrying one binary message per frame.
	TransportWebSocket Transport = "websocket"
)

// Session records one streaming client connection.
type Session struct {
	ID         string     `json:"id"`
	Transport  Transport  `json:"transport"`
	RemoteAddr string     `json:"remote_addr"`
	UserAgent  string     `json:"user_agent"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	FramesSent uint64     `json:"frames_sent"`
	BytesSent  uint64     `json:"bytes_sent"`
	EndReason  string     `json:"end_reason,omitempty"`
}

// SessionRepository provides access to stream sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Create inserts a session when a client connects.
func (r *SessionRepository) Create(sess *Session) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO stream_sessions (id, transport, remote_addr, user_agent, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Transport), sess.RemoteAddr, sess.UserAgent, sess.StartedAt,
	)
	return err
}

// Finish records the end of a session with its final counters.
func (r *SessionRepository) Finish(id string, framesSent, bytesSent uint64, reason string) error {
	res, err := r.db.Exec(
		`UPDATE stream_sessions SET ended_at = ?, frames_sent = ?, bytes_sent = ?, end_reason = ?
		 WHERE id = ?`,
		time.Now(), int64(framesSent), int64(bytesSent), reason, id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, transport, remote_addr, user_agent, started_at, ended_at, frames_sent, bytes_sent, end_reason
		 FROM stream_sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// Recent returns up to limit sessions, newest first.
func (r *SessionRepository) Recent(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, transport, remote_addr, user_agent, started_at, ended_at, frames_sent, bytes_sent, end_reason
		 FROM stream_sessions
		 ORDER BY rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		s         Session
		transport string
		endedAt   sql.NullTime
		frames    int64
		bytes     int64
	)

	err := row.Scan(&s.ID, &transport, &s.RemoteAddr, &s.UserAgent, &s.StartedAt,
		&endedAt, &frames, &bytes, &s.EndReason)
	if err != nil {
		return nil, err
	}

	s.Transport = Transport(transport)
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	s.FramesSent = uint64(frames)
	s.BytesSent = uint64(bytes)
	return &s, nil
}
