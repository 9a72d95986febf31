// Package capture persists received frames to sqlite so acquisition
// sessions can be inspected and replayed offline. Frames are stored in wire
// form; reading them back runs the same decoder as the live stream, so a
// replayed frame is bit-for-bit what the device sent.
package capture

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/visionary/stream"
)

// Store is a handle on one capture database.
type Store struct {
	*sql.DB
}

// Open opens or creates the capture database at path and brings its schema
// up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Session describes one recording.
type Session struct {
	ID         string
	DeviceName string
	DeviceAddr string
	Frames     int
}

// BeginSession registers a new recording and returns its id.
func (s *Store) BeginSession(deviceName, deviceAddr string) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(
		"INSERT INTO sessions (session_id, device_name, device_addr) VALUES (?, ?, ?)",
		id, deviceName, deviceAddr,
	)
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}
	return id, nil
}

// AppendFrame stores one frame under a session, in wire form plus the
// header fields queries filter on.
func (s *Store) AppendFrame(sessionID string, f *stream.Frame) error {
	_, err := s.Exec(
		`INSERT INTO frames (session_id, number, kind, timestamp_ms, width, height, blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, f.Number, f.Kind, f.TimestampMS, f.Width, f.Height, stream.EncodeFrame(f),
	)
	if err != nil {
		return fmt.Errorf("append frame %d: %w", f.Number, err)
	}
	return nil
}

// Frames returns a session's frames in capture order.
func (s *Store) Frames(sessionID string) ([]*stream.Frame, error) {
	rows, err := s.Query(
		"SELECT blob FROM frames WHERE session_id = ? ORDER BY frame_id",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []*stream.Frame
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		f, err := stream.DecodeFrame(blob)
		if err != nil {
			return nil, fmt.Errorf("frame %d of session %s: %w", len(frames), sessionID, err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// Sessions lists recordings, newest first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.Query(`
		SELECT s.session_id, s.device_name, s.device_addr, COUNT(f.frame_id)
		FROM sessions s
		LEFT JOIN frames f ON f.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.DeviceName, &sess.DeviceAddr, &sess.Frames); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
