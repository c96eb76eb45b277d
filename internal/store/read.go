package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/timeline/internal/ir"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ReadSession returns one session by id.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	var sess Session
	var seed int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, score, tick_us, seed, digest
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.Score, &sess.TickUs, &seed, &sess.Digest)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	sess.Seed = uint64(seed)
	return sess, nil
}

// ListSessions returns every session ordered by id.
// UUIDv7 ids sort by creation time.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, score, tick_us, seed, digest
		FROM sessions
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var sess Session
		var seed int64
		if err := rows.Scan(&sess.ID, &sess.Score, &sess.TickUs, &seed, &sess.Digest); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Seed = uint64(seed)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadEvents returns a session's trace ordered by seq.
// When kinds is non-empty only events of those kinds are returned.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) ReadEvents(ctx context.Context, sessionID string, kinds ...ir.EventKind) ([]ir.Event, error) {
	query := `
		SELECT seq, kind, name, abs_us, rel_us, real_us, late_us
		FROM events
		WHERE session_id = ?`
	args := []any{sessionID}
	if len(kinds) > 0 {
		query += ` AND kind IN (?` + repeatPlaceholder(len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var e ir.Event
		var kind string
		if err := rows.Scan(&e.Seq, &kind, &e.Name, &e.AbsUs, &e.RelUs, &e.RealUs, &e.LateUs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = ir.EventKind(kind)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func repeatPlaceholder(n int) string {
	out := make([]byte, 0, 3*n)
	for i := 0; i < n; i++ {
		out = append(out, ", ?"...)
	}
	return string(out)
}
