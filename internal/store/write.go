package store

import (
	"context"
	"fmt"

	"github.com/roach88/timeline/internal/ir"
)

// Session is one recorded run.
type Session struct {
	ID     string `json:"id"`
	Score  string `json:"score"`
	TickUs int64  `json:"tick_us"`
	Seed   uint64 `json:"seed"`
	Digest string `json:"digest,omitempty"`
}

// WriteSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, score, tick_us, seed, digest)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, sess.Score, sess.TickUs, int64(sess.Seed), sess.Digest)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// FinishSession records the trace digest of a completed run.
func (s *Store) FinishSession(ctx context.Context, id, digest string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET digest = ? WHERE id = ?`, digest, id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish session %q: %w", id, ErrNotFound)
	}
	return nil
}

// WriteEvent appends one trace event to a session.
// Uses ON CONFLICT DO NOTHING: rewriting the same (session, seq) is ignored.
//
// Note: The session must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, sessionID string, e ir.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(session_id, seq, kind, name, abs_us, rel_us, real_us, late_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sessionID,
		e.Seq,
		string(e.Kind),
		e.Name,
		e.AbsUs,
		e.RelUs,
		e.RealUs,
		e.LateUs,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// WriteEvents appends a batch of events in a single transaction.
func (s *Store) WriteEvents(ctx context.Context, sessionID string, events []ir.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
		(session_id, seq, kind, name, abs_us, rel_us, real_us, late_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write events: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, sessionID, e.Seq, string(e.Kind), e.Name, e.AbsUs, e.RelUs, e.RealUs, e.LateUs); err != nil {
			return fmt.Errorf("write events: seq %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write events: commit: %w", err)
	}
	return nil
}
