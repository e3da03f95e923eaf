package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendEvent atomically inserts one event row and returns its assigned
// sequence number. The write is serialized by Store's single connection,
// giving strictly monotonic, never-reused sequence numbers even under
// concurrent callers.
func (s *Store) AppendEvent(ctx context.Context, eventType, payload, sourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_type, payload, source_id, created_at) VALUES (?, ?, ?, ?)`,
		eventType, payload, nullIfEmpty(sourceID), nowStr(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: append event: %v", ErrTransient, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: read seq: %v", ErrStateCorruption, err)
	}
	return seq, nil
}

// Replay returns every event with seq strictly greater than sinceSeq, in
// ascending sequence order.
func (s *Store) Replay(ctx context.Context, sinceSeq int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_type, payload, source_id, created_at FROM events WHERE seq > ? ORDER BY seq ASC`,
		sinceSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: replay: %v", ErrTransient, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var sourceID sql.NullString
		var createdAt string
		if err := rows.Scan(&e.Seq, &e.EventType, &e.Payload, &sourceID, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", ErrStateCorruption, err)
		}
		e.SourceID = sourceID.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
