package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"
)

// PostgresSink persists events to the trust_events table for audit and
// offline analysis. A failed insert is logged and dropped, never retried.
type PostgresSink struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Sink = (*PostgresSink)(nil)

// NewPostgresSink creates a sink that writes events to Postgres.
func NewPostgresSink(db *sql.DB, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{db: db, logger: logger}
}

func (s *PostgresSink) Emit(ctx context.Context, ev *Event) {
	var dataJSON []byte
	if ev.Data != nil {
		var err error
		dataJSON, err = json.Marshal(ev.Data)
		if err != nil {
			s.logger.Warn("event data encode failed", "event_type", ev.Type, "error", err)
			dataJSON = nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trust_events (id, event_type, user_id, session_id, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, string(ev.Type), ev.UserID, ev.SessionID, dataJSON, ev.Timestamp)
	if err != nil {
		s.logger.Warn("event persist failed", "event_type", ev.Type, "event_id", ev.ID, "error", err)
	}
}

// RecentEvents returns the most recent events for a user, newest first.
func (s *PostgresSink) RecentEvents(ctx context.Context, userID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, user_id, session_id, data, created_at
		FROM trust_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		ev := &Event{}
		var eventType string
		var dataJSON []byte
		if err := rows.Scan(&ev.ID, &eventType, &ev.UserID, &ev.SessionID, &dataJSON, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Type = EventType(eventType)
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &ev.Data); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
