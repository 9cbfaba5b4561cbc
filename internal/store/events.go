package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AnalyticsEvent is one ingested usage event row. Meta stays opaque JSON all
// the way to the jsonb column.
type AnalyticsEvent struct {
	ID         int64           `json:"id"`
	EventID    string          `json:"event_id,omitempty"`
	EventTS    time.Time       `json:"event_ts"`
	EventName  string          `json:"event_name"`
	EventLabel string          `json:"event_label,omitempty"`
	Role       string          `json:"role,omitempty"`
	EngineerID string          `json:"engineer_id,omitempty"`
	ClientID   string          `json:"client_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Page       string          `json:"page,omitempty"`
	WidgetID   string          `json:"widget_id,omitempty"`
	TaskID     string          `json:"task_id,omitempty"`
	TicketID   string          `json:"ticket_id,omitempty"`
	DurationMS *int64          `json:"duration_ms,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

func (s *Store) InsertAnalyticsEvents(ctx context.Context, rows []AnalyticsEvent) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range rows {
		meta := ev.Meta
		if len(meta) == 0 {
			meta = json.RawMessage(`{}`)
		}
		batch.Queue(`
INSERT INTO analytics_events(event_id, event_ts, event_name, event_label, role, engineer_id, client_id, session_id, page, widget_id, task_id, ticket_id, duration_ms, meta)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14);
`, nullable(ev.EventID), ev.EventTS, ev.EventName, nullable(ev.EventLabel), nullable(ev.Role), nullable(ev.EngineerID), nullable(ev.ClientID),
			nullable(ev.SessionID), nullable(ev.Page), nullable(ev.WidgetID), nullable(ev.TaskID), nullable(ev.TicketID), ev.DurationMS, meta)
	}
	br := s.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert analytics event: %w", err)
		}
	}
	return nil
}

func (s *Store) ListAnalyticsEvents(ctx context.Context, limit int) ([]AnalyticsEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Pool.Query(ctx, `
SELECT id, COALESCE(event_id,''), event_ts, event_name, COALESCE(event_label,''), COALESCE(role,''), COALESCE(engineer_id,''), COALESCE(client_id,''),
       COALESCE(session_id,''), COALESCE(page,''), COALESCE(widget_id,''), COALESCE(task_id,''), COALESCE(ticket_id,''), duration_ms, meta
FROM analytics_events
ORDER BY event_ts DESC
LIMIT $1;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analytics events: %w", err)
	}
	defer rows.Close()

	var out []AnalyticsEvent
	for rows.Next() {
		var ev AnalyticsEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.EventTS, &ev.EventName, &ev.EventLabel, &ev.Role, &ev.EngineerID, &ev.ClientID,
			&ev.SessionID, &ev.Page, &ev.WidgetID, &ev.TaskID, &ev.TicketID, &ev.DurationMS, &ev.Meta); err != nil {
			return nil, fmt.Errorf("scan analytics event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type EventCount struct {
	EventName string `json:"event_name"`
	Count     int64  `json:"count"`
}

func (s *Store) CountAnalyticsByName(ctx context.Context, limit int) ([]EventCount, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Pool.Query(ctx, `
SELECT event_name, count(*) FROM analytics_events
GROUP BY event_name
ORDER BY count(*) DESC
LIMIT $1;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("count analytics events: %w", err)
	}
	defer rows.Close()

	var out []EventCount
	for rows.Next() {
		var ec EventCount
		if err := rows.Scan(&ec.EventName, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
