package exporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/notfall/dispatchd/internal/store"
)

// Export of ingested analytics events for offline analysis / compliance
// reporting. Returns the serialised bytes plus a content type, so the API
// and the CLI share one code path.

type EventsExport struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Count       int                    `json:"count"`
	Events      []store.AnalyticsEvent `json:"events"`
}

func ExportEventsJSON(events []store.AnalyticsEvent) ([]byte, string, error) {
	b, err := json.MarshalIndent(EventsExport{
		GeneratedAt: time.Now().UTC(),
		Count:       len(events),
		Events:      events,
	}, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}

func ExportEventsCSV(events []store.AnalyticsEvent) ([]byte, string, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"id", "event_ts", "event_name", "event_label", "role", "engineer_id", "client_id", "session_id", "page", "widget_id", "task_id", "ticket_id", "duration_ms"})
	for _, e := range events {
		dur := ""
		if e.DurationMS != nil {
			dur = fmt.Sprintf("%d", *e.DurationMS)
		}
		_ = w.Write([]string{
			fmt.Sprintf("%d", e.ID),
			e.EventTS.Format(time.RFC3339),
			e.EventName,
			e.EventLabel,
			e.Role,
			e.EngineerID,
			e.ClientID,
			e.SessionID,
			e.Page,
			e.WidgetID,
			e.TaskID,
			e.TicketID,
			dur,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "text/csv", nil
}
