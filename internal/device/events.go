package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind names a device lifecycle transition.
type EventKind string

// Lifecycle event kinds.
const (
	EventRegistered       EventKind = "registered"
	EventDisconnected     EventKind = "disconnected"
	EventHeartbeatTimeout EventKind = "heartbeat_timeout"
	EventRecovered        EventKind = "recovered"
	EventConfigUpdated    EventKind = "config_updated"
	EventStatusReported   EventKind = "status_reported"
)

// Event is one entry in the device event journal.
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	DeviceID   string         `json:"deviceId"`
	DeviceName string         `json:"deviceName,omitempty"`
	DeviceType Type           `json:"deviceType,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// NewEvent builds an event for dev. dev may be nil when only the id is known.
func NewEvent(kind EventKind, deviceID string, dev *Device, details map[string]any) Event {
	ev := Event{
		Kind:      kind,
		DeviceID:  deviceID,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if dev != nil {
		ev.DeviceName = dev.Name
		ev.DeviceType = dev.Type
	}
	return ev
}

// EventFilter controls which journal entries to return.
type EventFilter struct {
	DeviceID string    // optional
	Kind     EventKind // optional
	Limit    int       // default 50, max 200
	Offset   int
}

// EventListResult contains a page of journal entries.
type EventListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// EventRepository stores and queries device lifecycle events.
type EventRepository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter EventFilter) (*EventListResult, error)
}

const (
	defaultEventLimit = 50
	maxEventLimit     = 200

	// Fixed width so created_at sorts lexically.
	eventTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteEventRepository persists events in the device_events table.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository creates a new event repository.
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

// Create inserts an event. The ID and CreatedAt are generated if empty.
func (r *SQLiteEventRepository) Create(ctx context.Context, ev *Event) error {
	if ev.DeviceID == "" {
		return fmt.Errorf("event device id is required")
	}
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	var detailsJSON *string
	if ev.Details != nil {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshalling event details: %w", err)
		}
		s := string(b)
		detailsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_events (id, kind, device_id, device_name, device_type, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.DeviceID,
		nullableString(ev.DeviceName), nullableString(string(ev.DeviceType)),
		detailsJSON,
		ev.CreatedAt.UTC().Format(eventTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching the filter, most recent first.
func (r *SQLiteEventRepository) List(ctx context.Context, filter EventFilter) (*EventListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultEventLimit
	}
	if filter.Limit > maxEventLimit {
		filter.Limit = maxEventLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM device_events " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting device events: %w", err)
	}

	query := "SELECT id, kind, device_id, device_name, device_type, details, created_at FROM device_events " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var kind, createdAt string
		var name, devType, detailsJSON sql.NullString

		if err := rows.Scan(&ev.ID, &kind, &ev.DeviceID, &name, &devType, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		ev.Kind = EventKind(kind)
		ev.DeviceName = name.String
		ev.DeviceType = Type(devType.String)
		if detailsJSON.Valid && detailsJSON.String != "" {
			var details map[string]any
			if json.Unmarshal([]byte(detailsJSON.String), &details) == nil {
				ev.Details = details
			}
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", createdAt, err)
		}
		ev.CreatedAt = t
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}

	return &EventListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
