package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// activityRow is the internal type representing a database row.
type activityRow struct {
	ID            int64
	Ts            string
	Type          string
	SessionID     string
	UserID        sql.NullString
	DataJSON      string
	DeviceJSON    sql.NullString
	LocationJSON  sql.NullString
	IngestedAt    string
	SchemaVersion int
}

const activityColumns = `id, ts, type, session_id, user_id, data_json, device_json, location_json, ingested_at, schema_version`

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(sc scanner) (*event.Event, error) {
	var r activityRow
	if err := sc.Scan(
		&r.ID, &r.Ts, &r.Type, &r.SessionID, &r.UserID,
		&r.DataJSON, &r.DeviceJSON, &r.LocationJSON,
		&r.IngestedAt, &r.SchemaVersion,
	); err != nil {
		return nil, fmt.Errorf("scan activity: %w", err)
	}
	return r.toEvent()
}

// toEvent converts a database row to an Event.
func (r *activityRow) toEvent() (*event.Event, error) {
	ts, err := time.Parse(TimeFormat, r.Ts)
	if err != nil {
		return nil, fmt.Errorf("parse ts %q: %w", r.Ts, err)
	}

	ingestedAt, err := time.Parse(TimeFormat, r.IngestedAt)
	if err != nil {
		return nil, fmt.Errorf("parse ingested_at %q: %w", r.IngestedAt, err)
	}

	e := &event.Event{
		ID:         r.ID,
		Type:       event.Type(r.Type),
		SessionID:  r.SessionID,
		Timestamp:  ts,
		IngestedAt: ingestedAt,
	}

	if r.UserID.Valid {
		e.UserID = &r.UserID.String
	}
	if r.DataJSON != "" && r.DataJSON != "{}" {
		if err := json.Unmarshal([]byte(r.DataJSON), &e.Data); err != nil {
			return nil, fmt.Errorf("decode data_json for id %d: %w", r.ID, err)
		}
	}
	if r.DeviceJSON.Valid && r.DeviceJSON.String != "" {
		var d event.DeviceContext
		if err := json.Unmarshal([]byte(r.DeviceJSON.String), &d); err != nil {
			return nil, fmt.Errorf("decode device_json for id %d: %w", r.ID, err)
		}
		e.Device = &d
	}
	if r.LocationJSON.Valid && r.LocationJSON.String != "" {
		var l event.LocationContext
		if err := json.Unmarshal([]byte(r.LocationJSON.String), &l); err != nil {
			return nil, fmt.Errorf("decode location_json for id %d: %w", r.ID, err)
		}
		e.Location = &l
	}

	return e, nil
}

// eventToRow converts an Event to a database row.
func eventToRow(e *event.Event) (*activityRow, error) {
	r := &activityRow{
		ID:            e.ID,
		Ts:            e.Timestamp.UTC().Format(TimeFormat),
		Type:          string(e.Type),
		SessionID:     e.SessionID,
		DataJSON:      "{}",
		IngestedAt:    e.IngestedAt.UTC().Format(TimeFormat),
		SchemaVersion: CurrentSchemaVersion,
	}

	if e.UserID != nil {
		r.UserID = sql.NullString{String: *e.UserID, Valid: true}
	}
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: encode activityData: %v", ErrInvalidEvent, err)
		}
		r.DataJSON = string(b)
	}
	if e.Device != nil {
		b, err := json.Marshal(e.Device)
		if err != nil {
			return nil, fmt.Errorf("%w: encode deviceInfo: %v", ErrInvalidEvent, err)
		}
		r.DeviceJSON = sql.NullString{String: string(b), Valid: true}
	}
	if !e.Location.IsZero() {
		b, err := json.Marshal(e.Location)
		if err != nil {
			return nil, fmt.Errorf("%w: encode location: %v", ErrInvalidEvent, err)
		}
		r.LocationJSON = sql.NullString{String: string(b), Valid: true}
	}

	return r, nil
}

// validateEvent checks that required fields are set.
func validateEvent(e *event.Event) error {
	if e.Type == "" {
		return fmt.Errorf("%w: activityType is required", ErrInvalidEvent)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown activityType %q", ErrInvalidEvent, e.Type)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	if e.IngestedAt.IsZero() {
		return fmt.Errorf("%w: ingestedAt is required", ErrInvalidEvent)
	}
	return nil
}
