package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.createActivitiesTable(ctx); err != nil {
		return err
	}
	if err := s.createMetadataTable(ctx); err != nil {
		return err
	}
	return nil
}

// createActivitiesTable creates the append-only event table.
// Composite indexes serve the per-user, per-type and per-session range
// queries; the expression indexes serve lookups on entity fields inside
// activityData.
func (s *Store) createActivitiesTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS activities (
		id             INTEGER PRIMARY KEY,
		ts             TEXT NOT NULL,
		type           TEXT NOT NULL,
		session_id     TEXT NOT NULL,
		user_id        TEXT,
		data_json      TEXT NOT NULL DEFAULT '{}' CHECK (json_valid(data_json)),
		device_json    TEXT,
		location_json  TEXT,
		ingested_at    TEXT NOT NULL,
		schema_version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_ts ON activities(ts);
	CREATE INDEX IF NOT EXISTS idx_activities_user_ts ON activities(user_id, ts);
	CREATE INDEX IF NOT EXISTS idx_activities_type_ts ON activities(type, ts);
	CREATE INDEX IF NOT EXISTS idx_activities_session_ts ON activities(session_id, ts);
	CREATE INDEX IF NOT EXISTS idx_activities_city_id ON activities(json_extract(data_json, '$.cityId'));
	CREATE INDEX IF NOT EXISTS idx_activities_city_name ON activities(json_extract(data_json, '$.cityName'));
	CREATE INDEX IF NOT EXISTS idx_activities_activity_id ON activities(json_extract(data_json, '$.activityId'));
	CREATE INDEX IF NOT EXISTS idx_activities_activity_name ON activities(json_extract(data_json, '$.activityName'));
	CREATE INDEX IF NOT EXISTS idx_activities_trip_id ON activities(json_extract(data_json, '$.tripId'));
	CREATE INDEX IF NOT EXISTS idx_activities_trip_name ON activities(json_extract(data_json, '$.tripName'));
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create activities table: %w", err)
	}
	return nil
}

func (s *Store) createMetadataTable(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create metadata table: %w", err)
	}
	return nil
}
