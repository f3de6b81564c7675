package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

const insertActivitySQL = `
INSERT INTO activities
(ts, type, session_id, user_id, data_json, device_json, location_json, ingested_at, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertActivity inserts a single event and sets e.ID to the new row id.
func (s *Store) InsertActivity(ctx context.Context, e *event.Event) (int64, error) {
	return insertActivity(ctx, s.db, e)
}

// InsertActivities inserts events in one transaction and sets each ID.
// Either all events are stored or none are.
func (s *Store) InsertActivities(ctx context.Context, events []*event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertActivitySQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if err := validateEvent(e); err != nil {
			return 0, err
		}
		row, err := eventToRow(e)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, row.args()...)
		if err != nil {
			return 0, fmt.Errorf("insert activity: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
		e.ID = id
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(events), nil
}

func insertActivity(ctx context.Context, db execer, e *event.Event) (int64, error) {
	if err := validateEvent(e); err != nil {
		return 0, err
	}
	row, err := eventToRow(e)
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, insertActivitySQL, row.args()...)
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return id, nil
}

func (r *activityRow) args() []any {
	return []any{
		r.Ts, r.Type, r.SessionID, r.UserID,
		r.DataJSON, r.DeviceJSON, r.LocationJSON,
		r.IngestedAt, r.SchemaVersion,
	}
}

// SortOrder is the timestamp ordering of a listing.
type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// ListFilter selects a page of activities.
// Start is inclusive and End is exclusive.
type ListFilter struct {
	UserID    string
	Type      event.Type
	SessionID string
	Start     *time.Time
	End       *time.Time
	Page      int
	Limit     int
	Sort      SortOrder
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	Pages   int64 `json:"pages"`
	HasNext bool  `json:"hasNext"`
}

// ListResult is one page of activities.
type ListResult struct {
	Items      []event.Event `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

func (f *ListFilter) normalize() error {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	} else if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	switch f.Sort {
	case "":
		f.Sort = SortDesc
	case SortAsc, SortDesc:
	default:
		return fmt.Errorf("%w: sort must be asc or desc", ErrInvalidFilter)
	}
	if f.Start != nil && f.End != nil && !f.Start.Before(*f.End) {
		return fmt.Errorf("%w: startDate must be before endDate", ErrInvalidFilter)
	}
	return nil
}

// whereClause builds the shared filter predicate for listing and aggregation.
func whereClause(userID string, typ event.Type, sessionID string, start, end *time.Time) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(" WHERE 1=1")
	if userID != "" {
		sb.WriteString(" AND user_id = ?")
		args = append(args, userID)
	}
	if typ != "" {
		sb.WriteString(" AND type = ?")
		args = append(args, string(typ))
	}
	if sessionID != "" {
		sb.WriteString(" AND session_id = ?")
		args = append(args, sessionID)
	}
	if start != nil {
		sb.WriteString(" AND ts >= ?")
		args = append(args, start.UTC().Format(TimeFormat))
	}
	if end != nil {
		sb.WriteString(" AND ts < ?")
		args = append(args, end.UTC().Format(TimeFormat))
	}
	return sb.String(), args
}

// ListActivities returns one page of activities matching f.
func (s *Store) ListActivities(ctx context.Context, f ListFilter) (ListResult, error) {
	if err := f.normalize(); err != nil {
		return ListResult{}, err
	}

	where, args := whereClause(f.UserID, f.Type, f.SessionID, f.Start, f.End)

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities"+where, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count activities: %w", err)
	}

	order := " ORDER BY ts DESC, id DESC"
	if f.Sort == SortAsc {
		order = " ORDER BY ts ASC, id ASC"
	}
	query := "SELECT " + activityColumns + " FROM activities" + where + order + " LIMIT ? OFFSET ?"
	pageArgs := append(append([]any{}, args...), f.Limit, (f.Page-1)*f.Limit)

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	items := make([]event.Event, 0, f.Limit)
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return ListResult{}, err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("rows error: %w", err)
	}

	pages := (total + int64(f.Limit) - 1) / int64(f.Limit)
	return ListResult{
		Items: items,
		Pagination: Pagination{
			Page:    f.Page,
			Limit:   f.Limit,
			Total:   total,
			Pages:   pages,
			HasNext: int64(f.Page) < pages,
		},
	}, nil
}

// ActivitiesAfter returns up to limit activities strictly after cursor in
// (ts, id) order. An empty cursor starts from the beginning.
// The returned cursor points at the last item, or echoes the input when
// nothing new was found.
func (s *Store) ActivitiesAfter(ctx context.Context, cursor string, limit int) ([]event.Event, string, error) {
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	query := "SELECT " + activityColumns + " FROM activities"
	var args []any
	if cursor != "" {
		ts, id, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		tsStr := ts.UTC().Format(TimeFormat)
		query += " WHERE (ts > ? OR (ts = ? AND id > ?))"
		args = append(args, tsStr, tsStr, id)
	}
	query += " ORDER BY ts ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("query activities after cursor: %w", err)
	}
	defer rows.Close()

	var items []event.Event
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, "", err
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("rows error: %w", err)
	}

	next := cursor
	if len(items) > 0 {
		last := items[len(items)-1]
		next = EncodeCursor(last.Timestamp, last.ID)
	}
	return items, next, nil
}

// LastActivityTime returns the timestamp of the most recent activity.
// Returns zero time if no activities exist.
func (s *Store) LastActivityTime(ctx context.Context) (time.Time, error) {
	const query = `SELECT ts FROM activities ORDER BY ts DESC, id DESC LIMIT 1`

	var ts string
	err := s.db.QueryRowContext(ctx, query).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last activity time: %w", err)
	}

	t, err := time.Parse(TimeFormat, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t, nil
}

// CountActivities returns the total number of stored activities.
func (s *Store) CountActivities(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM activities`

	var count int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return count, nil
}
