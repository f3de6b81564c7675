package store

import (
	"context"
	"fmt"
	"time"
)

// PurgeOlderThan deletes every activity with a timestamp before cutoff in a
// single statement and returns the number of rows removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activities WHERE ts < ?`,
		cutoff.UTC().Format(TimeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("purge activities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// PurgeAll deletes every activity regardless of timestamp.
func (s *Store) PurgeAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activities`)
	if err != nil {
		return 0, fmt.Errorf("purge all activities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
