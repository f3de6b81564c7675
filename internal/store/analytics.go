package store

import (
	"context"
	"fmt"
	"time"
)

// GroupBy is the bucket granularity of an aggregation.
type GroupBy string

const (
	GroupByHour         GroupBy = "hour"
	GroupByDay          GroupBy = "day"
	GroupByWeek         GroupBy = "week"
	GroupByMonth        GroupBy = "month"
	GroupByActivityType GroupBy = "activityType"
)

// Valid reports whether g is a supported granularity.
func (g GroupBy) Valid() bool {
	_, ok := bucketKeyExpr[g]
	return ok
}

// bucketKeyExpr derives the bucket key from the fixed-width ts column.
// Week keys are Monday-first (%W), e.g. 2026-W41.
var bucketKeyExpr = map[GroupBy]string{
	GroupByHour:         `substr(ts, 1, 13)`,
	GroupByDay:          `substr(ts, 1, 10)`,
	GroupByWeek:         `strftime('%Y-W%W', substr(ts, 1, 19))`,
	GroupByMonth:        `substr(ts, 1, 7)`,
	GroupByActivityType: `type`,
}

// AggregateFilter restricts the events an aggregation sees.
// Start is inclusive and End is exclusive.
type AggregateFilter struct {
	UserID string
	Start  *time.Time
	End    *time.Time
}

// Bucket is one group of an aggregation.
type Bucket struct {
	Key            string `json:"key"`
	Count          int64  `json:"count"`
	UniqueUsers    int64  `json:"uniqueUsers"`
	UniqueSessions int64  `json:"uniqueSessions"`
}

// OverallStats summarizes the whole filtered set.
// SuccessRate only counts events whose activityData.success is a boolean.
type OverallStats struct {
	TotalActivities     int64   `json:"totalActivities"`
	UniqueUsers         int64   `json:"uniqueUsers"`
	UniqueSessions      int64   `json:"uniqueSessions"`
	UniqueActivityTypes int64   `json:"uniqueActivityTypes"`
	SuccessRate         float64 `json:"successRate"`
}

// AggregateResult holds buckets sorted by key descending plus overall stats.
type AggregateResult struct {
	Buckets      []Bucket     `json:"buckets"`
	OverallStats OverallStats `json:"overallStats"`
}

// Aggregate groups the filtered activities by g.
// Both queries read the same snapshot.
func (s *Store) Aggregate(ctx context.Context, f AggregateFilter, g GroupBy) (AggregateResult, error) {
	keyExpr, ok := bucketKeyExpr[g]
	if !ok {
		return AggregateResult{}, fmt.Errorf("%w: unsupported groupBy %q", ErrInvalidFilter, g)
	}
	if f.Start != nil && f.End != nil && !f.Start.Before(*f.End) {
		return AggregateResult{}, fmt.Errorf("%w: startDate must be before endDate", ErrInvalidFilter)
	}

	where, args := whereClause(f.UserID, "", "", f.Start, f.End)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	bucketQuery := `
SELECT ` + keyExpr + ` AS bucket_key,
       COUNT(*),
       COUNT(DISTINCT user_id),
       COUNT(DISTINCT session_id)
FROM activities` + where + `
GROUP BY bucket_key
ORDER BY bucket_key DESC`

	rows, err := tx.QueryContext(ctx, bucketQuery, args...)
	if err != nil {
		return AggregateResult{}, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	buckets := make([]Bucket, 0)
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Count, &b.UniqueUsers, &b.UniqueSessions); err != nil {
			return AggregateResult{}, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return AggregateResult{}, fmt.Errorf("rows error: %w", err)
	}

	overallQuery := `
SELECT COUNT(*),
       COUNT(DISTINCT user_id),
       COUNT(DISTINCT session_id),
       COUNT(DISTINCT type),
       COALESCE(SUM(CASE WHEN json_type(data_json, '$.success') = 'true' THEN 1 ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN json_type(data_json, '$.success') IN ('true', 'false') THEN 1 ELSE 0 END), 0)
FROM activities` + where

	var (
		stats              OverallStats
		successes, decided int64
	)
	if err := tx.QueryRowContext(ctx, overallQuery, args...).Scan(
		&stats.TotalActivities, &stats.UniqueUsers, &stats.UniqueSessions,
		&stats.UniqueActivityTypes, &successes, &decided,
	); err != nil {
		return AggregateResult{}, fmt.Errorf("query overall stats: %w", err)
	}
	if decided > 0 {
		stats.SuccessRate = float64(successes) / float64(decided)
	}

	return AggregateResult{Buckets: buckets, OverallStats: stats}, nil
}
