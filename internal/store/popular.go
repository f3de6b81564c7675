package store

import (
	"context"
	"fmt"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// PopularItem is one ranked content entry.
type PopularItem struct {
	Name        string `json:"name"`
	Views       int64  `json:"views"`
	UniqueUsers int64  `json:"uniqueUsers"`
}

// PopularResult holds the three independent top-N lists.
type PopularResult struct {
	Cities     []PopularItem `json:"popularCities"`
	Activities []PopularItem `json:"popularActivities"`
	Trips      []PopularItem `json:"popularTrips"`
}

// contentNameExpr picks the display name of the viewed entity, falling back
// to its id when the name is absent.
const contentNameExpr = `CAST(CASE type
	WHEN 'city_viewed'     THEN COALESCE(json_extract(data_json, '$.cityName'), json_extract(data_json, '$.cityId'))
	WHEN 'activity_viewed' THEN COALESCE(json_extract(data_json, '$.activityName'), json_extract(data_json, '$.activityId'))
	WHEN 'trip_viewed'     THEN COALESCE(json_extract(data_json, '$.tripName'), json_extract(data_json, '$.tripId'))
END AS TEXT)`

// PopularContent ranks viewed cities, activities and trips since the given
// time. Each list holds at most limit entries ordered by views descending,
// then name ascending.
func (s *Store) PopularContent(ctx context.Context, since time.Time, limit int) (PopularResult, error) {
	if limit <= 0 {
		return PopularResult{}, fmt.Errorf("%w: limit must be positive", ErrInvalidFilter)
	}

	query := `
SELECT type,
       ` + contentNameExpr + ` AS content_name,
       COUNT(*) AS views,
       COUNT(DISTINCT user_id)
FROM activities
WHERE type IN (?, ?, ?) AND ts >= ?
GROUP BY type, content_name
HAVING content_name IS NOT NULL AND content_name <> ''
ORDER BY type, views DESC, content_name ASC`

	rows, err := s.db.QueryContext(ctx, query,
		string(event.TypeCityViewed),
		string(event.TypeActivityViewed),
		string(event.TypeTripViewed),
		since.UTC().Format(TimeFormat),
	)
	if err != nil {
		return PopularResult{}, fmt.Errorf("query popular content: %w", err)
	}
	defer rows.Close()

	result := PopularResult{
		Cities:     make([]PopularItem, 0),
		Activities: make([]PopularItem, 0),
		Trips:      make([]PopularItem, 0),
	}
	for rows.Next() {
		var (
			typ  string
			item PopularItem
		)
		if err := rows.Scan(&typ, &item.Name, &item.Views, &item.UniqueUsers); err != nil {
			return PopularResult{}, fmt.Errorf("scan popular content: %w", err)
		}
		var list *[]PopularItem
		switch event.Type(typ) {
		case event.TypeCityViewed:
			list = &result.Cities
		case event.TypeActivityViewed:
			list = &result.Activities
		case event.TypeTripViewed:
			list = &result.Trips
		default:
			continue
		}
		if len(*list) < limit {
			*list = append(*list, item)
		}
	}
	if err := rows.Err(); err != nil {
		return PopularResult{}, fmt.Errorf("rows error: %w", err)
	}

	return result, nil
}
