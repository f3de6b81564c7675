package collector

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// Marker keys added to activityData that exceeded the size cap.
const (
	TruncatedKey     = "_truncated"
	OriginalBytesKey = "_originalBytes"
)

// capData returns d unchanged if its JSON encoding fits in max bytes.
// Otherwise it returns a copy holding the marker keys plus as many of the
// original keys, in sorted order, as still fit.
func capData(d event.Data, max int) (event.Data, bool, error) {
	if len(d) == 0 {
		return d, false, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, false, fmt.Errorf("encode activity data: %w", err)
	}
	if len(raw) <= max {
		return d, false, nil
	}

	out := event.Data{
		TruncatedKey:     true,
		OriginalBytesKey: len(raw),
	}
	base, _ := json.Marshal(out)
	size := len(base)

	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, reserved := out[k]; reserved {
			continue
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(d[k])
		if err != nil {
			continue
		}
		// key, colon, value and the separating comma
		add := len(kb) + 1 + len(vb) + 1
		if size+add > max {
			continue
		}
		out[k] = d[k]
		size += add
	}
	return out, true, nil
}
