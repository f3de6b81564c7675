// Package event provides the shared ActivityEvent model.
// It is used by the collector on the client side and by ingest, store and api on the server side.
package event

import (
	"time"
)

// Event is one recorded unit of user or system behavior.
// Once persisted it is never updated; only bulk deletion by age removes it.
type Event struct {
	ID         int64            `json:"id,omitempty"`
	Type       Type             `json:"activityType"`
	Data       Data             `json:"activityData,omitempty"`
	SessionID  string           `json:"sessionId"`
	UserID     *string          `json:"userId,omitempty"`
	Device     *DeviceContext   `json:"deviceInfo,omitempty"`
	Location   *LocationContext `json:"location,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	IngestedAt time.Time        `json:"ingestedAt,omitzero"`
}

// DeviceContext is a snapshot of the collecting host at collection time.
type DeviceContext struct {
	Platform       string `json:"platform,omitempty"`
	OS             string `json:"os,omitempty"`
	Arch           string `json:"arch,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
	ScreenWidth    int    `json:"screenWidth,omitempty"`
	ScreenHeight   int    `json:"screenHeight,omitempty"`
	Language       string `json:"language,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	Hostname       string `json:"hostname,omitempty"`
}

// LocationContext is a best-effort coarse geolocation.
type LocationContext struct {
	IP        string   `json:"ip,omitempty"`
	Country   string   `json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// IsZero reports whether no location field is set.
func (l *LocationContext) IsZero() bool {
	return l == nil || (l.IP == "" && l.Country == "" && l.City == "" && l.Latitude == nil && l.Longitude == nil)
}

// StringPtr returns a pointer to the given string.
// Useful for setting optional fields.
func StringPtr(s string) *string {
	return &s
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}
