package event

import "fmt"

// Type is the activityType tag of an event.
type Type string

// Recognized activity types. The set is closed: anything else is rejected
// before it reaches the queue or the store.
const (
	TypeLogin            Type = "login"
	TypeLogout           Type = "logout"
	TypeSignup           Type = "signup"
	TypeSessionStart     Type = "session_start"
	TypePageView         Type = "page_view"
	TypeCitySearch       Type = "city_search"
	TypeCityViewed       Type = "city_viewed"
	TypeActivitySearch   Type = "activity_search"
	TypeActivityViewed   Type = "activity_viewed"
	TypeTripCreated      Type = "trip_created"
	TypeTripUpdated      Type = "trip_updated"
	TypeTripDeleted      Type = "trip_deleted"
	TypeTripViewed       Type = "trip_viewed"
	TypeTripShared       Type = "trip_shared"
	TypeItineraryUpdated Type = "itinerary_updated"
	TypeButtonClick      Type = "button_click"
	TypeFilterApplied    Type = "filter_applied"
	TypeAPICall          Type = "api_call"
	TypeErrorEncountered Type = "error_encountered"
)

var knownTypes = map[Type]struct{}{
	TypeLogin:            {},
	TypeLogout:           {},
	TypeSignup:           {},
	TypeSessionStart:     {},
	TypePageView:         {},
	TypeCitySearch:       {},
	TypeCityViewed:       {},
	TypeActivitySearch:   {},
	TypeActivityViewed:   {},
	TypeTripCreated:      {},
	TypeTripUpdated:      {},
	TypeTripDeleted:      {},
	TypeTripViewed:       {},
	TypeTripShared:       {},
	TypeItineraryUpdated: {},
	TypeButtonClick:      {},
	TypeFilterApplied:    {},
	TypeAPICall:          {},
	TypeErrorEncountered: {},
}

// Valid reports whether t is a recognized activity type.
func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// ParseType converts s to a Type, rejecting unrecognized values.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// ContentTypes are the content-view types ranked by the popular content query.
var ContentTypes = []Type{TypeCityViewed, TypeActivityViewed, TypeTripViewed}

// ContentNameField returns the activityData key holding the display name
// of the viewed entity, or "" for non content-view types.
func ContentNameField(t Type) string {
	switch t {
	case TypeCityViewed:
		return "cityName"
	case TypeActivityViewed:
		return "activityName"
	case TypeTripViewed:
		return "tripName"
	default:
		return ""
	}
}
