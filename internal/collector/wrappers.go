package collector

import (
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// TrackPageView records a page_view.
func (t *Tracker) TrackPageView(path, title, referrer string) bool {
	return t.Track(event.TypePageView, event.PageViewPayload{
		Path:     path,
		Title:    title,
		Referrer: referrer,
	})
}

// TrackSearch records a city_search or activity_search with its result count.
func (t *Tracker) TrackSearch(typ event.Type, query string, filters map[string]any, results int) bool {
	return t.Track(typ, event.SearchPayload{
		Query:   query,
		Filters: filters,
		Results: &results,
	})
}

// TrackContentView records a city, activity or trip view. The id and name
// land in the fields matching typ.
func (t *Tracker) TrackContentView(typ event.Type, id, name string) bool {
	var p event.ContentViewPayload
	switch typ {
	case event.TypeCityViewed:
		p.CityID, p.CityName = id, name
	case event.TypeActivityViewed:
		p.ActivityID, p.ActivityName = id, name
	case event.TypeTripViewed:
		p.TripID, p.TripName = id, name
	default:
		t.logger.Debug("not a content view type", "activity_type", string(typ))
		return false
	}
	return t.Track(typ, p)
}

// TrackClick records a button_click on element with optional extra fields.
func (t *Tracker) TrackClick(element string, extra event.Data) bool {
	return t.Track(event.TypeButtonClick, event.ClickPayload{
		Element: element,
		Extra:   extra,
	})
}

// TrackTripAction records a trip or itinerary mutation.
func (t *Tracker) TrackTripAction(typ event.Type, tripID, tripName string, success bool) bool {
	return t.Track(typ, event.TripActionPayload{
		TripID:   tripID,
		TripName: tripName,
		Success:  &success,
	})
}

// TrackError records error_encountered and flushes right away.
func (t *Tracker) TrackError(code, message string, extra event.Data) bool {
	return t.Track(event.TypeErrorEncountered, event.ErrorPayload{
		Code:    code,
		Message: message,
		Extra:   extra,
	}, Immediate())
}

// TrackAPICall records an outbound API call and its outcome.
func (t *Tracker) TrackAPICall(endpoint, method string, status int, latency time.Duration) bool {
	ms := float64(latency) / float64(time.Millisecond)
	ok := status >= 200 && status < 400
	return t.Track(event.TypeAPICall, event.APICallPayload{
		Endpoint:   endpoint,
		Method:     method,
		StatusCode: &status,
		LatencyMs:  &ms,
		Success:    &ok,
	})
}

// TrackLogin records a login attempt. On success the user binding is set
// first so the login event itself carries the user id.
func (t *Tracker) TrackLogin(userID, method string, success bool) bool {
	if success {
		t.SetUserID(userID)
	}
	return t.Track(event.TypeLogin, event.AuthPayload{
		Method:  method,
		Success: &success,
	}, Immediate())
}

// TrackLogout records a logout and then clears the user binding.
func (t *Tracker) TrackLogout() bool {
	ok := t.Track(event.TypeLogout, nil, Immediate())
	t.ClearUserID()
	return ok
}
