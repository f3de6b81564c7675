package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Errors returned by type and payload parsing.
var (
	ErrUnknownType    = errors.New("unknown activity type")
	ErrInvalidPayload = errors.New("invalid activity data")
)

// Payload is the activityData of an event.
// Data is the generic form; the typed variants below carry the known
// optional fields of one activity type and keep unknown keys in Extra.
type Payload interface {
	Fields() Data
}

// Data is the open key-value form of activityData as it travels on the wire.
type Data map[string]any

// Fields implements Payload.
func (d Data) Fields() Data { return d }

// PageViewPayload is the activityData of page_view.
type PageViewPayload struct {
	Path       string `json:"path,omitempty"`
	Title      string `json:"title,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	DurationMs *int64 `json:"durationMs,omitempty"`
	Extra      Data   `json:"-"`
}

// SearchPayload is the activityData of city_search, activity_search and filter_applied.
type SearchPayload struct {
	Query   string         `json:"searchQuery,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	Results *int           `json:"searchResults,omitempty"`
	Success *bool          `json:"success,omitempty"`
	Extra   Data           `json:"-"`
}

// ContentViewPayload is the activityData of city_viewed, activity_viewed and trip_viewed.
type ContentViewPayload struct {
	CityID       string `json:"cityId,omitempty"`
	CityName     string `json:"cityName,omitempty"`
	ActivityID   string `json:"activityId,omitempty"`
	ActivityName string `json:"activityName,omitempty"`
	TripID       string `json:"tripId,omitempty"`
	TripName     string `json:"tripName,omitempty"`
	Extra        Data   `json:"-"`
}

// TripActionPayload is the activityData of trip and itinerary mutations.
type TripActionPayload struct {
	TripID   string `json:"tripId,omitempty"`
	TripName string `json:"tripName,omitempty"`
	CityID   string `json:"cityId,omitempty"`
	CityName string `json:"cityName,omitempty"`
	Action   string `json:"action,omitempty"`
	Success  *bool  `json:"success,omitempty"`
	Extra    Data   `json:"-"`
}

// ClickPayload is the activityData of button_click.
type ClickPayload struct {
	Element string   `json:"element,omitempty"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
	Extra   Data     `json:"-"`
}

// ErrorPayload is the activityData of error_encountered.
type ErrorPayload struct {
	Code    string `json:"errorCode,omitempty"`
	Message string `json:"errorMessage,omitempty"`
	Extra   Data   `json:"-"`
}

// APICallPayload is the activityData of api_call.
type APICallPayload struct {
	Endpoint   string   `json:"endpoint,omitempty"`
	Method     string   `json:"method,omitempty"`
	StatusCode *int     `json:"statusCode,omitempty"`
	LatencyMs  *float64 `json:"latencyMs,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	Extra      Data     `json:"-"`
}

// AuthPayload is the activityData of login, logout, signup and session_start.
type AuthPayload struct {
	Method  string `json:"method,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Extra   Data   `json:"-"`
}

func (p PageViewPayload) Fields() Data    { return structFields(p, p.Extra) }
func (p SearchPayload) Fields() Data      { return structFields(p, p.Extra) }
func (p ContentViewPayload) Fields() Data { return structFields(p, p.Extra) }
func (p TripActionPayload) Fields() Data  { return structFields(p, p.Extra) }
func (p ClickPayload) Fields() Data       { return structFields(p, p.Extra) }
func (p ErrorPayload) Fields() Data       { return structFields(p, p.Extra) }
func (p APICallPayload) Fields() Data     { return structFields(p, p.Extra) }
func (p AuthPayload) Fields() Data        { return structFields(p, p.Extra) }

// DecodePayload returns the typed variant for t populated from d.
// Types without a variant decode to d itself. A known field holding a
// value of the wrong JSON kind yields ErrInvalidPayload.
func DecodePayload(t Type, d Data) (Payload, error) {
	switch t {
	case TypePageView:
		var p PageViewPayload
		return decodeInto(&p, &p.Extra, d)
	case TypeCitySearch, TypeActivitySearch, TypeFilterApplied:
		var p SearchPayload
		return decodeInto(&p, &p.Extra, d)
	case TypeCityViewed, TypeActivityViewed, TypeTripViewed:
		var p ContentViewPayload
		return decodeInto(&p, &p.Extra, d)
	case TypeTripCreated, TypeTripUpdated, TypeTripDeleted, TypeTripShared, TypeItineraryUpdated:
		var p TripActionPayload
		return decodeInto(&p, &p.Extra, d)
	case TypeButtonClick:
		var p ClickPayload
		return decodeInto(&p, &p.Extra, d)
	case TypeErrorEncountered:
		var p ErrorPayload
		return decodeInto(&p, &p.Extra, d)
	case TypeAPICall:
		var p APICallPayload
		return decodeInto(&p, &p.Extra, d)
	case TypeLogin, TypeLogout, TypeSignup, TypeSessionStart:
		var p AuthPayload
		return decodeInto(&p, &p.Extra, d)
	default:
		return d, nil
	}
}

// decodeInto fills dst (a pointer to a variant) from d and stores keys the
// variant does not declare in extra.
func decodeInto[P interface{ Fields() Data }](dst *P, extra *Data, d Data) (Payload, error) {
	if len(d) == 0 {
		return *dst, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	known := jsonFieldNames(reflect.TypeOf(*dst))
	for k, v := range d {
		if _, ok := known[k]; ok {
			continue
		}
		if *extra == nil {
			*extra = Data{}
		}
		(*extra)[k] = v
	}
	return *dst, nil
}

// structFields flattens a variant into Data; declared fields win over extra keys.
func structFields(v any, extra Data) Data {
	out := Data{}
	for k, val := range extra {
		out[k] = val
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return out
	}
	var declared map[string]any
	if err := json.Unmarshal(raw, &declared); err != nil {
		return out
	}
	for k, val := range declared {
		out[k] = val
	}
	return out
}

func jsonFieldNames(t reflect.Type) map[string]struct{} {
	names := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		names[name] = struct{}{}
	}
	return names
}
