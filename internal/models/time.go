package models

import (
	"encoding/json"
	"time"

	"github.com/invopop/jsonschema"
)

// Time is a timestamp persisted in metadata files.
//
// It is always written as RFC 3339 in UTC. On read it also accepts the zone-less
// layout with 7 fractional digits found in book.json files written by older
// tools. Zone-less values are interpreted as UTC.
type Time struct {
	time.Time
}

// legacyLayouts are tried in order after RFC 3339.
var legacyLayouts = []string{
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

// Now returns the current time truncated to milliseconds.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Millisecond)}
}

// ToTime converts a time.Time to a Time.
func ToTime(v time.Time) Time {
	return Time{v.UTC()}
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`"0001-01-01T00:00:00Z"`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	v, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		t.Time = v.UTC()
		return nil
	}
	for _, layout := range legacyLayouts {
		if v, err2 := time.ParseInLocation(layout, s, time.UTC); err2 == nil {
			t.Time = v
			return nil
		}
	}
	return err
}

// JSONSchema describes Time as a date-time string.
func (Time) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Format: "date-time"}
}
