package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Sentinel timestamps keep patients sortable by the tracking extensions
// when no real value applies.  DeepPast stands in for "nothing scheduled",
// DeepFuture for "nothing awaiting follow-up".
var (
	DeepPast   = FHIRDateTime{Time: time.Date(1975, 1, 1, 0, 0, 0, 0, time.UTC)}
	DeepFuture = FHIRDateTime{Time: time.Date(5000, 1, 1, 0, 0, 0, 0, time.UTC)}
)

// FHIRDateTime wraps time.Time with whole-second equality semantics.
// FHIR servers truncate sub-second precision inconsistently, so two values
// are considered equal when they agree to second resolution.
type FHIRDateTime struct {
	time.Time
}

func NewFHIRDateTime(t time.Time) FHIRDateTime {
	return FHIRDateTime{Time: t}
}

// ParseFHIRDateTime accepts RFC3339 with or without sub-second precision.
func ParseFHIRDateTime(s string) (FHIRDateTime, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return FHIRDateTime{}, err
		}
	}
	return FHIRDateTime{Time: t}, nil
}

// Equal reports whether both values name the same instant at second
// resolution, regardless of zone representation.
func (d FHIRDateTime) Equal(other FHIRDateTime) bool {
	return d.Time.Truncate(time.Second).Equal(other.Time.Truncate(time.Second))
}

func (d FHIRDateTime) Before(other FHIRDateTime) bool {
	return d.Time.Before(other.Time)
}

func (d FHIRDateTime) After(other FHIRDateTime) bool {
	return d.Time.After(other.Time)
}

func (d FHIRDateTime) String() string {
	return d.Time.Format(time.RFC3339)
}

func (d FHIRDateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.Format(time.RFC3339))
}

func (d *FHIRDateTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseFHIRDateTime(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
