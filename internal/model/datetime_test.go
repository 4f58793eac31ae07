package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseFHIRDateTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
		err  bool
	}{
		{in: "2024-03-01T12:30:45Z", want: time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)},
		{in: "2024-03-01T12:30:45.123456Z", want: time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.UTC)},
		{in: "2024-03-01T12:30:45-08:00", want: time.Date(2024, 3, 1, 12, 30, 45, 0, time.FixedZone("", -8*3600))},
		{in: "not a date", err: true},
		{in: "", err: true},
	}
	for _, tc := range cases {
		got, err := ParseFHIRDateTime(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("ParseFHIRDateTime(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFHIRDateTime(%q): %v", tc.in, err)
			continue
		}
		if !got.Time.Equal(tc.want) {
			t.Errorf("ParseFHIRDateTime(%q) = %v, want %v", tc.in, got.Time, tc.want)
		}
	}
}

func TestEqualIgnoresSubSecond(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	a := NewFHIRDateTime(base)
	b := NewFHIRDateTime(base.Add(900 * time.Millisecond))
	c := NewFHIRDateTime(base.Add(time.Second))

	if !a.Equal(b) {
		t.Errorf("timestamps differing only in sub-second precision should be equal")
	}
	if a.Equal(c) {
		t.Errorf("timestamps a full second apart should not be equal")
	}
}

func TestSentinelOrdering(t *testing.T) {
	now := NewFHIRDateTime(time.Now())
	if !DeepPast.Before(now) {
		t.Errorf("DeepPast should precede any real timestamp")
	}
	if !DeepFuture.After(now) {
		t.Errorf("DeepFuture should follow any real timestamp")
	}
}

func TestFHIRDateTimeJSONRoundTrip(t *testing.T) {
	orig := NewFHIRDateTime(time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC))
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back FHIRDateTime
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	if !back.Equal(orig) {
		t.Errorf("round trip changed value: %v -> %v", orig, back)
	}
}
