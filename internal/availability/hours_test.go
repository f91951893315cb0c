package availability

import (
	"testing"
	"time"
)

func TestParseWorkingHoursWeekdayRange(t *testing.T) {
	week, err := ParseWorkingHours("Mon-Fri 9:00-17:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	open, close, ok := week.Window(time.Wednesday)
	if !ok {
		t.Fatal("Wednesday should be open")
	}
	if open != 9*time.Hour || close != 17*time.Hour {
		t.Fatalf("window = %v-%v, want 9h-17h", open, close)
	}

	if _, _, ok := week.Window(time.Saturday); ok {
		t.Fatal("Saturday should be closed")
	}
	if _, _, ok := week.Window(time.Sunday); ok {
		t.Fatal("Sunday should be closed")
	}
}

func TestParseWorkingHoursMultipleClauses(t *testing.T) {
	week, err := ParseWorkingHours("Mon-Fri 9:00-17:00, Sat 10:00-14:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	open, close, ok := week.Window(time.Saturday)
	if !ok || open != 10*time.Hour || close != 14*time.Hour {
		t.Fatalf("Saturday window = %v-%v (%v), want 10h-14h", open, close, ok)
	}
}

func TestParseWorkingHoursWrappingRange(t *testing.T) {
	week, err := ParseWorkingHours("Sat-Mon 10:00-16:00")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, day := range []time.Weekday{time.Saturday, time.Sunday, time.Monday} {
		if _, _, ok := week.Window(day); !ok {
			t.Fatalf("%s should be open", day)
		}
	}
	if _, _, ok := week.Window(time.Tuesday); ok {
		t.Fatal("Tuesday should be closed")
	}
}

func TestParseWorkingHoursErrors(t *testing.T) {
	cases := []struct {
		name string
		spec string
	}{
		{"empty", ""},
		{"missing hours", "Mon-Fri"},
		{"unknown day", "Funday 9:00-17:00"},
		{"close before open", "Mon 17:00-9:00"},
		{"close equals open", "Mon 9:00-9:00"},
		{"duplicate day", "Mon-Fri 9:00-17:00, Wed 10:00-12:00"},
		{"bad hour", "Mon 25:00-26:00"},
		{"bad minute", "Mon 9:61-17:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseWorkingHours(tc.spec); err == nil {
				t.Fatalf("ParseWorkingHours(%q) accepted a malformed spec", tc.spec)
			}
		})
	}
}
