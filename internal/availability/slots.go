// Package availability computes bookable slots for an employee's day from the
// business's working hours and the existing non-canceled appointments. It is
// pure: wall-clock time is an input, and nothing here touches storage.
package availability

import (
	"iter"
	"time"
)

// SlotDuration is the fixed booking granularity.
const SlotDuration = time.Hour

// Slot is one candidate interval start within the business's open hours.
type Slot struct {
	Start     time.Time
	Available bool
}

// Slots yields the (start, available) sequence for the weekday of date. The
// sequence is lazy, finite, and restartable: ranging over it twice replays the
// same slots.
//
// A slot is unavailable when it does not start strictly after now (the slot at
// the exact current instant is already gone) or when it overlaps a busy
// appointment. A closed weekday yields an empty sequence. All arguments are
// zone-less business-local timestamps.
func Slots(hours WeekHours, date time.Time, busy []time.Time, now time.Time) iter.Seq2[time.Time, bool] {
	return func(yield func(time.Time, bool) bool) {
		open, close, ok := hours.Window(date.Weekday())
		if !ok {
			return
		}
		midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		windowEnd := midnight.Add(close)
		for start := midnight.Add(open); !start.Add(SlotDuration).After(windowEnd); start = start.Add(SlotDuration) {
			available := start.After(now) && !overlapsAny(start, busy)
			if !yield(start, available) {
				return
			}
		}
	}
}

// IsBookable reports whether start is an open slot: on the slot grid of the
// weekday's window and currently available. The grid anchors on the window's
// open time, so a 9:30 window yields 9:30, 10:30, ... starts.
func IsBookable(hours WeekHours, start time.Time, busy []time.Time, now time.Time) bool {
	for slot, available := range Slots(hours, start, busy, now) {
		if slot.Equal(start) {
			return available
		}
	}
	return false
}

// CollectSlots materializes the sequence, for handlers and tests.
func CollectSlots(seq iter.Seq2[time.Time, bool]) []Slot {
	var out []Slot
	for start, available := range seq {
		out = append(out, Slot{Start: start, Available: available})
	}
	return out
}

func overlapsAny(start time.Time, busy []time.Time) bool {
	end := start.Add(SlotDuration)
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b,b+1h) iff start < b+1h && b < end.
		if start.Before(b.Add(SlotDuration)) && b.Before(end) {
			return true
		}
	}
	return false
}
