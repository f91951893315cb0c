package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeekHours is a business's weekly opening schedule, parsed from the catalog's
// working-hours string, e.g. "Mon-Fri 9:00-17:00" or
// "Mon-Fri 9:00-17:00, Sat 10:00-14:00". Days without a clause are closed.
type WeekHours struct {
	days [7]dayWindow // indexed by time.Weekday (Sunday = 0)
}

type dayWindow struct {
	open  time.Duration // offset from midnight
	close time.Duration
	set   bool
}

// Window returns the open/close offsets from midnight for the given weekday.
// ok is false when the business is closed that day.
func (w WeekHours) Window(day time.Weekday) (open, close time.Duration, ok bool) {
	d := w.days[day]
	return d.open, d.close, d.set
}

var dayNames = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// ParseWorkingHours parses a comma-separated list of clauses, each
// "<Day> <HH:MM>-<HH:MM>" or "<Day>-<Day> <HH:MM>-<HH:MM>". Day ranges are
// inclusive and may wrap the week end ("Sat-Mon"). A weekday may appear in at
// most one clause.
func ParseWorkingHours(spec string) (WeekHours, error) {
	var week WeekHours
	clauses := strings.Split(spec, ",")
	parsedAny := false
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		fields := strings.Fields(clause)
		if len(fields) != 2 {
			return WeekHours{}, fmt.Errorf("working hours: malformed clause %q", clause)
		}

		days, err := parseDayRange(fields[0])
		if err != nil {
			return WeekHours{}, err
		}
		open, close, err := parseClockRange(fields[1])
		if err != nil {
			return WeekHours{}, err
		}

		for _, day := range days {
			if week.days[day].set {
				return WeekHours{}, fmt.Errorf("working hours: duplicate weekday %s", day)
			}
			week.days[day] = dayWindow{open: open, close: close, set: true}
		}
		parsedAny = true
	}
	if !parsedAny {
		return WeekHours{}, fmt.Errorf("working hours: empty specification")
	}
	return week, nil
}

func parseDayRange(s string) ([]time.Weekday, error) {
	from, to, isRange := strings.Cut(s, "-")
	start, ok := dayNames[strings.ToLower(from)]
	if !ok {
		return nil, fmt.Errorf("working hours: unknown day %q", from)
	}
	if !isRange {
		return []time.Weekday{start}, nil
	}
	end, ok := dayNames[strings.ToLower(to)]
	if !ok {
		return nil, fmt.Errorf("working hours: unknown day %q", to)
	}

	days := []time.Weekday{start}
	for d := start; d != end; {
		d = (d + 1) % 7
		days = append(days, d)
	}
	return days, nil
}

func parseClockRange(s string) (open, close time.Duration, err error) {
	fromStr, toStr, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, fmt.Errorf("working hours: malformed time range %q", s)
	}
	open, err = parseClock(fromStr)
	if err != nil {
		return 0, 0, err
	}
	close, err = parseClock(toStr)
	if err != nil {
		return 0, 0, err
	}
	if close <= open {
		return 0, 0, fmt.Errorf("working hours: closing time %q not after opening time %q", toStr, fromStr)
	}
	return open, close, nil
}

func parseClock(s string) (time.Duration, error) {
	hStr, mStr, found := strings.Cut(s, ":")
	if !found {
		return 0, fmt.Errorf("working hours: malformed time %q", s)
	}
	h, err := strconv.Atoi(hStr)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("working hours: bad hour in %q", s)
	}
	m, err := strconv.Atoi(mStr)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("working hours: bad minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
