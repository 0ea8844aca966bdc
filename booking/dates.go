package booking

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekday(day string) (time.Weekday, error) {
	wd, ok := weekdays[normalize(day)]
	if !ok {
		return 0, fmt.Errorf("%q is not a weekday", day)
	}
	return wd, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns
// midnight UTC of that day.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("%q is not a date", s)
		}
	}
	return dayOf(t), nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// advanceOccurrences walks forward from `from` one calendar day at a time and
// returns the date of the n-th day that falls on wd. `from` itself is never
// counted, and n <= 0 returns `from` unchanged.
func advanceOccurrences(from time.Time, wd time.Weekday, n int) time.Time {
	d := from
	for count := 0; count < n; {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == wd {
			count++
		}
	}
	return d
}

// EndDate computes the last session of a series of timePeriod weekly sessions
// on day, counted from start.
func EndDate(start time.Time, day string, timePeriod int) (time.Time, error) {
	wd, err := parseWeekday(day)
	if err != nil {
		return time.Time{}, err
	}
	if timePeriod < 1 {
		return time.Time{}, fmt.Errorf("time period must be at least 1, got %d", timePeriod)
	}
	return advanceOccurrences(start, wd, timePeriod), nil
}

// ExtendEndDate pushes end out by one occurrence of day per missed session.
func ExtendEndDate(end time.Time, day string, missed int) (time.Time, error) {
	wd, err := parseWeekday(day)
	if err != nil {
		return time.Time{}, err
	}
	return advanceOccurrences(end, wd, missed), nil
}
