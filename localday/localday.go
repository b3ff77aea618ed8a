// Package localday computes UTC instant boundaries for a local calendar
// day, the DST-aware helper spec.md §8 invariant 9 and scenario S6 name:
// "Local-day boundaries (UTC) for a DST spring-forward date span 23h; for
// fall-back, 25h."
package localday

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Bounds returns the half-open UTC interval [start, end) covering calendar
// date (YYYY-MM-DD) as a local day in loc. The interval spans 24h on an
// ordinary day, 23h across a spring-forward transition, and 25h across a
// fall-back transition, since it is built from loc's wall-clock midnight on
// date through loc's wall-clock midnight on the following date.
func Bounds(date string, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("localday: parse date %q: %w", date, err)
	}
	start = d.UTC()
	end = d.AddDate(0, 0, 1).UTC()
	return start, end, nil
}

// Contains reports whether instant t falls within date's local day in loc.
func Contains(t time.Time, date string, loc *time.Location) (bool, error) {
	start, end, err := Bounds(date, loc)
	if err != nil {
		return false, err
	}
	tu := t.UTC()
	return !tu.Before(start) && tu.Before(end)
}
