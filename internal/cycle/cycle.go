// Package cycle translates dependency cycle descriptors into concrete time
// windows. A dependent item references a run of another workflow "for the
// cycle" derived from the owning process's scheduled time; the window returned
// here bounds the persistence lookup for that run.
package cycle

import (
	"fmt"
	"time"
)

// Supported cycle descriptors
const (
	Day         = "day"
	Last1Days   = "last1Days"
	Last2Days   = "last2Days"
	Last3Days   = "last3Days"
	Last7Days   = "last7Days"
	Hour        = "hour"
	Last1Hours  = "last1Hours"
	Last24Hours = "last24Hours"
	Week        = "week"
	Last1Week   = "last1Week"
	Month       = "month"
	Last1Month  = "last1Month"
)

// Window returns the half-open interval [start, end) a descriptor covers,
// anchored at the given dependent date.
func Window(descriptor string, at time.Time) (time.Time, time.Time, error) {
	day := startOfDay(at)
	hour := at.Truncate(time.Hour)

	switch descriptor {
	case Day:
		return day, day.AddDate(0, 0, 1), nil
	case Last1Days:
		return day.AddDate(0, 0, -1), day, nil
	case Last2Days:
		return day.AddDate(0, 0, -2), day, nil
	case Last3Days:
		return day.AddDate(0, 0, -3), day, nil
	case Last7Days:
		return day.AddDate(0, 0, -7), day, nil
	case Hour:
		return hour, hour.Add(time.Hour), nil
	case Last1Hours:
		return hour.Add(-time.Hour), hour, nil
	case Last24Hours:
		return at.Add(-24 * time.Hour), at, nil
	case Week:
		start := startOfWeek(at)
		return start, start.AddDate(0, 0, 7), nil
	case Last1Week:
		end := startOfWeek(at)
		return end.AddDate(0, 0, -7), end, nil
	case Month:
		start := startOfMonth(at)
		return start, start.AddDate(0, 1, 0), nil
	case Last1Month:
		end := startOfMonth(at)
		return end.AddDate(0, -1, 0), end, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("unknown cycle descriptor %q", descriptor)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek anchors weeks on Monday
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := int(day.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
