// Package freq provides calendar frequency offsets and horizon timestamp
// generation for forecast output.
package freq

import (
	"fmt"
	"time"
)

// Offset is a single calendar/frequency step.
type Offset interface {
	// Next returns the timestamp one step after t.
	Next(t time.Time) time.Time
	// String returns the frequency code ("H", "D", "W", "M").
	String() string
}

// Parse maps a frequency code to its offset.
//
// Codes follow the upstream convention: "H" hourly, "D" daily, "W" weekly,
// "M" month-end.
func Parse(code string) (Offset, error) {
	switch code {
	case "H":
		return hourly{}, nil
	case "D":
		return daily{}, nil
	case "W":
		return weekly{}, nil
	case "M":
		return monthEnd{}, nil
	default:
		return nil, fmt.Errorf("unsupported frequency: %s", code)
	}
}

type hourly struct{}

func (hourly) Next(t time.Time) time.Time { return t.Add(time.Hour) }
func (hourly) String() string             { return "H" }

type daily struct{}

func (daily) Next(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
func (daily) String() string             { return "D" }

type weekly struct{}

func (weekly) Next(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
func (weekly) String() string             { return "W" }

// monthEnd steps to the last day of the following month when anchored on a
// month end, and rolls forward to the current month's end otherwise.
// This matches month-end stepping: 2023-01-31 -> 2023-02-28 -> 2023-03-31.
type monthEnd struct{}

func (monthEnd) Next(t time.Time) time.Time {
	end := endOfMonth(t)
	if t.Day() != end.Day() {
		// Not on a month end: roll forward within the current month.
		return end
	}
	firstOfNext := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, 1, 0)
	return endOfMonth(firstOfNext)
}

func (monthEnd) String() string { return "M" }

// endOfMonth returns t moved to the last day of its month, clock time kept.
func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	last := firstOfNext.AddDate(0, 0, -1)
	return time.Date(last.Year(), last.Month(), last.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// HorizonTimestamps generates the future timestamp sequence for a forecast:
// starting from the last observed timestamp, one offset step per horizon
// position. Pure function of its inputs.
func HorizonTimestamps(last time.Time, horizon int, off Offset) ([]time.Time, error) {
	if last.IsZero() {
		return nil, fmt.Errorf("last observed timestamp is zero")
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizon)
	}
	out := make([]time.Time, 0, horizon)
	cur := last
	for i := 0; i < horizon; i++ {
		cur = off.Next(cur)
		out = append(out, cur)
	}
	return out, nil
}
