// Package series reshapes row-oriented time-series records into one entity
// per row, holding an ordered timestamp sequence and an aligned value
// sequence.
package series

import (
	"fmt"
	"time"
)

// Record is a single row of the input table: one observation for one entity.
type Record struct {
	Key       string
	Timestamp time.Time
	Value     float64
}

// Series is one logically independent time series identified by a group key.
//
// Timestamps and Values are aligned pair-wise and kept in arrival order.
// Grouping does not sort by timestamp; if the input rows are not already
// time-ordered, the last-timestamp and context-window semantics downstream
// follow the arrival order, not calendar order.
type Series struct {
	Key        string
	Timestamps []time.Time
	Values     []float64
}

// Len returns the number of observations in the series.
func (s *Series) Len() int {
	return len(s.Values)
}

// MaxTimestamp returns the maximum observed timestamp.
// An empty series is a fatal input error.
func (s *Series) MaxTimestamp() (time.Time, error) {
	if len(s.Timestamps) == 0 {
		return time.Time{}, fmt.Errorf("series %s is empty", s.Key)
	}
	max := s.Timestamps[0]
	for _, ts := range s.Timestamps[1:] {
		if ts.After(max) {
			max = ts
		}
	}
	return max, nil
}

// TimeSorted reports whether the timestamps are strictly increasing.
// Callers that cannot guarantee pre-sorted input can use this to validate
// before forecasting.
func (s *Series) TimeSorted() bool {
	for i := 1; i < len(s.Timestamps); i++ {
		if !s.Timestamps[i].After(s.Timestamps[i-1]) {
			return false
		}
	}
	return true
}

// Validate checks the per-series invariants: aligned sequences and no zero
// timestamps.
func (s *Series) Validate() error {
	if len(s.Timestamps) != len(s.Values) {
		return fmt.Errorf("series %s: %d timestamps vs %d values",
			s.Key, len(s.Timestamps), len(s.Values))
	}
	for i, ts := range s.Timestamps {
		if ts.IsZero() {
			return fmt.Errorf("series %s: zero timestamp at index %d", s.Key, i)
		}
	}
	return nil
}

// Group reshapes row-level records into one Series per entity key.
//
// Keys appear in first-seen order; within a series, observations keep their
// arrival order. Each (entity, timestamp) pair is expected to be unique in
// the input; duplicates are rejected.
func Group(records []Record) ([]Series, error) {
	index := make(map[string]int)
	seen := make(map[string]map[time.Time]bool)
	grouped := []Series{}

	for _, rec := range records {
		if rec.Timestamp.IsZero() {
			return nil, fmt.Errorf("record for %s has zero timestamp", rec.Key)
		}
		if seen[rec.Key] == nil {
			seen[rec.Key] = make(map[time.Time]bool)
		}
		if seen[rec.Key][rec.Timestamp] {
			return nil, fmt.Errorf("duplicate observation for %s at %s",
				rec.Key, rec.Timestamp.Format(time.RFC3339))
		}
		seen[rec.Key][rec.Timestamp] = true

		i, ok := index[rec.Key]
		if !ok {
			i = len(grouped)
			index[rec.Key] = i
			grouped = append(grouped, Series{Key: rec.Key})
		}
		grouped[i].Timestamps = append(grouped[i].Timestamps, rec.Timestamp)
		grouped[i].Values = append(grouped[i].Values, rec.Value)
	}

	return grouped, nil
}

// Flatten converts grouped series back to row-level records, inverse of
// Group for already time-ordered input.
func Flatten(grouped []Series) []Record {
	records := []Record{}
	for _, s := range grouped {
		for i := range s.Values {
			records = append(records, Record{
				Key:       s.Key,
				Timestamp: s.Timestamps[i],
				Value:     s.Values[i],
			})
		}
	}
	return records
}
