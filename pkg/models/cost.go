package models

import (
	"fmt"
	"time"
)

// Aggregation intervals accepted by CostFilter.
const (
	IntervalDay  = "day"
	IntervalHour = "hour"
)

// CostFilter restricts and buckets a cost summary query. Zero-value
// fields are unset: an empty GroupID matches all groups, zero Start/End
// leave the time range unbounded, and an empty Interval buckets by
// group id instead of by time.
type CostFilter struct {
	GroupID  string
	Start    time.Time // inclusive lower bound on creation time
	End      time.Time // exclusive upper bound on creation time
	Interval string    // "", IntervalDay, or IntervalHour
}

// Validate rejects unknown intervals before any query is issued.
func (f CostFilter) Validate() error {
	switch f.Interval {
	case "", IntervalDay, IntervalHour:
		return nil
	default:
		return fmt.Errorf("invalid interval %q: must be %q or %q", f.Interval, IntervalDay, IntervalHour)
	}
}

// CostBucket is one aggregated row of a cost summary. Bucket is either
// a group id (empty string for ungrouped rows) or a truncated timestamp
// when an interval was requested.
type CostBucket struct {
	Bucket    string  `json:"bucket"`
	Count     int64   `json:"count"`
	TotalCost float64 `json:"total_cost"`
	AvgCost   float64 `json:"avg_cost"`
}
