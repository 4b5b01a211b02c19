// Package period provides iterators over the timestamps of a recurring
// schedule with a fixed interval.
package period

import (
	"errors"
	"time"
)

var (
	ErrZeroInterval     = errors.New("interval is zero")
	ErrNegativeInterval = errors.New("interval is negative")
)

// Period describes a recurring schedule: a start timestamp and timestamps
// that follow in a fixed interval.
type Period struct {
	start    time.Time
	interval time.Duration
}

// StartingAt returns a Period beginning at start.
// The interval must be positive.
func StartingAt(start time.Time, interval time.Duration) (*Period, error) {
	if interval == 0 {
		return nil, ErrZeroInterval
	}

	if interval < 0 {
		return nil, ErrNegativeInterval
	}

	return &Period{
		start:    start,
		interval: interval,
	}, nil
}

// StartingNow returns a Period beginning at the current time.
func StartingNow(interval time.Duration) (*Period, error) {
	return StartingAt(time.Now(), interval)
}

func (p *Period) Interval() time.Duration {
	return p.interval
}

// UpcomingFixed returns an iterator that starts with the start timestamp of
// the period. The returned timestamps can lie in the past.
func (p *Period) UpcomingFixed() *Iterator {
	return &Iterator{
		next:     p.start,
		interval: p.interval,
	}
}

// UpcomingRelative returns an iterator that skips the schedule timestamps
// that already passed. If the period starts in the past, the first value is
// the next timestamp on the schedule grid that is not before the current
// time.
func (p *Period) UpcomingRelative() *Iterator {
	return &Iterator{
		next:     nextAvailableTimestamp(p.start, time.Now(), p.interval),
		interval: p.interval,
	}
}

// Iterator generates the timestamps of a Period in ascending order.
type Iterator struct {
	next     time.Time
	interval time.Duration
}

// Next returns the next timestamp of the schedule.
func (it *Iterator) Next() time.Time {
	result := it.next
	it.next = it.next.Add(it.interval)

	return result
}

// nextAvailableTimestamp returns the first timestamp on the schedule grid
// that is not before now.
// When start equals now, the timestamp one interval later is returned.
func nextAvailableTimestamp(start, now time.Time, interval time.Duration) time.Time {
	if start.Equal(now) {
		return start.Add(interval)
	}

	if start.After(now) {
		return start
	}

	elapsed := now.Sub(start)
	intervals := (elapsed + interval - 1) / interval // ceil

	return start.Add(time.Duration(intervals) * interval)
}
