// Package survival implements the survival estimator: a read-only predictor
// that turns a node's historical check-in matrix (from the statistics
// store) into a forward survival probability.
package survival

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ciylabs/cluster-access-control/pkg/stats"
)

// ErrInvalidRange is returned for a time range outside [1, 1439] minutes.
var ErrInvalidRange = errors.New("survival: time_range_minutes must be in [1, 1439]")

// ErrDataCorruption is returned when an observed bucket's count exceeds the
// expected count, which the estimator's model treats as impossible data.
var ErrDataCorruption = errors.New("survival: observed check-in count exceeds expected")

// Stats is the narrow slice of the statistics store the estimator consumes.
type Stats interface {
	NodeRegistered(ctx context.Context, name string) (bool, error)
	GetRegistrationTime(ctx context.Context, name string) (time.Time, error)
	GetCheckIns(ctx context.Context, name string, dayRange []int, startBucket, endBucket int) (map[int][]stats.CheckIn, error)
}

// Estimator computes the survival probability for a node over a forward
// window. It never mutates state.
type Estimator struct {
	store Stats
	now   func() time.Time
}

// New creates an Estimator backed by the given statistics store.
func New(store Stats) *Estimator {
	return &Estimator{store: store, now: time.Now}
}

// Survival computes the probability that name survives the next
// timeRangeMinutes minutes, based on its historical check-in profile in the
// same weekly buckets.
func (e *Estimator) Survival(ctx context.Context, name string, timeRangeMinutes int) (float64, error) {
	if timeRangeMinutes < 1 || timeRangeMinutes >= 1440 {
		return 0, ErrInvalidRange
	}

	registered, err := e.store.NodeRegistered(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("survival: %w", err)
	}
	if !registered {
		return 0, stats.ErrNotRegistered
	}

	regTime, err := e.store.GetRegistrationTime(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("survival: %w", err)
	}

	now := e.now()
	ageDays := int(now.Sub(regTime).Hours() / 24)

	switch {
	case ageDays >= 7:
		return e.survivalCaseA(ctx, name, regTime, now, timeRangeMinutes)
	case ageDays >= 1:
		return e.survivalCaseB(ctx, name, regTime, now, timeRangeMinutes)
	default:
		return 0.5, nil
	}
}

// survivalCaseA handles age_days >= 7: full-week history.
func (e *Estimator) survivalCaseA(ctx context.Context, name string, regTime, now time.Time, timeRangeMinutes int) (float64, error) {
	dayStart := int(now.Weekday())
	buckets, err := bucketsForWindow(ctx, e.store, name, dayStart, dayStart, now, timeRangeMinutes)
	if err != nil {
		return 0, fmt.Errorf("survival: %w", err)
	}

	expected := int(now.Sub(regTime).Hours()/24) / 7
	if expected == 0 {
		expected = 1
	}

	p := 1.0
	for day, checkIns := range buckets {
		for i, c := range checkIns {
			if i == 0 {
				// Skip the first bucket of each day's slice — it may be
				// receiving the current live check-in.
				continue
			}
			if c.Count > expected {
				return 0, fmt.Errorf("survival: day %d bucket %d: %w", day, c.Bucket, ErrDataCorruption)
			}
			p *= float64(c.Count) / float64(expected)
		}
	}
	return p, nil
}

// survivalCaseB handles 1 <= age_days < 7.
func (e *Estimator) survivalCaseB(ctx context.Context, name string, regTime, now time.Time, timeRangeMinutes int) (float64, error) {
	dayStart := int(regTime.Weekday())
	dayEnd := int(now.Weekday())
	dayRange := stats.DaysBetween(dayStart, dayEnd)

	var dayProbs []float64
	for _, day := range dayRange {
		buckets, err := bucketsForWindow(ctx, e.store, name, day, day, now, timeRangeMinutes)
		if err != nil {
			return 0, fmt.Errorf("survival: %w", err)
		}

		pDay := 1.0
		for d, checkIns := range buckets {
			for i, c := range checkIns {
				if i == 0 {
					continue
				}
				if c.Count > 1 {
					return 0, fmt.Errorf("survival: day %d bucket %d: %w", d, c.Bucket, ErrDataCorruption)
				}
				pDay *= float64(c.Count)
			}
		}
		dayProbs = append(dayProbs, pDay)
	}

	if len(dayProbs) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, p := range dayProbs {
		sum += p
	}
	return sum / float64(len(dayProbs)), nil
}

// bucketsForWindow collects the check-in buckets covering the forward
// window from now to now+timeRangeMinutes, both end buckets included, for a
// single logical day, handling
// midnight rollover by splitting into two queries and merging the results.
//
// TODO: the caller passes the same day for dayStart and dayEnd even when the
// window crosses midnight; this helper does the day split internally rather
// than depending on a multi-day dayStart/dayEnd input, per the open question
// this preserves from the source design.
func bucketsForWindow(ctx context.Context, store Stats, name string, dayStart, dayEnd int, now time.Time, timeRangeMinutes int) (map[int][]stats.CheckIn, error) {
	windowEnd := now.Add(time.Duration(timeRangeMinutes) * time.Minute)

	startBucket := secondsSinceMidnightBucket(now)

	if windowEnd.YearDay() == now.YearDay() && windowEnd.Year() == now.Year() {
		endBucket := secondsSinceMidnightBucket(windowEnd)
		return store.GetCheckIns(ctx, name, []int{dayStart}, startBucket, endBucket)
	}

	endOfDayBucket := stats.BucketsPerDay - 1
	first, err := store.GetCheckIns(ctx, name, []int{dayStart}, startBucket, endOfDayBucket)
	if err != nil {
		return nil, err
	}

	remainingBucket := secondsSinceMidnightBucket(windowEnd)
	nextDay := (dayEnd + 1) % 7
	second, err := store.GetCheckIns(ctx, name, []int{nextDay}, 0, remainingBucket)
	if err != nil {
		return nil, err
	}

	merged := make(map[int][]stats.CheckIn, len(first)+len(second))
	for k, v := range first {
		merged[k] = v
	}
	for k, v := range second {
		merged[k] = append(merged[k], v...)
	}
	return merged, nil
}

func secondsSinceMidnightBucket(ts time.Time) int {
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	return int(ts.Sub(midnight).Seconds()) / stats.SecondsPerCheckIn
}
