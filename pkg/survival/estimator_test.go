package survival

import (
	"context"
	"testing"
	"time"

	"github.com/ciylabs/cluster-access-control/pkg/stats"
)

type fakeStats struct {
	registered   bool
	registration time.Time
	checkIns     map[int][]stats.CheckIn
}

func (f *fakeStats) NodeRegistered(ctx context.Context, name string) (bool, error) {
	return f.registered, nil
}

func (f *fakeStats) GetRegistrationTime(ctx context.Context, name string) (time.Time, error) {
	return f.registration, nil
}

func (f *fakeStats) GetCheckIns(ctx context.Context, name string, dayRange []int, startBucket, endBucket int) (map[int][]stats.CheckIn, error) {
	result := make(map[int][]stats.CheckIn, len(dayRange))
	for _, day := range dayRange {
		result[day] = f.checkIns[day]
	}
	return result, nil
}

func TestSurvivalRejectsInvalidRange(t *testing.T) {
	e := New(&fakeStats{registered: true})
	if _, err := e.Survival(context.Background(), "n", 0); err != ErrInvalidRange {
		t.Errorf("Survival(0) err = %v, want ErrInvalidRange", err)
	}
	if _, err := e.Survival(context.Background(), "n", 1440); err != ErrInvalidRange {
		t.Errorf("Survival(1440) err = %v, want ErrInvalidRange", err)
	}
}

func TestSurvivalNotRegistered(t *testing.T) {
	e := New(&fakeStats{registered: false})
	if _, err := e.Survival(context.Background(), "n", 5); err != stats.ErrNotRegistered {
		t.Errorf("Survival err = %v, want ErrNotRegistered", err)
	}
}

func TestSurvivalCaseCYoungNode(t *testing.T) {
	e := &Estimator{
		store: &fakeStats{registered: true, registration: time.Now()},
		now:   time.Now,
	}
	p, err := e.Survival(context.Background(), "n", 5)
	if err != nil {
		t.Fatalf("Survival: %v", err)
	}
	if p != 0.5 {
		t.Errorf("Survival (age<1d) = %v, want 0.5", p)
	}
}

func TestSurvivalInRangeForValidInputs(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	day := int(now.Weekday())
	e := &Estimator{
		store: &fakeStats{
			registered:   true,
			registration: now.AddDate(0, 0, -10),
			checkIns: map[int][]stats.CheckIn{
				day: {{Bucket: 4320, Count: 0}, {Bucket: 4321, Count: 1}},
			},
		},
		now: func() time.Time { return now },
	}

	p, err := e.Survival(context.Background(), "n", 5)
	if err != nil {
		t.Fatalf("Survival: %v", err)
	}
	if p < 0 || p > 1 {
		t.Errorf("Survival = %v, want value in [0,1]", p)
	}
}

func TestSurvivalCaseADataCorruption(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	day := int(now.Weekday())
	e := &Estimator{
		store: &fakeStats{
			registered:   true,
			registration: now.AddDate(0, 0, -14),
			checkIns: map[int][]stats.CheckIn{
				day: {{Bucket: 4320, Count: 0}, {Bucket: 4321, Count: 99}},
			},
		},
		now: func() time.Time { return now },
	}

	if _, err := e.Survival(context.Background(), "n", 5); err == nil {
		t.Errorf("Survival with count > expected should return an error")
	}
}
