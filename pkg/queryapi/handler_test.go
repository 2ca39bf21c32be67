package queryapi

import (
	"context"
	"testing"
	"time"

	"github.com/ciylabs/cluster-access-control/pkg/stats"
)

type fakeDisconnects struct {
	count        int
	registration time.Time
}

func (f *fakeDisconnects) GetAbruptDisconnectCount(ctx context.Context, name string) (int, error) {
	return f.count, nil
}

func (f *fakeDisconnects) GetRegistrationTime(ctx context.Context, name string) (time.Time, error) {
	return f.registration, nil
}

func TestAbruptDisconnectScoreZeroDisconnects(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	h := &Handler{
		disconnects: &fakeDisconnects{count: 0, registration: now.AddDate(0, 0, -5)},
		now:         func() time.Time { return now },
	}

	score, err := h.abruptDisconnectScore(context.Background(), "n")
	if err != nil {
		t.Fatalf("abruptDisconnectScore: %v", err)
	}
	if score != 1.0 {
		t.Errorf("score = %v, want 1.0 for zero disconnects", score)
	}
}

func TestAbruptDisconnectScoreFloorsAtZero(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	h := &Handler{
		disconnects: &fakeDisconnects{count: 100, registration: now.AddDate(0, 0, -1)},
		now:         func() time.Time { return now },
	}

	score, err := h.abruptDisconnectScore(context.Background(), "n")
	if err != nil {
		t.Fatalf("abruptDisconnectScore: %v", err)
	}
	if score != 0.0 {
		t.Errorf("score = %v, want 0.0", score)
	}
}

func TestAbruptDisconnectScoreNotRegistered(t *testing.T) {
	h := &Handler{
		disconnects: &fakeDisconnects{count: -1},
		now:         time.Now,
	}

	if _, err := h.abruptDisconnectScore(context.Background(), "missing"); err != stats.ErrNotRegistered {
		t.Errorf("err = %v, want ErrNotRegistered", err)
	}
}
