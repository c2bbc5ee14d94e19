package store

import (
	"errors"
	"testing"
	"time"
)

func TestAttemptRepository_Create(t *testing.T) {
	s := newTestStore(t)
	repo := s.Attempts()

	attempt := &Attempt{
		Expected:       "three",
		Predicted:      "three",
		Confidence:     0.91,
		Correct:        true,
		FramesTotal:    30,
		FramesWithHand: 27,
	}

	if err := repo.Create(attempt); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}

	if attempt.ID == "" {
		t.Error("ID should be assigned on create")
	}
	if attempt.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set after create")
	}
	if attempt.Source != "http" {
		t.Errorf("Source default = %q, want http", attempt.Source)
	}

	retrieved, err := repo.GetByID(attempt.ID)
	if err != nil {
		t.Fatalf("failed to get attempt: %v", err)
	}

	if retrieved.Expected != "three" || retrieved.Predicted != "three" {
		t.Errorf("labels mismatch: got %q/%q", retrieved.Expected, retrieved.Predicted)
	}
	if retrieved.Confidence != 0.91 {
		t.Errorf("Confidence mismatch: got %f, want 0.91", retrieved.Confidence)
	}
	if !retrieved.Correct {
		t.Error("Correct should round-trip as true")
	}
	if retrieved.FramesTotal != 30 || retrieved.FramesWithHand != 27 {
		t.Errorf("frame counts mismatch: got %d/%d", retrieved.FramesWithHand, retrieved.FramesTotal)
	}
	if !retrieved.CreatedAt.Equal(attempt.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", retrieved.CreatedAt, attempt.CreatedAt)
	}
}

func TestAttemptRepository_GetByID_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Attempts().GetByID("non-existent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAttemptRepository_List(t *testing.T) {
	s := newTestStore(t)
	repo := s.Attempts()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, expected := range []string{"one", "two", "three", "four"} {
		a := &Attempt{
			Expected:  expected,
			Predicted: expected,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(a); err != nil {
			t.Fatalf("failed to create attempt %d: %v", i, err)
		}
	}

	t.Run("newest first", func(t *testing.T) {
		all, err := repo.List(0)
		if err != nil {
			t.Fatalf("failed to list attempts: %v", err)
		}
		if len(all) != 4 {
			t.Fatalf("expected 4 attempts, got %d", len(all))
		}
		if all[0].Expected != "four" || all[3].Expected != "one" {
			t.Errorf("unexpected order: %s ... %s", all[0].Expected, all[3].Expected)
		}
	})

	t.Run("limit", func(t *testing.T) {
		limited, err := repo.List(2)
		if err != nil {
			t.Fatalf("failed to list attempts: %v", err)
		}
		if len(limited) != 2 {
			t.Fatalf("expected 2 attempts, got %d", len(limited))
		}
		if limited[1].Expected != "three" {
			t.Errorf("second attempt = %q, want three", limited[1].Expected)
		}
	})
}

func TestAttemptRepository_List_Empty(t *testing.T) {
	s := newTestStore(t)

	attempts, err := s.Attempts().List(10)
	if err != nil {
		t.Fatalf("failed to list attempts: %v", err)
	}
	if attempts == nil || len(attempts) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", attempts)
	}
}

func TestAttemptRepository_Stats(t *testing.T) {
	s := newTestStore(t)
	repo := s.Attempts()

	records := []struct {
		expected, predicted string
	}{
		{"one", "one"},
		{"one", "two"},
		{"two", "two"},
		{"two", "uncertain"},
		{"two", "two"},
	}
	for _, r := range records {
		a := &Attempt{Expected: r.expected, Predicted: r.predicted, Correct: r.expected == r.predicted}
		if err := repo.Create(a); err != nil {
			t.Fatalf("failed to create attempt: %v", err)
		}
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("failed to compute stats: %v", err)
	}

	if stats.Total != 5 || stats.Correct != 3 {
		t.Errorf("totals = %d/%d, want 3/5", stats.Correct, stats.Total)
	}
	if stats.Accuracy != 0.6 {
		t.Errorf("accuracy = %f, want 0.6", stats.Accuracy)
	}
	if len(stats.ByClass) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(stats.ByClass))
	}
	if c := stats.ByClass[0]; c.Expected != "one" || c.Total != 2 || c.Correct != 1 || c.Accuracy != 0.5 {
		t.Errorf("unexpected stats for one: %+v", c)
	}
	if c := stats.ByClass[1]; c.Expected != "two" || c.Total != 3 || c.Correct != 2 {
		t.Errorf("unexpected stats for two: %+v", c)
	}
}

func TestAttemptRepository_Stats_Empty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.Attempts().Stats()
	if err != nil {
		t.Fatalf("failed to compute stats: %v", err)
	}
	if stats.Total != 0 || stats.Accuracy != 0 || len(stats.ByClass) != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}
