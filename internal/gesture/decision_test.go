package gesture

import (
	"errors"
	"testing"
)

func TestDecide(t *testing.T) {
	vocab := MustVocabulary(DefaultClasses)

	tests := []struct {
		name       string
		probs      []float64
		expected   string
		wantLabel  string
		wantKind   Kind
		wantMatch  bool
		wantConfid float64
	}{
		{
			name:       "confident match",
			probs:      []float64{0.05, 0.05, 0.85, 0.03, 0.02},
			expected:   "three",
			wantLabel:  "three",
			wantKind:   KindClass,
			wantMatch:  true,
			wantConfid: 0.85,
		},
		{
			name:       "case insensitive match",
			probs:      []float64{0.05, 0.05, 0.85, 0.03, 0.02},
			expected:   "THREE",
			wantLabel:  "three",
			wantKind:   KindClass,
			wantMatch:  true,
			wantConfid: 0.85,
		},
		{
			name:       "confident mismatch",
			probs:      []float64{0.9, 0.05, 0.05, 0, 0},
			expected:   "two",
			wantLabel:  "one",
			wantKind:   KindClass,
			wantConfid: 0.9,
		},
		{
			name:       "just below threshold",
			probs:      []float64{0.4999, 0.3, 0.1, 0.05, 0.0501},
			expected:   "one",
			wantLabel:  UncertainName,
			wantKind:   KindUncertain,
			wantConfid: 0.4999,
		},
		{
			name:       "at threshold",
			probs:      []float64{0.5, 0.3, 0.1, 0.05, 0.05},
			expected:   "one",
			wantLabel:  "one",
			wantKind:   KindClass,
			wantMatch:  true,
			wantConfid: 0.5,
		},
		{
			name:       "flat distribution",
			probs:      []float64{0.2, 0.2, 0.2, 0.2, 0.2},
			expected:   "one",
			wantLabel:  UncertainName,
			wantKind:   KindUncertain,
			wantConfid: 0.2,
		},
		{
			name:       "tie goes to lowest index",
			probs:      []float64{0, 0.5, 0.5, 0, 0},
			expected:   "two",
			wantLabel:  "two",
			wantKind:   KindClass,
			wantMatch:  true,
			wantConfid: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.probs, vocab, tt.expected)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Label.String() != tt.wantLabel {
				t.Errorf("label = %q, want %q", got.Label, tt.wantLabel)
			}
			if got.Label.Kind() != tt.wantKind {
				t.Errorf("kind = %v, want %v", got.Label.Kind(), tt.wantKind)
			}
			if got.IsMatch != tt.wantMatch {
				t.Errorf("isMatch = %v, want %v", got.IsMatch, tt.wantMatch)
			}
			if got.Confidence != tt.wantConfid {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConfid)
			}
		})
	}

	t.Run("probability count mismatch", func(t *testing.T) {
		if _, err := Decide([]float64{1}, vocab, "one"); err == nil {
			t.Error("expected error for wrong probability count")
		}
	})
}

func TestDecide_SentinelNeverMatches(t *testing.T) {
	vocab := MustVocabulary([]string{"uncertain", "unknown"})

	t.Run("uncertain sentinel against class of same spelling", func(t *testing.T) {
		got, err := Decide([]float64{0.45, 0.4}, vocab, "uncertain")
		if err != nil {
			t.Fatal(err)
		}
		if got.Label.IsClass() || got.IsMatch {
			t.Errorf("sentinel must not match: %+v", got)
		}
	})

	t.Run("class named like a sentinel still matches", func(t *testing.T) {
		got, err := Decide([]float64{0.9, 0.1}, vocab, "uncertain")
		if err != nil {
			t.Fatal(err)
		}
		if !got.Label.IsClass() || !got.IsMatch {
			t.Errorf("expected class match: %+v", got)
		}
	})

	t.Run("unknown result", func(t *testing.T) {
		got := UnknownResult()
		if got.Label.Kind() != KindUnknown || got.Label.String() != UnknownName {
			t.Errorf("unexpected label %v", got.Label)
		}
		if got.Confidence != 0 || got.IsMatch {
			t.Errorf("unexpected unknown result %+v", got)
		}
	})
}

func TestDecide_EmptyVocabulary(t *testing.T) {
	for _, probs := range [][]float64{nil, {}} {
		_, err := Decide(probs, Vocabulary{}, "one")
		if !errors.Is(err, ErrEmptyVocabulary) {
			t.Errorf("Decide(%v) error = %v, want ErrEmptyVocabulary", probs, err)
		}
	}
}

func TestRanked(t *testing.T) {
	vocab := MustVocabulary(DefaultClasses)
	scores := Ranked([]float64{0.1, 0.4, 0.1, 0.3, 0.1}, vocab, 3)

	if len(scores) != 3 {
		t.Fatalf("expected 3 scores, got %d", len(scores))
	}
	want := []string{"two", "four", "one"}
	for i, s := range scores {
		if s.Class != want[i] {
			t.Errorf("rank %d: got %s, want %s", i, s.Class, want[i])
		}
	}

	if all := Ranked([]float64{0.1, 0.4, 0.1, 0.3, 0.1}, vocab, 0); len(all) != 5 {
		t.Errorf("expected all classes for k=0, got %d", len(all))
	}
}

func TestVocabulary(t *testing.T) {
	t.Run("lookup ignores case", func(t *testing.T) {
		v := MustVocabulary(DefaultClasses)
		i, ok := v.Index(" Four ")
		if !ok || i != 3 {
			t.Errorf("Index = %d, %v", i, ok)
		}
		if _, ok := v.Index("six"); ok {
			t.Error("unexpected class six")
		}
	})

	t.Run("rejects invalid", func(t *testing.T) {
		if _, err := NewVocabulary(nil); !errors.Is(err, ErrEmptyVocabulary) {
			t.Errorf("expected ErrEmptyVocabulary, got %v", err)
		}
		if _, err := NewVocabulary([]string{"one", "One"}); !errors.Is(err, ErrDuplicateClass) {
			t.Errorf("expected ErrDuplicateClass, got %v", err)
		}
		if _, err := NewVocabulary([]string{"one", " "}); err == nil {
			t.Error("expected error for blank name")
		}
	})

	t.Run("equal", func(t *testing.T) {
		a := MustVocabulary([]string{"one", "two"})
		if !a.Equal(MustVocabulary([]string{"One", "two"})) {
			t.Error("expected case-insensitive equality")
		}
		if a.Equal(MustVocabulary([]string{"two", "one"})) {
			t.Error("order must matter")
		}
	})

	t.Run("questions", func(t *testing.T) {
		qs := MustVocabulary([]string{"one", "five", "hello"}).Questions()
		want := []Question{{"1", "one"}, {"5", "five"}, {"hello", "hello"}}
		for i := range want {
			if qs[i] != want[i] {
				t.Errorf("question %d = %+v, want %+v", i, qs[i], want[i])
			}
		}
	})
}
