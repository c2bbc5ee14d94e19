package gesture

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ConfidenceThreshold is the minimum winning probability for a class
// prediction. Anything lower is reported as uncertain.
const ConfidenceThreshold = 0.5

// Result is the verdict for one performance.
type Result struct {
	Label      Label
	Confidence float64
	IsMatch    bool
}

// UnknownResult is the verdict when no frame contained a hand. The
// classifier is not consulted.
func UnknownResult() Result {
	return Result{Label: Unknown()}
}

// Decide picks the most probable class, applies the confidence threshold and
// compares the outcome with expected. Ties go to the lowest class index.
func Decide(probs []float64, vocab Vocabulary, expected string) (Result, error) {
	if vocab.Len() == 0 {
		return Result{}, ErrEmptyVocabulary
	}
	if len(probs) != vocab.Len() {
		return Result{}, fmt.Errorf("gesture: %d probabilities for %d classes", len(probs), vocab.Len())
	}

	best := 0
	for i, p := range probs {
		if math.IsNaN(p) {
			return Result{}, fmt.Errorf("gesture: probability %d is NaN", i)
		}
		if p > probs[best] {
			best = i
		}
	}

	confidence := probs[best]
	if confidence < ConfidenceThreshold {
		return Result{Label: Uncertain(), Confidence: confidence}, nil
	}

	label := ClassLabel(vocab, best)
	return Result{
		Label:      label,
		Confidence: confidence,
		IsMatch:    strings.EqualFold(label.String(), strings.TrimSpace(expected)),
	}, nil
}

// Score is one class with its probability.
type Score struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

// Ranked returns the k most probable classes, best first. Ties keep
// vocabulary order. k <= 0 returns every class.
func Ranked(probs []float64, vocab Vocabulary, k int) []Score {
	n := min(len(probs), vocab.Len())
	scores := make([]Score, n)
	for i := range scores {
		scores[i] = Score{Class: vocab.Name(i), Probability: probs[i]}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Probability > scores[j].Probability
	})

	if k > 0 && k < len(scores) {
		scores = scores[:k]
	}
	return scores
}
