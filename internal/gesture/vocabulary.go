// Package gesture holds the closed set of sign classes and the policy that
// turns classifier probabilities into a quiz verdict.
package gesture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultClasses is the vocabulary shipped with the quiz.
var DefaultClasses = []string{"one", "two", "three", "four", "five"}

var (
	// ErrEmptyVocabulary is returned when a vocabulary has no classes.
	ErrEmptyVocabulary = errors.New("gesture: empty vocabulary")
	// ErrDuplicateClass is returned when two classes share a name.
	ErrDuplicateClass = errors.New("gesture: duplicate class")
)

// Vocabulary is an ordered, closed set of gesture class names. A class's
// index is its position and never changes for a trained model.
type Vocabulary struct {
	names []string
	index map[string]int
}

// NewVocabulary validates names and builds a Vocabulary. Names are trimmed;
// comparison is case-insensitive.
func NewVocabulary(names []string) (Vocabulary, error) {
	if len(names) == 0 {
		return Vocabulary{}, ErrEmptyVocabulary
	}

	v := Vocabulary{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return Vocabulary{}, fmt.Errorf("gesture: class %d has an empty name", i)
		}
		key := strings.ToLower(name)
		if _, ok := v.index[key]; ok {
			return Vocabulary{}, fmt.Errorf("%w: %q", ErrDuplicateClass, name)
		}
		v.names[i] = name
		v.index[key] = i
	}
	return v, nil
}

// MustVocabulary is like NewVocabulary but panics on invalid input.
func MustVocabulary(names []string) Vocabulary {
	v, err := NewVocabulary(names)
	if err != nil {
		panic(err)
	}
	return v
}

// Len returns the number of classes.
func (v Vocabulary) Len() int { return len(v.names) }

// Names returns a copy of the class names in index order.
func (v Vocabulary) Names() []string {
	return append([]string(nil), v.names...)
}

// Name returns the class name at index i.
func (v Vocabulary) Name(i int) string { return v.names[i] }

// Index looks up a class by name, ignoring case and surrounding space.
func (v Vocabulary) Index(name string) (int, bool) {
	i, ok := v.index[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// Equal reports whether both vocabularies list the same classes in the same
// order.
func (v Vocabulary) Equal(other Vocabulary) bool {
	if len(v.names) != len(other.names) {
		return false
	}
	for i := range v.names {
		if !strings.EqualFold(v.names[i], other.names[i]) {
			return false
		}
	}
	return true
}

// Question is one quiz prompt and the class that answers it.
type Question struct {
	Prompt string `json:"prompt"`
	Answer string `json:"answer"`
}

var numberWords = []string{"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten"}

// Questions builds the quiz question bank. Number-word classes are prompted
// with their digit; anything else is prompted with its own name.
func (v Vocabulary) Questions() []Question {
	qs := make([]Question, len(v.names))
	for i, name := range v.names {
		prompt := name
		for n, word := range numberWords {
			if strings.EqualFold(word, name) {
				prompt = strconv.Itoa(n)
				break
			}
		}
		qs[i] = Question{Prompt: prompt, Answer: name}
	}
	return qs
}
