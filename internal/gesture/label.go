package gesture

// Kind distinguishes real classes from the outcome sentinels.
type Kind int

const (
	// KindClass is a prediction of a vocabulary class.
	KindClass Kind = iota
	// KindUnknown means no frame of the performance contained a hand.
	KindUnknown
	// KindUncertain means the best class scored below the confidence threshold.
	KindUncertain
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "class"
	case KindUnknown:
		return UnknownName
	case KindUncertain:
		return UncertainName
	}
	return "invalid"
}

// Sentinel label names as reported to callers.
const (
	UnknownName   = "unknown"
	UncertainName = "uncertain"
)

// Label is a predicted label. Sentinels are distinct from classes even when a
// class happens to share their spelling.
type Label struct {
	kind  Kind
	index int
	name  string
}

// ClassLabel returns the label for class i of vocab.
func ClassLabel(vocab Vocabulary, i int) Label {
	return Label{kind: KindClass, index: i, name: vocab.Name(i)}
}

// Unknown is the label for a performance without any detected hand.
func Unknown() Label { return Label{kind: KindUnknown, index: -1, name: UnknownName} }

// Uncertain is the label for a low-confidence prediction.
func Uncertain() Label { return Label{kind: KindUncertain, index: -1, name: UncertainName} }

// Kind returns the label kind.
func (l Label) Kind() Kind { return l.kind }

// IsClass reports whether the label names a vocabulary class.
func (l Label) IsClass() bool { return l.kind == KindClass }

// Index returns the class index, or -1 for sentinels.
func (l Label) Index() int { return l.index }

func (l Label) String() string { return l.name }
