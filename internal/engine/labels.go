package engine

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// DefaultNoTumorSpellings are the spellings the classification service is
// known to use for its negative class.
var DefaultNoTumorSpellings = []string{"no tumor", "no tumour", "none", "no_tumor_class"}

var defaultLabels = NewLabelClassifier()

// LabelClassifier decides whether a class label denotes "no tumor".
// It is the single decision point for every consumer (banner, bars, guidance).
type LabelClassifier struct {
	spellings map[string]struct{}
}

// NewLabelClassifier returns a classifier that recognises the default
// spellings plus any extra ones.
func NewLabelClassifier(extra ...string) *LabelClassifier {
	return NewLabelClassifierFrom(append(append([]string(nil), DefaultNoTumorSpellings...), extra...))
}

// NewLabelClassifierFrom returns a classifier recognising exactly spellings.
func NewLabelClassifierFrom(spellings []string) *LabelClassifier {
	set := make(map[string]struct{}, len(spellings))
	for _, s := range spellings {
		if n := NormalizeLabel(s); n != "" {
			set[n] = struct{}{}
		}
	}
	return &LabelClassifier{spellings: set}
}

// IsNoTumor reports whether label is one of the recognised no-tumor
// spellings after normalisation. An empty label is never no-tumor.
func (c *LabelClassifier) IsNoTumor(label string) bool {
	if c == nil {
		c = defaultLabels
	}
	n := NormalizeLabel(label)
	if n == "" {
		return false
	}
	_, ok := c.spellings[n]
	return ok
}

// Spellings returns the normalised spellings, unordered.
func (c *LabelClassifier) Spellings() []string {
	if c == nil {
		c = defaultLabels
	}
	out := make([]string, 0, len(c.spellings))
	for s := range c.spellings {
		out = append(out, s)
	}
	return out
}

// NormalizeLabel case-folds label and strips whitespace, hyphens and underscores.
func NormalizeLabel(label string) string {
	folded := cases.Fold().String(label)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			return -1
		}
		return r
	}, folded)
}
