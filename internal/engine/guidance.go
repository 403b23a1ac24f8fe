package engine

import (
	"strconv"
	"strings"

	"github.com/detectra/detectra/internal/models"
)

// Advice is the user-facing framing of a Verdict.
type Advice struct {
	Tone       models.Tone `json:"tone"`
	Headline   string      `json:"headline"`
	Confidence string      `json:"confidence"`
	Notes      []string    `json:"notes"`
	Disclaimer string      `json:"disclaimer"`
	Footer     string      `json:"footer"`
}

// Guidance maps verdict tones to advice text.
type Guidance struct {
	set GuidanceSet
}

// NewGuidance constructs Guidance from a pack.
func NewGuidance(pack Pack) *Guidance {
	return &Guidance{set: pack.Guidance}
}

// For returns the advice for v. A nil verdict yields zero Advice.
func (g *Guidance) For(v *models.Verdict) Advice {
	if v == nil {
		return Advice{}
	}
	set := DefaultPack().Guidance
	if g != nil {
		set = g.set
	}
	tone := set.Tones[v.Tone]

	notes := make([]string, 0, len(tone.Notes))
	for _, n := range tone.Notes {
		notes = append(notes, expand(n, v.PredictedLabel))
	}
	return Advice{
		Tone:       v.Tone,
		Headline:   expand(tone.Headline, v.PredictedLabel),
		Confidence: ConfidenceText(v),
		Notes:      notes,
		Disclaimer: set.Disclaimer,
		Footer:     set.Footer,
	}
}

// ConfidenceText renders the top percentage, or a dash when unknown.
func ConfidenceText(v *models.Verdict) string {
	if v == nil || v.TopPercent == nil {
		return "Confidence: —"
	}
	return "Confidence: " + strconv.Itoa(*v.TopPercent) + "%"
}

func expand(text, label string) string {
	return strings.ReplaceAll(text, "{label}", label)
}
