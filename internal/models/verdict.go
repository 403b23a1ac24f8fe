package models

// Tone is the presentation category of a Verdict.
type Tone string

const (
	ToneTumor            Tone = "tumor"
	ToneNoTumorConfident Tone = "no-tumor-confident"
	ToneNoTumorUncertain Tone = "no-tumor-uncertain"
)

// BarRole selects how a ranked entry is drawn in a probability chart.
type BarRole string

const (
	// BarPredictedTumor marks the predicted label when it is a tumor class.
	BarPredictedTumor BarRole = "predicted-tumor"
	// BarNoTumor marks any label that classifies as no tumor.
	BarNoTumor BarRole = "no-tumor"
	BarOther   BarRole = "other"
)

// RankedEntry is one row of a Verdict's descending ranking.
type RankedEntry struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Percent     int     `json:"percent"`
	Predicted   bool    `json:"predicted"`
	Role        BarRole `json:"role"`
}

// Verdict is the interpretation of a Prediction. It is a pure function of
// the Prediction and the label classification rules in effect.
type Verdict struct {
	Ranked         []RankedEntry `json:"ranked"`
	TopLabel       string        `json:"top_label,omitempty"`
	TopPercent     *int          `json:"top_percent"`
	PredictedLabel string        `json:"predicted_label"`
	IsNoTumor      bool          `json:"is_no_tumor"`
	IsConfident    bool          `json:"is_confident"`
	Tone           Tone          `json:"tone"`
}

// Top returns the highest ranked entry, if any.
func (v Verdict) Top() (RankedEntry, bool) {
	if len(v.Ranked) == 0 {
		return RankedEntry{}, false
	}
	return v.Ranked[0], true
}
