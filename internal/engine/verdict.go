package engine

import (
	"math"
	"sort"
	"strings"

	"github.com/detectra/detectra/internal/models"
)

// ConfidentThreshold is the minimum top probability for a confident verdict.
const ConfidentThreshold = 0.80

// Resolver turns a Prediction into a Verdict.
type Resolver struct {
	labels *LabelClassifier
}

// NewResolver constructs a resolver. A nil classifier uses the default spellings.
func NewResolver(labels *LabelClassifier) *Resolver {
	if labels == nil {
		labels = defaultLabels
	}
	return &Resolver{labels: labels}
}

// Labels exposes the classifier the resolver applies.
func (r *Resolver) Labels() *LabelClassifier {
	if r == nil || r.labels == nil {
		return defaultLabels
	}
	return r.labels
}

// Resolve computes the Verdict for p. It returns nil when p is nil.
//
// isNoTumor follows the service's predicted label, not the top-ranked
// entry; the two normally agree but are not cross-checked.
func (r *Resolver) Resolve(p *models.Prediction) *models.Verdict {
	if p == nil {
		return nil
	}
	labels := r.Labels()

	v := &models.Verdict{
		Ranked:         Rank(p.Probabilities),
		PredictedLabel: p.PredictedLabel,
		IsNoTumor:      labels.IsNoTumor(p.PredictedLabel),
	}

	for i := range v.Ranked {
		entry := &v.Ranked[i]
		entry.Predicted = p.PredictedLabel != "" && strings.EqualFold(entry.Label, p.PredictedLabel)
		switch {
		case labels.IsNoTumor(entry.Label):
			entry.Role = models.BarNoTumor
		case entry.Predicted:
			entry.Role = models.BarPredictedTumor
		default:
			entry.Role = models.BarOther
		}
	}

	if top, ok := v.Top(); ok {
		pct := top.Percent
		v.TopLabel = top.Label
		v.TopPercent = &pct
		v.IsConfident = top.Probability >= ConfidentThreshold
	}

	switch {
	case !v.IsNoTumor:
		v.Tone = models.ToneTumor
	case v.IsConfident:
		v.Tone = models.ToneNoTumorConfident
	default:
		v.Tone = models.ToneNoTumorUncertain
	}
	return v
}

// Rank orders probabilities descending. Ties keep insertion order.
func Rank(probs models.ProbabilityMap) []models.RankedEntry {
	entries := probs.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Probability > entries[j].Probability
	})

	ranked := make([]models.RankedEntry, 0, len(entries))
	for _, e := range entries {
		ranked = append(ranked, models.RankedEntry{
			Label:       e.Label,
			Probability: e.Probability,
			Percent:     Percent(e.Probability),
		})
	}
	return ranked
}

// Percent converts a probability to a whole percentage, rounding half up
// and clamping to [0,100].
func Percent(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	pct := math.Round(p * 100)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct)
}
