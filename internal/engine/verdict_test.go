package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectra/detectra/internal/models"
)

func prediction(label string, probs ...models.ProbabilityEntry) *models.Prediction {
	return &models.Prediction{
		RequestID:      "req-1",
		PredictedLabel: label,
		Probabilities:  models.NewProbabilityMap(probs...),
	}
}

func entry(label string, p float64) models.ProbabilityEntry {
	return models.ProbabilityEntry{Label: label, Probability: p}
}

func TestResolveTumor(t *testing.T) {
	v := NewResolver(nil).Resolve(prediction("glioma", entry("no_tumor", 0.05), entry("glioma", 0.9), entry("meningioma", 0.05)))
	require.NotNil(t, v)

	assert.Equal(t, models.ToneTumor, v.Tone)
	assert.False(t, v.IsNoTumor)
	assert.True(t, v.IsConfident)
	assert.Equal(t, "glioma", v.TopLabel)
	require.NotNil(t, v.TopPercent)
	assert.Equal(t, 90, *v.TopPercent)

	require.Len(t, v.Ranked, 3)
	assert.Equal(t, "glioma", v.Ranked[0].Label)
	assert.True(t, v.Ranked[0].Predicted)
	assert.Equal(t, models.BarPredictedTumor, v.Ranked[0].Role)
	assert.Equal(t, models.BarNoTumor, v.Ranked[1].Role)
	assert.Equal(t, models.BarOther, v.Ranked[2].Role)
}

func TestResolveNoTumorConfidence(t *testing.T) {
	cases := []struct {
		name string
		top  float64
		tone models.Tone
		pct  int
	}{
		{name: "confident", top: 0.92, tone: models.ToneNoTumorConfident, pct: 92},
		{name: "exact threshold", top: 0.80, tone: models.ToneNoTumorConfident, pct: 80},
		{name: "just below threshold", top: 0.7999, tone: models.ToneNoTumorUncertain, pct: 80},
		{name: "uncertain", top: 0.55, tone: models.ToneNoTumorUncertain, pct: 55},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewResolver(nil).Resolve(prediction("No Tumor", entry("No Tumor", tc.top), entry("glioma", 1-tc.top)))
			require.NotNil(t, v)
			assert.True(t, v.IsNoTumor)
			assert.Equal(t, tc.tone, v.Tone)
			require.NotNil(t, v.TopPercent)
			assert.Equal(t, tc.pct, *v.TopPercent)
		})
	}
}

func TestResolveUsesPredictedLabelNotTopEntry(t *testing.T) {
	v := NewResolver(nil).Resolve(prediction("no_tumor", entry("glioma", 0.6), entry("no_tumor", 0.4)))
	require.NotNil(t, v)
	assert.True(t, v.IsNoTumor)
	assert.Equal(t, "glioma", v.TopLabel)
	assert.Equal(t, models.ToneNoTumorUncertain, v.Tone)
}

func TestResolveEmptyProbabilities(t *testing.T) {
	v := NewResolver(nil).Resolve(prediction("glioma"))
	require.NotNil(t, v)
	assert.Empty(t, v.Ranked)
	assert.Nil(t, v.TopPercent)
	assert.Empty(t, v.TopLabel)
	assert.Equal(t, models.ToneTumor, v.Tone)

	v = NewResolver(nil).Resolve(prediction("none"))
	require.NotNil(t, v)
	assert.Equal(t, models.ToneNoTumorUncertain, v.Tone)
}

func TestResolveEmptyLabelLeansTumor(t *testing.T) {
	v := NewResolver(nil).Resolve(prediction("", entry("no_tumor", 0.99)))
	require.NotNil(t, v)
	assert.False(t, v.IsNoTumor)
	assert.Equal(t, models.ToneTumor, v.Tone)
}

func TestResolveNilPrediction(t *testing.T) {
	assert.Nil(t, NewResolver(nil).Resolve(nil))
}

func TestResolveDeterministicTies(t *testing.T) {
	var p models.Prediction
	require.NoError(t, json.Unmarshal([]byte(`{"request_id":"r","prediction":"b","probabilities":{"b":0.5,"a":0.5}}`), &p))

	resolver := NewResolver(nil)
	first := resolver.Resolve(&p)
	second := resolver.Resolve(&p)
	assert.Equal(t, first, second)
	assert.Equal(t, "b", first.Ranked[0].Label)
	assert.Equal(t, "a", first.Ranked[1].Label)
}

func TestResolveRankingIsDescending(t *testing.T) {
	v := NewResolver(nil).Resolve(prediction("pituitary",
		entry("glioma", 0.1), entry("meningioma", 0.2), entry("no_tumor", 0.3), entry("pituitary", 0.4)))
	require.NotNil(t, v)
	for i := 1; i < len(v.Ranked); i++ {
		assert.GreaterOrEqual(t, v.Ranked[i-1].Probability, v.Ranked[i].Probability)
	}
	assert.Equal(t, "pituitary", v.TopLabel)
}

func TestResolveLowConfidenceTumor(t *testing.T) {
	v := NewResolver(nil).Resolve(prediction("glioma",
		entry("glioma", 0.3), entry("no_tumor", 0.25), entry("meningioma", 0.25), entry("pituitary", 0.2)))
	require.NotNil(t, v)
	assert.Equal(t, models.ToneTumor, v.Tone)
	assert.False(t, v.IsNoTumor)
	assert.False(t, v.IsConfident)
	require.NotNil(t, v.TopPercent)
	assert.Equal(t, 30, *v.TopPercent)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 13, Percent(0.125))
	assert.Equal(t, 80, Percent(0.7999))
	assert.Equal(t, 80, Percent(0.795))
	assert.Equal(t, 79, Percent(0.794))
	assert.Equal(t, 0, Percent(0))
	assert.Equal(t, 100, Percent(1))
	assert.Equal(t, 100, Percent(1.3))
	assert.Equal(t, 0, Percent(-0.2))
}

func TestResolverCustomLabels(t *testing.T) {
	resolver := NewResolver(NewLabelClassifier("healthy"))
	v := resolver.Resolve(prediction("Healthy", entry("Healthy", 0.85)))
	require.NotNil(t, v)
	assert.Equal(t, models.ToneNoTumorConfident, v.Tone)
}
