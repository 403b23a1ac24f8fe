package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectra/detectra/internal/engine"
	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/repo"
)

func TestPredictionThroughClassifierClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict-image", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"r1","prediction":"notumor",` +
			`"probabilities":{"glioma":0.05,"notumor":0.92,"meningioma":0.03}}`))
	}))
	defer srv.Close()

	client := repo.NewClassifierClient(repo.ClassifierOptions{
		BaseURL:       srv.URL,
		PredictPath:   "/predict-image",
		FeedbackPath:  "/feedback",
		ModelInfoPath: "/model-info",
	})
	o := New(client, engine.NewResolver(nil), Options{DisableExplain: true})

	require.NoError(t, o.SelectImage(pngImage))
	require.True(t, o.SubmitPrediction(context.Background()))

	snap := o.Snapshot()
	require.Equal(t, models.PhaseSucceeded, snap.Predict.Phase)
	require.NotNil(t, snap.Prediction)
	assert.Equal(t, "r1", snap.Prediction.RequestID)

	v := snap.Verdict
	require.NotNil(t, v)
	labels := make([]string, 0, len(v.Ranked))
	for _, e := range v.Ranked {
		labels = append(labels, e.Label)
	}
	assert.Equal(t, []string{"notumor", "glioma", "meningioma"}, labels)
	assert.Equal(t, "notumor", v.TopLabel)
	require.NotNil(t, v.TopPercent)
	assert.Equal(t, 92, *v.TopPercent)
	assert.True(t, v.IsNoTumor)
	assert.True(t, v.IsConfident)
	assert.Equal(t, models.ToneNoTumorConfident, v.Tone)
	assert.Equal(t, models.BarNoTumor, v.Ranked[0].Role)
	assert.True(t, v.Ranked[0].Predicted)
	assert.False(t, snap.CanSubmitFeedback())
}
