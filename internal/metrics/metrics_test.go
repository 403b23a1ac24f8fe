package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObservePrediction(t *testing.T) {
	before := testutil.ToFloat64(predictionsTotal.WithLabelValues(OutcomeError))
	ObservePrediction(-time.Second, OutcomeError)
	ObservePrediction(time.Second, "weird")

	assert.Equal(t, before+1, testutil.ToFloat64(predictionsTotal.WithLabelValues(OutcomeError)))
}

func TestObserveFeedbackAndVerdict(t *testing.T) {
	before := testutil.ToFloat64(feedbackTotal.WithLabelValues(OutcomeSuccess))
	ObserveFeedback(OutcomeSuccess)
	assert.Equal(t, before+1, testutil.ToFloat64(feedbackTotal.WithLabelValues(OutcomeSuccess)))

	beforeTone := testutil.ToFloat64(verdictsTotal.WithLabelValues("tumor"))
	ObserveVerdict("tumor")
	assert.Equal(t, beforeTone+1, testutil.ToFloat64(verdictsTotal.WithLabelValues("tumor")))
}
