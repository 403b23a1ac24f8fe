package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed requests.
	OutcomeSuccess = "success"
	// OutcomeError labels failed requests (transport, service or parse issues).
	OutcomeError = "error"
)

var (
	predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detectra",
			Name:      "predictions_total",
			Help:      "Total number of prediction requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	predictionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "detectra",
			Name:      "prediction_seconds",
			Help:      "Prediction round-trip latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	feedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detectra",
			Name:      "feedback_total",
			Help:      "Total number of feedback submissions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detectra",
			Name:      "verdicts_total",
			Help:      "Verdicts produced for successful predictions, partitioned by tone.",
		},
		[]string{"tone"},
	)
)

// Register attaches detectra collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		predictionsTotal,
		predictionDurationSeconds,
		feedbackTotal,
		verdictsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePrediction records a prediction duration and outcome label.
func ObservePrediction(duration time.Duration, outcome string) {
	predictionsTotal.WithLabelValues(normalizeOutcome(outcome)).Inc()
	if duration < 0 {
		duration = 0
	}
	predictionDurationSeconds.Observe(duration.Seconds())
}

// ObserveFeedback records a feedback submission outcome.
func ObserveFeedback(outcome string) {
	feedbackTotal.WithLabelValues(normalizeOutcome(outcome)).Inc()
}

// ObserveVerdict counts a resolved verdict by tone.
func ObserveVerdict(tone string) {
	verdictsTotal.WithLabelValues(tone).Inc()
}

func normalizeOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return outcome
}
