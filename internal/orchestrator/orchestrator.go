package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/detectra/detectra/internal/engine"
	"github.com/detectra/detectra/internal/metrics"
	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/utils"
)

// User-facing messages. Diagnostic detail is logged, never shown.
const (
	PredictFailedMessage  = "Prediction failed. Please try another image."
	FeedbackFailedMessage = "Feedback could not be sent. Please try again."
	FeedbackThanksMessage = "Thanks for your feedback!"
)

var (
	// ErrNoImage is returned when an empty payload is selected.
	ErrNoImage = errors.New("no image selected")
	// ErrUnsupportedImage is returned when the payload does not sniff as an image.
	ErrUnsupportedImage = errors.New("unsupported image format")
	// ErrPredictionInFlight is returned when the image changes during a prediction.
	ErrPredictionInFlight = errors.New("prediction in flight")
)

// Classifier is the remote classification service used by the orchestrator.
type Classifier interface {
	Predict(ctx context.Context, image models.ImagePayload, explain bool) (*models.Prediction, error)
	SubmitFeedback(ctx context.Context, feedback models.FeedbackSubmission) error
	ModelInfo(ctx context.Context) (models.ModelInfo, error)
}

// Options tunes an Orchestrator.
type Options struct {
	Logger *slog.Logger
	// RequestTimeout bounds each predict and feedback call. Zero means no bound
	// beyond the caller's context.
	RequestTimeout time.Duration
	// DisableExplain turns the explanation request off for new sessions.
	DisableExplain bool
}

// Orchestrator drives the predict and feedback lifecycles for one user
// session. All methods are safe for concurrent use; SubmitPrediction and
// SubmitFeedback block until their request completes.
type Orchestrator struct {
	client    Classifier
	resolver  *engine.Resolver
	logger    *slog.Logger
	timeout   time.Duration
	latencies *utils.LatencyTracker

	mu          sync.Mutex
	image       *models.ImagePayload
	explain     bool
	predict     PredictState
	prediction  *models.Prediction
	feedback    FeedbackState
	modelInfo   models.ModelInfo
	version     uint64
	subscribers map[int]chan Snapshot
	nextSub     int
}

// New constructs an Orchestrator in the idle state.
func New(client Classifier, resolver *engine.Resolver, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = engine.NewResolver(nil)
	}
	return &Orchestrator{
		client:      client,
		resolver:    resolver,
		logger:      logger,
		timeout:     opts.RequestTimeout,
		latencies:   utils.NewLatencyTracker(256),
		explain:     !opts.DisableExplain,
		predict:     PredictState{Phase: models.PhaseIdle},
		feedback:    FeedbackState{Phase: models.PhaseIdle},
		subscribers: make(map[int]chan Snapshot),
	}
}

// SelectImage makes image the current selection, clearing any prior
// prediction and resetting feedback. It is rejected while a prediction is
// in flight so that a response always belongs to the image it was issued for.
func (o *Orchestrator) SelectImage(image models.ImagePayload) error {
	if len(image.Data) == 0 {
		return ErrNoImage
	}
	sniffed := http.DetectContentType(image.Data)
	if !strings.HasPrefix(sniffed, "image/") {
		return ErrUnsupportedImage
	}
	if image.ContentType == "" || !strings.HasPrefix(image.ContentType, "image/") {
		image.ContentType = sniffed
	}
	image.Data = slices.Clone(image.Data)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.predict.Phase == models.PhaseInflight {
		return ErrPredictionInFlight
	}
	o.image = &image
	o.prediction = nil
	o.predict = PredictState{Phase: models.PhaseIdle}
	o.feedback = FeedbackState{Phase: models.PhaseIdle}
	o.publishLocked()
	return nil
}

// SetExplain toggles the explanation request for subsequent predictions.
func (o *Orchestrator) SetExplain(explain bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.explain == explain {
		return
	}
	o.explain = explain
	o.publishLocked()
}

// SubmitPrediction classifies the selected image and blocks until the
// request completes. It returns false without side effects when no image is
// selected or a prediction is already in flight.
func (o *Orchestrator) SubmitPrediction(ctx context.Context) bool {
	req, ok := o.beginPrediction()
	if !ok {
		return false
	}
	o.runPrediction(ctx, req)
	return true
}

// StartPrediction is SubmitPrediction without blocking: the inflight
// transition happens before it returns and the request runs in the
// background. The returned channel closes once the request has settled.
func (o *Orchestrator) StartPrediction(ctx context.Context) (<-chan struct{}, bool) {
	req, ok := o.beginPrediction()
	if !ok {
		return nil, false
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.runPrediction(ctx, req)
	}()
	return done, true
}

type predictRequest struct {
	image   models.ImagePayload
	explain bool
}

func (o *Orchestrator) beginPrediction() (predictRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.image == nil || o.predict.Phase == models.PhaseInflight {
		return predictRequest{}, false
	}
	o.predict = PredictState{Phase: models.PhaseInflight}
	o.publishLocked()
	return predictRequest{image: *o.image, explain: o.explain}, true
}

func (o *Orchestrator) runPrediction(ctx context.Context, req predictRequest) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	prediction, err := o.callPredict(ctx, req.image, req.explain)
	duration := time.Since(start)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err != nil {
		failure := newFailure(err, PredictFailedMessage, "prediction failed")
		o.predict = PredictState{Phase: models.PhaseFailed, Failure: failure}
		metrics.ObservePrediction(duration, metrics.OutcomeError)
		o.logger.Error("prediction failed",
			slog.String("image", req.image.Name),
			slog.String("kind", string(failure.Kind)),
			slog.String("detail", failure.Detail),
			slog.Duration("duration", duration))
		o.publishLocked()
		return
	}

	o.prediction = prediction.Clone()
	o.predict = PredictState{Phase: models.PhaseSucceeded}
	o.feedback = FeedbackState{Phase: models.PhaseIdle}

	verdict := o.resolver.Resolve(o.prediction)
	metrics.ObservePrediction(duration, metrics.OutcomeSuccess)
	metrics.ObserveVerdict(string(verdict.Tone))
	o.latencies.Observe(duration)
	o.logger.Info("prediction completed",
		slog.String("request_id", prediction.RequestID),
		slog.String("prediction", prediction.PredictedLabel),
		slog.String("tone", string(verdict.Tone)),
		slog.Duration("duration", duration))
	if count := o.latencies.Count(); count >= 20 && count%20 == 0 {
		o.logger.Info("prediction latency", slog.Duration("p95", o.latencies.Percentile(95)), slog.Int("samples", count))
	}
	o.publishLocked()
}

func (o *Orchestrator) callPredict(ctx context.Context, image models.ImagePayload, explain bool) (*models.Prediction, error) {
	if o.client == nil {
		return nil, utils.NewAppError("predict", utils.KindPrecondition, "classifier not configured", nil)
	}
	prediction, err := o.client.Predict(ctx, image, explain)
	if err == nil && prediction == nil {
		err = utils.NewAppError("predict", utils.KindParse, "empty prediction", nil)
	}
	return prediction, err
}

// SetFeedbackDraft records the corrected label and comment the user entered.
// The draft is frozen while feedback is in flight or accepted, so it always
// matches what was sent; it returns false in that case.
func (o *Orchestrator) SetFeedbackDraft(correctLabel, comment string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.feedback.Phase == models.PhaseInflight || o.feedback.Phase == models.PhaseSucceeded {
		return false
	}
	o.feedback.Draft = models.FeedbackDraft{CorrectLabel: correctLabel, Comment: comment}
	o.publishLocked()
	return true
}

// SubmitFeedback sends the draft for the current prediction and blocks
// until the request completes. It returns false without side effects when
// there is no successful prediction, the corrected label is empty, or
// feedback is in flight or already accepted.
func (o *Orchestrator) SubmitFeedback(ctx context.Context) bool {
	submission, ok := o.beginFeedback()
	if !ok {
		return false
	}
	o.runFeedback(ctx, submission)
	return true
}

// StartFeedback is SubmitFeedback without blocking. The returned channel
// closes once the request has settled.
func (o *Orchestrator) StartFeedback(ctx context.Context) (<-chan struct{}, bool) {
	submission, ok := o.beginFeedback()
	if !ok {
		return nil, false
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.runFeedback(ctx, submission)
	}()
	return done, true
}

func (o *Orchestrator) beginFeedback() (models.FeedbackSubmission, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	label := strings.TrimSpace(o.feedback.Draft.CorrectLabel)
	if o.prediction == nil || o.prediction.RequestID == "" || label == "" ||
		o.feedback.Phase == models.PhaseInflight || o.feedback.Phase == models.PhaseSucceeded {
		return models.FeedbackSubmission{}, false
	}
	o.feedback.Phase = models.PhaseInflight
	o.feedback.Failure = nil
	o.publishLocked()
	return models.FeedbackSubmission{
		RequestID:    o.prediction.RequestID,
		CorrectLabel: label,
		Comment:      o.feedback.Draft.Comment,
	}, true
}

func (o *Orchestrator) runFeedback(ctx context.Context, submission models.FeedbackSubmission) {
	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	var err error
	if o.client == nil {
		err = utils.NewAppError("feedback", utils.KindPrecondition, "classifier not configured", nil)
	} else {
		err = o.client.SubmitFeedback(ctx, submission)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.prediction == nil || o.prediction.RequestID != submission.RequestID {
		o.logger.Warn("dropping feedback result for superseded prediction",
			slog.String("request_id", submission.RequestID),
			slog.Bool("failed", err != nil))
		return
	}
	if err != nil {
		failure := newFailure(err, FeedbackFailedMessage, "feedback failed")
		o.feedback.Phase = models.PhaseFailed
		o.feedback.Failure = failure
		metrics.ObserveFeedback(metrics.OutcomeError)
		o.logger.Error("feedback failed",
			slog.String("request_id", submission.RequestID),
			slog.String("kind", string(failure.Kind)),
			slog.String("detail", failure.Detail))
	} else {
		o.feedback.Phase = models.PhaseSucceeded
		metrics.ObserveFeedback(metrics.OutcomeSuccess)
		o.logger.Info("feedback accepted",
			slog.String("request_id", submission.RequestID),
			slog.String("correct_label", submission.CorrectLabel))
	}
	o.publishLocked()
}

// ResetFeedback returns a finished feedback workflow to idle so the user
// may send another correction. The draft is kept.
func (o *Orchestrator) ResetFeedback() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.feedback.Phase == models.PhaseIdle || o.feedback.Phase == models.PhaseInflight {
		return false
	}
	o.feedback.Phase = models.PhaseIdle
	o.feedback.Failure = nil
	o.publishLocked()
	return true
}

// LoadModelInfo fetches model metadata. Failure is logged and yields the
// zero ModelInfo; it never affects the predict or feedback workflows.
func (o *Orchestrator) LoadModelInfo(ctx context.Context) models.ModelInfo {
	if o.client == nil {
		return models.ModelInfo{}
	}
	info, err := o.client.ModelInfo(ctx)
	if err != nil {
		o.logger.Warn("model info unavailable", slog.Any("error", err))
		return models.ModelInfo{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.modelInfo = models.ModelInfo{ModelVersion: info.ModelVersion, Classes: slices.Clone(info.Classes)}
	o.publishLocked()
	return info
}

// Image returns a copy of the selected image.
func (o *Orchestrator) Image() (models.ImagePayload, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.image == nil {
		return models.ImagePayload{}, false
	}
	img := *o.image
	img.Data = slices.Clone(img.Data)
	return img, true
}

// Resolver returns the resolver used for verdicts.
func (o *Orchestrator) Resolver() *engine.Resolver {
	return o.resolver
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

func newFailure(err error, message, fallback string) *Failure {
	kind := utils.KindOf(err)
	detail := err.Error()
	if kind == utils.KindService {
		detail = utils.MessageOf(err, fallback)
	}
	return &Failure{Kind: kind, Message: message, Detail: detail}
}
