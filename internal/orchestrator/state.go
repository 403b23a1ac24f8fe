package orchestrator

import (
	"slices"

	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/utils"
)

// Failure describes why a request ended in the failed phase.
type Failure struct {
	Kind utils.ErrorKind `json:"kind"`
	// Message is safe to show to the user.
	Message string `json:"message"`
	// Detail is diagnostic text such as the service's error body.
	Detail string `json:"-"`
}

// PredictState is the predict lifecycle.
type PredictState struct {
	Phase   models.Phase `json:"phase"`
	Failure *Failure     `json:"failure,omitempty"`
}

// FeedbackState is the feedback lifecycle plus the user's draft.
type FeedbackState struct {
	Phase   models.Phase         `json:"phase"`
	Draft   models.FeedbackDraft `json:"draft"`
	Failure *Failure             `json:"failure,omitempty"`
}

// ImageInfo describes the selected image without its bytes.
type ImageInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Snapshot is a point-in-time copy of an Orchestrator's state. Verdict is
// derived from Prediction whenever a snapshot is taken.
type Snapshot struct {
	Version    uint64             `json:"version"`
	Image      *ImageInfo         `json:"image,omitempty"`
	Explain    bool               `json:"explain"`
	Predict    PredictState       `json:"predict"`
	Prediction *models.Prediction `json:"prediction,omitempty"`
	Verdict    *models.Verdict    `json:"verdict,omitempty"`
	Feedback   FeedbackState      `json:"feedback"`
	ModelInfo  models.ModelInfo   `json:"model_info"`
}

// CanSubmitFeedback reports whether SubmitFeedback would send a request.
func (s Snapshot) CanSubmitFeedback() bool {
	return s.Prediction != nil && s.Prediction.RequestID != "" &&
		s.Feedback.Draft.CorrectLabel != "" &&
		s.Feedback.Phase != models.PhaseInflight && s.Feedback.Phase != models.PhaseSucceeded
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe streams a snapshot after every state change, starting with the
// current one. Slow readers only see the latest snapshot. Call cancel to stop.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subscribers[id] = ch
	ch <- o.snapshotLocked()
	o.mu.Unlock()

	cancel := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if sub, ok := o.subscribers[id]; ok {
			delete(o.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:    o.version,
		Explain:    o.explain,
		Predict:    PredictState{Phase: o.predict.Phase, Failure: copyFailure(o.predict.Failure)},
		Prediction: o.prediction.Clone(),
		Feedback: FeedbackState{
			Phase:   o.feedback.Phase,
			Draft:   o.feedback.Draft,
			Failure: copyFailure(o.feedback.Failure),
		},
		ModelInfo: models.ModelInfo{ModelVersion: o.modelInfo.ModelVersion, Classes: slices.Clone(o.modelInfo.Classes)},
	}
	if o.image != nil {
		snap.Image = &ImageInfo{Name: o.image.Name, ContentType: o.image.ContentType, Size: len(o.image.Data)}
	}
	snap.Verdict = o.resolver.Resolve(snap.Prediction)
	return snap
}

// publishLocked bumps the version and delivers the new state. Callers hold o.mu.
func (o *Orchestrator) publishLocked() {
	o.version++
	if len(o.subscribers) == 0 {
		return
	}
	snap := o.snapshotLocked()
	for _, ch := range o.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func copyFailure(f *Failure) *Failure {
	if f == nil {
		return nil
	}
	out := *f
	return &out
}
