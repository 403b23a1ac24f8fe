package models

// Phase is the state of a request lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseInflight  Phase = "inflight"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// FeedbackSubmission is a user correction sent for a prior prediction.
type FeedbackSubmission struct {
	RequestID    string `json:"request_id"`
	CorrectLabel string `json:"correct_label"`
	Comment      string `json:"comment"`
}

// FeedbackDraft holds what the user has entered but not yet sent.
type FeedbackDraft struct {
	CorrectLabel string `json:"correct_label"`
	Comment      string `json:"comment"`
}
