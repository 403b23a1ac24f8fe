package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// ImagePayload is the opaque image a user selected for classification.
type ImagePayload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Prediction is the result of one successful classification request.
// Values are treated as immutable once received.
type Prediction struct {
	RequestID        string         `json:"request_id"`
	PredictedLabel   string         `json:"prediction"`
	Probabilities    ProbabilityMap `json:"probabilities"`
	ExplanationImage []byte         `json:"-"`
}

// HasExplanation reports whether a saliency overlay accompanied the prediction.
func (p *Prediction) HasExplanation() bool {
	return p != nil && len(p.ExplanationImage) > 0
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (p *Prediction) Clone() *Prediction {
	if p == nil {
		return nil
	}
	out := *p
	out.Probabilities = p.Probabilities.Clone()
	out.ExplanationImage = slices.Clone(p.ExplanationImage)
	return &out
}

// ModelInfo describes the model served by the classification service.
type ModelInfo struct {
	ModelVersion string   `json:"model_version"`
	Classes      []string `json:"classes"`
}

// ProbabilityEntry is a single label/probability pair.
type ProbabilityEntry struct {
	Label       string
	Probability float64
}

// ProbabilityMap maps class labels to probabilities while remembering
// insertion order, which is the document order when decoded from JSON.
type ProbabilityMap struct {
	entries []ProbabilityEntry
}

// NewProbabilityMap builds a map from entries in order. A repeated label
// overwrites the earlier value in place.
func NewProbabilityMap(entries ...ProbabilityEntry) ProbabilityMap {
	var m ProbabilityMap
	for _, e := range entries {
		m.Set(e.Label, e.Probability)
	}
	return m
}

// ProbabilitiesFromMap converts a Go map, ordering labels lexically since
// Go maps carry no insertion order.
func ProbabilitiesFromMap(values map[string]float64) ProbabilityMap {
	labels := make([]string, 0, len(values))
	for label := range values {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var m ProbabilityMap
	for _, label := range labels {
		m.Set(label, values[label])
	}
	return m
}

// Set inserts or updates the probability for label.
func (m *ProbabilityMap) Set(label string, p float64) {
	for i := range m.entries {
		if m.entries[i].Label == label {
			m.entries[i].Probability = p
			return
		}
	}
	m.entries = append(m.entries, ProbabilityEntry{Label: label, Probability: p})
}

// Get returns the probability recorded for label.
func (m ProbabilityMap) Get(label string) (float64, bool) {
	for _, e := range m.entries {
		if e.Label == label {
			return e.Probability, true
		}
	}
	return 0, false
}

// Len returns the number of labels.
func (m ProbabilityMap) Len() int { return len(m.entries) }

// Entries returns a copy of the entries in insertion order.
func (m ProbabilityMap) Entries() []ProbabilityEntry {
	return slices.Clone(m.entries)
}

// Clone returns an independent copy.
func (m ProbabilityMap) Clone() ProbabilityMap {
	return ProbabilityMap{entries: slices.Clone(m.entries)}
}

// MarshalJSON encodes the map as an object preserving insertion order.
func (m ProbabilityMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Label)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Probability)
		if err != nil {
			return nil, fmt.Errorf("probability for %q: %w", e.Label, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of label to number, keeping key order.
func (m *ProbabilityMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("probabilities: expected object, got %v", tok)
	}

	var out ProbabilityMap
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("probabilities: unexpected key %v", tok)
		}
		var p float64
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("probabilities[%s]: %w", label, err)
		}
		out.Set(label, p)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}
