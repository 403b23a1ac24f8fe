package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/detectra/detectra/internal/models"
)

// Pack bundles the no-tumor spellings and the guidance text shown next to a verdict.
type Pack struct {
	NoTumorLabels LabelSet    `yaml:"noTumorLabels"`
	Guidance      GuidanceSet `yaml:"guidance"`
}

// LabelSet lists additional no-tumor spellings.
type LabelSet struct {
	Spellings       []string `yaml:"spellings"`
	ReplaceDefaults bool     `yaml:"replaceDefaults"`
}

// GuidanceSet holds per-tone framing text.
type GuidanceSet struct {
	Disclaimer string                    `yaml:"disclaimer"`
	Footer     string                    `yaml:"footer"`
	Tones      map[models.Tone]ToneAdvice `yaml:"tones"`
}

// ToneAdvice is the headline and explanatory notes for one tone. The
// placeholder {label} in either is replaced by the predicted label.
type ToneAdvice struct {
	Headline string   `yaml:"headline"`
	Notes    []string `yaml:"notes"`
}

// DefaultPack returns the built-in pack.
func DefaultPack() Pack {
	return Pack{
		Guidance: GuidanceSet{
			Disclaimer: "This is an AI-aided result, not a medical diagnosis.",
			Footer:     "DETECTRA assists clinicians and is not a substitute for professional judgment.",
			Tones: map[models.Tone]ToneAdvice{
				models.ToneTumor: {
					Headline: "Tumor detected ({label})",
					Notes: []string{
						"A tumor class has the highest probability: {label}.",
						"Review the Grad-CAM to see model focus areas; confirm with a radiologist.",
					},
				},
				models.ToneNoTumorConfident: {
					Headline: "No tumor detected",
					Notes: []string{
						"No tumor class has the highest probability for this image.",
						"If symptoms persist or confidence is low, consider re-imaging or expert review.",
					},
				},
				models.ToneNoTumorUncertain: {
					Headline: "Likely no tumor (uncertain)",
					Notes: []string{
						"No tumor class has the highest probability for this image.",
						"If symptoms persist or confidence is low, consider re-imaging or expert review.",
					},
				},
			},
		},
	}
}

// LoadPack reads a pack from path and layers it over DefaultPack. An empty
// path or a missing file yields the defaults.
func LoadPack(path string, logger *slog.Logger) (Pack, error) {
	pack := DefaultPack()
	if path == "" {
		return pack, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("interpretation pack not found, using defaults", slog.String("path", path))
			return pack, nil
		}
		return Pack{}, fmt.Errorf("read interpretation pack: %w", err)
	}

	var file Pack
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Pack{}, fmt.Errorf("parse interpretation pack: %w", err)
	}
	for tone := range file.Guidance.Tones {
		if !knownTone(tone) {
			return Pack{}, fmt.Errorf("interpretation pack: unknown tone %q", tone)
		}
	}

	pack.merge(file)
	logger.Debug("interpretation pack loaded",
		slog.String("path", path),
		slog.Int("extra_spellings", len(file.NoTumorLabels.Spellings)),
		slog.Int("tones", len(file.Guidance.Tones)))
	return pack, nil
}

func (p *Pack) merge(other Pack) {
	p.NoTumorLabels.ReplaceDefaults = other.NoTumorLabels.ReplaceDefaults
	p.NoTumorLabels.Spellings = appendUnique(p.NoTumorLabels.Spellings, other.NoTumorLabels.Spellings...)
	if other.Guidance.Disclaimer != "" {
		p.Guidance.Disclaimer = other.Guidance.Disclaimer
	}
	if other.Guidance.Footer != "" {
		p.Guidance.Footer = other.Guidance.Footer
	}
	for tone, advice := range other.Guidance.Tones {
		current := p.Guidance.Tones[tone]
		if advice.Headline != "" {
			current.Headline = advice.Headline
		}
		if len(advice.Notes) > 0 {
			current.Notes = advice.Notes
		}
		p.Guidance.Tones[tone] = current
	}
}

// Classifier builds the LabelClassifier described by the pack.
func (p Pack) Classifier() *LabelClassifier {
	if p.NoTumorLabels.ReplaceDefaults && len(p.NoTumorLabels.Spellings) > 0 {
		return NewLabelClassifierFrom(p.NoTumorLabels.Spellings)
	}
	return NewLabelClassifier(p.NoTumorLabels.Spellings...)
}

func knownTone(t models.Tone) bool {
	switch t {
	case models.ToneTumor, models.ToneNoTumorConfident, models.ToneNoTumorUncertain:
		return true
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
