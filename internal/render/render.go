package render

import (
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	prettyjson "github.com/hokaccha/go-prettyjson"

	"github.com/detectra/detectra/internal/engine"
	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/orchestrator"
)

const defaultBarWidth = 30

// Options controls terminal output.
type Options struct {
	NoColor  bool
	BarWidth int
}

type palette struct {
	tumor     *color.Color
	noTumor   *color.Color
	uncertain *color.Color
	other     *color.Color
	muted     *color.Color
	heading   *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		tumor:     color.New(color.FgRed, color.Bold),
		noTumor:   color.New(color.FgGreen, color.Bold),
		uncertain: color.New(color.FgYellow, color.Bold),
		other:     color.New(color.FgBlue),
		muted:     color.New(color.Faint),
		heading:   color.New(color.Bold),
	}
	if noColor {
		for _, c := range []*color.Color{p.tumor, p.noTumor, p.uncertain, p.other, p.muted, p.heading} {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) forTone(t models.Tone) *color.Color {
	switch t {
	case models.ToneTumor:
		return p.tumor
	case models.ToneNoTumorConfident:
		return p.noTumor
	}
	return p.uncertain
}

func (p palette) forRole(r models.BarRole) *color.Color {
	switch r {
	case models.BarPredictedTumor:
		return p.tumor
	case models.BarNoTumor:
		return p.noTumor
	}
	return p.other
}

// Result writes the verdict banner, ranked probability bars and guidance.
func Result(w io.Writer, prediction *models.Prediction, verdict *models.Verdict, advice engine.Advice, opts Options) {
	if prediction == nil || verdict == nil {
		fmt.Fprintln(w, "No result yet.")
		return
	}
	p := newPalette(opts.NoColor)

	p.forTone(verdict.Tone).Fprintln(w, advice.Headline)
	fmt.Fprintf(w, "%s. %s\n", advice.Confidence, advice.Disclaimer)
	p.muted.Fprintf(w, "Request: %s  Prediction: %s\n\n", prediction.RequestID, prediction.PredictedLabel)

	Bars(w, verdict.Ranked, opts)

	if len(advice.Notes) > 0 {
		fmt.Fprintln(w)
		p.heading.Fprintln(w, "What this means")
		for _, note := range advice.Notes {
			fmt.Fprintf(w, "  • %s\n", note)
		}
	}
	if advice.Footer != "" {
		p.muted.Fprintln(w, advice.Footer)
	}
}

// Bars writes one proportional bar per ranked entry.
func Bars(w io.Writer, ranked []models.RankedEntry, opts Options) {
	if len(ranked) == 0 {
		fmt.Fprintln(w, "  (no class probabilities returned)")
		return
	}
	p := newPalette(opts.NoColor)
	width := opts.BarWidth
	if width <= 0 {
		width = defaultBarWidth
	}

	labelWidth := 0
	for _, e := range ranked {
		labelWidth = max(labelWidth, utf8.RuneCountInString(e.Label))
	}

	for _, e := range ranked {
		filled := int(math.Round(float64(e.Percent) * float64(width) / 100))
		bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
		pad := strings.Repeat(" ", labelWidth-utf8.RuneCountInString(e.Label))

		fmt.Fprintf(w, "  %s%s  ", e.Label, pad)
		p.forRole(e.Role).Fprint(w, bar)
		fmt.Fprintf(w, " %3d%%", e.Percent)
		if e.Predicted {
			fmt.Fprint(w, "  ◀ predicted")
		}
		fmt.Fprintln(w)
	}
}

// ModelInfo writes the model card.
func ModelInfo(w io.Writer, info models.ModelInfo) {
	version := info.ModelVersion
	if version == "" {
		version = "unavailable"
	}
	classes := "unavailable"
	if len(info.Classes) > 0 {
		classes = strings.Join(info.Classes, ", ")
	}
	fmt.Fprintf(w, "Model version: %s\nClasses: %s\n", version, classes)
}

// Feedback writes the outcome of the feedback workflow.
func Feedback(w io.Writer, state orchestrator.FeedbackState, opts Options) {
	p := newPalette(opts.NoColor)
	switch state.Phase {
	case models.PhaseSucceeded:
		p.noTumor.Fprintln(w, orchestrator.FeedbackThanksMessage)
	case models.PhaseFailed:
		msg := orchestrator.FeedbackFailedMessage
		if state.Failure != nil && state.Failure.Message != "" {
			msg = state.Failure.Message
		}
		p.tumor.Fprintln(w, msg)
	}
}

// JSON writes v as indented JSON, colored unless disabled.
func JSON(w io.Writer, v any, opts Options) error {
	f := prettyjson.NewFormatter()
	f.DisabledColor = opts.NoColor
	data, err := f.Marshal(v)
	if err != nil {
		return fmt.Errorf("render json: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
