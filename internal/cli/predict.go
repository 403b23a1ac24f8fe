package cli

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/detectra/detectra/internal/engine"
	"github.com/detectra/detectra/internal/models"
	"github.com/detectra/detectra/internal/orchestrator"
	"github.com/detectra/detectra/internal/render"
)

const explanationFileMode = 0o644

var (
	errNoExplanation = errors.New("the service returned no explanation image")
	errFeedback      = errors.New(orchestrator.FeedbackFailedMessage)
)

type predictFlags struct {
	explain     bool
	gradcamOut  string
	jsonOut     bool
	label       string
	comment     string
	interactive bool
	barWidth    int
}

// predictResult is the machine readable outcome of the predict command.
type predictResult struct {
	Prediction *models.Prediction          `json:"prediction"`
	Verdict    *models.Verdict             `json:"verdict"`
	Advice     engine.Advice               `json:"advice"`
	Feedback   *orchestrator.FeedbackState `json:"feedback,omitempty"`
}

// NewPredictCmd builds the predict command.
func NewPredictCmd() *cobra.Command {
	flags := &predictFlags{}

	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify an MRI image",
		Long: `Upload an MRI image for classification and print the verdict.

Examples:
  # Classify a scan
  detectra predict scan.png

  # Save the explanation overlay and report the correct class
  detectra predict scan.png --gradcam-out overlay.png --label glioma --comment "enhancing lesion"

  # Pick the correct class from the model's list
  detectra predict scan.jpg --interactive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return reported(errUsage)
			}
			if !cmd.Flags().Changed("explain") {
				flags.explain = rt.Config.Predict.Explain
			}
			return runPredict(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.explain, "explain", true, "Request a Grad-CAM explanation image")
	cmd.Flags().StringVar(&flags.gradcamOut, "gradcam-out", "", "Write the explanation image to this path")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().StringVar(&flags.label, "label", "", "Submit feedback with this correct label")
	cmd.Flags().StringVar(&flags.comment, "comment", "", "Optional feedback comment")
	cmd.Flags().BoolVarP(&flags.interactive, "interactive", "i", false, "Prompt for feedback after the result")
	cmd.Flags().IntVar(&flags.barWidth, "bar-width", 0, "Width of the probability bars")

	return cmd
}

// runPredict returns the first failure after reporting it, so the process
// exits non-zero whenever the classification or the feedback did not go through.
func runPredict(cmd *cobra.Command, path string, flags *predictFlags) error {
	ctx := cmd.Context()

	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read image: %w", err)
		logErrorCmd(*cmd, err)

		return reported(err)
	}

	o := rt.NewOrchestrator(flags.explain)
	err = o.SelectImage(models.ImagePayload{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Data:        data,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnsupportedImage) {
			err = fmt.Errorf("%w. Supported: JPG, PNG", err)
		}
		logErrorCmd(*cmd, err)

		return reported(err)
	}

	o.SubmitPrediction(ctx)
	snap := o.Snapshot()
	if snap.Predict.Phase != models.PhaseSucceeded {
		msg := orchestrator.PredictFailedMessage
		if snap.Predict.Failure != nil {
			msg = snap.Predict.Failure.Message
		}
		failure := errors.New(msg)
		logErrorCmd(*cmd, failure)

		return reported(failure)
	}

	advice := rt.Guidance.For(snap.Verdict)
	opts := render.Options{BarWidth: flags.barWidth}
	if !flags.jsonOut {
		render.Result(cmd.OutOrStdout(), snap.Prediction, snap.Verdict, advice, opts)
	}

	var failed error
	if flags.gradcamOut != "" {
		if err := writeExplanation(flags.gradcamOut, snap.Prediction); err != nil {
			logErrorCmd(*cmd, err)
			failed = reported(err)
		} else if !flags.jsonOut {
			logOKCmd(*cmd, "explanation saved to "+flags.gradcamOut)
		}
	}

	var feedback *orchestrator.FeedbackState
	label, comment := flags.label, flags.comment
	if flags.interactive && label == "" {
		label, comment, err = promptFeedback(cmd, o, comment)
		if err != nil {
			logErrorCmd(*cmd, err)

			return reported(err)
		}
	}
	if label != "" {
		o.SetFeedbackDraft(label, comment)
		o.SubmitFeedback(ctx)
		state := o.Snapshot().Feedback
		feedback = &state
		if !flags.jsonOut {
			render.Feedback(cmd.OutOrStdout(), state, opts)
		}
		if state.Phase != models.PhaseSucceeded && failed == nil {
			failed = reported(errFeedback)
		}
	}

	if flags.jsonOut {
		logJSONCmd(*cmd, predictResult{
			Prediction: snap.Prediction,
			Verdict:    snap.Verdict,
			Advice:     advice,
			Feedback:   feedback,
		})
	}
	return failed
}

func writeExplanation(path string, p *models.Prediction) error {
	if !p.HasExplanation() {
		return errNoExplanation
	}
	if err := os.WriteFile(path, p.ExplanationImage, explanationFileMode); err != nil {
		return fmt.Errorf("write explanation: %w", err)
	}
	return nil
}

// promptFeedback asks for the correct class. An empty label means the user
// skipped feedback.
func promptFeedback(cmd *cobra.Command, o *orchestrator.Orchestrator, comment string) (string, string, error) {
	info := o.LoadModelInfo(cmd.Context())
	classes := slices.Clone(info.Classes)
	if len(classes) == 0 {
		if p := o.Snapshot().Prediction; p != nil {
			for _, e := range p.Probabilities.Entries() {
				classes = append(classes, e.Label)
			}
		}
	}

	const skip = ""
	options := []huh.Option[string]{huh.NewOption("Skip feedback", skip)}
	options = append(options, huh.NewOptions(classes...)...)

	var label string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Correct label").
				Options(options...).
				Value(&label),
			huh.NewInput().
				Title("Comment (optional)").
				Value(&comment),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("feedback prompt: %w", err)
	}
	return label, comment, nil
}
