package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/detectra/detectra/internal/config"
)

type rootFlags struct {
	configPath string
	logLevel   string
	noColor    bool
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if !isReported(err) {
			logErrorCmd(*rootCmd, err)
		}
		return 1
	}
	return 0
}

// NewRootCmd assembles the detectra command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "detectra",
		Short: "DETECTRA MRI tumor classifier client",
		Long: `DETECTRA submits brain MRI images to a tumor classification service,
interprets the returned class probabilities and relays clinician feedback.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if flags.noColor {
				color.NoColor = true
			}
			if rt != nil {
				return nil
			}

			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if flags.logLevel != "" {
				cfg.Logging.Level = flags.logLevel
			}
			r, err := NewRuntime(cfg)
			if err != nil {
				return err
			}
			SetRuntime(r)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		NewPredictCmd(),
		NewModelInfoCmd(),
		NewServeCmd(),
	)

	return rootCmd
}
