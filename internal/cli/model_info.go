package cli

import (
	"github.com/spf13/cobra"

	"github.com/detectra/detectra/internal/render"
)

// NewModelInfoCmd builds the model-info command.
func NewModelInfoCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "model-info",
		Short: "Show the classifier model card",
		Long:  `Show the version and class list of the deployed classification model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				logUsageCmd(*cmd, cmd.Use)

				return reported(errUsage)
			}

			info, err := rt.Client.ModelInfo(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return reported(err)
			}
			if jsonOut {
				logJSONCmd(*cmd, info)

				return nil
			}
			render.ModelInfo(cmd.OutOrStdout(), info)

			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the model card as JSON")

	return cmd
}
