package commands

import (
	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/app"
	corecmd "github.com/m3rciful/dialogbot/core/cmd"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the operator bot and the worker registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return corecmd.Run(cmd.Context(), corecmd.Options{
				ConfigPath:        configPath(cmd),
				ConfigEnvVar:      configEnvVar,
				DefaultConfigPath: "config.yaml",
				Start:             app.Start,
			})
		},
	}
}
