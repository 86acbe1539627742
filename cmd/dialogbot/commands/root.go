// Package commands holds the dialogbot CLI.
package commands

import (
	"github.com/spf13/cobra"
)

const configEnvVar = "CONFIG_PATH"

// NewRootCmd builds the CLI with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "dialogbot",
		Short: "Multi-account dialog automation with an operator bot",
		Long: `dialogbot drives several chat accounts through the search, greet and
wait cycle of an anonymous chat bot and reports replies to an operator.

Examples:
  dialogbot run -c config.yaml
  dialogbot migrate
  dialogbot keygen --keyring
  dialogbot account add --phone +79990000000 --session-file session.txt
  dialogbot patterns set --found "Partner found"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the config file (default $"+configEnvVar+" or config.yaml)")

	root.AddCommand(
		newRunCmd(),
		newMigrateCmd(),
		newKeygenCmd(),
		newAccountCmd(),
		newPatternsCmd(),
	)
	return root
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	return p
}
