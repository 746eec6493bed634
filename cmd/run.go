package cmd

import (
	"github.com/encodeous/dvrouter/core"
	"github.com/encodeous/dvrouter/state"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router",
	Long:  `This will run the router on the current host until it receives SIGINT or SIGTERM.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		logPath, _ := cmd.Flags().GetString("log")
		return core.Bootstrap(state.NodeConfigPath, logPath, verbose)
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("verbose", "v", false, "Verbose output")
	runCmd.Flags().StringP("log", "l", "", "Also write logs to this file, overrides log_path")
}
