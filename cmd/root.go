package cmd

import (
	"os"

	"github.com/encodeous/dvrouter/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dvrouter",
	Short: "Distance-vector router node",
	Long: `dvrouter runs a single node of a distance-vector routing overlay.
Each node keeps a TCP link to every configured neighbour, exchanges distance vectors over them, and evicts neighbours that stop sending keep-alives.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Configure a node",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ny",
		Title: "Router Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&state.NodeConfigPath, "node-config", "n", state.NodeConfigPath, "node-specific config")
}
