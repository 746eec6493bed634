package cmd

import (
	"fmt"

	"github.com/encodeous/dvrouter/core"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect <admin addr>",
	Aliases: []string{"i"},
	Short:   "Inspects the neighbours and route table of a running node",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := core.IPCGet(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), result)
		return nil
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
