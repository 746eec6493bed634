package cmd

import (
	"fmt"
	"os"

	"github.com/encodeous/dvrouter/state"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a node configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := state.NameValidator(name); err != nil {
			return fmt.Errorf("invalid name: %w", err)
		}
		port, _ := cmd.Flags().GetUint16("port")
		admin, _ := cmd.Flags().GetString("admin")
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(state.NodeConfigPath); err == nil && !force {
			return fmt.Errorf("%s already exists, pass --force to overwrite it", state.NodeConfigPath)
		}

		nodeCfg := state.LocalCfg{
			Id:        state.NodeId(name),
			Port:      port,
			AdminAddr: admin,
		}
		if err := state.WriteLocalConfig(state.NodeConfigPath, &nodeCfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", state.NodeConfigPath)
		return nil
	},
	GroupID: "init",
}

var neighbourCmd = &cobra.Command{
	Use:   "neighbour [id] [host:port]",
	Short: "Add or update a neighbour in the node configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, addr := args[0], args[1]
		if err := state.NameValidator(id); err != nil {
			return fmt.Errorf("invalid neighbour id: %w", err)
		}
		if err := state.AddrValidator(addr); err != nil {
			return fmt.Errorf("invalid neighbour address: %w", err)
		}
		cost, _ := cmd.Flags().GetFloat64("cost")

		nodeCfg, err := state.ReadLocalConfig(state.NodeConfigPath)
		if err != nil {
			return err
		}
		if state.NodeId(id) == nodeCfg.Id {
			return fmt.Errorf("a node cannot be its own neighbour")
		}
		n := state.NeighbourCfg{Id: state.NodeId(id), Addr: addr, Cost: cost}
		replaced := false
		for i := range nodeCfg.Neighbours {
			if nodeCfg.Neighbours[i].Id == n.Id {
				nodeCfg.Neighbours[i] = n
				replaced = true
			}
		}
		if !replaced {
			nodeCfg.Neighbours = append(nodeCfg.Neighbours, n)
		}
		return state.WriteLocalConfig(state.NodeConfigPath, nodeCfg)
	},
	GroupID: "init",
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validates the node configuration with defaults applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeCfg, err := state.ReadLocalConfig(state.NodeConfigPath)
		if err != nil {
			return err
		}
		state.ExpandLocalConfig(nodeCfg)
		if err := state.NodeConfigValidator(nodeCfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", state.NodeConfigPath)
		return nil
	},
	GroupID: "ny",
}

func init() {
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(neighbourCmd)
	rootCmd.AddCommand(checkCmd)

	newCmd.Flags().Uint16P("port", "p", state.DefaultPort, "Port the router listens on")
	newCmd.Flags().String("admin", "", "Address of the admin endpoint, e.g. 127.0.0.1:9001")
	newCmd.Flags().BoolP("force", "f", false, "Overwrite an existing config")
	neighbourCmd.Flags().Float64P("cost", "c", 0, "Link cost, the default cost is used when zero")
}
