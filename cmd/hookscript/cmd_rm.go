package main

import (
	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <name>",
	Args:  cobra.ExactArgs(1),
	Short: "Remove an existing script",
	RunE:  rmCmdRun,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func rmCmdRun(cmd *cobra.Command, args []string) error {
	scriptStore, err := scriptStore()
	if err != nil {
		return err
	}
	defer scriptStore.Close()

	if err := scriptStore.DeleteScript(cmd.Context(), args[0]); err != nil {
		return err
	}

	cmd.Printf("Script removed\n")
	return nil
}
