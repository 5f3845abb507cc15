package main

import (
	"github.com/spf13/cobra"
)

var libRmCmd = &cobra.Command{
	Use:   "rm <library>...",
	Args:  cobra.MinimumNArgs(1),
	Short: "remove libraries by key",
	RunE:  libRmRun,
}

func init() {
	libCmd.AddCommand(libRmCmd)
}

func libRmRun(cmd *cobra.Command, args []string) error {
	s, err := scriptStore()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, key := range args {
		if err := s.RemoveLibrary(cmd.Context(), key); err != nil {
			return err
		}
	}

	cmd.Printf("Removed %d libraries\n", len(args))
	return nil
}
