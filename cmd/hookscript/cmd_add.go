package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/numkem/hookscript/script"
	"github.com/numkem/hookscript/store"
)

var addCmd = &cobra.Command{
	Use:   "add <script file or directory>",
	Args:  cobra.MatchAll(cobra.ExactArgs(1), validateArgIsPath),
	Short: "Add scripts to the backend by reading the provided file or directory",
	RunE:  addCmdRun,
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringP("name", "n", "", "The name of the script in the backend, only for a single file")
	addCmd.Flags().BoolP("recursive", "r", false, "Add scripts in subdirectories too")
}

func addCmdRun(cmd *cobra.Command, args []string) error {
	scriptStore, err := scriptStore()
	if err != nil {
		return err
	}
	defer scriptStore.Close()

	if cfg.Backend == store.BACKEND_DEV_NAME {
		log.Warn("the dev backend is in memory, added scripts are lost when the command exits")
	}

	stat, err := os.Stat(args[0])
	if err != nil {
		return err
	}

	scripts := make(map[string]*script.Script)
	if stat.IsDir() {
		recursive, _ := cmd.Flags().GetBool("recursive")
		scripts, err = script.ReadScriptDirectory(args[0], recursive)
		if err != nil {
			return err
		}
	} else {
		s, err := script.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read the script file %s: %w", args[0], err)
		}
		if name, _ := cmd.Flags().GetString("name"); name != "" {
			s.Name = name
		}
		scripts[s.Name] = s
	}

	// Refuse scripts that can't compile before they reach the store
	exec, err := newExecutor(scriptStore)
	if err != nil {
		return err
	}
	defer exec.Stop()

	for name, s := range scripts {
		if _, err := exec.Compile(cmd.Context(), s); err != nil {
			return err
		}

		if err := scriptStore.AddScript(cmd.Context(), s); err != nil {
			return fmt.Errorf("failed to add script %s: %w", name, err)
		}

		cmd.Printf("Script %s added successfully\n", name)
	}

	return nil
}
