package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/numkem/hookscript/script"
	"github.com/numkem/hookscript/store"
)

var checkCmd = &cobra.Command{
	Use:   "check <script>...",
	Args:  cobra.MinimumNArgs(1),
	Short: "Compile scripts without running them",
	Long: `Compile scripts without running them. A "-" reads a script from stdin; its engine
comes from its header comments or --engine.`,
	RunE: checkCmdRun,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().String("engine", script.ENGINE_LUA, "Engine of a script read from stdin without an engine header")
}

// readCheckedScript reads a script file, or stdin for "-"
func readCheckedScript(cmd *cobra.Command, filename string) (*script.Script, error) {
	if filename != "-" {
		return script.ReadFile(filename)
	}

	content, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}

	s, err := script.ReadString(string(content))
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = "stdin"
	}
	if s.Engine == "" {
		s.Engine, _ = cmd.Flags().GetString("engine")
	}

	return s, nil
}

func checkCmdRun(cmd *cobra.Command, args []string) error {
	var failed int
	for _, filename := range args {
		s, err := readCheckedScript(cmd, filename)
		if err != nil {
			cmd.PrintErrf("%s: %v\n", filename, err)
			failed++
			continue
		}

		libs, err := store.NewDevStore("", libraryDirFor(filename))
		if err != nil {
			return err
		}
		exec, err := newExecutor(libs)
		if err != nil {
			return err
		}

		_, err = exec.Compile(cmd.Context(), s)
		exec.Stop()
		if err != nil {
			cmd.PrintErrf("%s: %v\n", filename, err)
			failed++
			continue
		}

		cmd.Printf("%s: ok (%s, %s)\n", filename, s.Name, s.Engine)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed to compile", failed, len(args))
	}

	return nil
}
