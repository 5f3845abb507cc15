package main

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "list all the scripts registered in the store",
	RunE:    listCmdRun,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func listCmdRun(cmd *cobra.Command, args []string) error {
	scriptStore, err := scriptStore()
	if err != nil {
		return err
	}
	defer scriptStore.Close()

	scripts, err := scriptStore.ListScripts(cmd.Context())
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateRows = false
	t.Style().Options.SeparateColumns = false
	t.Style().Options.SeparateHeader = false
	t.Style().Options.SeparateFooter = false

	t.AppendHeader(table.Row{"Name", "Engine", "Timeout", "Libraries"})

	for _, s := range scripts {
		timeout := "default"
		if s.Timeout > 0 {
			timeout = s.Timeout.String()
		}

		t.AppendRow(table.Row{s.Name, s.Engine, timeout, strings.Join(s.LibKeys, ", ")})
	}

	t.Render()
	return nil
}
