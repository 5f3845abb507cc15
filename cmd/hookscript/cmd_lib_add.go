package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/numkem/hookscript/script"
	"github.com/numkem/hookscript/store"
)

var libAddCmd = &cobra.Command{
	Use:   "add <file or directory>...",
	Args:  cobra.MinimumNArgs(1),
	Short: "add libraries",
	Long: `add libraries either as a single file or as a directory. Only files ending in .lua will be added.
A library is stored under its path relative to the given directory, without extension.`,
	RunE: libAddRun,
}

func init() {
	libCmd.AddCommand(libAddCmd)

	libAddCmd.Flags().BoolP("recursive", "r", false, "Add files in path recursively")
}

func addLibraryFile(ctx context.Context, s store.ScriptStore, fullname, key string) error {
	content, err := os.ReadFile(fullname)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", fullname, err)
	}

	log.Debugf("adding library %s", key)
	return s.AddLibrary(ctx, key, content)
}

func libAddRun(cmd *cobra.Command, args []string) error {
	s, err := scriptStore()
	if err != nil {
		return err
	}
	defer s.Close()

	recursive, _ := cmd.Flags().GetBool("recursive")

	var count int
	for _, arg := range args {
		fields := log.Fields{
			"path": arg,
		}

		stat, err := os.Stat(arg)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", arg, err)
		}

		if !stat.IsDir() {
			if err := addLibraryFile(cmd.Context(), s, arg, script.LibraryKey(filepath.Base(arg))); err != nil {
				return err
			}
			count++
			continue
		}

		if recursive {
			libs, err := script.ReadLibraryDirectory(arg)
			if err != nil {
				return err
			}

			for key, content := range libs {
				if err := s.AddLibrary(cmd.Context(), key, content); err != nil {
					return fmt.Errorf("failed to add library %s: %w", key, err)
				}
				count++
			}
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			log.WithFields(fields).Errorf("failed to read directory: %v", err)
			return err
		}

		for _, e := range entries {
			if e.IsDir() || path.Ext(e.Name()) != ".lua" {
				continue
			}

			if err := addLibraryFile(cmd.Context(), s, filepath.Join(arg, e.Name()), script.LibraryKey(e.Name())); err != nil {
				return err
			}
			count++
		}
	}

	cmd.Printf("Added %d libraries\n", count)
	return nil
}
