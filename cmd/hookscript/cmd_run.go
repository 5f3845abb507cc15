package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/numkem/hookscript/exchange"
	"github.com/numkem/hookscript/executor"
	"github.com/numkem/hookscript/scheduler"
	"github.com/numkem/hookscript/script"
	"github.com/numkem/hookscript/store"
)

func validateArgIsPath(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("a path to a script file is required")
	}

	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("invalid filename %s: %w", args[0], err)
	}

	return nil
}

var runCmd = &cobra.Command{
	Use:   "run <script> [exchanges]",
	Args:  cobra.MatchAll(cobra.RangeArgs(1, 2), validateArgIsPath),
	Short: "Run a script over every exchange of a file",
	Long: `Run a script over exchanges read as JSON, one per line, from the given file or
from stdin when no file or "-" is given. Results are written in input order.`,
	RunE: runCmdRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("output", "o", OUTPUT_TEXT, "Output format: text, json or table")
}

// libraryDirFor returns the configured library directory or the libs folder next
// to the script
func libraryDirFor(scriptFile string) string {
	if cfg.LibraryDir != "" {
		return cfg.LibraryDir
	}

	candidate := filepath.Join(filepath.Dir(scriptFile), script.LIBRARY_FOLDER_NAME)
	if stat, err := os.Stat(candidate); err == nil && stat.IsDir() {
		return candidate
	}

	return ""
}

func openInput(args []string) (io.ReadCloser, error) {
	if len(args) < 2 || args[1] == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(args[1])
	if err != nil {
		return nil, fmt.Errorf("failed to open exchanges file: %w", err)
	}

	return f, nil
}

func runCmdRun(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	w, err := newResultWriter(format, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s, err := script.ReadFile(args[0])
	if err != nil {
		return err
	}

	libs, err := store.NewDevStore("", libraryDirFor(args[0]))
	if err != nil {
		return err
	}

	exec, err := newExecutor(libs)
	if err != nil {
		return err
	}
	defer exec.Stop()

	input, err := openInput(args)
	if err != nil {
		return err
	}
	defer input.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sched := scheduler.New(exec, cfg.Concurrency)
	fields := log.Fields{
		"script":      s.Name,
		"engine":      s.Engine,
		"concurrency": sched.Concurrency(),
	}
	log.WithFields(fields).Debug("running script")

	// Exchanges by sequence number, filled in arrival order
	var mu sync.Mutex
	var exchanges []*exchange.Exchange

	in := make(chan *exchange.Exchange)
	scanErr := make(chan error, 1)
	go func() {
		defer close(in)
		scanErr <- exchange.Scan(input, func(ex *exchange.Exchange) error {
			mu.Lock()
			exchanges = append(exchanges, ex)
			mu.Unlock()

			select {
			case in <- ex:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	out := make(chan *executor.InvocationResult)
	runErr := make(chan error, 1)
	go func() {
		runErr <- sched.Run(ctx, s, in, out)
		close(out)
	}()

	var failed int
	for res := range scheduler.Ordered(out) {
		mu.Lock()
		ex := exchanges[res.Seq]
		mu.Unlock()

		if res.Failed() {
			failed++
		}
		if err := w.Write(res, ex); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}

	if err := <-runErr; err != nil {
		return err
	}
	cancel()
	if err := <-scanErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to read exchanges: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	log.WithFields(fields).WithField("failed", failed).Debugf("processed %d exchanges", len(exchanges))
	return nil
}
