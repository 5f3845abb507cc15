package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/numkem/hookscript/config"
	"github.com/numkem/hookscript/executor"
	"github.com/numkem/hookscript/modules"
	"github.com/numkem/hookscript/store"
)

var version = "dev"

// cfg is resolved before any subcommand runs
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "hookscript",
	Short:         "hookscript CLI",
	Long:          `hookscript runs sandboxed Lua, JavaScript and JSONPath scripts over captured HTTP exchanges`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}

		c, err := config.Load(config.New(), cmd.Flags(), configFile)
		if err != nil {
			return err
		}
		if err := c.ApplyLogLevel(); err != nil {
			return err
		}

		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "set the logger to this log level")
	rootCmd.PersistentFlags().StringP("backend", "b", store.BACKEND_DEV_NAME, "The name of the backend to use to manipulate the scripts (etcd, dev)")
	rootCmd.PersistentFlags().StringP("etcdurls", "e", "localhost:2379", "Endpoints to connect to etcd")
	rootCmd.PersistentFlags().StringP("natsurl", "u", "", "NATS url to reach, an embedded server is started when empty")
	rootCmd.PersistentFlags().String("script-dir", "", "Directory of scripts for the dev backend")
	rootCmd.PersistentFlags().String("library-dir", "", "Directory of Lua libraries for the dev backend")
	rootCmd.PersistentFlags().IntP("concurrency", "c", 0, "Maximum concurrent invocations, 0 for the number of CPUs")
	rootCmd.PersistentFlags().DurationP("timeout", "t", executor.DEFAULT_TIMEOUT, "Default wall-clock budget of an invocation")
	rootCmd.PersistentFlags().Duration("teardown-grace", executor.DEFAULT_TEARDOWN_GRACE, "How long to wait for an engine to stop after a deadline")
	rootCmd.PersistentFlags().Int("max-call-stack", executor.DEFAULT_MAX_CALL_STACK, "Maximum guest call depth")
	rootCmd.PersistentFlags().StringSlice("modules", modules.Names(), "Lua modules guests may require")
	rootCmd.PersistentFlags().Bool("forward-logs", false, "Log guest print/printerr output")
}

func Execute() error {
	return rootCmd.Execute()
}

func scriptStore() (store.ScriptStore, error) {
	s, err := store.StoreByName(cfg.Backend, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get script store: %w", err)
	}

	return s, nil
}

func newExecutor(libs executor.LibraryLoader) (*executor.Executor, error) {
	engines, err := cfg.Engines()
	if err != nil {
		return nil, err
	}

	return executor.New(cfg.ExecutorConfig(), libs, engines...), nil
}
