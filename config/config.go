// Package config resolves hookscript settings from flags, HOOKSCRIPT_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/numkem/hookscript"
	"github.com/numkem/hookscript/executor"
	"github.com/numkem/hookscript/modules"
	"github.com/numkem/hookscript/store"
)

const (
	ENV_PREFIX        = "HOOKSCRIPT"
	DEFAULT_HTTP_PORT = 7643
)

type Config struct {
	LogLevel      string        `mapstructure:"log-level"`
	Backend       string        `mapstructure:"backend"`
	EtcdEndpoints string        `mapstructure:"etcdurls"`
	NatsURL       string        `mapstructure:"natsurl"`
	ScriptDir     string        `mapstructure:"script-dir"`
	LibraryDir    string        `mapstructure:"library-dir"`
	Concurrency   int           `mapstructure:"concurrency"`
	Timeout       time.Duration `mapstructure:"timeout"`
	TeardownGrace time.Duration `mapstructure:"teardown-grace"`
	MaxCallStack  int           `mapstructure:"max-call-stack"`
	Modules       []string      `mapstructure:"modules"`
	HTTPPort      int           `mapstructure:"port"`
	ForwardLogs   bool          `mapstructure:"forward-logs"`
	OtelEndpoint  string        `mapstructure:"otel-endpoint"`
}

// New returns a viper instance with every default set and environment lookup
// enabled. Keys use dashes; HOOKSCRIPT_SCRIPT_DIR maps to script-dir.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("backend", store.BACKEND_DEV_NAME)
	v.SetDefault("etcdurls", "localhost:2379")
	v.SetDefault("natsurl", "")
	v.SetDefault("script-dir", "")
	v.SetDefault("library-dir", "")
	v.SetDefault("concurrency", 0)
	v.SetDefault("timeout", executor.DEFAULT_TIMEOUT)
	v.SetDefault("teardown-grace", executor.DEFAULT_TEARDOWN_GRACE)
	v.SetDefault("max-call-stack", executor.DEFAULT_MAX_CALL_STACK)
	v.SetDefault("modules", modules.Names())
	v.SetDefault("port", DEFAULT_HTTP_PORT)
	v.SetDefault("forward-logs", false)
	v.SetDefault("otel-endpoint", "")

	return v
}

// Load binds the given flags, reads the config file when one is named and decodes
// everything into a Config.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile string) (*Config, error) {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		log.WithField("file", v.ConfigFileUsed()).Debug("loaded config file")
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// NATS_URL is the variable every NATS tool understands
	if cfg.NatsURL == "" {
		cfg.NatsURL = os.Getenv("NATS_URL")
	}
	if cfg.OtelEndpoint == "" {
		cfg.OtelEndpoint = os.Getenv("OTEL_ENDPOINT")
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if _, err := modules.ByName(c.Modules); err != nil {
		return err
	}

	return nil
}

// ApplyLogLevel sets the logrus level. DEBUG in the environment forces debug.
func (c *Config) ApplyLogLevel() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	if os.Getenv("DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	return nil
}

func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		Timeout:          c.Timeout,
		TeardownGrace:    c.TeardownGrace,
		MaxCallStackSize: c.MaxCallStack,
		ForwardLogs:      c.ForwardLogs,
	}
}

// Engines builds the engines with the allowed Lua modules
func (c *Config) Engines() ([]executor.Engine, error) {
	mods, err := modules.ByName(c.Modules)
	if err != nil {
		return nil, err
	}

	return []executor.Engine{
		executor.NewLuaEngine(c.MaxCallStack, mods),
		executor.NewJSEngine(c.MaxCallStack),
		executor.NewJSONPathEngine(),
	}, nil
}

func (c *Config) StoreOptions() store.Options {
	return store.Options{
		EtcdEndpoints: c.EtcdEndpoints,
		ScriptDir:     c.ScriptDir,
		LibraryDir:    c.LibraryDir,
	}
}

// NatsURLOrDefault returns the configured NATS URL or the one from the environment
func (c *Config) NatsURLOrDefault() string {
	if c.NatsURL != "" {
		return c.NatsURL
	}

	return hookscript.NatsUrlByEnv()
}
