package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/procmgr/internal/manager"
	"github.com/loykin/procmgr/internal/metrics"
)

const envPrefix = "PM"

// RunFlags decouples cobra from the run logic for testing.
type RunFlags struct {
	WorkDir          string
	Modules          string
	Store            string
	LogLevel         string
	LogFormat        string
	LogColor         bool
	LogFile          string
	MetricsListen    string
	// ResourceInterval is how often module CPU/memory gauges are sampled.
	ResourceInterval time.Duration
	PollInterval     time.Duration
	Grace            time.Duration
	RestartCap       int
}

// defaultWorkDir is <cwd>/process-manager, or /tmp/process-manager when the
// current directory cannot be determined.
func defaultWorkDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = os.TempDir()
	}
	return filepath.Join(cwd, "process-manager")
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringP("workdir", "d", defaultWorkDir(), "working directory holding the module registry (env PM_WORKING_DIR)")
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.String("modules", "", "module manifest (toml/yaml/json); the demo set is used when empty")
	fs.String("store", "yaml", "registry backend: yaml or sqlite")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")
	fs.Bool("log-color", isatty.IsTerminal(os.Stderr.Fd()), "colorize text log levels")
	fs.String("log-file", "", "write the supervisor log to a rotated file instead of stderr")
	fs.String("metrics-listen", "", "serve prometheus metrics on this address, e.g. :9090")
	fs.Duration("resource-interval", metrics.DefaultResourceInterval, "module cpu/memory sampling interval when metrics are served")
	fs.Duration("poll-interval", manager.DefaultPollInterval, "control loop poll interval")
	fs.Duration("grace", manager.DefaultGrace, "how long the last module keeps running before it is stopped")
	fs.Int("restart-cap", manager.DefaultRestartCap, "spawn attempts per module before giving up")
}

// newViper binds the given flag sets with PM_* environment overrides.
// Flags set on the command line win over the environment.
func newViper(sets ...*pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, fs := range sets {
		if err := v.BindPFlags(fs); err != nil {
			return nil, err
		}
	}
	if err := v.BindEnv("workdir", "PM_WORKING_DIR"); err != nil {
		return nil, err
	}
	return v, nil
}

func runFlagsFrom(v *viper.Viper) RunFlags {
	return RunFlags{
		WorkDir:          v.GetString("workdir"),
		Modules:          v.GetString("modules"),
		Store:            v.GetString("store"),
		LogLevel:         v.GetString("log-level"),
		LogFormat:        v.GetString("log-format"),
		LogColor:         v.GetBool("log-color"),
		LogFile:          v.GetString("log-file"),
		MetricsListen:    v.GetString("metrics-listen"),
		ResourceInterval: v.GetDuration("resource-interval"),
		PollInterval:     v.GetDuration("poll-interval"),
		Grace:            v.GetDuration("grace"),
		RestartCap:       v.GetInt("restart-cap"),
	}
}
