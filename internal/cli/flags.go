package cli

import (
	"time"

	"github.com/sbctool/sbctool/internal/config"
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by ssh and adb.
type globalOptions struct {
	configPath string
	interval   time.Duration
	timeout    time.Duration
	logLevel   string
	logFile    string
	noColor    bool
	once       bool
}

// registerGlobalFlags adds the persistent flags to the root command.
func registerGlobalFlags(cmd *cobra.Command, opts *globalOptions) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: .sbctool.yaml, then ~/.config/sbctool/config.yaml)")
	pf.DurationVar(&opts.interval, "interval", 0, "poll interval (e.g. 2s, 500ms)")
	pf.DurationVar(&opts.timeout, "timeout", 0, "per-command timeout (e.g. 5s)")
	pf.StringVar(&opts.logLevel, "log-level", "", "diagnostic log level: debug, info, warn, error")
	pf.StringVar(&opts.logFile, "log-file", "", "append diagnostics to this file")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	pf.BoolVar(&opts.once, "once", false, "print one YAML snapshot per device and exit")
}

// loadConfig finds and loads the config, then lets explicitly set flags win.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlagOverrides copies only the flags the user actually set, so
// config file and environment values survive flag defaults.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, opts *globalOptions) {
	flags := cmd.Flags()
	if flags.Changed("interval") {
		cfg.PollInterval = opts.interval
	}
	if flags.Changed("timeout") {
		cfg.CommandTimeout = opts.timeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
}

// maxArgs is cobra.MaximumNArgs with a usage-coded error.
func maxArgs(n int, suggestion string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return errors.New(errors.ErrUsage,
				"Too many arguments for "+cmd.CommandPath(),
				suggestion)
		}
		return nil
	}
}
