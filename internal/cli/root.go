package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sbctool/sbctool/internal/config"
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/logger"
	"github.com/sbctool/sbctool/internal/ui"
	"github.com/sbctool/sbctool/pkg/sshutil"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// isTerminal is swapped out in tests.
var isTerminal = func(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// app is the state shared by every subcommand once the root pre-run has
// loaded config and set up logging.
type app struct {
	opts globalOptions

	cfg  *config.Config
	logs *logger.Manager

	// once is true for --once or when stdout is not a terminal.
	once bool
	// interactive means prompts may be shown.
	interactive bool
	// animate means the connect spinner may draw on stderr.
	animate bool
}

func newApp() *app {
	return &app{}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sbctool",
		Short: "Live dashboard for single-board computers over SSH or ADB",
		Long: `sbctool connects to a single-board computer over SSH or ADB and shows a
live dashboard: system facts on the left, the board's log stream on the right.

The link is kept alive with automatic reconnects. When stdout is not a
terminal (or with --once) sbctool prints one YAML snapshot and exits.

Examples:
  sbctool ssh pi@192.168.1.50
  sbctool ssh khadas
  sbctool adb
  sbctool adb -s 192.168.1.77:5555
  sbctool adb --once > facts.yaml`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// version and doctor never connect; doctor reports config problems itself.
			if wantsHelp(args) || cmd.Name() == "version" || cmd.Name() == "doctor" {
				return nil
			}
			return a.setup(cmd)
		},
	}

	registerGlobalFlags(cmd, &a.opts)

	cmd.AddCommand(a.sshCmd())
	cmd.AddCommand(a.adbCmd())
	cmd.AddCommand(a.doctorCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// setup loads config, applies flag overrides, and configures logging and color.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, &a.opts)
	if err != nil {
		return err
	}
	a.cfg = cfg

	stdoutTTY := isTerminal(os.Stdout)
	a.once = a.opts.once || !stdoutTTY
	a.interactive = stdoutTTY && isTerminal(os.Stdin)
	a.animate = isTerminal(os.Stderr)

	if a.opts.noColor || !stdoutTTY {
		ui.DisableColors()
	}

	// The dashboard owns the terminal; diagnostics only go to a file there.
	var out io.Writer = cmd.ErrOrStderr()
	if !a.once {
		out = io.Discard
	}
	a.logs = logger.NewManager(out)
	if err := a.logs.Configure(cfg.Log.Level, cfg.Log.File); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't set up logging",
			"Check --log-level and that the --log-file directory exists")
	}
	return nil
}

func (a *app) logger(component string) logger.Logger {
	if a.logs == nil {
		return logger.Noop()
	}
	return a.logs.Logger(component)
}

func (a *app) close() {
	sshutil.CloseAgent()
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// wantsHelp reports whether the positional args ask for backend usage.
func wantsHelp(args []string) bool {
	return len(args) == 1 && args[0] == "help"
}

// Execute runs the root command and exits with the code for its error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := newApp()
	err := a.rootCmd().ExecuteContext(ctx)
	stop()
	a.close()

	if err != nil {
		if _, silent := errors.GetExitCode(err); !silent {
			fmt.Fprintln(os.Stderr, errors.Summary(err))
		}
		os.Exit(errors.ExitCode(err))
	}
}
