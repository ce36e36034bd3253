package cli

import (
	"context"
	stderrors "errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sbctool/sbctool/internal/bus"
	"github.com/sbctool/sbctool/internal/connection"
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/logger"
	"github.com/sbctool/sbctool/internal/monitor"
	"github.com/sbctool/sbctool/internal/transport"
	"github.com/sbctool/sbctool/internal/ui"
	"github.com/spf13/cobra"
)

// busCapacity is the per-subscriber buffer for connection state events.
const busCapacity = 16

// run dispatches to the one-shot report or the dashboard.
func (a *app) run(cmd *cobra.Command, target transport.Target) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.once {
		return a.runOnce(ctx, cmd.OutOrStdout(), target)
	}
	return a.runDashboard(ctx, target)
}

// runDashboard connects, then hands the terminal to the bubbletea program
// until the user quits or the process is signalled.
func (a *app) runDashboard(ctx context.Context, target transport.Target) error {
	log := a.logger("cli")
	selector := transport.NewSelector(a.cfg, a.logger("transport"))

	display := ui.NewConnectionDisplay(os.Stderr, a.animate)
	selector.SetEventHandler(display.HandleEvent)

	events := bus.New(busCapacity, a.logger("bus"))
	defer events.Close()

	mgr := connection.New(target, selector, connection.PolicyFromConfig(a.cfg.Reconnect),
		connection.WithBus(events),
		connection.WithLogger(a.logger("connection")))

	display.Start(target.String())
	if err := mgr.Connect(ctx); err != nil {
		display.Fail(err)
		_ = mgr.Close()
		return err
	}
	display.Success(target.String(), mgr.Status().Via)

	// Reconnects happen under the dashboard; only the log file sees them.
	selector.SetEventHandler(logEvents(a.logger("transport")))

	// Subscribe before reading the status so no transition is missed.
	states := events.Subscribe(bus.TopicConnectionState)

	engine := monitor.NewEngine(mgr, monitor.OptionsFromConfig(a.cfg, a.logger("monitor")))
	engine.Start(ctx)

	model := monitor.NewModel(engine, mgr, target.String(), mgr.Status(), states)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := program.Run()

	events.Unsubscribe(states, bus.TopicConnectionState)
	if err := engine.Shutdown(); err != nil {
		log.Warn("shutdown: %v", err)
	}

	if runErr != nil && !stderrors.Is(runErr, tea.ErrProgramKilled) && !stderrors.Is(runErr, tea.ErrInterrupted) {
		return errors.WrapWithCode(runErr, errors.ErrSession,
			"Dashboard stopped unexpectedly",
			"Try --once to check the board without the dashboard.")
	}
	return nil
}

// logEvents sends selector events to the diagnostic log.
func logEvents(log logger.Logger) transport.EventHandler {
	return func(ev transport.ConnectionEvent) {
		switch ev.Type {
		case transport.EventFailed:
			log.Warn("%s failed after %s: %v", ev.Strategy, ev.Latency, ev.Error)
		case transport.EventConnected:
			log.Info("%s", ev.Message)
		default:
			log.Debug("%s", ev.Message)
		}
	}
}
