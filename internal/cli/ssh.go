package cli

import (
	stderrors "errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/transport"
	"github.com/sbctool/sbctool/pkg/sshutil"
	"github.com/spf13/cobra"
)

func (a *app) sshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh [user@host|alias]",
		Short: "Monitor a board over SSH",
		Long: `Connect to a board over SSH and open the dashboard.

The target is either user@host[:port] or an alias from your SSH config
(ssh.config_file, then ~/.ssh/config, then /etc/ssh/ssh_config). Agent keys
and the identity files from the config are tried in order.

With no target on an interactive terminal, pick a host from your SSH config.

Examples:
  sbctool ssh pi@raspberrypi.local
  sbctool ssh khadas
  sbctool ssh root@10.0.0.7:2222 --interval 5s
  sbctool ssh help`,
		Args: maxArgs(1, "Pass a single user@host or ssh config alias."),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wantsHelp(args) {
				return cmd.Help()
			}

			var host string
			if len(args) == 1 {
				host = args[0]
			} else {
				picked, err := a.pickHost()
				if err != nil {
					return err
				}
				host = picked
			}
			return a.run(cmd, transport.SSHTarget(host))
		},
	}
}

// pickHost lets the user choose from the hosts in their SSH config.
func (a *app) pickHost() (string, error) {
	if !a.interactive {
		return "", errors.New(errors.ErrUsage,
			"No SSH target given",
			"Usage: sbctool ssh <user@host|alias>")
	}

	hosts := sshutil.NewResolver(a.cfg.SSH.ConfigFile).Hosts()
	if len(hosts) == 0 {
		return "", errors.New(errors.ErrUsage,
			"No hosts found in your SSH config",
			"Pass the target directly: sbctool ssh user@host")
	}

	options := make([]huh.Option[string], 0, len(hosts))
	for _, h := range hosts {
		options = append(options, huh.NewOption(hostLabel(h), h.Alias))
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select a board").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		if stderrors.Is(err, huh.ErrUserAborted) {
			return "", errors.New(errors.ErrUsage, "No host selected", "")
		}
		return "", errors.WrapWithCode(err, errors.ErrUsage, "Host picker failed", "Pass the target directly: sbctool ssh user@host")
	}
	return selected, nil
}

func hostLabel(h sshutil.HostEntry) string {
	desc := h.Description()
	if desc == h.Alias {
		return h.Alias
	}
	return fmt.Sprintf("%s (%s)", h.Alias, desc)
}
