package cli

import (
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/transport"
	"github.com/spf13/cobra"
)

func (a *app) adbCmd() *cobra.Command {
	var serial string

	cmd := &cobra.Command{
		Use:   "adb [-s serial]",
		Short: "Monitor an Android board over ADB",
		Long: `Connect to an Android board over ADB and open the dashboard.

Without -s, direct USB devices are tried first, then every device the local
adb server knows about. The first one that answers is monitored (--once
reports all of them).

With -s, a serial that looks like ip[:port] is dialed directly over TCP
(port 5555 unless given); anything else goes through the adb server.

Examples:
  sbctool adb
  sbctool adb -s 0123456789ABCDEF
  sbctool adb -s 192.168.1.77
  sbctool adb help`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || wantsHelp(args) {
				return nil
			}
			return errors.New(errors.ErrUsage,
				"Unexpected argument: "+args[0],
				"Pick a device with -s <serial|ip[:port]>.")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if wantsHelp(args) {
				return cmd.Help()
			}
			return a.run(cmd, transport.ADBTarget(serial))
		},
	}

	cmd.Flags().StringVarP(&serial, "serial", "s", "", "device serial or ip[:port]")
	return cmd
}
