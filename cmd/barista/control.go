package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/barista"
	"github.com/jpalmerr/barista/internal/server"
	"github.com/jpalmerr/barista/internal/supervisor"
	"github.com/jpalmerr/barista/internal/ui"
)

// controlOp sends one request to the running server.
type controlOp func(c *server.Client, ctx context.Context) (supervisor.Report, error)

var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Start every configured command",
	Long: `Start one collector per configured command. Does nothing if the
server is already on.`,
	Args: cobra.NoArgs,
	RunE: controlRunE((*server.Client).On),
}

var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Stop every command and empty the bar",
	Long: `Stop all collectors and clear every slot. The server keeps running and
keeps rendering an empty bar until turned on again.`,
	Args: cobra.NoArgs,
	RunE: controlRunE((*server.Client).Off),
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Re-read the configuration",
	Long: `Re-read the server's configuration file and apply it.

Commands that did not change keep running and keep their values. Changed,
removed and failed commands are stopped; new and changed ones are started
if the server is on. If the file is invalid, nothing changes and the error
is reported.`,
	Args: cobra.NoArgs,
	RunE: controlRunE((*server.Client).Reload),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every slot",
	Long: `Show whether the server is on and, for every slot, its command's phase,
current value, value age, TTL, process group size and log.

PROCS counts every live process in the command's process group. A number
that keeps growing means the command is leaking children. LINES counts the
lines the command has written to stderr, kept in its log file.

Exit codes:
  0 - The server answered
  1 - The server is not running or the request failed

Example:
  barista status
  barista status --json | jq '.slots[] | select(.phase == "failed")'`,
	Args: cobra.NoArgs,
	RunE: controlRunE((*server.Client).Status),
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(onCmd, offCmd, reloadCmd, statusCmd)
}

// controlRunE runs op against the server and prints the resulting report.
func controlRunE(op controlOp) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dir, err := stateDir()
		if err != nil {
			return err
		}
		socketPath := filepath.Join(dir, barista.SocketName)

		client := server.NewClient(socketPath, settings.GetDuration(keyTimeout))
		defer client.Close()

		report, err := op(client, commandContext(cmd))
		if err != nil {
			return describeControlError(err, socketPath)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return ui.WriteJSON(cmd.OutOrStdout(), report)
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), ui.RenderStatus(report, time.Now()))
		return err
	}
}

// describeControlError turns a failed request into a message for the user.
func describeControlError(err error, socketPath string) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("barista server is not running (no answer on %s)", socketPath)
	}
	var reqErr *server.ControlRequestError
	if errors.As(err, &reqErr) && reqErr.Code != "" {
		return fmt.Errorf("%s rejected: %s", reqErr.Op, reqErr.Message)
	}
	return err
}
