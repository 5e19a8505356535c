package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ttrace/internal/app"
)

var (
	clientStrict    bool
	clientTimeoutMS int
)

func init() {
	rootCmd.AddCommand(cmdClient)
	cmdClient.AddCommand(cmdClientBegin, cmdClientEnd)

	cmdClient.PersistentFlags().BoolVar(&clientStrict, "strict", false, "Report daemon errors instead of ignoring them")
	cmdClient.PersistentFlags().IntVar(&clientTimeoutMS, "timeout", 500, "Timeout in milliseconds for the daemon request")

	// Everything after the pid is positional so "-1" exit codes and "ls -la" commands survive.
	cmdClientBegin.Flags().SetInterspersed(false)
	cmdClientEnd.Flags().SetInterspersed(false)
}

var cmdClient = &cobra.Command{
	Use:   "client",
	Short: "Report command boundaries to the daemon (used by shell hooks)",
}

var cmdClientBegin = &cobra.Command{
	Use:   "begin <pid> <command...>",
	Short: "Record that a shell process started a command",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		err = controller().Begin(cmd.Context(), app.BeginParams{
			PID:     pid,
			Command: strings.Join(args[1:], " "),
			Timeout: clientTimeout(),
		})
		return hookResult(err)
	},
}

var cmdClientEnd = &cobra.Command{
	Use:   "end <pid> <exit-code>",
	Short: "Record that a shell process finished its command",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		code, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid exit code %q: %w", args[1], err)
		}
		err = controller().End(cmd.Context(), app.EndParams{
			PID:      pid,
			ExitCode: int32(code),
			Timeout:  clientTimeout(),
		})
		return hookResult(err)
	},
}

func parsePID(s string) (uint32, error) {
	pid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pid %q: %w", s, err)
	}
	return uint32(pid), nil
}

func clientTimeout() time.Duration {
	return time.Duration(clientTimeoutMS) * time.Millisecond
}

// hookResult keeps a missing or slow daemon from breaking the user's prompt.
func hookResult(err error) error {
	if err != nil && clientStrict {
		return err
	}
	return nil
}
