package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ttrace/internal/daemon"
)

var daemonForce bool

func init() {
	rootCmd.AddCommand(cmdDaemon)
	cmdDaemon.AddCommand(cmdDaemonStart, cmdDaemonRun, cmdDaemonStop, cmdDaemonStatus)

	cmdDaemonStart.Flags().BoolVarP(&daemonForce, "force", "f", false, "Restart the daemon if it is already running")
	cmdDaemonRun.Flags().BoolVarP(&daemonForce, "force", "f", false, "Stop an existing daemon before running in the foreground")
	cmdDaemonStop.Flags().BoolVarP(&daemonForce, "force", "f", false, "Signal the daemon process if it does not stop on request")
}

var cmdDaemon = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background timing daemon",
}

var cmdDaemonStart = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Long:  `Starts the daemon detached from the terminal. If it is already running nothing happens unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		st, err := controller().StartDaemon(daemonForce)
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			if st.PID != 0 {
				fmt.Fprintf(out, "Daemon is already running (pid %d). Stop it first or re-run with --force.\n", st.PID)
			} else {
				fmt.Fprintln(out, "Daemon is already running. Stop it first or re-run with --force.")
			}
			return nil
		}
		if err != nil && !st.Running {
			return err
		}
		if st.PID != 0 {
			fmt.Fprintf(out, "Daemon started (pid %d)\n", st.PID)
		} else {
			fmt.Fprintln(out, "Daemon started")
		}
		return nil
	},
}

var cmdDaemonRun = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long:  `Runs the daemon in the current process until SIGINT, SIGTERM or a STOP request arrives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := controller()
		cfg, err := ctrl.Config()
		if err != nil {
			return err
		}
		if daemonForce {
			if st, _ := ctrl.Status(); st.Running {
				log.Printf("Stopping existing daemon...")
				if err := ctrl.StopDaemon(true); err != nil {
					return err
				}
			}
		}

		srv, err := daemon.StartDaemon(cfg)
		if err != nil {
			return err
		}
		log.Printf("Daemon started (pid %d) on %s", os.Getpid(), cfg.SocketPath)

		if term.IsTerminal(int(os.Stdout.Fd())) {
			runSpin := spinner.New(spinner.CharSets[21], 120*time.Millisecond, spinner.WithWriter(os.Stdout))
			runSpin.Suffix = " Recording commands..."
			runSpin.Start()
			defer runSpin.Stop()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := srv.Serve(ctx); err != nil {
			return fmt.Errorf("daemon shutdown: %w", err)
		}
		log.Printf("Daemon stopped.")
		return nil
	},
}

var cmdDaemonStop = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon, saving its statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl := controller()
		st, err := ctrl.Status()
		if err != nil && !st.Running {
			return err
		}
		if !st.Running && !daemonForce {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
			return nil
		}
		if err := ctrl.StopDaemon(daemonForce); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
		return nil
	},
}

var cmdDaemonStatus = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		st, err := controller().Status()
		if err != nil && !st.Running {
			return err
		}
		if !st.Running {
			fmt.Fprintln(out, "Daemon is not running")
		} else if st.PID != 0 {
			fmt.Fprintf(out, "Daemon is running (pid %d)\n", st.PID)
			if st.Command != "" {
				fmt.Fprintf(out, "Command: %s\n", st.Command)
			}
		} else {
			fmt.Fprintf(out, "Daemon is running (pid unknown: %v)\n", err)
		}
		fmt.Fprintf(out, "Socket:  %s\n", st.SocketPath)
		fmt.Fprintf(out, "Stats:   %s\n", st.StatsPath)
		return nil
	},
}
