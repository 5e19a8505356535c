package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ttrace/internal/render"
)

var (
	statsJSON    bool
	statsLimit   int
	statsTimeout int
)

func init() {
	rootCmd.AddCommand(cmdStats)
	cmdStats.Flags().BoolVar(&statsJSON, "json", false, "Print the raw statistics as JSON")
	cmdStats.Flags().IntVarP(&statsLimit, "limit", "n", 0, "Show only the N commands with the most total time (0 shows all)")
	cmdStats.Flags().IntVar(&statsTimeout, "timeout", 3, "Timeout in seconds for the daemon request")
}

var cmdStats = &cobra.Command{
	Use:   "stats",
	Short: "Show per-command timing statistics",
	Long:  "Asks the daemon for its aggregates (which also flushes them to disk) and prints them, longest total time first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := controller().Stats(cmd.Context(), time.Duration(statsTimeout)*time.Second)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		if len(stats) == 0 {
			fmt.Fprintln(out, "No commands recorded yet")
			return nil
		}
		fmt.Fprintln(out, render.Table(stats, statsLimit))
		return nil
	},
}
