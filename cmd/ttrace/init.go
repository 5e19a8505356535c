package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ttrace/internal/shell"
)

// executable is swapped by tests.
var executable = os.Executable

const initLong = `Prints hooks that report every command to the daemon. Add this to ~/.bashrc:

  eval "$(ttrace init bash)"`

func init() {
	rootCmd.AddCommand(cmdInit)
}

var cmdInit = &cobra.Command{
	Use:       "init <shell>",
	Short:     "Print the shell integration script",
	Long:      initLong,
	Args:      cobra.ExactArgs(1),
	ValidArgs: shell.Supported,
	RunE: func(cmd *cobra.Command, args []string) error {
		bin, err := executable()
		if err != nil {
			bin = ""
		}
		script, err := shell.Script(args[0], bin)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), script)
		return nil
	},
}
