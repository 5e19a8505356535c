package daemon

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// procRoot is swapped by tests.
var procRoot = "/proc"

// ProcessCommand returns the command line of pid, or "" when it cannot be
// determined (the process is gone, or neither /proc nor ps is available).
func ProcessCommand(pid int) string {
	if pid <= 0 {
		return ""
	}
	if cmd, err := readProcCmdline(pid); err == nil && cmd != "" {
		return cmd
	}
	if cmd, err := readPsCommand(pid); err == nil {
		return cmd
	}
	return ""
}

// looksLikeDaemon reports whether pid may still be a ttrace daemon. An unknown
// command line counts as a match so platforms without /proc or ps still work.
func looksLikeDaemon(pid int) bool {
	cmd := ProcessCommand(pid)
	return cmd == "" || strings.Contains(cmd, "ttrace")
}

func readProcCmdline(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}
	var out []string
	for _, part := range bytes.Split(data, []byte{0}) {
		if len(part) > 0 {
			out = append(out, string(part))
		}
	}
	return strings.Join(out, " "), nil
}

func readPsCommand(pid int) (string, error) {
	output, err := exec.Command("ps", "-o", "command=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
