// Package shell holds the shell integration scripts printed by `ttrace init`.
package shell

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed bash.sh
var bashScript string

const binPlaceholder = "{{BIN}}"

// Supported lists the shells Script knows about.
var Supported = []string{"bash"}

// Script returns the integration script for shell with bin as the ttrace
// executable the hooks invoke.
func Script(shell, bin string) (string, error) {
	if bin == "" {
		bin = "ttrace"
	}
	switch shell {
	case "bash":
		return strings.ReplaceAll(bashScript, binPlaceholder, quote(bin)), nil
	default:
		return "", fmt.Errorf("unsupported shell %q (supported: %s)", shell, strings.Join(Supported, ", "))
	}
}

// quote escapes bin for use inside a double-quoted bash string.
func quote(bin string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")
	return r.Replace(bin)
}
