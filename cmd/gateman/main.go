package main

import (
	"fmt"
	"io"
	"os"

	"github.com/allaspectsdev/gateman/internal/version"
)

// command is one top-level subcommand. Usage output is generated from this
// table, so dispatch and help cannot drift apart.
type command struct {
	name    string
	summary string
	run     func(args []string)
}

var commands = []command{
	{"start", "Start the gateman daemon", cmdStart},
	{"stop", "Stop the running daemon", noArgs(cmdStop)},
	{"reload", "Reload the running daemon's configuration", noArgs(cmdReload)},
	{"status", "Show daemon status and summary stats", noArgs(cmdStatus)},
	{"setup", "Interactive setup wizard", cmdSetup},
	{"keys", "Manage API keys (list|set|get|delete <provider>)", cmdKeys},
	{"init-config", "Generate default config file", noArgs(cmdInitConfig)},
	{"config-export", "Export current config to a TOML file", cmdConfigExport},
	{"config-import", "Import config from a TOML file", cmdConfigImport},
	{"service", "Manage the system service (install|uninstall)", cmdService},
	{"version", "Print version information", noArgs(printVersion)},
}

func noArgs(f func()) func([]string) {
	return func([]string) { f() }
}

func printVersion() {
	fmt.Println(version.String())
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	name := os.Args[1]
	switch name {
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return
	case "--version", "-v":
		printVersion()
		return
	}

	for _, cmd := range commands {
		if cmd.name == name {
			cmd.run(os.Args[2:])
			return
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command: %s\n", name)
	printUsage(os.Stderr)
	os.Exit(1)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: gateman <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-15s %s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(w, "  %-15s %s\n", "help", "Show this help message")
	fmt.Fprintln(w, `
Options:
  --foreground       Run in foreground (with 'start')
  --config <path>    Use an explicit config file (with 'start')
  --non-interactive  Skip interactive prompts (with 'setup')`)
}
