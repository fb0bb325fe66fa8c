package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/gateman/internal/catalog"
	"github.com/allaspectsdev/gateman/internal/config"
	"github.com/allaspectsdev/gateman/internal/daemon"
	"github.com/allaspectsdev/gateman/internal/vault"
)

func cmdStart(args []string) {
	foreground := false
	configPath := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--foreground", "-f":
			foreground = true
		case "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a path")
				os.Exit(1)
			}
			i++
			configPath = args[i]
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := daemon.Run(cfg, foreground); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStop() {
	loadConfigBestEffort()
	if err := daemon.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping daemon: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("gateman stopped")
}

func cmdReload() {
	loadConfigBestEffort()
	if err := daemon.Reload(); err != nil {
		fmt.Fprintf(os.Stderr, "error reloading daemon: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus() {
	loadConfigBestEffort()
	if err := daemon.Status(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// loadConfigBestEffort loads the config so commands that talk to a running
// daemon find the configured data directory and port. Built-in defaults are
// good enough when no config file exists.
func loadConfigBestEffort() {
	if _, err := config.Load(""); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
	}
}

func cmdSetup(args []string) {
	nonInteractive := false
	for _, a := range args {
		if a == "--non-interactive" {
			nonInteractive = true
		}
	}

	if nonInteractive {
		cmdInitConfig()
		fmt.Println("Setup complete. Run 'gateman start' to begin.")
		return
	}

	fmt.Println("Gateman Setup Wizard")
	fmt.Println("====================")
	fmt.Println()

	// Step 1: write the default config file if none exists.
	cmdInitConfig()

	// Step 2: collect API keys. Input is hidden on a terminal; press Enter
	// to skip a provider.
	fmt.Println("\nAPI keys are stored in the system keychain.")
	fmt.Println("Press Enter to skip a provider.")
	fmt.Println()

	v := vault.New()
	reader := bufio.NewReader(os.Stdin)
	configured := 0
	for _, name := range catalog.Providers() {
		key, err := promptSecret(reader, fmt.Sprintf("API key for %s: ", name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			os.Exit(1)
		}
		if key == "" {
			continue
		}
		if err := v.Set(name, key); err != nil {
			fmt.Fprintf(os.Stderr, "error storing key for %s: %v\n", name, err)
			continue
		}
		configured++
		fmt.Printf("  stored key for %s\n", name)
	}

	fmt.Println()
	if configured == 0 {
		fmt.Println("No keys configured. Add them later with: gateman keys set <provider>")
	} else {
		fmt.Printf("%d provider key(s) stored.\n", configured)
	}
	fmt.Println("Setup complete. Run 'gateman start' to begin.")
}

// promptSecret reads a secret without echo when stdin is a terminal, and
// falls back to a plain line read when it is not (piped input, tests).
func promptSecret(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		key, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(key)), nil
	}
	line, err := reader.ReadString('\n')
	fmt.Println()
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func cmdConfigExport(args []string) {
	path := "gateman-export.toml"
	if len(args) > 0 {
		path = args[0]
	}
	loadConfigBestEffort()
	if err := config.ExportConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}

func cmdConfigImport(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: gateman config-import <file>")
		os.Exit(1)
	}
	loadConfigBestEffort()
	if err := config.ImportConfig(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error importing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config imported from %s\n", args[0])
}

func cmdService(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: gateman service <install|uninstall>")
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		if err := daemon.InstallService(); err != nil {
			fmt.Fprintf(os.Stderr, "error installing service: %v\n", err)
			os.Exit(1)
		}
	case "uninstall":
		if err := daemon.UninstallService(); err != nil {
			fmt.Fprintf(os.Stderr, "error uninstalling service: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n", args[0])
		os.Exit(1)
	}
}
