package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

const (
	launchdLabel    = "com.allaspects.gateman"
	systemdUnitName = "gateman.service"
)

// launchdPlistTemplate is the macOS launchd property list for running the
// gateway as a persistent user agent.
const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ProgramPath}}</string>
        <string>start</string>
        <string>--foreground</string>
    </array>

    <key>WorkingDirectory</key>
    <string>{{.WorkingDir}}</string>

    <key>KeepAlive</key>
    <true/>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogDir}}/gateman.out.log</string>

    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/gateman.err.log</string>

    <key>EnvironmentVariables</key>
    <dict>
        <key>PATH</key>
        <string>/usr/local/bin:/usr/bin:/bin:/opt/homebrew/bin</string>
    </dict>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>5</integer>
</dict>
</plist>
`

// systemdUnitTemplate is the Linux counterpart, installed as a user unit so
// no root is needed.
const systemdUnitTemplate = `[Unit]
Description=GateMan LLM gateway
After=network-online.target

[Service]
Type=simple
ExecStart={{.ProgramPath}} start --foreground
WorkingDirectory={{.WorkingDir}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

// serviceData feeds both service templates.
type serviceData struct {
	Label       string
	ProgramPath string
	WorkingDir  string
	LogDir      string
}

// InstallService registers the gateway with the platform's user service
// manager: launchd on macOS, a systemd user unit on Linux.
func InstallService() error {
	switch runtime.GOOS {
	case "darwin":
		return installLaunchd()
	case "linux":
		return installSystemd()
	default:
		return fmt.Errorf("service install not supported on %s", runtime.GOOS)
	}
}

// UninstallService removes whatever InstallService registered.
func UninstallService() error {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd()
	case "linux":
		return uninstallSystemd()
	default:
		return fmt.Errorf("service uninstall not supported on %s", runtime.GOOS)
	}
}

// serviceContext resolves the running binary and the data directory the
// service will work out of.
func serviceContext() (serviceData, error) {
	execPath, err := os.Executable()
	if err != nil {
		return serviceData{}, fmt.Errorf("determining executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return serviceData{}, fmt.Errorf("resolving executable symlinks: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return serviceData{}, fmt.Errorf("determining home directory: %w", err)
	}
	dataDir := filepath.Join(homeDir, ".gateman")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return serviceData{}, fmt.Errorf("creating data directory: %w", err)
	}

	return serviceData{
		Label:       launchdLabel,
		ProgramPath: execPath,
		WorkingDir:  dataDir,
		LogDir:      dataDir,
	}, nil
}

func renderTemplate(name, text string, data serviceData) ([]byte, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering %s template: %w", name, err)
	}
	return buf.Bytes(), nil
}

func installLaunchd() error {
	data, err := serviceContext()
	if err != nil {
		return err
	}
	rendered, err := renderTemplate("plist", launchdPlistTemplate, data)
	if err != nil {
		return err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	agentsDir := filepath.Join(homeDir, "Library", "LaunchAgents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		return fmt.Errorf("creating LaunchAgents directory: %w", err)
	}

	plistPath := filepath.Join(agentsDir, launchdLabel+".plist")
	if err := os.WriteFile(plistPath, rendered, 0o644); err != nil {
		return fmt.Errorf("writing plist %s: %w", plistPath, err)
	}
	fmt.Printf("Plist written to %s\n", plistPath)

	// Unload any previous copy so load picks up the fresh plist.
	_ = exec.Command("launchctl", "unload", plistPath).Run()

	load := exec.Command("launchctl", "load", plistPath)
	load.Stdout = os.Stdout
	load.Stderr = os.Stderr
	if err := load.Run(); err != nil {
		return fmt.Errorf("launchctl load: %w", err)
	}

	fmt.Printf("Service %s loaded via launchctl\n", launchdLabel)
	return nil
}

func uninstallLaunchd() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	plistPath := filepath.Join(homeDir, "Library", "LaunchAgents", launchdLabel+".plist")

	_ = exec.Command("launchctl", "unload", plistPath).Run()

	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing plist: %w", err)
	}

	fmt.Printf("Service %s uninstalled\n", launchdLabel)
	return nil
}

func installSystemd() error {
	data, err := serviceContext()
	if err != nil {
		return err
	}
	rendered, err := renderTemplate("unit", systemdUnitTemplate, data)
	if err != nil {
		return err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	unitDir := filepath.Join(homeDir, ".config", "systemd", "user")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return fmt.Errorf("creating systemd user directory: %w", err)
	}

	unitPath := filepath.Join(unitDir, systemdUnitName)
	if err := os.WriteFile(unitPath, rendered, 0o644); err != nil {
		return fmt.Errorf("writing unit %s: %w", unitPath, err)
	}
	fmt.Printf("Unit written to %s\n", unitPath)

	if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}

	enable := exec.Command("systemctl", "--user", "enable", "--now", systemdUnitName)
	enable.Stdout = os.Stdout
	enable.Stderr = os.Stderr
	if err := enable.Run(); err != nil {
		return fmt.Errorf("systemctl enable: %w", err)
	}

	fmt.Printf("Service %s enabled via systemctl --user\n", systemdUnitName)
	return nil
}

func uninstallSystemd() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	unitPath := filepath.Join(homeDir, ".config", "systemd", "user", systemdUnitName)

	_ = exec.Command("systemctl", "--user", "disable", "--now", systemdUnitName).Run()

	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit: %w", err)
	}
	_ = exec.Command("systemctl", "--user", "daemon-reload").Run()

	fmt.Printf("Service %s uninstalled\n", systemdUnitName)
	return nil
}
