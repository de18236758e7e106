package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kamikazebr/keydist/internal/truststore"
)

const (
	serviceName  = "keydist"
	launchdLabel = "io.keydist.daemon"
)

// ServiceConfig describes the daemon service to install
type ServiceConfig struct {
	ExePath    string
	ConfigPath string
	HomeDir    string
}

// Service is a rendered platform service definition plus the commands that
// register and unregister it. Path is empty when the platform keeps the
// definition itself (Windows Task Scheduler).
type Service struct {
	Path      string
	Content   string
	Install   [][]string
	Uninstall [][]string
}

// ServiceFor renders the user-level service for goos
func ServiceFor(goos string, cfg ServiceConfig) (Service, error) {
	if cfg.ExePath == "" || cfg.HomeDir == "" {
		return Service{}, fmt.Errorf("executable path and home directory are required")
	}

	switch goos {
	case "linux":
		path := filepath.Join(cfg.HomeDir, ".config", "systemd", "user", serviceName+".service")
		return Service{
			Path:    path,
			Content: systemdUnit(cfg),
			Install: [][]string{
				asInvokingUser("systemctl", "--user", "daemon-reload"),
				asInvokingUser("systemctl", "--user", "enable", "--now", serviceName),
			},
			Uninstall: [][]string{
				asInvokingUser("systemctl", "--user", "disable", "--now", serviceName),
				asInvokingUser("systemctl", "--user", "daemon-reload"),
			},
		}, nil

	case "darwin":
		path := filepath.Join(cfg.HomeDir, "Library", "LaunchAgents", launchdLabel+".plist")
		return Service{
			Path:      path,
			Content:   launchdPlist(cfg),
			Install:   [][]string{{"launchctl", "load", "-w", path}},
			Uninstall: [][]string{{"launchctl", "unload", "-w", path}},
		}, nil

	case "windows":
		action := fmt.Sprintf(`"%s" daemon --config "%s"`, cfg.ExePath, cfg.ConfigPath)
		return Service{
			Install: [][]string{
				{"schtasks", "/create", "/tn", serviceName, "/sc", "onlogon", "/rl", "limited", "/tr", action, "/f"},
				{"schtasks", "/run", "/tn", serviceName},
			},
			Uninstall: [][]string{
				{"schtasks", "/end", "/tn", serviceName},
				{"schtasks", "/delete", "/tn", serviceName, "/f"},
			},
		}, nil

	default:
		return Service{}, fmt.Errorf("%w: %s", truststore.ErrUnsupportedPlatform, goos)
	}
}

// InstallService writes the definition and registers it
func InstallService(svc Service, run truststore.CommandRunner) error {
	if svc.Path != "" {
		if err := os.MkdirAll(filepath.Dir(svc.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create service directory: %w", err)
		}
		if err := os.WriteFile(svc.Path, []byte(svc.Content), 0o644); err != nil {
			return fmt.Errorf("failed to create service file: %w", err)
		}
	}
	return runAll(svc.Install, run)
}

// UninstallService unregisters the service and removes its definition.
// Errors from stopping an already stopped service are ignored.
func UninstallService(svc Service, run truststore.CommandRunner) error {
	_ = runAll(svc.Uninstall[:1], run)
	if err := runAll(svc.Uninstall[1:], run); err != nil {
		return err
	}
	if svc.Path != "" {
		if err := os.Remove(svc.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove service file: %w", err)
		}
	}
	return nil
}

func runAll(cmds [][]string, run truststore.CommandRunner) error {
	for _, c := range cmds {
		if out, err := run(c[0], c[1:]...); err != nil {
			return fmt.Errorf("%s failed: %w: %s", strings.Join(c, " "), err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// asInvokingUser runs systemctl --user against the invoking user's session
// manager when keydist itself runs under sudo.
func asInvokingUser(args ...string) []string {
	sudoUser := os.Getenv("SUDO_USER")
	uid := os.Getenv("SUDO_UID")
	if sudoUser == "" || uid == "" {
		return args
	}
	return append([]string{
		"sudo", "-u", sudoUser,
		"XDG_RUNTIME_DIR=/run/user/" + uid,
		"DBUS_SESSION_BUS_ADDRESS=unix:path=/run/user/" + uid + "/bus",
	}, args...)
}

func systemdUnit(cfg ServiceConfig) string {
	return fmt.Sprintf(`[Unit]
Description=keydist SSH authorized_keys sync
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s daemon --config %s
Restart=always
RestartSec=10

[Install]
WantedBy=default.target
`, cfg.ExePath, cfg.ConfigPath)
}

func launchdPlist(cfg ServiceConfig) string {
	logPath := filepath.Join(cfg.HomeDir, "Library", "Logs", serviceName+".log")
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>daemon</string>
        <string>--config</string>
        <string>%s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
</dict>
</plist>
`, launchdLabel, cfg.ExePath, cfg.ConfigPath, logPath, logPath)
}
