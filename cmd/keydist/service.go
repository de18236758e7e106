package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kamikazebr/keydist/internal/daemon"
	"github.com/kamikazebr/keydist/internal/truststore"
)

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the background sync service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the daemon as a user service (systemd, launchd or Task Scheduler)",
	Run:   runServiceInstall,
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the user service",
	Run:   runServiceUninstall,
}

var servicePrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the service definition without installing it",
	Run:   runServicePrint,
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(servicePrintCmd)
}

func mustService() daemon.Service {
	exe, err := os.Executable()
	if err != nil {
		fmt.Printf("Error: failed to resolve executable: %v\n", err)
		os.Exit(1)
	}
	cfgPath, err := filepath.Abs(configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	_, home, err := truststore.ActualUser()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	svc, err := daemon.ServiceFor(runtime.GOOS, daemon.ServiceConfig{
		ExePath:    exe,
		ConfigPath: cfgPath,
		HomeDir:    home,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return svc
}

func runServicePrint(cmd *cobra.Command, args []string) {
	svc := mustService()
	if svc.Path != "" {
		fmt.Printf("Service file: %s\n\n", svc.Path)
		fmt.Println(svc.Content)
	}
	fmt.Println("Install commands:")
	for _, c := range svc.Install {
		fmt.Printf("  %v\n", c)
	}
}

func runServiceInstall(cmd *cobra.Command, args []string) {
	svc := mustService()
	if err := daemon.InstallService(svc, truststore.ExecRunner); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if svc.Path != "" {
		fmt.Printf("✓ Service file created: %s\n", svc.Path)
	}
	fmt.Println("✓ Service installed and started")
}

func runServiceUninstall(cmd *cobra.Command, args []string) {
	svc := mustService()
	if err := daemon.UninstallService(svc, truststore.ExecRunner); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Service removed")
}
