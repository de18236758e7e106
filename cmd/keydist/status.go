package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kamikazebr/keydist/internal/config"
	"github.com/kamikazebr/keydist/internal/keyset"
	"github.com/kamikazebr/keydist/internal/truststore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local trust store",
	Run:   runStatus,
}

var configYAML bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the settings after defaults, the config file, .env and KEYDIST_* overrides are applied.",
	Run:   runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configYAML, "yaml", false, "Print as YAML instead of JSON")
}

func runStatus(cmd *cobra.Command, args []string) {
	platform := truststore.Current()

	fmt.Println("Trust Store Status")
	fmt.Println("==================")

	if info, err := host.InfoWithContext(context.Background()); err == nil {
		fmt.Printf("Host:     %s (%s %s)\n", info.Hostname, info.Platform, info.PlatformVersion)
	}
	fmt.Printf("Platform: %s\n", platform.Name())

	paths, err := platform.Locate()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Keys file: %s\n", paths.KeysFile)

	stat, err := os.Stat(paths.KeysFile)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Println("\nNo authorized_keys file yet")
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	mode := stat.Mode().Perm()
	fmt.Printf("Mode:      %04o", mode)
	if mode != truststore.OwnerReadWrite {
		fmt.Print(" (expected 0600)")
	}
	fmt.Println()

	lines, err := truststore.ReadKeys(paths.KeysFile)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	set := keyset.NewSet()
	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "#") {
			set.Add(line)
		}
	}
	fmt.Printf("Keys:      %d\n", set.Len())
	fmt.Printf("Digest:    %s\n", set.Digest())

	if set.Len() > 0 {
		fmt.Println("\nKeys:")
		for i, line := range set.Sorted() {
			fp := keyset.Fingerprint(line)
			if fp == "" {
				fp = "(unparsed)"
			}
			fmt.Printf("  %d. %s  %s\n", i+1, fp, keyset.Preview(line, 50))
		}
	}
}

func runConfig(cmd *cobra.Command, args []string) {
	settings, warnings, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	var out []byte
	if configYAML {
		out, err = yaml.Marshal(settings)
	} else {
		out, err = json.MarshalIndent(settings, "", "  ")
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
