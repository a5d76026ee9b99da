// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/sandtrace/internal/config"
	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/signature"
)

var (
	// Global flags
	configFile     string
	signaturesFile string

	// globalConfig is loaded once before any subcommand runs.
	globalConfig *config.GlobalConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sandtrace",
	Short: "Sandtrace - sandbox behavior and network telemetry decoder",
	Long: `Sandtrace turns the raw telemetry of a malware analysis run into structured records.

It decodes the binary API call stream reported by the in-guest monitor, driven by
a signature table, and reconstructs hosts, domains, connections, HTTP, DNS and SMTP
activity from the packet capture of the run.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if err := log.Init(&cfg.Log); err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}
		globalConfig = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and SANDTRACE_* env vars when empty)")
	rootCmd.PersistentFlags().StringVar(&signaturesFile, "signatures", "",
		"signature table path (overrides netlog.signatures)")

	// Add subcommands
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadSignatures loads the table named by --signatures or the config.
func loadSignatures() (*signature.Table, error) {
	path := signaturesFile
	if path == "" {
		path = globalConfig.Netlog.Signatures
	}
	if path == "" {
		return nil, fmt.Errorf("no signature table configured (set netlog.signatures or --signatures)")
	}
	table, err := signature.Load(path)
	if err != nil {
		return nil, err
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"path":       path,
		"signatures": table.Len(),
	}).Debug("signature table loaded")
	return table, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
