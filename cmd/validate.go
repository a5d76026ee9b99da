package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and signature table",
	Long: `Load the configuration and, when one is configured, the signature table
without starting anything.

This is useful for pre-checking configuration before deploying.

Examples:
  sandtrace validate -c sandtrace.yml
  sandtrace validate --signatures signatures.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand(cmd)
	},
}

func runValidateCommand(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	if signaturesFile == "" && globalConfig.Netlog.Signatures == "" {
		fmt.Fprintln(out, "VALID: configuration (no signature table configured)")
		return
	}

	table, err := loadSignatures()
	if err != nil {
		exitWithError("INVALID signature table", err)
	}
	fmt.Fprintf(out, "VALID: configuration, %d signature(s), listen %s\n",
		table.Len(), globalConfig.Netlog.Listen)
}
