package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"firestige.xyz/sandtrace/internal/network"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <capture>",
	Short: "Analyze a packet capture and print the network result",
	Long: `Reconstruct hosts, domains, connections, HTTP, DNS and SMTP activity from a
pcap or pcapng file and print the result as JSON.

Examples:
  sandtrace analyze dump.pcap
  sandtrace analyze --resolve dump.pcap`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return runAnalyze(ctx, cmd, args[0], cmd.OutOrStdout())
	},
}

var analyzeIndent bool

func init() {
	analyzeCmd.Flags().Bool("resolve", false, "resolve queried domains (overrides network.resolve_dns)")
	analyzeCmd.Flags().BoolVar(&analyzeIndent, "indent", true, "indent the JSON output")
}

func runAnalyze(ctx context.Context, cmd *cobra.Command, path string, out io.Writer) error {
	nc := globalConfig.Network
	cfg := network.Config{
		ResolveDNS:     nc.ResolveDNS,
		ResolveTimeout: nc.ResolveTimeout,
		SMTPPort:       nc.SMTPPort,
		DNSPort:        nc.DNSPort,
	}
	if cmd.Flags().Changed("resolve") {
		cfg.ResolveDNS, _ = cmd.Flags().GetBool("resolve")
	}

	res, err := network.NewAnalyzer(cfg, network.NetResolver{}).Run(ctx, path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	if analyzeIndent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}
