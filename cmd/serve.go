package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/metrics"
	"firestige.xyz/sandtrace/internal/netlog"
	"firestige.xyz/sandtrace/internal/sink/console"
	"firestige.xyz/sandtrace/internal/sink/nats"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the result server for analysis guests",
	Long: `Accept event streams from analysis guests over TCP and decode them.

Every connection gets its own decoder. Events are written to stdout as JSON
lines and, when nats.enabled is set, published to NATS.
The server stops on SIGINT or SIGTERM.

Examples:
  sandtrace serve -c sandtrace.yml
  sandtrace serve --listen 0.0.0.0:2042 --signatures signatures.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

var serveListen string

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "",
		"listen address (overrides netlog.listen)")
}

func runServe(ctx context.Context) error {
	table, err := loadSignatures()
	if err != nil {
		return err
	}

	addr := globalConfig.Netlog.Listen
	if serveListen != "" {
		addr = serveListen
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if mc := globalConfig.Metrics; mc.Enabled {
		ms := metrics.NewServer(mc.Listen, mc.Path)
		if err := ms.Start(ctx); err != nil {
			l.Close()
			return err
		}
		defer func() {
			if err := ms.Stop(context.Background()); err != nil {
				log.GetLogger().WithError(err).Warn("failed to stop metrics server")
			}
		}()
	}

	out := console.NewSink(os.Stdout)
	var bus *nats.Sink
	if globalConfig.NATS.Enabled {
		bus, err = nats.Connect(nats.Config{
			URL:           globalConfig.NATS.URL,
			SubjectPrefix: globalConfig.NATS.SubjectPrefix,
			Enabled:       true,
		})
		if err != nil {
			l.Close()
			return err
		}
		defer func() {
			if err := bus.Close(); err != nil {
				log.GetLogger().WithError(err).Warn("failed to drain nats connection")
			}
		}()
	}

	newSink := func(remote net.Addr) (netlog.Sink, func(), error) {
		source := remote.String()
		sinks := netlog.MultiSink{out.WithSource(source)}
		if bus != nil {
			sinks = append(sinks, bus.WithSource(source))
		}
		if lg := log.GetLogger(); lg.IsDebugEnabled() {
			sinks = append(sinks, netlog.LogSink{Logger: lg.WithField("guest", source)})
		}
		return sinks, nil, nil
	}

	cfg := netlog.Config{MaxStringLength: globalConfig.Netlog.MaxStringLength}
	srv := netlog.NewServer(l, table, cfg, newSink)
	srv.SkipUnknownAPI = !globalConfig.Netlog.AbortOnUnknownAPI
	return srv.Serve(ctx)
}
