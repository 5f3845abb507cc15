package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/numkem/hookscript/scheduler"
	"github.com/numkem/hookscript/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stored scripts over NATS and HTTP",
	Long: `Serve answers NATS requests on hookscript.<script name> with the exchange JSON as
data, and proxies POST /<script name> HTTP requests to them. When no NATS url is
configured an embedded NATS server is started.`,
	RunE: serveCmdRun,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 7643, "HTTP port to bind to, 0 to disable")
	serveCmd.Flags().Bool("tracing", true, "Export OpenTelemetry traces")
	serveCmd.Flags().Bool("embedded-nats", true, "Start an embedded NATS server when no NATS url is configured")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP/gRPC collector to export traces to, stdout when empty")
}

func serveCmdRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if tracing, _ := cmd.Flags().GetBool("tracing"); tracing {
		shutdown, err := server.SetupTracing(ctx, server.TracingOptions{
			Endpoint: cfg.OtelEndpoint,
			Version:  version,
		})
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	scriptStore, err := scriptStore()
	if err != nil {
		return err
	}
	defer scriptStore.Close()
	log.Infof("Starting %s backend", cfg.Backend)

	natsURL := cfg.NatsURLOrDefault()
	if embedded, _ := cmd.Flags().GetBool("embedded-nats"); embedded && cfg.NatsURL == "" {
		ns, err := server.StartEmbeddedNats("127.0.0.1", 4222)
		if err != nil {
			return err
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	exec, err := newExecutor(scriptStore)
	if err != nil {
		return err
	}

	srv := server.New(nc, scriptStore, exec, scheduler.New(exec, cfg.Concurrency))
	if err := srv.Start(ctx); err != nil {
		return err
	}

	if cfg.HTTPPort > 0 {
		go func() {
			if err := server.RunHTTP(ctx, cfg.HTTPPort, nc, 0); err != nil {
				log.Errorf("HTTP server stopped: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Info("Received shutdown signal, stopping server...")
	srv.Stop()

	return nil
}
