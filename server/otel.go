package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	SERVICE_NAME        = "hookscript"
	TRACE_BATCH_TIMEOUT = 5 * time.Second
)

// natsHeaderCarrier lets the trace context of an invocation travel in NATS headers
type natsHeaderCarrier nats.Header

func (n natsHeaderCarrier) Get(key string) string {
	return nats.Header(n).Get(key)
}

func (n natsHeaderCarrier) Set(key string, value string) {
	nats.Header(n).Set(key, value)
}

func (n natsHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	return keys
}

// TracingOptions selects where invocation spans are exported
type TracingOptions struct {
	// Endpoint of an OTLP/gRPC collector. When empty, spans are written to Output.
	Endpoint string
	// Output defaults to stdout
	Output  io.Writer
	Version string
}

// SetupTracing installs the global tracer provider and propagator. The returned
// function flushes pending spans and must be called on shutdown.
func SetupTracing(ctx context.Context, opts TracingOptions) (func(context.Context) error, error) {
	exporter, err := spanExporter(ctx, opts)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(SERVICE_NAME),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		exporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(TRACE_BATCH_TIMEOUT)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

func spanExporter(ctx context.Context, opts TracingOptions) (sdktrace.SpanExporter, error) {
	if opts.Endpoint == "" {
		out := opts.Output
		if out == nil {
			out = os.Stdout
		}

		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exporter, nil
	}

	log.WithField("endpoint", opts.Endpoint).Info("Exporting traces over OTLP/gRPC")
	conn, err := grpc.NewClient(opts.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OTLP gRPC endpoint %s: %w", opts.Endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	return exporter, nil
}
