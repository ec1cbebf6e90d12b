package config

import (
	"fmt"
	"os"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/tracing"
)

// SetupTracing initializes the OpenTelemetry tracer for serviceName.
// The caller is responsible for calling tracer.Shutdown during its own
// graceful shutdown sequence.
func SetupTracing(serviceName string, log *logger.Logger) (*tracing.Tracer, error) {
	cfg := tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: os.Getenv("SERVICE_VERSION"),
		Environment:    os.Getenv("ENVIRONMENT"),
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	tracer, err := tracing.New(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to setup tracing: %w", err)
	}

	return tracer, nil
}
