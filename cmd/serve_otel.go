//go:build otel

package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/zapfield/zapfield/internal/config"
	"github.com/zapfield/zapfield/internal/tracing"
)

const flushTimeout = 5 * time.Second

// setupTelemetry installs the OTLP trace exporter when telemetry is
// enabled. Only compiled with -tags otel.
func setupTelemetry(ctx context.Context, cfg *config.Config) func() {
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Endpoint == "" {
		slog.Debug("OTel export available but not enabled (set telemetry.enabled + telemetry.endpoint)")
		return func() {}
	}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Protocol:    cfg.Telemetry.Protocol,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Headers:     cfg.Telemetry.Headers,
	})
	if err != nil {
		slog.Warn("failed to create OTel exporter", "error", err)
		return func() {}
	}

	slog.Info("OpenTelemetry OTLP export enabled",
		"endpoint", cfg.Telemetry.Endpoint,
		"protocol", cfg.Telemetry.Protocol,
	)
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}
}
