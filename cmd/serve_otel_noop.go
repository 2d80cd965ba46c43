//go:build !otel

package cmd

import (
	"context"

	"github.com/zapfield/zapfield/internal/config"
)

// setupTelemetry is a no-op when built without the "otel" tag.
// Build with `go build -tags otel` to enable OpenTelemetry export.
func setupTelemetry(_ context.Context, _ *config.Config) func() {
	return func() {}
}
