// ABOUTME: Exporter factory for the metric and trace destinations named in the telemetry config
// ABOUTME: Only the stdout exporters are built; "none" records in-process without exporting

package telemetry

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func (c *Config) output() io.Writer {
	if c.Output != nil {
		return c.Output
	}
	return os.Stdout
}

// createMetricExporters creates metric exporters based on configuration.
func createMetricExporters(cfg Config) ([]sdkmetric.Exporter, error) {
	var exporters []sdkmetric.Exporter

	for _, name := range cfg.Exporters {
		if name != ExporterStdout {
			continue
		}
		exporter, err := stdoutmetric.New(
			stdoutmetric.WithWriter(cfg.output()),
			stdoutmetric.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	return exporters, nil
}

// createTraceExporters creates trace exporters based on configuration.
func createTraceExporters(cfg Config) ([]sdktrace.SpanExporter, error) {
	var exporters []sdktrace.SpanExporter

	for _, name := range cfg.Exporters {
		if name != ExporterStdout {
			continue
		}
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(cfg.output()),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		exporters = append(exporters, exporter)
	}

	return exporters, nil
}
