// Package otel installs the process-wide OpenTelemetry providers.
//
// Traces and metrics are exported over OTLP/HTTP to the collector named in the
// observability section of the configuration. Components obtain tracers and
// meters from the global providers, so they keep working (as no-ops) when
// export is disabled.
package otel
