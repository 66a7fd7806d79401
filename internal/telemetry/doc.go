// Package telemetry provides OpenTelemetry instrumentation for adaptd.
//
// It owns the tracer and meter providers and their OTLP exporters. Telemetry
// is optional: when disabled the package hands out no-op tracers and meters so
// instrumented code never has to check.
package telemetry
