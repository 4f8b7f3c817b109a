// Package tracing records sequence runs and task dispatches as OpenTelemetry
// spans. Until Init or InitWithExporter is called the global no-op provider is
// in effect and every helper is free to call.
package tracing
