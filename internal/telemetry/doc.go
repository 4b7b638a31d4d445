// Package telemetry wraps OpenTelemetry SDK initialization, providing a
// single TracerProvider/MeterProvider configuration point. When
// telemetry is disabled it falls back to the noop implementation and
// makes no outbound connections.
package telemetry
