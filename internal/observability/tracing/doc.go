// Package tracing provides OpenTelemetry tracing integration.
//
// It exposes the package-wide "newspulse" tracer through GetTracer and an
// HTTP Middleware that extracts incoming trace context with the global
// propagator, starts one server span per request, and returns the trace ID
// in the X-Trace-Id response header. The package does not install a
// TracerProvider, an exporter or database tracing; spans go to whatever
// provider is registered globally with otel.
//
// Example usage:
//
//	import "newspulse/internal/observability/tracing"
//
//	func processRequest(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "process-request")
//	    defer span.End()
//	    // ... process request ...
//	}
//
//	handler := tracing.Middleware(mux)
package tracing
