// Package telemetry provides OpenTelemetry instrumentation for memoryd.
//
// # Overview
//
// This package implements distributed tracing and metrics collection using the
// OpenTelemetry Go SDK. It exports telemetry data to an OTEL Collector, which
// forwards to VictoriaMetrics (metrics, logs, traces).
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("memoryd.memorycore")
//	ctx, span := tracer.Start(ctx, "Core.Add")
//	defer span.End()
//
//	meter := tel.Meter("memoryd.memorycore")
//	counter, _ := meter.Int64Counter("memorycore.writes")
//	counter.Add(ctx, 1)
//
// # Configuration
//
// cmd/memoryd builds this package's Config from the observability section
// of the memoryd config; sampling, metrics and shutdown settings keep their
// NewDefaultConfig values:
//
//	observability:
//	  enable_telemetry: true
//	  otlp_endpoint: "localhost:4317"
//	  service_name: "memoryd"
//	  otlp_insecure: true
//
// # Error Handling
//
// Telemetry failures do not crash the application. If telemetry cannot be
// initialized, the instance degrades gracefully and returns no-op providers.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
//
// See CLAUDE.md for instrumentation layers and key metrics.
package telemetry
