/*
Package tracing provides lightweight request tracing for the policy
daemon.

# Overview

Every API request gets a trace: a req_-prefixed ULID carried through
the request context and echoed in response headers, with one span per
operation logged through the structured logger. The model follows
OpenTelemetry concepts with a minimal implementation tailored to a
single service.

# Usage

	// Create tracer
	tracer := tracing.New("policyd", logger)

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

# Performance

Spans are collected on a buffered channel (1000 spans) and logged
asynchronously; when the buffer is full, spans are dropped instead of
blocking the request path.
*/
package tracing
